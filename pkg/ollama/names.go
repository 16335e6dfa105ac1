// Copyright 2026 The osync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package ollama

import (
	"regexp"
	"strings"
)

const (
	// DefaultRegistry hosts models referenced without an explicit host.
	DefaultRegistry = "registry.ollama.ai"

	// DefaultNamespace holds models referenced without an explicit owner.
	DefaultNamespace = "library"

	// DefaultTag is assumed when a reference carries no tag.
	DefaultTag = "latest"
)

// Ref is a parsed model reference. References come in the short form the
// server uses locally ("llama3:q4_0") and the long form including registry
// host and namespace ("hf.co/org/repo:Q4_K_M").
type Ref struct {
	Registry  string
	Namespace string
	Repo      string
	Tag       string
}

// ParseRef splits a model reference into registry, namespace, repository and
// tag, filling in Ollama's defaults for omitted parts.
func ParseRef(name string) Ref {
	ref := Ref{
		Registry:  DefaultRegistry,
		Namespace: DefaultNamespace,
		Tag:       DefaultTag,
	}

	rest := strings.TrimSpace(name)
	if i := strings.LastIndex(rest, ":"); i > strings.LastIndex(rest, "/") {
		ref.Tag = rest[i+1:]
		rest = rest[:i]
	}

	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		ref.Repo = parts[0]
	case 2:
		ref.Namespace = parts[0]
		ref.Repo = parts[1]
	default:
		ref.Registry = parts[0]
		ref.Namespace = strings.Join(parts[1:len(parts)-1], "/")
		ref.Repo = parts[len(parts)-1]
	}
	return ref
}

// IsHuggingFace reports whether the reference points at a GGUF repository on
// Hugging Face rather than an Ollama registry.
func (r Ref) IsHuggingFace() bool {
	host := strings.ToLower(r.Registry)
	return host == "hf.co" || host == "huggingface.co"
}

// Name returns the reference in the form the local server uses. Models from
// the default registry and namespace go by bare "repo:tag"; everything else
// keeps its full path.
func (r Ref) Name() string {
	switch {
	case r.Registry == DefaultRegistry && r.Namespace == DefaultNamespace:
		return r.Repo + ":" + r.Tag
	case r.Registry == DefaultRegistry:
		return r.Namespace + "/" + r.Repo + ":" + r.Tag
	default:
		return r.Registry + "/" + r.Namespace + "/" + r.Repo + ":" + r.Tag
	}
}

// WithTag returns a copy of the reference pointing at a different tag.
func (r Ref) WithTag(tag string) Ref {
	r.Tag = tag
	return r
}

// ManifestPath is the registry v2 path that answers whether the tagged
// model exists.
func (r Ref) ManifestPath() string {
	return "/v2/" + r.Namespace + "/" + r.Repo + "/manifests/" + r.Tag
}

// MatchName reports whether a model name matches a glob-style pattern where
// "*" stands for any run of characters. Matching is case-insensitive and an
// empty pattern matches everything.
func MatchName(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	re, err := compileTagPattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

var quantPattern = regexp.MustCompile(`(?i)(iq[0-9]+(?:_[a-z0-9]+)*|q[0-9]+(?:_[a-z0-9]+)*|bf16|fp16|f16|fp32|f32)`)

// QuantizationLabel extracts an uppercased quantization label such as Q4_K_M
// or FP16 from a tag or file name. It returns "" when the input names no
// recognizable quantization.
func QuantizationLabel(s string) string {
	for _, loc := range quantPattern.FindAllStringIndex(s, -1) {
		// Skip matches embedded in a longer alphanumeric run, e.g. the "q4"
		// inside "preq4x". A leading underscore separates the label as in
		// "model_q4_0.gguf".
		if loc[0] > 0 {
			before := s[loc[0]-1]
			if isWordByte(before) && before != '_' {
				continue
			}
		}
		if loc[1] < len(s) && isWordByte(s[loc[1]]) {
			continue
		}
		return strings.ToUpper(s[loc[0]:loc[1]])
	}
	return ""
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}
