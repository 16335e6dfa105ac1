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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultHuggingFaceAPI is the metadata endpoint for hf.co model references.
const DefaultHuggingFaceAPI = "https://huggingface.co"

const manifestAccept = "application/vnd.docker.distribution.manifest.v2+json"

// RegistryConfig configures a Registry. Zero fields take defaults.
type RegistryConfig struct {
	// Timeout bounds each metadata lookup. These are small requests; the
	// default is deliberately much shorter than the inference timeout.
	Timeout time.Duration

	// HuggingFaceAPI overrides the hf.co metadata endpoint.
	HuggingFaceAPI string

	// Insecure switches manifest lookups to plain HTTP, for registries
	// without TLS.
	Insecure bool

	Logger *zap.Logger
}

// Registry answers where a model variant can be found: on the local server,
// on an Ollama registry, or in a GGUF repository on Hugging Face.
type Registry struct {
	local    *Client
	http     *http.Client
	hfAPI    string
	insecure bool
	logger   *zap.Logger
}

// NewRegistry builds a Registry that consults local for installed models and
// remote endpoints for everything else.
func NewRegistry(local *Client, cfg RegistryConfig) *Registry {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HuggingFaceAPI == "" {
		cfg.HuggingFaceAPI = DefaultHuggingFaceAPI
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{
		local:    local,
		http:     &http.Client{Timeout: cfg.Timeout},
		hfAPI:    strings.TrimRight(cfg.HuggingFaceAPI, "/"),
		insecure: cfg.Insecure,
		logger:   cfg.Logger,
	}
}

// Exists reports whether the local server already has the named model. It
// asks /api/show directly, which also covers names the tag list spells
// differently.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	_, err := r.local.Show(ctx, name)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// ResolveActualName returns the spelling under which the local server knows
// the model. Servers normalize case on pull, so the name a run was asked for
// and the name the server registered can differ. When no local model
// matches, the input is returned unchanged.
func (r *Registry) ResolveActualName(ctx context.Context, name string) (string, error) {
	models, err := r.local.List(ctx)
	if err != nil {
		return name, err
	}
	want := normalizeName(name)
	for _, m := range models {
		if strings.EqualFold(normalizeName(m.Name), want) {
			return m.Name, nil
		}
	}
	return name, nil
}

// ExistsRemotely reports whether the named model can be pulled. Ollama
// registries are asked for the tag's manifest; hf.co references are checked
// against the repository's GGUF file list.
func (r *Registry) ExistsRemotely(ctx context.Context, name string) (bool, error) {
	ref := ParseRef(name)
	if ref.IsHuggingFace() {
		files, err := r.huggingFaceFiles(ctx, ref)
		if err != nil {
			if IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return matchGGUFTag(files, ref.Tag), nil
	}

	scheme := "https"
	if r.insecure {
		scheme = "http"
	}
	url := scheme + "://" + ref.Registry + ref.ManifestPath()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build manifest request: %w", err)
	}
	req.Header.Set("Accept", manifestAccept)

	resp, err := r.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", ref.Name(), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, &StatusError{Code: resp.StatusCode, Body: "manifest lookup for " + ref.Name()}
	}
}

// ExpandPattern resolves a wildcard tag pattern against the tags available
// for source. Hugging Face sources enumerate the repository's GGUF files;
// everything else enumerates the local server. Matching is case-insensitive
// and the result keeps first-seen order without duplicates.
func (r *Registry) ExpandPattern(ctx context.Context, source, pattern string) ([]string, error) {
	re, err := compileTagPattern(pattern)
	if err != nil {
		return nil, err
	}

	ref := ParseRef(source)
	var candidates []string
	if ref.IsHuggingFace() {
		files, err := r.huggingFaceFiles(ctx, ref)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if !strings.HasSuffix(strings.ToLower(f), ".gguf") {
				continue
			}
			if label := QuantizationLabel(f); label != "" {
				candidates = append(candidates, label)
			}
		}
	} else {
		models, err := r.local.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range models {
			got := ParseRef(m.Name)
			if strings.EqualFold(got.Registry, ref.Registry) &&
				strings.EqualFold(got.Namespace, ref.Namespace) &&
				strings.EqualFold(got.Repo, ref.Repo) {
				candidates = append(candidates, got.Tag)
			}
		}
	}

	seen := make(map[string]bool, len(candidates))
	var tags []string
	for _, tag := range candidates {
		key := strings.ToLower(tag)
		if seen[key] || !re.MatchString(tag) {
			continue
		}
		seen[key] = true
		tags = append(tags, tag)
	}
	r.logger.Debug("expanded tag pattern",
		zap.String("source", source),
		zap.String("pattern", pattern),
		zap.Strings("tags", tags))
	return tags, nil
}

// huggingFaceFiles lists the file names of a Hugging Face repository.
func (r *Registry) huggingFaceFiles(ctx context.Context, ref Ref) ([]string, error) {
	url := r.hfAPI + "/api/models/" + ref.Namespace + "/" + ref.Repo

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build hf request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s/%s on huggingface: %w", ref.Namespace, ref.Repo, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read hf response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(resp.StatusCode, data)
	}

	var payload struct {
		Siblings []struct {
			RFilename string `json:"rfilename"`
		} `json:"siblings"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode hf response: %w", err)
	}
	files := make([]string, 0, len(payload.Siblings))
	for _, s := range payload.Siblings {
		files = append(files, s.RFilename)
	}
	return files, nil
}

// matchGGUFTag reports whether any repository file serves the tag. Upstream
// conventions vary, so the tag may be the whole base name or a suffix set
// off by "-", "_" or ".".
func matchGGUFTag(files []string, tag string) bool {
	want := strings.ToLower(tag)
	suffixes := []string{
		want + ".gguf",
		"-" + want + ".gguf",
		"_" + want + ".gguf",
		"." + want + ".gguf",
	}
	for _, f := range files {
		name := strings.ToLower(f)
		if name == suffixes[0] {
			return true
		}
		for _, suffix := range suffixes[1:] {
			if strings.HasSuffix(name, suffix) {
				return true
			}
		}
	}
	return false
}

// normalizeName appends the default tag to references that omit one, so
// "llama3" and "llama3:latest" compare equal.
func normalizeName(name string) string {
	if i := strings.LastIndex(name, ":"); i > strings.LastIndex(name, "/") {
		return name
	}
	return name + ":" + DefaultTag
}

// compileTagPattern turns a glob-style tag pattern, where "*" matches any
// run of characters, into an anchored case-insensitive regexp.
func compileTagPattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty tag pattern")
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("(?i)^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, fmt.Errorf("tag pattern %q: %w", pattern, err)
	}
	return re, nil
}
