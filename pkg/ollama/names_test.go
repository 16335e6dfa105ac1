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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Ref
	}{
		{
			name: "bare repo",
			in:   "llama3",
			want: Ref{Registry: "registry.ollama.ai", Namespace: "library", Repo: "llama3", Tag: "latest"},
		},
		{
			name: "repo and tag",
			in:   "llama3:q4_K_M",
			want: Ref{Registry: "registry.ollama.ai", Namespace: "library", Repo: "llama3", Tag: "q4_K_M"},
		},
		{
			name: "namespaced",
			in:   "jmorganca/llama3:fp16",
			want: Ref{Registry: "registry.ollama.ai", Namespace: "jmorganca", Repo: "llama3", Tag: "fp16"},
		},
		{
			name: "full registry",
			in:   "myregistry.example.com/team/model:q8_0",
			want: Ref{Registry: "myregistry.example.com", Namespace: "team", Repo: "model", Tag: "q8_0"},
		},
		{
			name: "registry with port",
			in:   "localhost:5000/team/model:q8_0",
			want: Ref{Registry: "localhost:5000", Namespace: "team", Repo: "model", Tag: "q8_0"},
		},
		{
			name: "huggingface",
			in:   "hf.co/bartowski/Llama-3.2-1B-Instruct-GGUF:Q4_K_M",
			want: Ref{Registry: "hf.co", Namespace: "bartowski", Repo: "Llama-3.2-1B-Instruct-GGUF", Tag: "Q4_K_M"},
		},
		{
			name: "no tag keeps latest",
			in:   "hf.co/org/repo",
			want: Ref{Registry: "hf.co", Namespace: "org", Repo: "repo", Tag: "latest"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRef(tt.in))
		})
	}
}

func TestRefName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "llama3:q4_0", want: "llama3:q4_0"},
		{in: "llama3", want: "llama3:latest"},
		{in: "jmorganca/llama3:fp16", want: "jmorganca/llama3:fp16"},
		{in: "hf.co/org/repo:Q4_K_M", want: "hf.co/org/repo:Q4_K_M"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseRef(tt.in).Name(), "input %q", tt.in)
	}
}

func TestRefIsHuggingFace(t *testing.T) {
	assert.True(t, ParseRef("hf.co/org/repo:Q4_0").IsHuggingFace())
	assert.True(t, ParseRef("HF.co/org/repo").IsHuggingFace())
	assert.True(t, ParseRef("huggingface.co/org/repo").IsHuggingFace())
	assert.False(t, ParseRef("llama3:q4_0").IsHuggingFace())
	assert.False(t, ParseRef("myregistry.example.com/team/model").IsHuggingFace())
}

func TestRefManifestPath(t *testing.T) {
	ref := ParseRef("llama3:q4_0")
	assert.Equal(t, "/v2/library/llama3/manifests/q4_0", ref.ManifestPath())

	ref = ParseRef("myregistry.example.com/team/model:q8_0")
	assert.Equal(t, "/v2/team/model/manifests/q8_0", ref.ManifestPath())
}

func TestQuantizationLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "q4_0", want: "Q4_0"},
		{in: "q4_K_M", want: "Q4_K_M"},
		{in: "Q8_0", want: "Q8_0"},
		{in: "iq2_xs", want: "IQ2_XS"},
		{in: "fp16", want: "FP16"},
		{in: "f16", want: "F16"},
		{in: "bf16", want: "BF16"},
		{in: "f32", want: "F32"},
		{in: "Llama-3.2-1B-Instruct-Q4_K_M.gguf", want: "Q4_K_M"},
		{in: "model_q5_1.gguf", want: "Q5_1"},
		{in: "model.Q6_K.gguf", want: "Q6_K"},
		{in: "latest", want: ""},
		{in: "instruct", want: ""},
		{in: "preq4x", want: ""},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QuantizationLabel(tt.in), "input %q", tt.in)
	}
}

func TestMatchName(t *testing.T) {
	assert.True(t, MatchName("", "llama3:q4_0"))
	assert.True(t, MatchName("*", "llama3:q4_0"))
	assert.True(t, MatchName("llama3*", "llama3:q4_0"))
	assert.True(t, MatchName("*q4*", "llama3:q4_0"))
	assert.True(t, MatchName("LLAMA3:Q4_0", "llama3:q4_0"))
	assert.True(t, MatchName("hf.co/*", "hf.co/org/repo:Q4_K_M"))
	assert.False(t, MatchName("mistral*", "llama3:q4_0"))
	assert.False(t, MatchName("llama3", "llama3:q4_0"))
}
