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
package bench

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/osync-dev/osync/pkg/ollama"
	"github.com/osync-dev/osync/pkg/suite"
)

// fakeModel is one model installed on the fake server.
type fakeModel struct {
	family string
	params string
	quant  string
	size   int64
}

// fakeOllama is an in-process stand-in for an Ollama server, covering the
// endpoints the orchestrator touches plus the registry-v2 manifest lookup
// used by on-demand verification. It answers deterministically so scenario
// tests can assert exact ledger contents.
type fakeOllama struct {
	t *testing.T

	mu      sync.Mutex
	models  map[string]fakeModel
	remote  map[string]bool // "namespace/repo:tag" answerable by /v2 manifests
	pulls   []string
	deletes []string

	// pullMeta is the metadata a freshly pulled model reports.
	pullMeta fakeModel

	// judgeModel switches /api/chat into judge mode for that model.
	judgeModel   string
	judgeReply   func(prompt string) string
	judgePrompts []string

	noLogprobs bool
	failChat   map[string]bool // lowercase model name -> respond 500

	onGenerate func(model, prompt string)
	onPull     func(name string)

	requests      atomic.Int32
	generateCalls atomic.Int32
	chatCalls     atomic.Int32
	judgeCalls    atomic.Int32

	srv *httptest.Server
}

func newFakeOllama(t *testing.T) *fakeOllama {
	f := &fakeOllama{
		t:        t,
		models:   make(map[string]fakeModel),
		remote:   make(map[string]bool),
		failChat: make(map[string]bool),
	}
	f.judgeReply = func(string) string {
		return `{"score": 87, "reason": "candidate matches the reference"}`
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeOllama) url() string { return f.srv.URL }

// hostPort is the server address without scheme, usable as an explicit
// registry prefix in model references.
func (f *fakeOllama) hostPort() string { return strings.TrimPrefix(f.srv.URL, "http://") }

func (f *fakeOllama) addModel(name string, m fakeModel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models[name] = m
}

// lookup finds a model case-insensitively, like a real server does.
func (f *fakeOllama) lookup(name string) (string, fakeModel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for stored, m := range f.models {
		if strings.EqualFold(stored, name) {
			return stored, m, true
		}
	}
	return "", fakeModel{}, false
}

// answerFor is the deterministic generation output, distinct per model and
// prompt so tests can tell a fresh answer from a resumed one.
func (f *fakeOllama) answerFor(model, prompt string) string {
	return fmt.Sprintf("%s answers: %s", model, prompt)
}

func (f *fakeOllama) pulled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pulls...)
}

func (f *fakeOllama) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *fakeOllama) judgeSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.judgePrompts...)
}

func (f *fakeOllama) handle(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if strings.HasPrefix(r.URL.Path, "/v2/") {
		f.handleManifest(w, r)
		return
	}

	switch r.URL.Path {
	case "/api/show":
		f.handleShow(w, r)
	case "/api/tags":
		f.handleTags(w)
	case "/api/generate":
		f.handleGenerate(w, r)
	case "/api/chat":
		f.handleChat(w, r)
	case "/api/pull":
		f.handlePull(w, r)
	case "/api/delete":
		f.handleDelete(w, r)
	case "/api/version":
		json.NewEncoder(w).Encode(map[string]string{"version": "0.11.8"})
	default:
		writeAPIError(w, http.StatusNotFound, "unknown path "+r.URL.Path)
	}
}

// handleManifest serves the registry-v2 tag existence check:
// /v2/{namespace}/{repo}/manifests/{tag}.
func (f *fakeOllama) handleManifest(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v2/"), "/")
	if len(parts) < 4 || parts[len(parts)-2] != "manifests" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	tag := parts[len(parts)-1]
	repo := parts[len(parts)-3]
	ns := strings.Join(parts[:len(parts)-3], "/")
	key := strings.ToLower(ns + "/" + repo + ":" + tag)

	f.mu.Lock()
	ok := f.remote[key]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Write([]byte(`{}`))
}

func (f *fakeOllama) handleShow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	_, m, ok := f.lookup(req.Name)
	if !ok {
		writeAPIError(w, http.StatusNotFound, fmt.Sprintf("model %q not found", req.Name))
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"details": ollama.ModelDetails{
			Family:            m.family,
			ParameterSize:     m.params,
			QuantizationLevel: m.quant,
		},
	})
}

func (f *fakeOllama) handleTags(w http.ResponseWriter) {
	f.mu.Lock()
	names := make([]string, 0, len(f.models))
	for name := range f.models {
		names = append(names, name)
	}
	sort.Strings(names)
	infos := make([]ollama.ModelInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, ollama.ModelInfo{Name: name, Size: f.models[name].size})
	}
	f.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]any{"models": infos})
}

func (f *fakeOllama) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req ollama.GenerateRequest
	json.NewDecoder(r.Body).Decode(&req)
	f.generateCalls.Add(1)
	if f.onGenerate != nil {
		f.onGenerate(req.Model, req.Prompt)
	}
	if _, _, ok := f.lookup(req.Model); !ok {
		writeAPIError(w, http.StatusNotFound, fmt.Sprintf("model %q not found", req.Model))
		return
	}

	resp := ollama.GenerateResponse{
		Response:           f.answerFor(req.Model, req.Prompt),
		Done:               true,
		PromptEvalCount:    12,
		PromptEvalDuration: int64(time.Second),
		EvalCount:          20,
		EvalDuration:       2 * int64(time.Second),
	}
	if req.Logprobs && !f.noLogprobs {
		resp.Logprobs = []ollama.Logprob{
			{Token: "to", Logprob: -0.08},
			{Token: "ken", Logprob: -0.41},
		}
	}
	json.NewEncoder(w).Encode(resp)
}

func (f *fakeOllama) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ollama.ChatRequest
	json.NewDecoder(r.Body).Decode(&req)
	f.chatCalls.Add(1)

	if f.failChat[strings.ToLower(req.Model)] {
		writeAPIError(w, http.StatusInternalServerError, "model exploded")
		return
	}
	if f.judgeModel != "" && strings.EqualFold(req.Model, f.judgeModel) {
		f.judgeCalls.Add(1)
		prompt := req.Messages[len(req.Messages)-1].Content
		f.mu.Lock()
		f.judgePrompts = append(f.judgePrompts, prompt)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(ollama.ChatResponse{
			Message: ollama.Message{Role: "assistant", Content: f.judgeReply(prompt)},
			Done:    true,
		})
		return
	}
	// Preload traffic.
	json.NewEncoder(w).Encode(ollama.ChatResponse{
		Message: ollama.Message{Role: "assistant", Content: "Hello!"},
		Done:    true,
	})
}

func (f *fakeOllama) handlePull(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	if f.onPull != nil {
		f.onPull(req.Name)
	}
	f.mu.Lock()
	f.pulls = append(f.pulls, req.Name)
	f.models[req.Name] = f.pullMeta
	f.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.Encode(ollama.PullProgress{Status: "pulling manifest"})
	enc.Encode(ollama.PullProgress{Status: "downloading", Digest: "sha256:feed", Total: 100, Completed: 60})
	enc.Encode(ollama.PullProgress{Status: "success"})
}

func (f *fakeOllama) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	stored, _, ok := f.lookup(req.Model)
	if !ok {
		writeAPIError(w, http.StatusNotFound, fmt.Sprintf("model %q not found", req.Model))
		return
	}
	f.mu.Lock()
	delete(f.models, stored)
	f.deletes = append(f.deletes, req.Model)
	f.mu.Unlock()
	w.Write([]byte(`{}`))
}

func writeAPIError(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// testSuite is a two-question suite; item identifiers resolve to
// "general-capital" and "general-sum".
func testSuite() *suite.Suite {
	return &suite.Suite{
		Name:          "std-v1",
		NumPredict:    128,
		ContextLength: 2048,
		Categories: []suite.Category{{
			ID: "general",
			Questions: []suite.Question{
				{ID: "capital", Prompt: "What is the capital of France?"},
				{ID: "sum", Prompt: "What is 2+2?"},
			},
		}},
	}
}

func testConfig(t *testing.T, f *fakeOllama) Config {
	return Config{
		ModelName:      "llama3",
		Suite:          testSuite(),
		OutputFile:     filepath.Join(t.TempDir(), "llama3.qc.json"),
		ServerURL:      f.url(),
		RetryBaseDelay: time.Millisecond,
		Logger:         zaptest.NewLogger(t),
	}
}
