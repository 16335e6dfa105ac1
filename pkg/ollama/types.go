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

import "encoding/json"

// Options are the sampling parameters forwarded to the server on every
// generation and chat call. They are snapshotted verbatim into the results
// ledger, so the zero value of the optional penalties marshals to nothing.
type Options struct {
	Temperature      float64 `json:"temperature"`
	Seed             int     `json:"seed"`
	TopP             float64 `json:"top_p"`
	TopK             int     `json:"top_k"`
	RepeatPenalty    float64 `json:"repeat_penalty,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`
	NumPredict       int     `json:"num_predict,omitempty"`
	NumCtx           int     `json:"num_ctx,omitempty"`
}

// GenerateRequest maps to POST /api/generate.
type GenerateRequest struct {
	Model    string  `json:"model"`
	Prompt   string  `json:"prompt"`
	Stream   bool    `json:"stream"`
	Logprobs bool    `json:"logprobs,omitempty"`
	Options  Options `json:"options"`
}

// Logprob is one token with the natural-log probability the server assigned
// to it. Bytes is present for tokens that are not valid UTF-8 on their own.
type Logprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
	Bytes   []int   `json:"bytes,omitempty"`
}

// GenerateResponse is the non-streamed response of POST /api/generate.
// Durations are nanoseconds, as reported by the server.
type GenerateResponse struct {
	Response           string    `json:"response"`
	Done               bool      `json:"done"`
	Logprobs           []Logprob `json:"logprobs,omitempty"`
	TotalDuration      int64     `json:"total_duration"`
	LoadDuration       int64     `json:"load_duration"`
	PromptEvalCount    int       `json:"prompt_eval_count"`
	PromptEvalDuration int64     `json:"prompt_eval_duration"`
	EvalCount          int       `json:"eval_count"`
	EvalDuration       int64     `json:"eval_duration"`
}

// PromptTokensPerSecond derives the prompt processing rate from the server
// timings. Zero when the server reported no prompt eval duration.
func (r *GenerateResponse) PromptTokensPerSecond() float64 {
	if r.PromptEvalDuration <= 0 {
		return 0
	}
	return float64(r.PromptEvalCount) / (float64(r.PromptEvalDuration) / 1e9)
}

// EvalTokensPerSecond derives the generation rate from the server timings.
func (r *GenerateResponse) EvalTokensPerSecond() float64 {
	if r.EvalDuration <= 0 {
		return 0
	}
	return float64(r.EvalCount) / (float64(r.EvalDuration) / 1e9)
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"` // system, user or assistant
	Content string `json:"content"`
}

// ChatRequest maps to POST /api/chat. Format optionally carries a JSON
// schema the server uses to constrain the reply.
type ChatRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  Options         `json:"options"`
}

// ChatResponse is the non-streamed response of POST /api/chat.
type ChatResponse struct {
	Message            Message `json:"message"`
	Done               bool    `json:"done"`
	TotalDuration      int64   `json:"total_duration"`
	LoadDuration       int64   `json:"load_duration"`
	PromptEvalCount    int     `json:"prompt_eval_count"`
	PromptEvalDuration int64   `json:"prompt_eval_duration"`
	EvalCount          int     `json:"eval_count"`
	EvalDuration       int64   `json:"eval_duration"`
}

// ModelInfo is a single entry from GET /api/tags.
type ModelInfo struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest,omitempty"`
}

// ModelDetails is the details block of POST /api/show.
type ModelDetails struct {
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// PullProgress is one NDJSON event from POST /api/pull.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

type deleteRequest struct {
	Model string `json:"model"`
}

type showRequest struct {
	Name string `json:"name"`
}

type showResponse struct {
	Details ModelDetails `json:"details"`
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

type versionResponse struct {
	Version string `json:"version"`
}
