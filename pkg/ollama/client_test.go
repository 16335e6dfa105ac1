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
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/generate", r.URL.Path)

		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3:q4_0", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, 42, req.Options.Seed)

		json.NewEncoder(w).Encode(GenerateResponse{
			Response:           "Paris",
			Done:               true,
			EvalCount:          12,
			EvalDuration:       2_000_000_000,
			PromptEvalCount:    30,
			PromptEvalDuration: 1_000_000_000,
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	resp, err := c.Generate(context.Background(), GenerateRequest{
		Model:   "llama3:q4_0",
		Prompt:  "What is the capital of France?",
		Stream:  true, // must be forced off
		Options: Options{Temperature: 0, Seed: 42},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris", resp.Response)
	assert.InDelta(t, 6.0, resp.EvalTokensPerSecond(), 0.001)
	assert.InDelta(t, 30.0, resp.PromptTokensPerSecond(), 0.001)
}

func TestGenerateLogprobsUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GenerateResponse{Response: "Paris", Done: true})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), GenerateRequest{
		Model:    "llama3:q4_0",
		Prompt:   "hello",
		Logprobs: true,
	})
	require.ErrorIs(t, err, ErrLogprobsUnsupported)
	assert.False(t, Retryable(err))
}

func TestGenerateEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GenerateResponse{Response: "", Done: true})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "llama3", Prompt: "hello"})
	require.ErrorIs(t, err, ErrEmptyResponse)
	assert.True(t, Retryable(err))
}

func TestGenerateLogprobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GenerateResponse{
			Response: "Paris",
			Done:     true,
			Logprobs: []Logprob{
				{Token: "Par", Logprob: -0.01},
				{Token: "is", Logprob: -0.2, Bytes: []int{105, 115}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	resp, err := c.Generate(context.Background(), GenerateRequest{Model: "llama3", Prompt: "hi", Logprobs: true})
	require.NoError(t, err)
	require.Len(t, resp.Logprobs, 2)
	assert.Equal(t, "Par", resp.Logprobs[0].Token)
	assert.Equal(t, []int{105, 115}, resp.Logprobs[1].Bytes)
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.JSONEq(t, `{"type":"object"}`, string(req.Format))

		json.NewEncoder(w).Encode(ChatResponse{
			Message: Message{Role: "assistant", Content: `{"score": 90, "reason": "close match"}`},
			Done:    true,
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	resp, err := c.Chat(context.Background(), ChatRequest{
		Model: "qwen3:8b",
		Messages: []Message{
			{Role: "system", Content: "You grade answers."},
			{Role: "user", Content: "grade this"},
		},
		Format: json.RawMessage(`{"type":"object"}`),
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Message.Content, "close match")
}

func TestChatEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChatResponse{Message: Message{Role: "assistant"}, Done: true})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Chat(context.Background(), ChatRequest{Model: "qwen3:8b"})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestShow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/show", r.URL.Path)
		var req showRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3:q4_0", req.Name)
		fmt.Fprint(w, `{"details":{"family":"llama","parameter_size":"8.0B","quantization_level":"Q4_0"}}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	details, err := c.Show(context.Background(), "llama3:q4_0")
	require.NoError(t, err)
	assert.Equal(t, "llama", details.Family)
	assert.Equal(t, "8.0B", details.ParameterSize)
	assert.Equal(t, "Q4_0", details.QuantizationLevel)
}

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[{"name":"llama3:q4_0","size":4700000000},{"name":"llama3:fp16","size":16000000000}]}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	models, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3:q4_0", models[0].Name)
	assert.Equal(t, int64(4700000000), models[0].Size)
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "deleted", status: http.StatusOK, wantErr: false},
		{name: "already gone", status: http.StatusNotFound, wantErr: false},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodDelete, r.Method)
				var req deleteRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "llama3:q4_0", req.Model)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL})
			err := c.Delete(context.Background(), "llama3:q4_0")
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/version", r.URL.Path)
		fmt.Fprint(w, `{"version":"0.12.3"}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.12.3", v)
}

func TestStatusErrorParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"model not loaded"}`)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Version(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "model not loaded", se.Body)
	assert.False(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "500", err: &StatusError{Code: 500}, want: true},
		{name: "503", err: &StatusError{Code: 503}, want: true},
		{name: "400", err: &StatusError{Code: 400}, want: false},
		{name: "404", err: &StatusError{Code: 404}, want: false},
		{name: "wrapped 502", err: fmt.Errorf("generate: %w", &StatusError{Code: 502}), want: true},
		{name: "empty payload", err: fmt.Errorf("x: %w", ErrEmptyResponse), want: true},
		{name: "logprobs unsupported", err: ErrLogprobsUnsupported, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{name: "transport", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&StatusError{Code: 404}))
	assert.True(t, IsNotFound(fmt.Errorf("wrap: %w", &StatusError{Code: 404})))
	assert.False(t, IsNotFound(&StatusError{Code: 500}))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}
