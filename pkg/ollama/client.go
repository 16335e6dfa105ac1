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

// Package ollama is a typed HTTP client for servers that speak the Ollama
// API, covering the generation, chat, model management and registry lookups
// the benchmark harness needs.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the conventional local Ollama endpoint.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultTimeout bounds a single non-streaming request. Large models on
	// slow hardware can take minutes for one completion.
	DefaultTimeout = 10 * time.Minute
)

// ErrEmptyResponse reports a 200 reply whose payload carried no usable
// content. Servers under memory pressure do this intermittently, so the
// error is classified as retryable.
var ErrEmptyResponse = errors.New("ollama: empty response payload")

// ErrLogprobsUnsupported reports that token log probabilities were requested
// but the server build does not emit them.
var ErrLogprobsUnsupported = errors.New("ollama: server does not support logprobs")

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama: server returned %d", e.Code)
	}
	return fmt.Sprintf("ollama: server returned %d: %s", e.Code, e.Body)
}

func newStatusError(code int, body []byte) *StatusError {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &StatusError{Code: code, Body: msg}
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Retryable classifies an error for the retry layer. Transport failures,
// 5xx replies and empty payloads are transient; client errors and
// unsupported-feature errors are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrLogprobsUnsupported) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError
	}
	// Anything else is a transport-level failure (connection refused, reset,
	// unexpected EOF) and worth another attempt.
	return true
}

// Config configures a Client. Zero fields take defaults.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:11434.
	BaseURL string

	// Timeout bounds each non-streaming request. Pulls are exempt because
	// model downloads routinely outlive any sane request timeout.
	Timeout time.Duration

	Logger *zap.Logger
}

// Client talks to one Ollama server.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	logger  *zap.Logger
}

// NewClient builds a client, applying defaults for unset config fields.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		stream:  &http.Client{Timeout: 0},
		logger:  cfg.Logger,
	}
}

// BaseURL returns the server root this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Generate runs a single non-streamed completion. When the request asks for
// logprobs and the server returns none alongside a non-empty completion, the
// call fails with ErrLogprobsUnsupported.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	req.Stream = false
	var resp GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return nil, err
	}
	if resp.Response == "" {
		return nil, fmt.Errorf("generate %q: %w", req.Model, ErrEmptyResponse)
	}
	if req.Logprobs && len(resp.Logprobs) == 0 {
		return nil, fmt.Errorf("generate %q: %w", req.Model, ErrLogprobsUnsupported)
	}
	return &resp, nil
}

// Chat runs a single non-streamed chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	var resp ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return nil, err
	}
	if resp.Message.Content == "" {
		return nil, fmt.Errorf("chat %q: %w", req.Model, ErrEmptyResponse)
	}
	return &resp, nil
}

// Show fetches the details block for a local model.
func (c *Client) Show(ctx context.Context, name string) (*ModelDetails, error) {
	var resp showResponse
	if err := c.do(ctx, http.MethodPost, "/api/show", showRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp.Details, nil
}

// List returns the models present on the server.
func (c *Client) List(ctx context.Context) ([]ModelInfo, error) {
	var resp tagsResponse
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// Delete removes a local model. A 404 means the model is already gone and is
// treated as success.
func (c *Client) Delete(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, "/api/delete", deleteRequest{Model: name}, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// Version returns the server version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp versionResponse
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	c.logger.Debug("ollama request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%s %s: %w", method, path, ErrEmptyResponse)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
