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

// Package judge scores how similar a candidate variant's answer is to the
// base variant's answer, using a second model over the same chat API.
package judge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/osync-dev/osync/pkg/ollama"
	"github.com/osync-dev/osync/pkg/results"
	"github.com/osync-dev/osync/pkg/retry"
)

const (
	// DefaultContextLength gives the judge room for two full answers plus
	// the instructions.
	DefaultContextLength = 12288

	// DefaultNumPredict bounds the verdict; a score and two sentences fit
	// comfortably.
	DefaultNumPredict = 2048

	// emptyReasonRetries bounds how many times the judge is asked again when
	// it returns a score with no explanation.
	emptyReasonRetries = 5
)

var emptyReasonDelay = 500 * time.Millisecond

// Config configures a Judge. Model is required.
type Config struct {
	// Model is the judge model name as the judge server knows it.
	Model string

	// ContextLength is sent as num_ctx on every judge request. Values <= 0
	// fall back to DefaultContextLength.
	ContextLength int

	// Retry tunes the network retry around each judge call.
	Retry retry.Options

	Logger *zap.Logger
}

// Judge evaluates answer similarity through one judge model on one server.
type Judge struct {
	client *ollama.Client
	model  string
	numCtx int
	retry  retry.Options
	logger *zap.Logger
}

// New builds a Judge on top of an existing client, which may point at the
// test server or at a dedicated judge server.
func New(client *ollama.Client, cfg Config) (*Judge, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("judge model is required")
	}
	if cfg.ContextLength <= 0 {
		cfg.ContextLength = DefaultContextLength
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retry.RetryIf == nil {
		cfg.Retry.RetryIf = ollama.Retryable
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = cfg.Logger
	}
	return &Judge{
		client: client,
		model:  cfg.Model,
		numCtx: cfg.ContextLength,
		retry:  cfg.Retry,
		logger: cfg.Logger,
	}, nil
}

// Model returns the judge model name. Judgments are keyed by it: switching
// judges invalidates earlier scores.
func (j *Judge) Model() string { return j.model }

// Evaluate scores candidateAnswer against baseAnswer for the given question.
// A verdict with a score but no extractable reason is re-requested up to
// emptyReasonRetries times; the final fallback keeps the empty reason and
// preserves the raw reply for diagnosis.
func (j *Judge) Evaluate(ctx context.Context, question, baseAnswer, candidateAnswer string) (*results.Judgment, error) {
	prompt := buildUserPrompt(question, baseAnswer, candidateAnswer)

	var (
		lastRaw   string
		lastScore int
		haveScore bool
	)
	for attempt := 0; attempt <= emptyReasonRetries; attempt++ {
		raw, err := j.ask(ctx, prompt)
		if err != nil {
			return nil, err
		}
		lastRaw = raw

		v := parseVerdict(raw)
		if !v.hasScore {
			return nil, fmt.Errorf("judge %s returned no score: %q", j.model, truncateForError(raw))
		}
		lastScore = normalizeScore(v.score)
		haveScore = true

		if v.reason != "" {
			return &results.Judgment{
				JudgeModel: j.model,
				Score:      lastScore,
				Reason:     v.reason,
				Timestamp:  time.Now().UTC(),
			}, nil
		}

		j.logger.Warn("judge returned empty reason",
			zap.String("judge", j.model),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", emptyReasonRetries+1))

		if attempt < emptyReasonRetries {
			select {
			case <-time.After(emptyReasonDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if !haveScore {
		return nil, fmt.Errorf("judge %s produced no usable verdict", j.model)
	}
	// Accept the score, keep the raw reply as the debugging trail.
	return &results.Judgment{
		JudgeModel:  j.model,
		Score:       lastScore,
		Reason:      "",
		Timestamp:   time.Now().UTC(),
		RawResponse: lastRaw,
	}, nil
}

// ask performs one judged chat call, retried for transient failures.
func (j *Judge) ask(ctx context.Context, prompt string) (string, error) {
	resp, err := retry.Do(ctx, "judge "+j.model, j.retry, func(ctx context.Context) (*ollama.ChatResponse, error) {
		return j.client.Chat(ctx, ollama.ChatRequest{
			Model: j.model,
			Messages: []ollama.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: prompt},
			},
			Format: responseSchema,
			Options: ollama.Options{
				Temperature: 0,
				NumCtx:      j.numCtx,
				NumPredict:  DefaultNumPredict,
			},
		})
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func truncateForError(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
