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
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/osync-dev/osync/pkg/ollama"
	"github.com/osync-dev/osync/pkg/results"
	"github.com/osync-dev/osync/pkg/retry"
	"github.com/osync-dev/osync/pkg/suite"
)

// preloadAttempts bounds the preload chat that forces the server to load the
// model into memory before timing-sensitive generation starts.
const preloadAttempts = 3

// preload issues a trivial chat request so the server loads the model. Only
// transient failures are retried; a model that cannot load at all fails fast.
func (r *Runner) preload(ctx context.Context, model string) error {
	_, err := retry.Do(ctx, "preload "+model, retry.Options{
		MaxAttempts: preloadAttempts,
		RetryIf:     ollama.Retryable,
		Logger:      r.logger,
	}, func(ctx context.Context) (*ollama.ChatResponse, error) {
		return r.client.Chat(ctx, ollama.ChatRequest{
			Model:    model,
			Messages: []ollama.Message{{Role: "user", Content: "Hi"}},
			Options:  ollama.Options{NumPredict: 16},
		})
	})
	if err != nil {
		return fmt.Errorf("preload %s: %w", model, err)
	}
	return nil
}

// resolveMetadata fills the variant's descriptive fields from the server. The
// quantization label falls back to parsing the tag, because servers report
// "unknown" for imported GGUF models.
func (r *Runner) resolveMetadata(ctx context.Context, v *results.VariantResult) error {
	details, err := r.client.Show(ctx, v.ModelName)
	if err != nil {
		return fmt.Errorf("show %s: %w", v.ModelName, err)
	}
	v.Family = details.Family
	v.ParameterSize = details.ParameterSize
	v.Quantization = details.QuantizationLevel
	if v.Quantization == "" || strings.EqualFold(v.Quantization, "unknown") {
		v.Quantization = ollama.QuantizationLabel(v.Tag)
	}

	models, err := r.client.List(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models {
		if strings.EqualFold(m.Name, v.ModelName) {
			v.SizeBytes = m.Size
			break
		}
	}
	return nil
}

// runVariant answers every suite question the variant does not have yet,
// appending results in declaration order. batch is non-nil in parallel judge
// mode and receives each question as soon as its answer lands, so judging
// overlaps generation. The variant lives in the ledger throughout: whatever
// has been appended when cancellation strikes is persisted by the caller.
func (r *Runner) runVariant(ctx context.Context, v *results.VariantResult, batch *judgeBatch) error {
	total := len(r.items)
	r.reporter.VariantStarted(v.Tag, len(v.QuestionResults), total)

	prevCtxLen := -1
	for _, item := range r.items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if v.HasQuestion(item.ID) {
			continue
		}
		if item.Context != prevCtxLen {
			r.logger.Info("effective context length",
				zap.String("tag", v.Tag),
				zap.String("question", item.ID),
				zap.Int("num_ctx", item.Context))
			prevCtxLen = item.Context
		}

		resp, err := retry.Do(ctx, "generate "+item.ID, r.genRetry(), func(ctx context.Context) (*ollama.GenerateResponse, error) {
			return r.client.Generate(ctx, ollama.GenerateRequest{
				Model:    v.ModelName,
				Prompt:   item.Prompt,
				Logprobs: true,
				Options:  r.questionOptions(item),
			})
		})
		if err != nil {
			if errors.Is(err, ollama.ErrLogprobsUnsupported) {
				return fmt.Errorf("%s returned no token logprobs for %s; "+
					"benchmark scoring needs them, please upgrade the server to a build with logprobs support: %w",
					v.ModelName, item.ID, err)
			}
			return fmt.Errorf("question %s: %w", item.ID, err)
		}

		q := &results.QuestionResult{
			QuestionID:            item.ID,
			Category:              item.Category,
			Prompt:                item.Prompt,
			Answer:                resp.Response,
			TokenLogprobs:         resp.Logprobs,
			PromptTokensPerSecond: resp.PromptTokensPerSecond(),
			EvalTokensPerSecond:   resp.EvalTokensPerSecond(),
			TotalTokens:           resp.PromptEvalCount + resp.EvalCount,
			ContextLength:         item.Context,
		}
		if err := v.Append(q); err != nil {
			return err
		}
		r.reporter.QuestionAnswered(v.Tag, item.ID, len(v.QuestionResults), total, q.EvalTokensPerSecond)

		if batch != nil {
			r.spawnJudgment(ctx, batch, item.ID, q)
		}
	}

	r.reporter.VariantFinished(v.Tag, len(v.QuestionResults), total)
	return nil
}

// questionOptions applies the per-question context length and the effective
// token limit on top of the run's sampling snapshot.
func (r *Runner) questionOptions(item suite.Item) ollama.Options {
	opts := r.cfg.Options
	opts.NumCtx = item.Context
	opts.NumPredict = r.numPredict
	return opts
}

func (r *Runner) genRetry() retry.Options {
	return retry.Options{
		BaseDelay: r.cfg.RetryBaseDelay,
		RetryIf:   ollama.Retryable,
		Logger:    r.logger,
	}
}
