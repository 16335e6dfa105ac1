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

// Package retry runs an operation up to a bounded number of attempts with
// linear backoff, deferring to the caller's classifier for what is worth
// retrying and to the context for cancellation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts is the attempt bound when Options leaves it zero.
	DefaultMaxAttempts = 5

	// DefaultBaseDelay is the backoff unit: attempt n waits n times this.
	DefaultBaseDelay = time.Second
)

// Options tunes Do. The zero value is usable.
type Options struct {
	// MaxAttempts bounds the total number of invocations, not the number of
	// retries.
	MaxAttempts int

	// BaseDelay is multiplied by the attempt number for each wait, so delays
	// grow linearly: base, 2*base, 3*base.
	BaseDelay time.Duration

	// RetryIf decides whether a failure is transient. Nil retries every
	// error except cancellation.
	RetryIf func(error) bool

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.RetryIf == nil {
		o.RetryIf = func(error) bool { return true }
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Do invokes op until it yields a result, fails permanently, is cancelled,
// or the attempt budget runs out. A nil result with a nil error counts as a
// failed attempt. Cancellation is never retried: an error that is or wraps
// the context's error is returned as-is immediately.
func Do[T any](ctx context.Context, name string, opts Options, op func(context.Context) (*T, error)) (*T, error) {
	o := opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= o.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := op(ctx)
		if err == nil && result != nil {
			if attempt > 1 {
				o.Logger.Info("succeeded after retry",
					zap.String("op", name),
					zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil, err
			}
			if !o.RetryIf(err) {
				o.Logger.Debug("not retrying",
					zap.String("op", name),
					zap.Int("attempt", attempt),
					zap.Error(err))
				return nil, err
			}
		}
		if attempt == o.MaxAttempts {
			break
		}

		delay := o.BaseDelay * time.Duration(attempt)
		o.Logger.Warn("attempt failed, backing off",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.MaxAttempts),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if lastErr == nil {
		return nil, fmt.Errorf("%s failed after %d attempts: all attempts returned nil", name, o.MaxAttempts)
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", name, o.MaxAttempts, lastErr)
}
