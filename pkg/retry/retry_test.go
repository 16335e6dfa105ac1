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
package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastOpts keeps test backoffs near-instant.
func fastOpts() Options {
	return Options{MaxAttempts: 5, BaseDelay: time.Millisecond}
}

func intp(v int) *int { return &v }

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), "op", fastOpts(), func(context.Context) (*int, error) {
		calls++
		return intp(7), nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, *got)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), "op", fastOpts(), func(context.Context) (*string, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		s := "ok"
		return &s, nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ok", *got)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Do(context.Background(), "flaky", fastOpts(), func(context.Context) (*int, error) {
		calls++
		return nil, boom
	})
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "flaky failed after 5 attempts")
}

func TestDoRetriesNilResult(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "empty", fastOpts(), func(context.Context) (*int, error) {
		calls++
		return nil, nil
	})
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Contains(t, err.Error(), "all attempts returned nil")
}

func TestDoNilResultThenSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), "op", fastOpts(), func(context.Context) (*int, error) {
		calls++
		if calls < 3 {
			return nil, nil
		}
		return intp(42), nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 42, *got)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	opts := fastOpts()
	opts.RetryIf = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	_, err := Do(context.Background(), "op", opts, func(context.Context) (*int, error) {
		calls++
		return nil, fmt.Errorf("wrapped: %w", permanent)
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoNeverRetriesCancellation(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "op", fastOpts(), func(context.Context) (*int, error) {
		calls++
		return nil, fmt.Errorf("request aborted: %w", context.Canceled)
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation must not be retried")
}

func TestDoReturnsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, "op", fastOpts(), func(context.Context) (*int, error) {
		calls++
		return nil, errors.New("should not run")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDoCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{MaxAttempts: 3, BaseDelay: time.Hour}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, "op", opts, func(context.Context) (*int, error) {
			return nil, errors.New("transient")
		})
		done <- err
	}()

	// Give the first attempt time to fail and enter backoff.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDoLinearBackoff(t *testing.T) {
	opts := Options{MaxAttempts: 3, BaseDelay: 30 * time.Millisecond}

	start := time.Now()
	_, err := Do(context.Background(), "op", opts, func(context.Context) (*int, error) {
		return nil, errors.New("transient")
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	// Waits are base and 2*base: at least 90ms total.
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestDoDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultMaxAttempts, o.MaxAttempts)
	assert.Equal(t, DefaultBaseDelay, o.BaseDelay)
	assert.NotNil(t, o.RetryIf)
	assert.NotNil(t, o.Logger)
}
