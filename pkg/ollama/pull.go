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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// PullFunc receives each progress event of a streaming pull. Returning an
// error aborts the download.
type PullFunc func(PullProgress) error

// maxPullLine bounds a single NDJSON progress line. Events are tiny; the
// generous cap only guards against a misbehaving server.
const maxPullLine = 1 << 20

// Pull downloads a model, streaming NDJSON progress events to fn. The
// request is exempt from the client timeout since large models take however
// long they take; cancel ctx to abort.
func (c *Client) Pull(ctx context.Context, name string, fn PullFunc) error {
	payload, err := json.Marshal(pullRequest{Name: name, Stream: true})
	if err != nil {
		return fmt.Errorf("encode pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("pull %q: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return newStatusError(resp.StatusCode, data)
	}

	c.logger.Debug("pull started", zap.String("model", name))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxPullLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev PullProgress
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("pull %q: decode progress: %w", name, err)
		}
		if ev.Error != "" {
			return fmt.Errorf("pull %q: %s", name, ev.Error)
		}
		if fn != nil {
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		// Surface the cancellation itself when the caller aborted mid-stream.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("pull %q: read stream: %w", name, err)
	}
	return ctx.Err()
}
