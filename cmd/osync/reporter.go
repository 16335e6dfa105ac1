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
package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/osync-dev/osync/pkg/ollama"
)

// textReporter narrates run progress to the terminal. Parallel judging calls
// JudgeProgress from several goroutines, so every write goes through the
// mutex; the lineDirty flag tracks whether a carriage-return progress line
// still owns the cursor and needs a newline before normal output resumes.
type textReporter struct {
	mu        sync.Mutex
	lineDirty bool
}

func newTextReporter() *textReporter {
	return &textReporter{}
}

func (r *textReporter) RunStarted(suiteName, modelName string, variants []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Printf("⚡ Benchmarking %s against suite %q\n", modelName, suiteName)
	fmt.Printf("   Variants: %s\n\n", strings.Join(variants, ", "))
}

func (r *textReporter) VariantStarted(tag string, answered, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endProgressLine()
	if answered > 0 {
		fmt.Printf("🤖 Testing %s (resuming at %d/%d)\n", tag, answered, total)
		return
	}
	fmt.Printf("🤖 Testing %s\n", tag)
}

func (r *textReporter) VariantSkipped(tag, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endProgressLine()
	fmt.Printf("✓ %s: %s\n", tag, reason)
}

func (r *textReporter) VariantFinished(tag string, answered, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endProgressLine()
	fmt.Printf("✓ %s answered %d/%d\n", tag, answered, total)
}

func (r *textReporter) VariantFailed(tag string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endProgressLine()
	fmt.Fprintf(os.Stderr, "❌ %s failed: %v\n", tag, err)
}

func (r *textReporter) QuestionAnswered(tag, questionID string, answered, total int, evalTokensPerSecond float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endProgressLine()
	fmt.Printf("   ✓ [%d/%d] %s (%.1f tok/s)\n", answered, total, questionID, evalTokensPerSecond)
}

func (r *textReporter) PullProgress(model string, p ollama.PullProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case p.Status == "success":
		fmt.Printf("\r   ⬇ pulled %s%s\n", model, strings.Repeat(" ", 30))
		r.lineDirty = false
	case p.Total > 0:
		pct := float64(p.Completed) / float64(p.Total) * 100
		fmt.Printf("\r   ⬇ pulling %s: %s / %s (%3.0f%%)", model,
			humanize.Bytes(uint64(p.Completed)), humanize.Bytes(uint64(p.Total)), pct)
		r.lineDirty = true
	}
}

func (r *textReporter) JudgeProgress(tag string, completed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Printf("\r   ⚖ judging %s: %d/%d", tag, completed, total)
	r.lineDirty = true
	if completed >= total {
		fmt.Println()
		r.lineDirty = false
	}
}

func (r *textReporter) Warnf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endProgressLine()
	fmt.Fprintf(os.Stderr, "⚠️  "+format+"\n", args...)
}

// endProgressLine terminates a pending carriage-return line so the next
// message starts on a fresh one. Callers must hold the mutex.
func (r *textReporter) endProgressLine() {
	if r.lineDirty {
		fmt.Println()
		r.lineDirty = false
	}
}
