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

import "github.com/osync-dev/osync/pkg/ollama"

// Reporter observes run progress; rendering is the implementation's problem.
// All methods are invoked from the orchestrator goroutine except
// JudgeProgress, which concurrent judgment tasks call and which therefore
// must be safe for concurrent use.
type Reporter interface {
	// RunStarted fires once, after the variant list is resolved.
	RunStarted(suiteName, modelName string, variants []string)

	// VariantStarted fires before a variant is tested. answered is how many
	// questions the ledger already holds; a non-zero value means a resume.
	VariantStarted(tag string, answered, total int)

	// VariantSkipped fires for variants that need no testing this run.
	VariantSkipped(tag, reason string)

	// VariantFinished fires when a variant's generation pass completes.
	VariantFinished(tag string, answered, total int)

	// VariantFailed fires when a variant is abandoned; the run continues.
	VariantFailed(tag string, err error)

	// QuestionAnswered fires after each recorded answer.
	QuestionAnswered(tag, questionID string, answered, total int, evalTokensPerSecond float64)

	// PullProgress relays streaming download events for on-demand pulls.
	PullProgress(model string, p ollama.PullProgress)

	// JudgeProgress fires after each completed judgment of a variant's batch.
	JudgeProgress(tag string, completed, total int)

	// Warnf relays conditions the user should see but that do not stop the
	// run, such as cleanup failures.
	Warnf(format string, args ...any)
}

// NopReporter discards every event. It is the default when no reporter is
// configured.
type NopReporter struct{}

func (NopReporter) RunStarted(string, string, []string)             {}
func (NopReporter) VariantStarted(string, int, int)                 {}
func (NopReporter) VariantSkipped(string, string)                   {}
func (NopReporter) VariantFinished(string, int, int)                {}
func (NopReporter) VariantFailed(string, error)                     {}
func (NopReporter) QuestionAnswered(string, string, int, int, float64) {}
func (NopReporter) PullProgress(string, ollama.PullProgress)        {}
func (NopReporter) JudgeProgress(string, int, int)                  {}
func (NopReporter) Warnf(string, ...any)                            {}
