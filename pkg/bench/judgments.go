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
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/osync-dev/osync/pkg/results"
)

// needsJudgment is the scheduling predicate: a question is judged when it has
// no verdict yet, when the verdict came from a different judge model, or when
// the caller asked for a full rejudge.
func needsJudgment(q *results.QuestionResult, judgeModel string, rejudge bool) bool {
	if q.Judgment == nil {
		return true
	}
	if !strings.EqualFold(q.Judgment.JudgeModel, judgeModel) {
		return true
	}
	return rejudge
}

// judgeBatch tracks one variant's judgment fan-out. Each question is owned by
// exactly one task; only the progress counter is shared, and it is atomic.
type judgeBatch struct {
	tag     string
	planned int
	done    atomic.Int32
	failed  atomic.Int32
}

// pendingJudgments lists the questions of v that need a verdict from the
// current judge, paired with the base answer they are compared against.
// Questions whose base answer is missing cannot be judged and are skipped
// with a warning.
func (r *Runner) pendingJudgments(v *results.VariantResult) []*results.QuestionResult {
	base := r.ledger.Base()
	if r.judge == nil || base == nil || v.IsBase {
		return nil
	}
	var todo []*results.QuestionResult
	for _, q := range v.QuestionResults {
		if !needsJudgment(q, r.judge.Model(), r.cfg.Rejudge) {
			continue
		}
		if base.Question(q.QuestionID) == nil {
			r.logger.Warn("no base answer to judge against",
				zap.String("tag", v.Tag),
				zap.String("question", q.QuestionID))
			continue
		}
		todo = append(todo, q)
	}
	return todo
}

// judgeVariant scores v's unjudged questions one at a time, in question
// order. This is the serial scheduling mode. Judge failures that survive the
// retry layer abandon the rest of the variant's judging; the answers stay and
// a later run picks the judging back up.
func (r *Runner) judgeVariant(ctx context.Context, v *results.VariantResult) error {
	todo := r.pendingJudgments(v)
	if len(todo) == 0 {
		return nil
	}
	base := r.ledger.Base()
	batch := &judgeBatch{tag: v.Tag, planned: len(todo)}

	for _, q := range todo {
		if err := ctx.Err(); err != nil {
			return err
		}
		baseQ := base.Question(q.QuestionID)
		jm, err := r.judge.Evaluate(ctx, q.Prompt, baseQ.Answer, q.Answer)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("judgment failed, leaving variant partially judged",
				zap.String("tag", v.Tag),
				zap.String("question", q.QuestionID),
				zap.Error(err))
			r.reporter.Warnf("judging %s stopped at %s: %v", v.Tag, q.QuestionID, err)
			return nil
		}
		r.setJudgment(q, jm)
		r.reporter.JudgeProgress(v.Tag, int(batch.done.Add(1)), batch.planned)
	}
	return nil
}

// newJudgeBatch sizes the fan-out for one variant in parallel mode: every
// question that will need a verdict once its answer exists, whether it was
// answered in an earlier run or is still to be generated.
func (r *Runner) newJudgeBatch(v *results.VariantResult) *judgeBatch {
	if r.judge == nil || v.IsBase {
		return nil
	}
	base := r.ledger.Base()
	if base == nil {
		return nil
	}
	planned := 0
	for _, item := range r.items {
		if q := v.Question(item.ID); q != nil && !needsJudgment(q, r.judge.Model(), r.cfg.Rejudge) {
			continue
		}
		planned++
	}
	if planned == 0 {
		return nil
	}
	return &judgeBatch{tag: v.Tag, planned: planned}
}

// scheduleExisting fans out judgments for answers that are already in the
// ledger when the variant's turn starts; freshly generated answers are
// spawned by the executor as they land.
func (r *Runner) scheduleExisting(ctx context.Context, v *results.VariantResult, batch *judgeBatch) {
	if batch == nil {
		return
	}
	for _, q := range r.pendingJudgments(v) {
		r.spawnJudgment(ctx, batch, q.QuestionID, q)
	}
}

// spawnJudgment starts one independent judgment task. The task owns q: it is
// the only writer of q.Judgment, and the write is serialized against ledger
// snapshots. Failures are warnings; generation results are never discarded
// because a verdict could not be obtained.
func (r *Runner) spawnJudgment(ctx context.Context, batch *judgeBatch, questionID string, q *results.QuestionResult) {
	base := r.ledger.Base()
	if base == nil {
		return
	}
	baseQ := base.Question(questionID)
	if baseQ == nil {
		r.logger.Warn("no base answer to judge against",
			zap.String("tag", batch.tag),
			zap.String("question", questionID))
		return
	}
	baseAnswer := baseQ.Answer

	r.tasks.Go(func() error {
		jm, err := r.judge.Evaluate(ctx, q.Prompt, baseAnswer, q.Answer)
		if err != nil {
			if ctx.Err() == nil {
				batch.failed.Add(1)
				r.logger.Warn("judgment failed",
					zap.String("tag", batch.tag),
					zap.String("question", questionID),
					zap.Error(err))
			}
			return nil
		}
		r.setJudgment(q, jm)
		r.reporter.JudgeProgress(batch.tag, int(batch.done.Add(1)), batch.planned)
		return nil
	})
}

// setJudgment records a verdict. The lock keeps concurrent judgment writes
// from racing with the orchestrator marshalling the ledger mid-save.
func (r *Runner) setJudgment(q *results.QuestionResult, jm *results.Judgment) {
	r.mu.Lock()
	q.Judgment = jm
	r.mu.Unlock()
}

// drainJudgments waits for every in-flight judgment task. Task errors are
// handled inside the tasks themselves, so the only error out of here is
// cancellation.
func (r *Runner) drainJudgments(ctx context.Context) error {
	if err := r.tasks.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
