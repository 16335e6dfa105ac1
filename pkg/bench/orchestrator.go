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
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/osync-dev/osync/internal/version"
	"github.com/osync-dev/osync/pkg/judge"
	"github.com/osync-dev/osync/pkg/ollama"
	"github.com/osync-dev/osync/pkg/results"
	"github.com/osync-dev/osync/pkg/retry"
	"github.com/osync-dev/osync/pkg/suite"
)

// cleanupTimeout bounds the on-demand model deletes that must still happen
// after the run context is cancelled.
const cleanupTimeout = time.Minute

// Runner drives one benchmark run end to end: variant resolution, testing,
// judging and crash-safe persistence. A Runner is single-use.
type Runner struct {
	cfg        Config
	items      []suite.Item
	numPredict int

	client      *ollama.Client
	registry    *ollama.Registry
	judge       *judge.Judge
	judgeClient *ollama.Client

	reporter Reporter
	logger   *zap.Logger

	ledger  *results.Ledger
	baseTag string
	failed  []string

	// mu serializes judgment writes against ledger marshals; tasks runs the
	// parallel-mode judgment fan-out, drained before the run returns.
	mu    sync.Mutex
	tasks errgroup.Group
}

// Outcome is what a run leaves behind, complete or not. The ledger has
// already been flushed to disk when Run returns.
type Outcome struct {
	Ledger    *results.Ledger
	Summaries []VariantSummary

	// FailedVariants are tags abandoned by a permanent per-variant failure.
	// They do not stop the run but do make it report an error.
	FailedVariants []string
}

// variantSpec is one resolved candidate: its ledger tag and the full model
// reference the server is addressed with.
type variantSpec struct {
	Tag   string
	Model string
}

// NewRunner validates the configuration and builds the clients. No network
// traffic happens until Run.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:        cfg,
		items:      cfg.Suite.Items(),
		numPredict: cfg.NumPredict,
		reporter:   cfg.Reporter,
		logger:     cfg.Logger,
	}
	if r.numPredict <= 0 {
		r.numPredict = cfg.Suite.NumPredict
	}
	if len(r.items) == 0 {
		return nil, fmt.Errorf("suite %q has no questions", cfg.Suite.Name)
	}

	r.client = ollama.NewClient(ollama.Config{
		BaseURL: cfg.ServerURL,
		Timeout: cfg.Timeout,
		Logger:  cfg.Logger,
	})
	r.registry = ollama.NewRegistry(r.client, ollama.RegistryConfig{
		Insecure: cfg.Insecure,
		Logger:   cfg.Logger,
	})

	if cfg.Judge != "" {
		judgeURL, judgeModel, err := splitJudgeSpec(cfg.Judge, cfg.ServerURL)
		if err != nil {
			return nil, err
		}
		r.judgeClient = r.client
		if judgeURL != cfg.ServerURL {
			r.judgeClient = ollama.NewClient(ollama.Config{
				BaseURL: judgeURL,
				Timeout: cfg.Timeout,
				Logger:  cfg.Logger,
			})
		}
		j, err := judge.New(r.judgeClient, judge.Config{
			Model:         judgeModel,
			ContextLength: cfg.JudgeContextLength,
			Retry:         retry.Options{BaseDelay: cfg.RetryBaseDelay, RetryIf: ollama.Retryable, Logger: cfg.Logger},
			Logger:        cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		r.judge = j
	}
	return r, nil
}

// Run executes the benchmark state machine. It always flushes progress and
// deletes on-demand models before returning, whatever the exit reason; pass a
// cancellable context to make the first interrupt unwind through here.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	// The ledger loads before anything touches the network: a results file
	// from a different suite or model family must fail with the file intact.
	ledger, err := results.LoadOrNew(r.cfg.OutputFile, r.cfg.Suite.Name, r.cfg.ModelName, r.cfg.BaseTag)
	if err != nil {
		return nil, err
	}
	r.ledger = ledger
	r.baseTag = r.resolveBaseTag()
	r.stampIdentity(ctx)

	specs, err := r.resolveVariants(ctx)
	if err != nil {
		return nil, err
	}
	specs = r.orderVariants(specs)
	if len(specs) == 0 && r.ledger.Base() == nil {
		return nil, fmt.Errorf("no variants to test: base %q is unknown and no variant references were given", r.baseTag)
	}

	if err := r.verifyVariants(ctx, specs); err != nil {
		return nil, err
	}
	if err := r.verifyJudge(ctx); err != nil {
		return nil, err
	}
	if r.judge != nil && r.cfg.JudgeMode == JudgeParallel && r.judgeClient == r.client {
		r.reporter.Warnf("judge model shares the inference server; parallel judging will compete with generation for it")
	}

	tags := make([]string, len(specs))
	for i, s := range specs {
		tags[i] = s.Tag
	}
	r.reporter.RunStarted(r.cfg.Suite.Name, r.cfg.ModelName, tags)

	// First save: proves the output path is writable before hours of work,
	// and pins the run identity.
	if err := r.save(); err != nil {
		return nil, err
	}

	judgeLater, err := r.testVariants(ctx, specs)
	if err != nil {
		return r.finish(ctx, err)
	}

	// Variants that were complete before this run but still lack verdicts
	// from the current judge.
	for _, v := range judgeLater {
		if r.cfg.JudgeMode == JudgeParallel {
			r.scheduleExisting(ctx, v, r.newJudgeBatch(v))
			continue
		}
		if err := r.judgeVariant(ctx, v); err != nil {
			return r.finish(ctx, err)
		}
	}

	if err := r.drainJudgments(ctx); err != nil {
		return r.finish(ctx, err)
	}
	return r.finish(ctx, nil)
}

// testVariants is the sequential variant loop. Per-variant failures mark the
// variant and move on; only cancellation and unwritable state escape.
func (r *Runner) testVariants(ctx context.Context, specs []variantSpec) ([]*results.VariantResult, error) {
	var judgeLater []*results.VariantResult
	total := len(r.items)

	for _, s := range specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		v := r.ledger.Variant(s.Tag)
		if v != nil && v.Complete(total) && !r.cfg.Force {
			r.reporter.VariantSkipped(s.Tag, fmt.Sprintf("already complete (%d/%d)", len(v.QuestionResults), total))
			if len(r.pendingJudgments(v)) > 0 {
				judgeLater = append(judgeLater, v)
			}
			continue
		}
		if v != nil && v.Complete(total) && r.cfg.Force {
			r.logger.Info("force: discarding complete variant", zap.String("tag", s.Tag))
			r.ledger.Remove(s.Tag)
			v = nil
		}
		if v == nil {
			v = r.ledger.Upsert(&results.VariantResult{
				Tag:       s.Tag,
				ModelName: s.Model,
				IsBase:    strings.EqualFold(s.Tag, r.baseTag),
			})
		}

		if err := r.prepareVariant(ctx, v); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.failVariant(ctx, v, err)
			continue
		}

		var batch *judgeBatch
		if r.cfg.JudgeMode == JudgeParallel {
			batch = r.newJudgeBatch(v)
			r.scheduleExisting(ctx, v, batch)
		}
		if err := r.runVariant(ctx, v, batch); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.failVariant(ctx, v, err)
			continue
		}

		if r.cfg.JudgeMode == JudgeSerial {
			if err := r.judgeVariant(ctx, v); err != nil {
				return nil, err
			}
		}

		// The verdicts need only the recorded answers, not the weights, so an
		// on-demand model goes away the moment testing ends.
		r.cleanupVariant(ctx, v)
		if err := r.save(); err != nil {
			return nil, err
		}
	}
	return judgeLater, nil
}

// prepareVariant takes one candidate from reference to ready-to-test: pull it
// when on demand, settle its canonical name, fill metadata, check lineage
// against the base, and load it into server memory.
func (r *Runner) prepareVariant(ctx context.Context, v *results.VariantResult) error {
	exists, err := r.registry.Exists(ctx, v.ModelName)
	if err != nil {
		return err
	}
	if !exists {
		// Only reachable with on-demand: verification already aborted the
		// run otherwise. The flag is persisted before the pull so that a
		// crash mid-download still triggers cleanup on the next run.
		v.PulledOnDemand = true
		if err := r.save(); err != nil {
			return err
		}
		if err := r.client.Pull(ctx, v.ModelName, func(p ollama.PullProgress) error {
			r.reporter.PullProgress(v.ModelName, p)
			return nil
		}); err != nil {
			return fmt.Errorf("pull %s: %w", v.ModelName, err)
		}
		r.logger.Info("pulled on-demand model", zap.String("model", v.ModelName))
	}

	// Servers canonicalize names on pull; "Q4_0" may be stored as "q4_0".
	// Adopt the server's spelling for everything that follows.
	if actual, err := r.registry.ResolveActualName(ctx, v.ModelName); err == nil && actual != v.ModelName {
		r.logger.Debug("canonical model name",
			zap.String("requested", v.ModelName),
			zap.String("actual", actual))
		v.ModelName = actual
		if tag := ollama.ParseRef(actual).Tag; strings.EqualFold(tag, v.Tag) {
			v.Tag = tag
		}
	}

	if err := r.resolveMetadata(ctx, v); err != nil {
		return err
	}
	if err := r.validateAgainstBase(v); err != nil {
		return err
	}
	return r.preload(ctx, v.ModelName)
}

// failVariant abandons one candidate without stopping the run: the partial
// result is saved, an on-demand model is deleted, and the tag is recorded so
// the run's final status reflects the failure.
func (r *Runner) failVariant(ctx context.Context, v *results.VariantResult, cause error) {
	r.logger.Warn("variant failed",
		zap.String("tag", v.Tag),
		zap.Error(cause))
	r.reporter.VariantFailed(v.Tag, cause)
	r.failed = append(r.failed, v.Tag)
	r.cleanupVariant(ctx, v)
	if err := r.save(); err != nil {
		r.logger.Error("could not save after variant failure", zap.Error(err))
	}
}

// validateAgainstBase rejects candidates from a different lineage than the
// base: comparing answers across model families or sizes is meaningless.
// Empty fields skip the check, so older servers with sparse metadata still
// work.
func (r *Runner) validateAgainstBase(v *results.VariantResult) error {
	if v.IsBase {
		return nil
	}
	base := r.ledger.Base()
	if base == nil {
		return nil
	}
	if base.Family != "" && v.Family != "" && !strings.EqualFold(v.Family, base.Family) {
		return fmt.Errorf("family %q does not match base family %q", v.Family, base.Family)
	}
	if base.ParameterSize != "" && v.ParameterSize != "" && !strings.EqualFold(v.ParameterSize, base.ParameterSize) {
		return fmt.Errorf("parameter size %q does not match base %q", v.ParameterSize, base.ParameterSize)
	}
	return nil
}

// resolveBaseTag prefers the base already marked in the ledger over the
// configured tag, so an existing ledger keeps its reference point.
func (r *Runner) resolveBaseTag() string {
	if b := r.ledger.Base(); b != nil {
		return b.Tag
	}
	return r.cfg.BaseTag
}

// resolveVariants expands the configured references into concrete variant
// specs: bare tags attach to the run's model family, full references stand
// alone, and "*" patterns enumerate the source's available tags. Duplicate
// tags collapse case-insensitively, first spelling wins.
func (r *Runner) resolveVariants(ctx context.Context) ([]variantSpec, error) {
	var specs []variantSpec
	seen := make(map[string]bool)
	add := func(ref ollama.Ref, tag string) {
		key := strings.ToLower(tag)
		if seen[key] {
			return
		}
		seen[key] = true
		specs = append(specs, variantSpec{Tag: tag, Model: ref.WithTag(tag).Name()})
	}

	for _, raw := range r.cfg.Variants {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		ref, tag := r.splitVariantEntry(entry)
		if !strings.Contains(tag, "*") {
			add(ref, tag)
			continue
		}
		tags, err := r.registry.ExpandPattern(ctx, ref.Name(), tag)
		if err != nil {
			return nil, fmt.Errorf("expand variant %q: %w", entry, err)
		}
		if len(tags) == 0 {
			r.reporter.Warnf("variant pattern %q matched nothing", entry)
		}
		for _, t := range tags {
			add(ref, t)
		}
	}
	return specs, nil
}

// splitVariantEntry separates a variant entry into its model source and tag.
// An entry without separators is a bare tag on the run's model family.
func (r *Runner) splitVariantEntry(entry string) (ollama.Ref, string) {
	if !strings.ContainsAny(entry, ":/") {
		return ollama.ParseRef(r.cfg.ModelName), entry
	}
	ref := ollama.ParseRef(entry)
	return ref, ref.Tag
}

// orderVariants puts the base first so its answers exist before any candidate
// needs them. An incomplete base joins the test list even when the user did
// not ask for it.
func (r *Runner) orderVariants(specs []variantSpec) []variantSpec {
	baseSpec := variantSpec{
		Tag:   r.baseTag,
		Model: ollama.ParseRef(r.cfg.ModelName).WithTag(r.baseTag).Name(),
	}
	listed := false
	for i, s := range specs {
		if strings.EqualFold(s.Tag, r.baseTag) {
			baseSpec = s
			specs = append(specs[:i], specs[i+1:]...)
			listed = true
			break
		}
	}

	baseV := r.ledger.Variant(r.baseTag)
	if listed || baseV == nil || !baseV.Complete(len(r.items)) {
		return append([]variantSpec{baseSpec}, specs...)
	}
	return specs
}

// verifyVariants fails the run up front when a candidate cannot be obtained,
// before any model is tested or pulled.
func (r *Runner) verifyVariants(ctx context.Context, specs []variantSpec) error {
	var missingLocal, missingRemote []string
	for _, s := range specs {
		exists, err := r.registry.Exists(ctx, s.Model)
		if err != nil {
			return fmt.Errorf("verify %s: %w", s.Model, err)
		}
		if exists {
			continue
		}
		if !r.cfg.OnDemand {
			missingLocal = append(missingLocal, s.Model)
			continue
		}
		remote, err := r.registry.ExistsRemotely(ctx, s.Model)
		if err != nil {
			return fmt.Errorf("verify %s remotely: %w", s.Model, err)
		}
		if !remote {
			missingRemote = append(missingRemote, s.Model)
		}
	}
	if len(missingLocal) > 0 {
		return fmt.Errorf("models not present on %s: %s (pull them first, or rerun with on-demand enabled)",
			r.cfg.ServerURL, strings.Join(missingLocal, ", "))
	}
	if len(missingRemote) > 0 {
		return fmt.Errorf("models not found in their registry: %s", strings.Join(missingRemote, ", "))
	}
	return nil
}

// verifyJudge confirms the judge model exists before any test work starts. A
// missing judge after hours of generation would waste the whole run.
func (r *Runner) verifyJudge(ctx context.Context) error {
	if r.judge == nil {
		return nil
	}
	_, err := r.judgeClient.Show(ctx, r.judge.Model())
	if err == nil {
		return nil
	}
	if ollama.IsNotFound(err) {
		return fmt.Errorf("judge model %q not found on %s", r.judge.Model(), r.judgeClient.BaseURL())
	}
	return fmt.Errorf("verify judge model %q: %w", r.judge.Model(), err)
}

// stampIdentity pins run provenance on the ledger. Server version lookups
// are best-effort; a server without /api/version still benchmarks.
func (r *Runner) stampIdentity(ctx context.Context) {
	if r.ledger.RunID == "" {
		r.ledger.RunID = uuid.NewString()
	}
	r.ledger.OsyncVersion = version.Get()
	r.ledger.ServerURL = r.cfg.ServerURL
	if r.cfg.RepositoryURL != "" {
		r.ledger.RepositoryURL = r.cfg.RepositoryURL
	}

	// num_predict and num_ctx are recorded as top-level fields; the options
	// snapshot carries only the sampling parameters.
	opts := r.cfg.Options
	opts.NumPredict = 0
	opts.NumCtx = 0
	r.ledger.Options = opts
	r.ledger.NumPredict = r.numPredict
	r.ledger.ContextLength = r.cfg.Suite.ContextLength

	if v, err := r.client.Version(ctx); err == nil {
		r.ledger.OllamaVersion = v
	}
	if r.judgeClient != nil {
		r.ledger.JudgeServerURL = r.judgeClient.BaseURL()
		if r.judgeClient == r.client {
			r.ledger.OllamaJudgeVersion = r.ledger.OllamaVersion
		} else if v, err := r.judgeClient.Version(ctx); err == nil {
			r.ledger.OllamaJudgeVersion = v
		}
	}
}

// cleanupVariant deletes a model this run pulled. The flag clears only after
// a successful delete; on failure it stays set in the ledger so the next run
// retries the deletion.
func (r *Runner) cleanupVariant(ctx context.Context, v *results.VariantResult) {
	if !v.PulledOnDemand {
		return
	}
	if err := r.client.Delete(ctx, v.ModelName); err != nil {
		r.logger.Warn("could not delete on-demand model",
			zap.String("model", v.ModelName),
			zap.Error(err))
		r.reporter.Warnf("could not delete on-demand model %s: %v (will retry next run)", v.ModelName, err)
		return
	}
	v.PulledOnDemand = false
	r.logger.Info("deleted on-demand model", zap.String("model", v.ModelName))
}

// finish is the single exit path: wait out in-flight judgments, delete
// whatever was pulled on demand, flush the ledger, and shape the outcome.
// Cleanup runs on a detached context so a cancelled run still cleans house.
func (r *Runner) finish(ctx context.Context, runErr error) (*Outcome, error) {
	// Completed verdicts are kept even when the run is going down; tasks
	// observe the cancelled context and return quickly.
	_ = r.tasks.Wait()

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	for _, v := range r.ledger.Results {
		r.cleanupVariant(cleanupCtx, v)
	}

	if err := r.save(); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			r.logger.Error("final save failed", zap.Error(err))
		}
	}

	if runErr == nil && len(r.failed) > 0 {
		runErr = fmt.Errorf("%d variant(s) failed: %s", len(r.failed), strings.Join(r.failed, ", "))
	}
	return &Outcome{
		Ledger:         r.ledger,
		Summaries:      Summarize(r.ledger),
		FailedVariants: r.failed,
	}, runErr
}

// save flushes the ledger from the orchestrator goroutine. The lock keeps the
// marshal from observing a judgment write in progress.
func (r *Runner) save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Save(r.cfg.OutputFile)
}

// IsCancelled reports whether a run error is the cooperative-cancellation
// signal rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
