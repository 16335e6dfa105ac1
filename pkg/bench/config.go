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

// Package bench drives a benchmark run end to end: it resolves the variants
// to test, runs every suite question against each one, optionally scores the
// answers against the base variant with a judge model, and keeps the results
// ledger crash-safe throughout.
package bench

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/osync-dev/osync/pkg/ollama"
	"github.com/osync-dev/osync/pkg/suite"
)

// DefaultBaseTag is the variant every other variant is compared against when
// neither the ledger nor the user names one.
const DefaultBaseTag = "fp16"

// DefaultTimeout bounds each generation request.
const DefaultTimeout = 600 * time.Second

// JudgeMode selects how judgments are scheduled relative to generation.
type JudgeMode string

const (
	// JudgeSerial scores questions one at a time after each variant.
	JudgeSerial JudgeMode = "serial"

	// JudgeParallel overlaps judging with generation: scores fan out as soon
	// as answers (and the base) are available and are drained at the end.
	JudgeParallel JudgeMode = "parallel"
)

// ParseJudgeMode validates a mode string from configuration.
func ParseJudgeMode(s string) (JudgeMode, error) {
	switch JudgeMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", JudgeSerial:
		return JudgeSerial, nil
	case JudgeParallel:
		return JudgeParallel, nil
	default:
		return "", fmt.Errorf("invalid judge mode %q (want serial or parallel)", s)
	}
}

// Config assembles one benchmark run. ModelName and Suite are required;
// everything else has a usable default.
type Config struct {
	// ModelName is the model family under test, e.g. "llama3" or
	// "hf.co/org/repo". Variant tags attach to it.
	ModelName string

	// Suite is the question set every variant runs through.
	Suite *suite.Suite

	// Variants are the tags or references to test. Entries may be bare tags
	// ("q4_0"), full references ("llama3:q4_0", "hf.co/org/repo:Q4_K_M"),
	// and may contain "*" wildcards.
	Variants []string

	// BaseTag names the reference variant. Empty means DefaultBaseTag.
	BaseTag string

	// OutputFile is the ledger path. Empty means "{ModelName}.qc.json" with
	// path separators in ModelName flattened.
	OutputFile string

	// ServerURL is the inference server. Empty means the local default.
	ServerURL string

	// Judge enables answer scoring: either a model name on ServerURL
	// ("qwen3:8b") or a full "http://host:port/model" pair for a dedicated
	// judge server. Empty disables judging.
	Judge string

	// JudgeMode defaults to serial.
	JudgeMode JudgeMode

	// JudgeContextLength is the num_ctx for judge calls; <= 0 uses the
	// judge default.
	JudgeContextLength int

	// Timeout bounds each generation request; zero means DefaultTimeout.
	Timeout time.Duration

	// RetryBaseDelay is the backoff unit for transient-failure retries; zero
	// uses the retry package default.
	RetryBaseDelay time.Duration

	// NumPredict caps generated tokens per answer; zero defers to the
	// suite's default.
	NumPredict int

	// Options is the sampling snapshot applied to every generation request
	// and recorded in the ledger.
	Options ollama.Options

	// RepositoryURL is recorded in the ledger when set.
	RepositoryURL string

	// Force reruns variants that are already complete in the ledger.
	Force bool

	// Rejudge discards existing judgments and scores again.
	Rejudge bool

	// OnDemand pulls missing variants before testing and deletes them after.
	OnDemand bool

	// Insecure switches registry manifest checks to plain HTTP.
	Insecure bool

	Reporter Reporter
	Logger   *zap.Logger
}

// DefaultOptions is the sampling snapshot used when the caller provides
// none: greedy decoding with a fixed seed, so variants diverge only through
// quantization.
func DefaultOptions() ollama.Options {
	return ollama.Options{
		Temperature: 0,
		Seed:        42,
		TopP:        0.9,
		TopK:        40,
	}
}

func (c *Config) applyDefaults() error {
	if c.ModelName == "" {
		return fmt.Errorf("model name is required")
	}
	if c.Suite == nil {
		return fmt.Errorf("test suite is required")
	}
	if c.BaseTag == "" {
		c.BaseTag = DefaultBaseTag
	}
	if c.OutputFile == "" {
		c.OutputFile = DefaultOutputFile(c.ModelName)
	}
	if c.ServerURL == "" {
		c.ServerURL = ollama.DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	mode, err := ParseJudgeMode(string(c.JudgeMode))
	if err != nil {
		return err
	}
	c.JudgeMode = mode
	if c.Options == (ollama.Options{}) {
		c.Options = DefaultOptions()
	}
	if c.Reporter == nil {
		c.Reporter = NopReporter{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// DefaultOutputFile derives the ledger path from the model family.
// "hf.co/org/repo" flattens to "hf.co_org_repo.qc.json".
func DefaultOutputFile(modelName string) string {
	flat := strings.NewReplacer("/", "_", ":", "_").Replace(modelName)
	return flat + ".qc.json"
}

// splitJudgeSpec resolves the judge flag into a server URL and model name.
// "qwen3:8b" runs on the test server; "http://judge:11434/qwen3:8b" names a
// dedicated server, with everything after the host being the model.
func splitJudgeSpec(spec, defaultServerURL string) (serverURL, model string, err error) {
	if !strings.Contains(spec, "://") {
		return defaultServerURL, spec, nil
	}
	u, err := url.Parse(spec)
	if err != nil {
		return "", "", fmt.Errorf("invalid judge %q: %w", spec, err)
	}
	model = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || model == "" {
		return "", "", fmt.Errorf("invalid judge %q: want name or url/name", spec)
	}
	return u.Scheme + "://" + u.Host, model, nil
}
