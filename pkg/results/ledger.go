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

// Package results owns the persisted benchmark ledger: a single JSON
// document that survives interruption and lets a rerun pick up exactly where
// the previous run stopped.
//
// The ledger is a single-writer resource. All mutation and every Save happen
// from the orchestrator; judgment tasks only fill the Judgment field of the
// one QuestionResult they own.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/osync-dev/osync/pkg/ollama"
)

// Ledger is the persisted root document, written as {model}.qc.json.
type Ledger struct {
	TestSuiteName      string         `json:"testSuiteName"`
	ModelName          string         `json:"modelName"`
	RunID              string         `json:"runId,omitempty"`
	RepositoryURL      string         `json:"repositoryUrl,omitempty"`
	OsyncVersion       string         `json:"osyncVersion,omitempty"`
	ServerURL          string         `json:"serverUrl,omitempty"`
	JudgeServerURL     string         `json:"judgeServerUrl,omitempty"`
	OllamaVersion      string         `json:"ollamaVersion,omitempty"`
	OllamaJudgeVersion string         `json:"ollamaJudgeVersion,omitempty"`
	NumPredict         int            `json:"numPredict,omitempty"`
	ContextLength      int            `json:"contextLength,omitempty"`
	Options            ollama.Options `json:"options"`

	Results []*VariantResult `json:"results"`
}

// VariantResult aggregates one model variant's answers and metadata.
type VariantResult struct {
	Tag            string `json:"tag"`
	ModelName      string `json:"modelName"`
	SizeBytes      int64  `json:"sizeBytes,omitempty"`
	Family         string `json:"family,omitempty"`
	ParameterSize  string `json:"parameterSize,omitempty"`
	Quantization   string `json:"quantization,omitempty"`
	IsBase         bool   `json:"isBase"`
	PulledOnDemand bool   `json:"pulledOnDemand,omitempty"`

	QuestionResults []*QuestionResult `json:"questionResults"`
}

// QuestionResult records one answered question, appended in suite
// declaration order.
type QuestionResult struct {
	QuestionID            string           `json:"questionId"`
	Category              string           `json:"category,omitempty"`
	Prompt                string           `json:"prompt"`
	Answer                string           `json:"answer"`
	TokenLogprobs         []ollama.Logprob `json:"tokenLogprobs,omitempty"`
	PromptTokensPerSecond float64          `json:"promptTokensPerSecond,omitempty"`
	EvalTokensPerSecond   float64          `json:"evalTokensPerSecond,omitempty"`
	TotalTokens           int              `json:"totalTokens,omitempty"`
	ContextLength         int              `json:"contextLength,omitempty"`
	Judgment              *Judgment        `json:"judgment,omitempty"`
}

// Judgment is a judge model's similarity verdict for one answer against the
// base variant's answer. RawResponse is kept only when no reason could be
// extracted, as the debugging trail.
type Judgment struct {
	JudgeModel  string    `json:"judgeModel"`
	Score       int       `json:"score"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
	RawResponse string    `json:"rawResponse,omitempty"`
}

// LoadOrNew reads the ledger at path, or starts an empty one when the file
// does not exist. A file written for a different suite or model family is a
// hard error; running against it would corrupt resume state. When no entry
// is marked base, the entry matching baseTag is repaired in memory before
// anything else happens.
func LoadOrNew(path, suiteName, modelName, baseTag string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Ledger{
			TestSuiteName: suiteName,
			ModelName:     modelName,
			Results:       []*VariantResult{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read results file %s: %w", path, err)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse results file %s: %w", path, err)
	}
	if l.TestSuiteName != suiteName {
		return nil, fmt.Errorf("results file %s belongs to suite %q, current run uses %q",
			path, l.TestSuiteName, suiteName)
	}
	if l.ModelName != modelName {
		return nil, fmt.Errorf("results file %s belongs to model %q, current run uses %q",
			path, l.ModelName, modelName)
	}
	if l.Results == nil {
		l.Results = []*VariantResult{}
	}
	l.repairBase(baseTag)
	return &l, nil
}

// repairBase marks the variant matching baseTag when no entry carries the
// flag. Older ledgers predate the flag.
func (l *Ledger) repairBase(baseTag string) {
	if baseTag == "" || l.Base() != nil {
		return
	}
	if v := l.Variant(baseTag); v != nil {
		v.IsBase = true
	}
}

// Save writes the ledger atomically: a temporary sibling file is written in
// full and renamed over path. Saves of an unchanged ledger are byte-stable.
func (l *Ledger) Save(path string) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp results file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp results file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp results file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace results file %s: %w", path, err)
	}
	return nil
}

// Base returns the variant marked as the comparison reference, or nil.
func (l *Ledger) Base() *VariantResult {
	for _, v := range l.Results {
		if v.IsBase {
			return v
		}
	}
	return nil
}

// Variant finds a result by tag, case-insensitively. Servers canonicalize
// tag case, so "Q4_0" and "q4_0" are the same variant.
func (l *Ledger) Variant(tag string) *VariantResult {
	for _, v := range l.Results {
		if strings.EqualFold(v.Tag, tag) {
			return v
		}
	}
	return nil
}

// Upsert replaces the variant with the same tag or appends a new one,
// returning the stored pointer.
func (l *Ledger) Upsert(v *VariantResult) *VariantResult {
	for i, existing := range l.Results {
		if strings.EqualFold(existing.Tag, v.Tag) {
			l.Results[i] = v
			return v
		}
	}
	l.Results = append(l.Results, v)
	return v
}

// Remove drops the variant with the given tag, if present.
func (l *Ledger) Remove(tag string) {
	for i, v := range l.Results {
		if strings.EqualFold(v.Tag, tag) {
			l.Results = append(l.Results[:i], l.Results[i+1:]...)
			return
		}
	}
}

// Question finds an answered question by its identifier.
func (v *VariantResult) Question(id string) *QuestionResult {
	for _, q := range v.QuestionResults {
		if q.QuestionID == id {
			return q
		}
	}
	return nil
}

// HasQuestion reports whether the question was already answered, the resume
// predicate for a single question.
func (v *VariantResult) HasQuestion(id string) bool {
	return v.Question(id) != nil
}

// Complete reports whether every suite question has an answer. Completeness
// is what lets a rerun skip the variant entirely.
func (v *VariantResult) Complete(totalQuestions int) bool {
	return len(v.QuestionResults) >= totalQuestions
}

// Append adds a question result, rejecting duplicates so resume can never
// double-record an answer.
func (v *VariantResult) Append(q *QuestionResult) error {
	if v.HasQuestion(q.QuestionID) {
		return fmt.Errorf("question %q already recorded for variant %q", q.QuestionID, v.Tag)
	}
	v.QuestionResults = append(v.QuestionResults, q)
	return nil
}
