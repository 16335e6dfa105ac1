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
	"github.com/osync-dev/osync/pkg/results"
)

// VariantSummary is the per-variant rollup shown in the CLI table and
// recorded to the history store.
type VariantSummary struct {
	Tag           string
	ModelName     string
	Quantization  string
	ParameterSize string
	SizeBytes     int64
	IsBase        bool

	// Questions is the number of answered questions; Judged how many of
	// them carry a verdict.
	Questions int
	Judged    int

	// AvgScore is the mean judgment score against the base answer, 0 when
	// nothing was judged. The base itself is never judged.
	AvgScore float64

	AvgPromptTPS float64
	AvgEvalTPS   float64
	TotalTokens  int
}

// Summarize rolls the ledger up into one summary per variant, in ledger
// order (base first when present).
func Summarize(l *results.Ledger) []VariantSummary {
	summaries := make([]VariantSummary, 0, len(l.Results))
	for _, v := range l.Results {
		summaries = append(summaries, summarizeVariant(v))
	}
	return summaries
}

func summarizeVariant(v *results.VariantResult) VariantSummary {
	s := VariantSummary{
		Tag:           v.Tag,
		ModelName:     v.ModelName,
		Quantization:  v.Quantization,
		ParameterSize: v.ParameterSize,
		SizeBytes:     v.SizeBytes,
		IsBase:        v.IsBase,
		Questions:     len(v.QuestionResults),
	}

	var scoreSum, promptSum, evalSum float64
	var promptN, evalN int
	for _, q := range v.QuestionResults {
		s.TotalTokens += q.TotalTokens
		if q.PromptTokensPerSecond > 0 {
			promptSum += q.PromptTokensPerSecond
			promptN++
		}
		if q.EvalTokensPerSecond > 0 {
			evalSum += q.EvalTokensPerSecond
			evalN++
		}
		if q.Judgment != nil {
			scoreSum += float64(q.Judgment.Score)
			s.Judged++
		}
	}
	if s.Judged > 0 {
		s.AvgScore = scoreSum / float64(s.Judged)
	}
	if promptN > 0 {
		s.AvgPromptTPS = promptSum / float64(promptN)
	}
	if evalN > 0 {
		s.AvgEvalTPS = evalSum / float64(evalN)
	}
	return s
}
