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
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osync-dev/osync/pkg/bench"
	"github.com/osync-dev/osync/pkg/history"
	"github.com/osync-dev/osync/pkg/results"
)

func TestSplitVariants(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "flag repeats stay separate",
			in:   []string{"q4_0", "q5_1"},
			want: []string{"q4_0", "q5_1"},
		},
		{
			name: "env-style comma string splits",
			in:   []string{"q4_0,q5_1, q8_0"},
			want: []string{"q4_0", "q5_1", "q8_0"},
		},
		{
			name: "blanks drop out",
			in:   []string{" ", "q4_0,,", ""},
			want: []string{"q4_0"},
		},
		{
			name: "empty input",
			in:   nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitVariants(tt.in))
		})
	}
}

func TestRunFlagDefaults(t *testing.T) {
	base := runCmd.Flags().Lookup("base")
	require.NotNil(t, base)
	assert.Equal(t, "fp16", base.DefValue)

	mode := runCmd.Flags().Lookup("judge-mode")
	require.NotNil(t, mode)
	assert.Equal(t, "serial", mode.DefValue)

	timeout := runCmd.Flags().Lookup("timeout")
	require.NotNil(t, timeout)
	assert.Equal(t, "600", timeout.DefValue)

	ctxSize := runCmd.Flags().Lookup("judge-ctx")
	require.NotNil(t, ctxSize)
	assert.Equal(t, "12288", ctxSize.DefValue)
}

func TestLabelHelpers(t *testing.T) {
	assert.Equal(t, "-", sizeLabel(0))
	assert.Equal(t, "-", sizeLabel(-1))
	assert.NotEqual(t, "-", sizeLabel(4_700_000_000))

	assert.Equal(t, "-", dash(""))
	assert.Equal(t, "Q4_0", dash("Q4_0"))

	assert.Equal(t, "-", scoreLabel(bench.VariantSummary{}))
	assert.Equal(t, "87.5", scoreLabel(bench.VariantSummary{Judged: 3, AvgScore: 87.5}))

	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "12345678", shortID("12345678-90ab-cdef"))
}

func TestOsyncHomeOverride(t *testing.T) {
	t.Setenv("OSYNC_HOME", "/tmp/osync-test-home")
	assert.Equal(t, "/tmp/osync-test-home", osyncHome())
	assert.Equal(t, filepath.Join("/tmp/osync-test-home", "history.db"), defaultHistoryPath())
}

func TestRecordHistoryRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	out := &bench.Outcome{
		Ledger: &results.Ledger{
			RunID:         "run-123",
			TestSuiteName: "std-v1",
			ModelName:     "llama3",
		},
		Summaries: []bench.VariantSummary{
			{Tag: "fp16", IsBase: true, Questions: 2, AvgEvalTPS: 40},
			{Tag: "q4_0", Quantization: "Q4_0", Questions: 2, Judged: 2, AvgScore: 86.5, AvgEvalTPS: 90},
		},
	}
	recordHistory(dbPath, out, time.Now().Add(-time.Minute))

	db, err := history.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	runs, err := db.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-123", runs[0].ID)
	assert.Equal(t, "llama3", runs[0].ModelName)
	require.Len(t, runs[0].Variants, 2)
	assert.True(t, runs[0].Variants[0].IsBase)
	assert.InDelta(t, 86.5, runs[0].Variants[1].AvgScore, 0.001)
}

func TestRecordHistoryDisabled(t *testing.T) {
	// Empty path disables history; must not panic or create files.
	recordHistory("", &bench.Outcome{Ledger: &results.Ledger{RunID: "x"}}, time.Now())
	recordHistory(filepath.Join(t.TempDir(), "h.db"), &bench.Outcome{Ledger: &results.Ledger{}}, time.Now())
}
