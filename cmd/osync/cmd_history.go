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
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/osync-dev/osync/pkg/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent benchmark runs",
	Long: `Show recent benchmark runs from the local history database.

Examples:
  osync history
  osync history --limit 5
  osync history --db ./history.db`,
	Run: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().Int("limit", 10, "maximum number of runs to show")
	historyCmd.Flags().String("db", defaultHistoryPath(), "history database path")
}

func runHistory(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	dbPath, _ := cmd.Flags().GetString("db")

	if _, err := os.Stat(dbPath); err != nil {
		fmt.Printf("No history yet (%s does not exist)\n", dbPath)
		return
	}

	db, err := history.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to open history database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs, err := db.RecentRuns(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to read history: %v\n", err)
		os.Exit(1)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet")
		return
	}

	fmt.Printf("📊 Recent runs (%s):\n", dbPath)
	for _, run := range runs {
		fmt.Println()
		fmt.Printf("  %s  %s  %s (suite %s, osync %s)\n",
			shortID(run.ID), humanize.Time(run.StartedAt), run.ModelName,
			run.SuiteName, run.OsyncVersion)
		for _, v := range run.Variants {
			tag := v.Tag
			if v.IsBase {
				tag += " (base)"
			}
			fmt.Printf("      %-18s %-8s %-10s score %-6s %.1f tok/s\n",
				tag, dash(v.Quant), sizeLabel(v.SizeBytes), variantScore(v), v.EvalTPS)
		}
	}
}

func variantScore(v history.VariantRun) string {
	if v.IsBase || v.AvgScore == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", v.AvgScore)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
