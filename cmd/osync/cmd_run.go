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
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/osync-dev/osync/internal/log"
	"github.com/osync-dev/osync/internal/version"
	"github.com/osync-dev/osync/pkg/bench"
	"github.com/osync-dev/osync/pkg/history"
	"github.com/osync-dev/osync/pkg/suite"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Benchmark quantized variants of a model",
	Long: `Run the question suite through each variant of a model and record
answers, token throughput, and optional judge scores.

Results accumulate in a JSON file named after the model; rerunning the same
command resumes wherever the previous run stopped. Press Ctrl-C once to stop
after the current question and keep partial results, twice to exit
immediately.

Examples:
  osync run --model llama3 --variants q4_0,q5_1,q8_0
  osync run --model llama3 --variants "q4*" --judge qwen3:8b
  osync run --model hf.co/org/repo --variants Q4_K_M --ondemand --force`,
	Run: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("model", "", "model to benchmark, e.g. llama3 or hf.co/org/repo (required)")
	runCmd.Flags().StringSlice("variants", nil, "variant tags or references to test (comma-separated, * wildcards allowed)")
	runCmd.Flags().String("base", bench.DefaultBaseTag, "reference variant tag")
	runCmd.Flags().String("output", "", "results file (default: {model}.qc.json)")
	runCmd.Flags().String("suite", "", "question suite YAML file (default: built-in suite)")
	runCmd.Flags().String("judge", "", "judge model, either a name on --server or http://host:port/model")
	runCmd.Flags().String("judge-mode", string(bench.JudgeSerial), "judge scheduling: serial or parallel")
	runCmd.Flags().Int("judge-ctx", 12288, "judge context window (num_ctx)")
	runCmd.Flags().Int("timeout", int(bench.DefaultTimeout/time.Second), "per-request timeout in seconds")
	runCmd.Flags().Bool("force", false, "retest variants that are already complete in the results file")
	runCmd.Flags().Bool("rejudge", false, "discard existing judgments and score answers again")
	runCmd.Flags().Bool("ondemand", false, "pull missing variants before testing and delete them afterwards")
	runCmd.Flags().Bool("insecure", false, "use plain HTTP for registry manifest checks")
	runCmd.Flags().String("history-db", defaultHistoryPath(), "history database path (empty disables history)")

	_ = viper.BindPFlag("model", runCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("variants", runCmd.Flags().Lookup("variants"))
	_ = viper.BindPFlag("base", runCmd.Flags().Lookup("base"))
	_ = viper.BindPFlag("output", runCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("suite", runCmd.Flags().Lookup("suite"))
	_ = viper.BindPFlag("judge", runCmd.Flags().Lookup("judge"))
	_ = viper.BindPFlag("judge-mode", runCmd.Flags().Lookup("judge-mode"))
	_ = viper.BindPFlag("judge-ctx", runCmd.Flags().Lookup("judge-ctx"))
	_ = viper.BindPFlag("timeout", runCmd.Flags().Lookup("timeout"))
	_ = viper.BindPFlag("force", runCmd.Flags().Lookup("force"))
	_ = viper.BindPFlag("rejudge", runCmd.Flags().Lookup("rejudge"))
	_ = viper.BindPFlag("ondemand", runCmd.Flags().Lookup("ondemand"))
	_ = viper.BindPFlag("insecure", runCmd.Flags().Lookup("insecure"))
	_ = viper.BindPFlag("history-db", runCmd.Flags().Lookup("history-db"))
}

func runRun(cmd *cobra.Command, args []string) {
	modelName := viper.GetString("model")
	if modelName == "" {
		fmt.Fprintln(os.Stderr, "❌ --model is required (or set OSYNC_MODEL)")
		os.Exit(1)
	}

	judgeMode, err := bench.ParseJudgeMode(viper.GetString("judge-mode"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	logger := log.Init(viper.GetBool("verbose"))
	defer func() { _ = logger.Sync() }()

	// Load question suite
	suitePath := viper.GetString("suite")
	var qs *suite.Suite
	if suitePath == "" {
		qs, err = suite.Default()
	} else {
		fmt.Printf("📄 Loading suite: %s\n", suitePath)
		qs, err = suite.Load(suitePath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load suite: %v\n", err)
		os.Exit(1)
	}

	outputFile := viper.GetString("output")
	if outputFile == "" {
		outputFile = bench.DefaultOutputFile(modelName)
	}

	cfg := bench.Config{
		ModelName:          modelName,
		Suite:              qs,
		Variants:           splitVariants(viper.GetStringSlice("variants")),
		BaseTag:            viper.GetString("base"),
		OutputFile:         outputFile,
		ServerURL:          viper.GetString("server"),
		Judge:              viper.GetString("judge"),
		JudgeMode:          judgeMode,
		JudgeContextLength: viper.GetInt("judge-ctx"),
		Timeout:            time.Duration(viper.GetInt("timeout")) * time.Second,
		Force:              viper.GetBool("force"),
		Rejudge:            viper.GetBool("rejudge"),
		OnDemand:           viper.GetBool("ondemand"),
		Insecure:           viper.GetBool("insecure"),
		Reporter:           newTextReporter(),
		Logger:             logger,
	}

	runner, err := bench.NewRunner(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	// First Ctrl-C stops after the question in flight and flushes partial
	// results; the second exits on the spot.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n⚠️  Interrupt received; finishing the question in flight (Ctrl-C again to exit now)")
		cancel()
		<-sigCh
		fmt.Fprintln(os.Stderr, "❌ Forced exit")
		os.Exit(2)
	}()

	startedAt := time.Now()
	out, runErr := runner.Run(ctx)

	if out != nil {
		printSummary(out)
		recordHistory(viper.GetString("history-db"), out, startedAt)
	}

	switch {
	case runErr == nil:
		fmt.Printf("\n✅ Benchmark complete in %s. Results saved to %s\n",
			time.Since(startedAt).Round(time.Second), outputFile)
	case bench.IsCancelled(runErr):
		fmt.Fprintf(os.Stderr, "\n⚠️  Run cancelled; partial results saved to %s\n", outputFile)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "\n❌ Benchmark failed: %v\n", runErr)
		os.Exit(1)
	}
}

// splitVariants flattens flag repeats, comma lists, and OSYNC_VARIANTS-style
// environment strings into one entry per variant.
func splitVariants(raw []string) []string {
	var out []string
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func printSummary(out *bench.Outcome) {
	if len(out.Summaries) == 0 {
		return
	}

	fmt.Println()
	fmt.Println("📊 Results:")
	fmt.Println()
	fmt.Printf("  %-22s %-8s %-10s %-9s %-7s %-11s %s\n",
		"VARIANT", "QUANT", "SIZE", "ANSWERED", "SCORE", "PROMPT T/S", "EVAL T/S")
	for _, s := range out.Summaries {
		tag := s.Tag
		if s.IsBase {
			tag += " (base)"
		}
		fmt.Printf("  %-22s %-8s %-10s %-9d %-7s %-11.1f %.1f\n",
			tag, dash(s.Quantization), sizeLabel(s.SizeBytes), s.Questions,
			scoreLabel(s), s.AvgPromptTPS, s.AvgEvalTPS)
	}

	if len(out.FailedVariants) > 0 {
		fmt.Println()
		fmt.Printf("⚠️  Failed variants: %s\n", strings.Join(out.FailedVariants, ", "))
	}
}

func scoreLabel(s bench.VariantSummary) string {
	if s.Judged == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", s.AvgScore)
}

func sizeLabel(bytes int64) string {
	if bytes <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(bytes))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// recordHistory files the run in the local history database. History is
// bookkeeping; any failure here is a warning, never an exit code.
func recordHistory(path string, out *bench.Outcome, startedAt time.Time) {
	if path == "" || out.Ledger == nil || out.Ledger.RunID == "" {
		return
	}

	db, err := history.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  History not recorded: %v\n", err)
		return
	}
	defer db.Close()

	run := history.Run{
		ID:           out.Ledger.RunID,
		SuiteName:    out.Ledger.TestSuiteName,
		ModelName:    out.Ledger.ModelName,
		StartedAt:    startedAt,
		FinishedAt:   time.Now(),
		OsyncVersion: version.Get(),
	}
	for _, s := range out.Summaries {
		run.Variants = append(run.Variants, history.VariantRun{
			Tag:       s.Tag,
			Quant:     s.Quantization,
			SizeBytes: s.SizeBytes,
			Questions: s.Questions,
			AvgScore:  s.AvgScore,
			PromptTPS: s.AvgPromptTPS,
			EvalTPS:   s.AvgEvalTPS,
			IsBase:    s.IsBase,
		})
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()
	if err := db.RecordRun(ctx, run); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  History not recorded: %v\n", err)
	}
}
