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
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/osync-dev/osync/pkg/ollama"
)

var modelsCmd = &cobra.Command{
	Use:   "models [pattern]",
	Short: "List models on the Ollama server",
	Long: `List the models the server holds locally, with size and the
quantization each tag names.

An optional pattern filters the list; "*" matches any run of characters.

Examples:
  osync models
  osync models "llama3*"
  osync models "*q4*" --server http://gpu-box:11434`,
	Args: cobra.MaximumNArgs(1),
	Run:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) {
	pattern := ""
	if len(args) > 0 {
		pattern = args[0]
	}

	serverURL := viper.GetString("server")
	client := ollama.NewClient(ollama.Config{BaseURL: serverURL, Timeout: 30 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	models, err := client.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to list models on %s: %v\n", serverURL, err)
		os.Exit(1)
	}

	var matched []ollama.ModelInfo
	for _, m := range models {
		if ollama.MatchName(pattern, m.Name) {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	if len(matched) == 0 {
		if pattern != "" {
			fmt.Printf("No models on %s match %q\n", serverURL, pattern)
		} else {
			fmt.Printf("No models on %s\n", serverURL)
		}
		return
	}

	fmt.Printf("📊 Models on %s:\n\n", serverURL)
	fmt.Printf("  %-44s %-10s %s\n", "NAME", "SIZE", "QUANT")
	for _, m := range matched {
		fmt.Printf("  %-44s %-10s %s\n", m.Name, sizeLabel(m.Size), dash(ollama.QuantizationLabel(m.Name)))
	}
	fmt.Printf("\n%d model(s)\n", len(matched))
}
