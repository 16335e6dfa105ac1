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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/osync-dev/osync/internal/version"
	"github.com/osync-dev/osync/pkg/ollama"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "osync",
	Short: "Quantization benchmark harness for Ollama models",
	Long: `osync runs the same question suite through every quantized variant of a
model on an Ollama server and records answers, token throughput, and
optional judge scores in a resumable JSON ledger.

Examples:
  # Test three quantizations of llama3 against the fp16 reference
  osync run --model llama3 --variants q4_0,q5_1,q8_0

  # Score answers with a judge model on a second server
  osync run --model llama3 --variants "q*" \
    --judge http://judge-host:11434/qwen3:30b --judge-mode parallel

  # Pull missing variants on demand and delete them afterwards
  osync run --model hf.co/org/repo --variants Q4_K_M,Q6_K --ondemand`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./osync.yaml or $OSYNC_HOME/osync.yaml)")
	rootCmd.PersistentFlags().String("server", ollama.DefaultBaseURL, "Ollama server URL")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(osyncHome())
		viper.SetConfigName("osync")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("OSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "❌ Failed to read config file %s: %v\n", viper.ConfigFileUsed(), err)
			os.Exit(1)
		}
		// No config file; flags, env vars and defaults cover everything.
	}
}

// osyncHome is where osync keeps its own state, the history database in
// particular. OSYNC_HOME overrides the default ~/.osync.
func osyncHome() string {
	if dir := os.Getenv("OSYNC_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".osync"
	}
	return filepath.Join(home, ".osync")
}

func defaultHistoryPath() string {
	return filepath.Join(osyncHome(), "history.db")
}
