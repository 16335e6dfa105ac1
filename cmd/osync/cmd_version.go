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
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/osync-dev/osync/internal/version"
	"github.com/osync-dev/osync/pkg/ollama"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print osync and server versions",
	Run:   runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("osync %s\n", version.Get())

	serverURL := viper.GetString("server")
	client := ollama.NewClient(ollama.Config{BaseURL: serverURL, Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if v, err := client.Version(ctx); err == nil {
		fmt.Printf("ollama %s (%s)\n", v, serverURL)
	} else {
		fmt.Printf("ollama unreachable (%s)\n", serverURL)
	}
}
