// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd is the dibs command line: `dibs mount` and `dibs unmount`,
// built the way the teacher builds its own command tree (cmd/root.go),
// with flags bound through cfg.BindFlags and viper rather than parsed
// by hand.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dibs",
	Short: "A FUSE filesystem that mediates concurrent file access with optimistic concurrency control",
	Long: `dibs mounts a backing directory at a mount point and lets many
autonomous agents read and write through it concurrently. It never locks
files for the lifetime of an open; instead it tracks what each session
last observed and refuses a write or unlink whenever the backing content
has moved on since, so a silent lost update is never possible.`,
}

// Execute runs the root command, exiting the process with status 1 on
// any error the command tree reports, including mount setup failures.
// A failed unmount prints its own message and exits directly, and a
// mount that ran exits with the shutdown orchestrator's code; neither
// reaches this path.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(unmountCmd)
}
