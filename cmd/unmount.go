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

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"
)

var unmountCmd = &cobra.Command{
	Use:   "unmount <mount_point>",
	Short: "Unmount a dibs mount point",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnmount,
}

func runUnmount(cmd *cobra.Command, args []string) error {
	mountPoint, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving mount point: %w", err)
	}

	if err := fuse.Unmount(mountPoint); err != nil {
		fmt.Fprintf(os.Stderr,
			"failed to unmount %q: %v\nthis usually means a file handle is still open under the mount; close it and retry\n",
			mountPoint, err)
		os.Exit(1)
	}
	return nil
}
