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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/neilmix/dibs/internal/cas"
	"github.com/neilmix/dibs/internal/cfg"
	"github.com/neilmix/dibs/internal/clock"
	"github.com/neilmix/dibs/internal/conflicts"
	"github.com/neilmix/dibs/internal/control"
	"github.com/neilmix/dibs/internal/dibsfs"
	"github.com/neilmix/dibs/internal/eviction"
	"github.com/neilmix/dibs/internal/handle"
	"github.com/neilmix/dibs/internal/hashing"
	"github.com/neilmix/dibs/internal/inodemap"
	"github.com/neilmix/dibs/internal/logger"
	"github.com/neilmix/dibs/internal/occ"
	"github.com/neilmix/dibs/internal/shutdown"
)

var mountCmd = &cobra.Command{
	Use:   "mount <backing_dir> <mount_point>",
	Short: "Mount a backing directory at a mount point",
	Args:  cobra.ExactArgs(2),
	RunE:  runMount,
}

func init() {
	if err := cfg.BindFlags(mountCmd.Flags()); err != nil {
		panic(fmt.Sprintf("cmd: binding mount flags: %v", err))
	}
}

// mountSession adapts a *fuse.MountedFileSystem to shutdown.Session. Join
// is driven by a background goroutine so Done() can report an external
// unmount (e.g. `fusermount -u`) without the orchestrator itself blocking
// on it.
type mountSession struct {
	mfs     *fuse.MountedFileSystem
	done    chan struct{}
	joinErr error
}

func newMountSession(mfs *fuse.MountedFileSystem) *mountSession {
	s := &mountSession{mfs: mfs, done: make(chan struct{})}
	go func() {
		s.joinErr = mfs.Join(context.Background())
		close(s.done)
	}()
	return s
}

func (s *mountSession) Done() <-chan struct{} { return s.done }
func (s *mountSession) Unmount() error        { return fuse.Unmount(s.mfs.Dir()) }
func (s *mountSession) Join() error {
	<-s.done
	return s.joinErr
}

func runMount(cmd *cobra.Command, args []string) error {
	backingDir, mountPoint := args[0], args[1]

	var c cfg.Config
	if err := viper.Unmarshal(&c); err != nil {
		return fmt.Errorf("reading flags: %w", err)
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if err := logger.Init(c.LogFormat, c.LogSeverity, c.LogFile); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	backingDir, err := filepath.Abs(backingDir)
	if err != nil {
		return fmt.Errorf("resolving backing dir: %w", err)
	}
	mountPoint, err = filepath.Abs(mountPoint)
	if err != nil {
		return fmt.Errorf("resolving mount point: %w", err)
	}
	if _, err := os.Stat(backingDir); err != nil {
		return fmt.Errorf("backing dir: %w", err)
	}

	clk := clock.RealClock{}
	casTable := cas.New(clk)
	handles := handle.New()
	inodes := inodemap.New()
	engine := occ.New(backingDir, hashing.Hash, casTable, handles)
	surface := control.New(casTable, c.SessionID, clk.Now(), func() time.Time { return clk.Now() })

	var sink *conflicts.Sink
	if c.SaveConflicts {
		sink, err = conflicts.New(filepath.Join(mountPoint, ".dibs", "conflicts"), time.Now)
		if err != nil {
			return fmt.Errorf("setting up conflict sidecar: %w", err)
		}
	}

	fs := dibsfs.New(backingDir, inodes, handles, engine, surface, sink, c.ReadonlyFallback)
	server := fuseutil.NewFileSystemServer(fs)

	mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{})
	if err != nil {
		return fmt.Errorf("mounting at %q: %w", mountPoint, err)
	}
	logger.Infof("dibs: mounted %q at %q (session %s)", backingDir, mountPoint, c.SessionID)

	evictionPeriod := time.Duration(c.EvictionMinutes) * time.Minute
	worker := eviction.New(casTable, evictionPeriod, evictionPeriod, eviction.DefaultTickInterval, clk)
	go worker.Run()

	orchestrator, err := shutdown.New()
	if err != nil {
		return fmt.Errorf("setting up shutdown orchestrator: %w", err)
	}
	defer orchestrator.Close()

	code := orchestrator.Run(newMountSession(mfs), worker)
	os.Exit(code)
	return nil
}
