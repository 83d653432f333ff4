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

// Package shutdown is the orchestrator (C8): it sequences RUNNING ->
// DRAINING -> STOPPED across a terminal signal or an external unmount,
// and enforces that the eviction worker is always joined before the
// kernel-facing session is dropped.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/neilmix/dibs/internal/logger"
)

// pollInterval bounds how long the main loop can go without noticing a
// shutdown condition. It must stay well under one second so the shutdown
// bound in the testable properties holds.
const pollInterval = 200 * time.Millisecond

// Session is the kernel-facing mount session the orchestrator drains.
type Session interface {
	// Done is closed when the session's background worker has exited on
	// its own, e.g. because of an external `fusermount -u`.
	Done() <-chan struct{}
	// Unmount requests a graceful unmount. Safe to call even if the
	// session has already exited.
	Unmount() error
	// Join blocks until the session's background worker has returned.
	Join() error
}

// Evictor is the subset of the eviction worker the orchestrator joins.
type Evictor interface {
	Stop()
}

// Orchestrator drains a mount session on signal or external unmount.
type Orchestrator struct {
	pipeR, pipeW *os.File
}

// New creates an Orchestrator with its self-pipe allocated.
func New() (*Orchestrator, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &Orchestrator{
		pipeR: os.NewFile(uintptr(fds[0]), "dibs-selfpipe-r"),
		pipeW: os.NewFile(uintptr(fds[1]), "dibs-selfpipe-w"),
	}, nil
}

// Run blocks until sess exits, either because a terminal signal arrived
// (in which case Run calls sess.Unmount itself) or because sess exited on
// its own. It always joins evictor before returning, satisfying the
// ordering invariant that the eviction worker never outlives the state it
// reads past the session's own lifetime. It returns the process exit
// code: 0 for any shutdown path handled here.
func (o *Orchestrator) Run(sess Session, evictor Evictor) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		// Writing a single byte is the only work done outside the main
		// loop; everything else happens on the read side.
		_, _ = o.pipeW.Write([]byte{1})
	}()

	sigDetected := make(chan struct{})
	go func() {
		buf := make([]byte, 1)
		if _, err := o.pipeR.Read(buf); err == nil {
			close(sigDetected)
		}
	}()

	signaled := false
loop:
	for {
		select {
		case <-sess.Done():
			break loop
		case <-sigDetected:
			signaled = true
			break loop
		case <-time.After(pollInterval):
			continue
		}
	}

	// The eviction worker reads state whose lifetime is bounded by sess,
	// so it must be fully joined before sess is allowed to exit. Two
	// separate errgroups (rather than one with both goroutines) enforce
	// that ordering instead of merely racing the two joins.
	var evictGroup errgroup.Group
	evictGroup.Go(func() error {
		evictor.Stop()
		return nil
	})
	_ = evictGroup.Wait()

	var sessGroup errgroup.Group
	sessGroup.Go(func() error {
		if signaled {
			logger.Infof("shutdown: signal received, unmounting")
			if err := sess.Unmount(); err != nil {
				logger.Errorf("shutdown: unmount failed: %v", err)
			}
		}
		return sess.Join()
	})
	if err := sessGroup.Wait(); err != nil {
		logger.Errorf("shutdown: session join returned: %v", err)
	}
	return 0
}

// Close releases the self-pipe's file descriptors.
func (o *Orchestrator) Close() {
	o.pipeR.Close()
	o.pipeW.Close()
}
