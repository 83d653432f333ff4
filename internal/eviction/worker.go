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

// Package eviction is the background pruning worker (C6). Unlike the
// teacher's garbageCollect loop, which sleeps for the whole period between
// passes, the worker here sleeps in short ticks so it notices a shutdown
// request almost immediately instead of delaying it by the full period.
package eviction

import (
	"time"

	"github.com/neilmix/dibs/internal/clock"
	"github.com/neilmix/dibs/internal/logger"
)

// DefaultTickInterval is how often the worker wakes to check the stop
// signal while waiting out the remainder of a period. Production callers
// should pass this; tests pass something far smaller to avoid a slow
// test suite.
const DefaultTickInterval = time.Second

// Prunable is the subset of the CAS table the worker needs.
type Prunable interface {
	Evict(maxAge time.Duration)
}

// Worker periodically evicts stale CAS entries until Stop is called.
type Worker struct {
	table    Prunable
	period   time.Duration
	maxAge   time.Duration
	tick     time.Duration
	clk      clock.Clock
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New returns a Worker that runs an eviction pass every period, pruning
// entries older than maxAge, waking every tick to check for Stop.
func New(table Prunable, period, maxAge, tick time.Duration, clk clock.Clock) *Worker {
	return &Worker{
		table:  table,
		period: period,
		maxAge: maxAge,
		tick:   tick,
		clk:    clk,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run blocks, running eviction passes every period until Stop is called.
// It never surfaces errors: Evict itself cannot fail, so at worst a pass
// is skipped because shutdown arrived mid-period.
func (w *Worker) Run() {
	defer close(w.doneCh)

	elapsed := time.Duration(0)
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.clk.After(w.tick):
			elapsed += w.tick
			if elapsed < w.period {
				continue
			}
			elapsed = 0
			w.runOnce()
		}
	}
}

func (w *Worker) runOnce() {
	start := w.clk.Now()
	w.table.Evict(w.maxAge)
	logger.Debugf("eviction: pass completed in %v", w.clk.Now().Sub(start))
}

// Stop signals the worker to exit and blocks until Run has returned.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}
