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

// Package control is the virtual read-only control surface (C7): it
// renders the CAS table's state as the JSON documents served at
// .dibs/status and .dibs/locks.
package control

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/neilmix/dibs/internal/cas"
)

// Snapshotter is the subset of the CAS table the control surface reads.
type Snapshotter interface {
	Snapshot() []cas.LockedSnapshot
	TrackedFileCount() int
}

// Surface renders .dibs/status and .dibs/locks from live table state.
type Surface struct {
	table     Snapshotter
	sessionID string
	startedAt time.Time
	now       func() time.Time
}

// New returns a Surface reporting sessionID as its mount label and
// uptime relative to startedAt.
func New(table Snapshotter, sessionID string, startedAt time.Time, now func() time.Time) *Surface {
	return &Surface{table: table, sessionID: sessionID, startedAt: startedAt, now: now}
}

// Status is the shape served at .dibs/status.
type Status struct {
	TrackedFiles   int    `json:"tracked_files"`
	ActiveLocks    int    `json:"active_locks"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	SessionID      string `json:"session_id"`
}

// Lock is one entry in the array served at .dibs/locks.
type Lock struct {
	Path       string `json:"path"`
	WriteOwner uint64 `json:"write_owner,omitempty"`
	LastAccess int64  `json:"last_access"`
}

// Status renders the current status document.
func (s *Surface) Status() ([]byte, error) {
	snap := s.table.Snapshot()
	active := 0
	for _, e := range snap {
		if e.HasOwner {
			active++
		}
	}

	st := Status{
		TrackedFiles:  s.table.TrackedFileCount(),
		ActiveLocks:   active,
		UptimeSeconds: int64(s.now().Sub(s.startedAt).Seconds()),
		SessionID:     s.sessionID,
	}
	return json.Marshal(st)
}

// Locks renders the current locks document.
func (s *Surface) Locks() ([]byte, error) {
	snap := s.table.Snapshot()
	out := make([]Lock, 0, len(snap))
	for _, e := range snap {
		l := Lock{Path: e.Path, LastAccess: e.LastAccess.Unix()}
		if e.HasOwner {
			l.WriteOwner = e.WriteOwner
		}
		out = append(out, l)
	}
	return json.Marshal(out)
}
