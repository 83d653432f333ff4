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

// Package cas is the content-addressable state table (C4): per-path
// write-ownership records and per-(SID,path) reader receipts. All mutating
// operations on a single path are linearized through that path's shard
// lock, so a caller holding Lock/Unlock for a path can safely read a
// receipt, hash the backing file, compare, and maybe acquire ownership
// without a concurrent opener observing a torn view.
package cas

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/neilmix/dibs/internal/clock"
)

// shardCount is the number of independent lock domains the table is split
// into. Picked to give low contention without per-path allocation of a
// mutex for every distinct path ever seen.
const shardCount = 32

// Receipt is a session's last-observed content hash for a path.
type Receipt struct {
	Hash       []byte
	LastAccess time.Time
}

// FileState is the per-path write-ownership and activity record.
type FileState struct {
	WriteOwner uint64 // 0 means unset; handle IDs are allocated starting at 1.
	HasOwner   bool
	LastAccess time.Time
}

type shard struct {
	mu       sync.Mutex
	states   map[string]*FileState
	receipts map[receiptKey]*Receipt
}

type receiptKey struct {
	sid  uint32
	path string
}

// Table is the sharded CAS table.
type Table struct {
	clk    clock.Clock
	shards [shardCount]*shard
}

// New returns an empty Table using clk for timestamps.
func New(clk clock.Clock) *Table {
	t := &Table{clk: clk}
	for i := range t.shards {
		t.shards[i] = &shard{
			states:   make(map[string]*FileState),
			receipts: make(map[receiptKey]*Receipt),
		}
	}
	return t
}

func (t *Table) shardFor(path string) *shard {
	idx := xxhash.Sum64String(path) % shardCount
	return t.shards[idx]
}

// Lock acquires the shard lock covering path and returns an unlock func.
// Callers use this to hold a single path's lock across a full OCC decision
// (read receipt, hash, compare, maybe acquire), per the linearizability
// requirement.
func (t *Table) Lock(path string) func() {
	s := t.shardFor(path)
	s.mu.Lock()
	return s.mu.Unlock
}

// TouchReader upserts the receipt for (sid, path) with hash and the
// current time. Must be called while holding path's lock.
func (t *Table) TouchReader(sid uint32, path string, hash []byte) {
	s := t.shardFor(path)
	key := receiptKey{sid: sid, path: path}
	s.receipts[key] = &Receipt{Hash: hash, LastAccess: t.clk.Now()}
}

// GetReader returns the receipt hash for (sid, path), if any. Must be
// called while holding path's lock.
func (t *Table) GetReader(sid uint32, path string) (hash []byte, ok bool) {
	s := t.shardFor(path)
	r, ok := s.receipts[receiptKey{sid: sid, path: path}]
	if !ok {
		return nil, false
	}
	return r.Hash, true
}

// RecordWriteOpen ensures a file-state entry exists for path, without
// altering any hash or ownership. Must be called while holding path's
// lock.
func (t *Table) RecordWriteOpen(path string) {
	s := t.shardFor(path)
	if _, ok := s.states[path]; !ok {
		s.states[path] = &FileState{LastAccess: t.clk.Now()}
	}
}

// TryAcquireWriter atomically sets write_owner to handleID if unset. It
// returns false if another handle already owns path. Must be called while
// holding path's lock.
func (t *Table) TryAcquireWriter(path string, handleID uint64) bool {
	s := t.shardFor(path)
	st, ok := s.states[path]
	if !ok {
		st = &FileState{}
		s.states[path] = st
	}
	if st.HasOwner && st.WriteOwner != handleID {
		return false
	}
	st.HasOwner = true
	st.WriteOwner = handleID
	st.LastAccess = t.clk.Now()
	return true
}

// ReleaseWriter clears write_owner only if handleID currently owns it.
// Must be called while holding path's lock.
func (t *Table) ReleaseWriter(path string, handleID uint64) {
	s := t.shardFor(path)
	st, ok := s.states[path]
	if !ok || !st.HasOwner || st.WriteOwner != handleID {
		return
	}
	st.HasOwner = false
	st.WriteOwner = 0
	st.LastAccess = t.clk.Now()
}

// Owner returns the handle ID currently holding write ownership of path,
// if any.
func (t *Table) Owner(path string) (handleID uint64, ok bool) {
	s := t.shardFor(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[path]
	if !ok || !st.HasOwner {
		return 0, false
	}
	return st.WriteOwner, true
}

// LockPaths acquires the shard locks covering both a and b, in a fixed
// shard-index order so that concurrent rename operations touching the
// same two paths never deadlock against each other. If a and b hash to
// the same shard, it locks it only once.
func (t *Table) LockPaths(a, b string) func() {
	ia := int(xxhash.Sum64String(a) % shardCount)
	ib := int(xxhash.Sum64String(b) % shardCount)
	if ia == ib {
		s := t.shards[ia]
		s.mu.Lock()
		return s.mu.Unlock
	}
	first, second := ia, ib
	if first > second {
		first, second = second, first
	}
	t.shards[first].mu.Lock()
	t.shards[second].mu.Lock()
	return func() {
		t.shards[second].mu.Unlock()
		t.shards[first].mu.Unlock()
	}
}

// HasActiveWriter reports whether path currently has a write owner. Used
// only observationally by the control surface; it is not part of any OCC
// decision. It takes path's shard lock itself, so callers must not already
// hold it.
func (t *Table) HasActiveWriter(path string) bool {
	s := t.shardFor(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[path]
	return ok && st.HasOwner
}

// Invalidate deletes all receipts for path across every session. Used when
// an external rewrite is detected outside the mediated path.
func (t *Table) Invalidate(path string) {
	s := t.shardFor(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.receipts {
		if k.path == path {
			delete(s.receipts, k)
		}
	}
}

// RekeyReceipt moves session sid's receipt for oldPath to newPath,
// preserving the hash, so a session that just renamed a file does not see
// its own next write treated as a blind write. It is a no-op if sid has
// no receipt for oldPath.
func (t *Table) RekeyReceipt(sid uint32, oldPath, newPath string) {
	oldShard := t.shardFor(oldPath)
	oldShard.mu.Lock()
	r, ok := oldShard.receipts[receiptKey{sid: sid, path: oldPath}]
	if ok {
		delete(oldShard.receipts, receiptKey{sid: sid, path: oldPath})
	}
	oldShard.mu.Unlock()

	if !ok {
		return
	}

	newShard := t.shardFor(newPath)
	newShard.mu.Lock()
	newShard.receipts[receiptKey{sid: sid, path: newPath}] = r
	newShard.mu.Unlock()
}

// DropPath removes every receipt and file-state entry for path across all
// sessions. Used by unlink cleanup where the path itself stops existing.
// Must be called while holding path's lock.
func (t *Table) DropPath(path string) {
	s := t.shardFor(path)
	delete(s.states, path)
	for k := range s.receipts {
		if k.path == path {
			delete(s.receipts, k)
		}
	}
}

// RenameLocked moves sid's receipt for oldPath to newPath and drops all
// other state for both paths (the destination's prior state, since it is
// being overwritten, and the source's remaining state, since it no longer
// exists). The caller MUST already hold the lock returned by
// LockPaths(oldPath, newPath): this method touches both shards' maps
// directly without locking, so it can run inside the same critical
// section as the rename syscall itself.
func (t *Table) RenameLocked(sid uint32, oldPath, newPath string) {
	oldShard := t.shardFor(oldPath)
	newShard := t.shardFor(newPath)

	delete(newShard.states, newPath)
	for k := range newShard.receipts {
		if k.path == newPath {
			delete(newShard.receipts, k)
		}
	}

	oldKey := receiptKey{sid: sid, path: oldPath}
	if r, ok := oldShard.receipts[oldKey]; ok {
		delete(oldShard.receipts, oldKey)
		newShard.receipts[receiptKey{sid: sid, path: newPath}] = r
	}

	delete(oldShard.states, oldPath)
	for k := range oldShard.receipts {
		if k.path == oldPath {
			delete(oldShard.receipts, k)
		}
	}
}

// LockedSnapshot is a point-in-time view of one path's tracked state, used
// by the control surface (C7) to list active locks.
type LockedSnapshot struct {
	Path       string
	WriteOwner uint64
	HasOwner   bool
	LastAccess time.Time
}

// Snapshot returns a snapshot of every currently-tracked file-state entry.
func (t *Table) Snapshot() []LockedSnapshot {
	var out []LockedSnapshot
	for _, s := range t.shards {
		s.mu.Lock()
		for path, st := range s.states {
			out = append(out, LockedSnapshot{
				Path:       path,
				WriteOwner: st.WriteOwner,
				HasOwner:   st.HasOwner,
				LastAccess: st.LastAccess,
			})
		}
		s.mu.Unlock()
	}
	return out
}

// TrackedFileCount returns the number of distinct paths with a file-state
// entry, across all shards.
func (t *Table) TrackedFileCount() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.states)
		s.mu.Unlock()
	}
	return n
}

// Evict prunes receipts and file-state entries whose LastAccess exceeds
// maxAge, skipping any file-state entry with an active write owner.
func (t *Table) Evict(maxAge time.Duration) {
	now := t.clk.Now()
	for _, s := range t.shards {
		s.mu.Lock()
		for path, st := range s.states {
			if st.HasOwner {
				continue
			}
			if now.Sub(st.LastAccess) > maxAge {
				delete(s.states, path)
			}
		}
		for key, r := range s.receipts {
			if now.Sub(r.LastAccess) > maxAge {
				delete(s.receipts, key)
			}
		}
		s.mu.Unlock()
	}
}
