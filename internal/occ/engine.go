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

// Package occ is the concurrency-control engine (C5): the heart of dibs.
// It wires the hasher (C1), handle table (C3), and CAS table (C4)
// together into the open/write/flush/unlink/rename protocols. It never
// imports the kernel filesystem binding, so it is testable without a FUSE
// session.
package occ

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neilmix/dibs/internal/cas"
	"github.com/neilmix/dibs/internal/handle"
	"github.com/neilmix/dibs/internal/logger"
)

// HashFunc computes a content digest for the file at an absolute path.
type HashFunc func(path string) ([]byte, error)

// Engine implements the OCC protocols over a single backing directory.
type Engine struct {
	root    string
	hash    HashFunc
	cas     *cas.Table
	handles *handle.Table
}

// New returns an Engine rooted at backingDir, using hash to digest files
// and cas/handles as the shared state tables.
func New(backingDir string, hash HashFunc, casTable *cas.Table, handles *handle.Table) *Engine {
	return &Engine{root: backingDir, hash: hash, cas: casTable, handles: handles}
}

func (e *Engine) abs(path string) string {
	return filepath.Join(e.root, path)
}

// hashOrAbsent hashes path, treating a missing backing file as a distinct
// "absent" state rather than an error, since blind creation (S-C) must be
// able to proceed against a path with no backing file yet.
func (e *Engine) hashOrAbsent(path string) (h []byte, absent bool, err error) {
	h, err = e.hash(e.abs(path))
	if err == nil {
		return h, false, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, true, nil
	}
	return nil, false, err
}

// occPass decides whether a mutating operation against path may proceed,
// given the session's receipt (if any) and the path's current hash state.
// absent indicates the backing file does not currently exist.
func occPass(prev []byte, hasPrev bool, cur []byte, absent bool) bool {
	if !hasPrev {
		return true // blind write: never observed, presumed create/stream.
	}
	if absent {
		return false // session thinks it saw content that is now gone.
	}
	return bytes.Equal(prev, cur)
}

// OpenForRead implements 4.5.1: open for read-only or read-write. write
// indicates the open mode permits both reads and writes (O_RDWR).
func (e *Engine) OpenForRead(path string, sid uint32, write bool) (handle.ID, error) {
	abs := e.abs(path)
	h, err := e.hash(abs)
	if err != nil {
		return 0, fmt.Errorf("occ: open for read %q: %w", path, err)
	}

	flag := os.O_RDONLY
	if write {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(abs, flag, 0)
	if err != nil {
		return 0, fmt.Errorf("occ: open for read %q: %w", path, err)
	}

	unlock := e.cas.Lock(path)
	e.cas.TouchReader(sid, path, h)
	unlock()

	id := e.handles.OpenFile(path, 0, f)
	e.handles.SetOpenMeta(id, sid, h, write)
	return id, nil
}

// OpenForWrite implements 4.5.2: the subtle write-only-with-truncate path.
// The pre-open hash is computed before the underlying open (which may
// truncate), so the OCC decision never sees a zeroed file.
func (e *Engine) OpenForWrite(path string, sid uint32) (handle.ID, error) {
	unlock := e.cas.Lock(path)
	preHash, absent, err := e.hashOrAbsent(path)
	if err != nil {
		unlock()
		return 0, fmt.Errorf("occ: open for write %q: %w", path, err)
	}

	prev, hasPrev := e.cas.GetReader(sid, path)
	if !occPass(prev, hasPrev, preHash, absent) {
		unlock()
		return 0, ErrStaleView
	}

	f, err := os.OpenFile(e.abs(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		unlock()
		return 0, fmt.Errorf("occ: open for write %q: %w", path, err)
	}

	id := e.handles.OpenFile(path, 0, f)
	e.handles.SetOpenMeta(id, sid, nil, true)

	e.cas.RecordWriteOpen(path)
	if !e.cas.TryAcquireWriter(path, uint64(id)) {
		unlock()
		e.handles.ReleaseFile(id)
		logger.Warnf("occ: ownership busy on open-write %q", path)
		return 0, ErrOwnershipBusy
	}
	e.handles.SetOwnsWrite(id, true)
	unlock()

	return id, nil
}

// Write implements 4.5.3. If the handle already holds write ownership
// (the common case, acquired in OpenForWrite), the write passes straight
// through. Otherwise it performs a belt-and-suspenders OCC check against
// the live hash, covering read-write opens (OpenForRead with write set),
// which never ran the open-time check.
func (e *Engine) Write(id handle.ID, data []byte, offset int64) (int, error) {
	fh, ok := e.handles.GetFile(id)
	if !ok {
		return 0, fmt.Errorf("occ: write: unknown handle %d", id)
	}

	if !fh.OwnsWrite {
		unlock := e.cas.Lock(fh.Path)
		curHash, absent, err := e.hashOrAbsent(fh.Path)
		if err != nil {
			unlock()
			return 0, fmt.Errorf("occ: write %q: %w", fh.Path, err)
		}
		prev, hasPrev := e.cas.GetReader(fh.SID, fh.Path)
		if !occPass(prev, hasPrev, curHash, absent) {
			unlock()
			return 0, ErrStaleView
		}
		e.cas.RecordWriteOpen(fh.Path)
		if !e.cas.TryAcquireWriter(fh.Path, uint64(id)) {
			unlock()
			return 0, ErrOwnershipBusy
		}
		e.handles.SetOwnsWrite(id, true)
		unlock()
	}

	return fh.Handle().WriteAt(data, offset)
}

// Flush implements 4.5.4's flush half: on flush of a write-holding handle,
// refresh the session's receipt to the just-written content and release
// write ownership. Flushing a handle that never acquired ownership is a
// no-op.
func (e *Engine) Flush(id handle.ID) error {
	fh, ok := e.handles.GetFile(id)
	if !ok {
		return fmt.Errorf("occ: flush: unknown handle %d", id)
	}
	if !fh.OwnsWrite {
		return nil
	}

	unlock := e.cas.Lock(fh.Path)
	defer unlock()

	newHash, err := e.hash(e.abs(fh.Path))
	if err != nil {
		return fmt.Errorf("occ: flush %q: %w", fh.Path, err)
	}
	e.cas.TouchReader(fh.SID, fh.Path, newHash)
	e.cas.ReleaseWriter(fh.Path, uint64(id))
	e.handles.SetOwnsWrite(id, false)
	return nil
}

// Release implements 4.5.4's close half: release the backing descriptor
// and drop the handle record, releasing write ownership first if it is
// still held (the caller closed without an intervening flush).
func (e *Engine) Release(id handle.ID) error {
	fh, ok := e.handles.GetFile(id)
	if !ok {
		return fmt.Errorf("occ: release: unknown handle %d", id)
	}
	if fh.OwnsWrite {
		unlock := e.cas.Lock(fh.Path)
		e.cas.ReleaseWriter(fh.Path, uint64(id))
		unlock()
	}
	return e.handles.ReleaseFile(id)
}

// Unlink implements 4.5.5 for a single path: permitted if the caller has
// no receipt, or if its receipt still matches the backing content.
func (e *Engine) Unlink(path string, sid uint32) error {
	unlock := e.cas.Lock(path)
	defer unlock()

	prev, hasPrev := e.cas.GetReader(sid, path)
	if hasPrev {
		cur, absent, err := e.hashOrAbsent(path)
		if err != nil {
			return fmt.Errorf("occ: unlink %q: %w", path, err)
		}
		if !occPass(prev, hasPrev, cur, absent) {
			return ErrStaleView
		}
	}

	if err := os.Remove(e.abs(path)); err != nil {
		return fmt.Errorf("occ: unlink %q: %w", path, err)
	}
	e.cas.DropPath(path)
	return nil
}

// Rename implements 4.5.5 for rename: both source and any pre-existing
// destination undergo the stale-view check. On success the destination's
// prior state is dropped, the source's receipt for sid is re-keyed under
// the destination path (Open Question 1: re-key rather than invalidate),
// and the source's remaining state is dropped.
func (e *Engine) Rename(oldPath, newPath string, sid uint32) error {
	unlock := e.cas.LockPaths(oldPath, newPath)
	defer unlock()

	prevOld, hasOld := e.cas.GetReader(sid, oldPath)
	if hasOld {
		cur, absent, err := e.hashOrAbsent(oldPath)
		if err != nil {
			return fmt.Errorf("occ: rename %q: %w", oldPath, err)
		}
		if !occPass(prevOld, hasOld, cur, absent) {
			return ErrStaleView
		}
	}

	if _, err := os.Stat(e.abs(newPath)); err == nil {
		prevNew, hasNew := e.cas.GetReader(sid, newPath)
		if hasNew {
			cur, absent, err := e.hashOrAbsent(newPath)
			if err != nil {
				return fmt.Errorf("occ: rename %q: %w", newPath, err)
			}
			if !occPass(prevNew, hasNew, cur, absent) {
				return ErrStaleView
			}
		}
	}

	if err := os.Rename(e.abs(oldPath), e.abs(newPath)); err != nil {
		return fmt.Errorf("occ: rename %q -> %q: %w", oldPath, newPath, err)
	}

	e.cas.RenameLocked(sid, oldPath, newPath)
	return nil
}
