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

// Package handle is the open-file and open-dir handle table (C3). It
// mirrors the teacher's handleID allocation in fs/fs.go (fileIndex /
// dirIndex maps keyed by fuseops.HandleID): a single Table holds one typed
// map per handle kind, with file and directory handles drawing IDs from
// one shared counter.
package handle

import (
	"fmt"
	"os"
	"sync"
)

// ID is a FUSE handle ID, monotonically assigned.
type ID uint64

// File is the open-file-handle record. SID, OpenHash and WriteIntent are
// filled in by the OCC engine (C5) at open time; OwnsWrite tracks whether
// this handle currently holds write ownership in the CAS table, so a
// later Write call can tell the common case (already own it) from the
// rare belt-and-suspenders case apart without a second table lookup.
type File struct {
	Path        string
	Inode       uint64
	SID         uint32
	OpenHash    []byte
	WriteIntent bool
	OwnsWrite   bool
	f           *os.File
}

// Handle returns the backing *os.File for reads/writes.
func (h *File) Handle() *os.File { return h.f }

// Dir is the open-directory-handle record.
type Dir struct {
	Path  string
	Inode uint64
}

// Table allocates and tracks open file and directory handles.
type Table struct {
	mu      sync.Mutex
	nextID  ID
	files   map[ID]*File
	dirs    map[ID]*Dir
}

// New returns an empty Table. Handle IDs start at 1 since FUSE treats 0 as
// unset in some client implementations.
func New() *Table {
	return &Table{
		nextID: 1,
		files:  make(map[ID]*File),
		dirs:   make(map[ID]*Dir),
	}
}

// OpenFile allocates a new file handle wrapping f.
func (t *Table) OpenFile(path string, inode uint64, f *os.File) ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.files[id] = &File{Path: path, Inode: inode, f: f}
	return id
}

// SetOpenMeta records the session, open-time hash, and write intent
// captured by the OCC engine for an already-allocated file handle.
func (t *Table) SetOpenMeta(id ID, sid uint32, openHash []byte, writeIntent bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fh, ok := t.files[id]; ok {
		fh.SID = sid
		fh.OpenHash = openHash
		fh.WriteIntent = writeIntent
	}
}

// SetOwnsWrite records whether id currently holds write ownership.
func (t *Table) SetOwnsWrite(id ID, owns bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fh, ok := t.files[id]; ok {
		fh.OwnsWrite = owns
	}
}

// GetFile returns the file handle record for id.
func (t *Table) GetFile(id ID) (*File, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fh, ok := t.files[id]
	return fh, ok
}

// ReleaseFile closes and forgets the handle, returning an error if the
// underlying close fails. The handle is forgotten either way: a close
// error does not leave a dangling entry in the table.
func (t *Table) ReleaseFile(id ID) error {
	t.mu.Lock()
	fh, ok := t.files[id]
	delete(t.files, id)
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("handle: unknown file handle %d", id)
	}
	return fh.f.Close()
}

// OpenDir allocates a new directory handle.
func (t *Table) OpenDir(path string, inode uint64) ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.dirs[id] = &Dir{Path: path, Inode: inode}
	return id
}

// GetDir returns the directory handle record for id.
func (t *Table) GetDir(id ID) (*Dir, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dh, ok := t.dirs[id]
	return dh, ok
}

// ReleaseDir forgets the directory handle.
func (t *Table) ReleaseDir(id ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.dirs[id]; !ok {
		return fmt.Errorf("handle: unknown dir handle %d", id)
	}
	delete(t.dirs, id)
	return nil
}
