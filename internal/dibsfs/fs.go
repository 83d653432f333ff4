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

// Package dibsfs is the kernel-facing FUSE binding (C9). It is pure
// plumbing: it resolves inode IDs to backing-relative paths through
// inodemap (C2), resolves the caller's PID to a session ID through
// session, and dispatches every mutating call into the OCC engine (C5).
// It never makes an OCC decision itself.
package dibsfs

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/neilmix/dibs/internal/conflicts"
	"github.com/neilmix/dibs/internal/control"
	"github.com/neilmix/dibs/internal/handle"
	"github.com/neilmix/dibs/internal/inodemap"
	"github.com/neilmix/dibs/internal/logger"
	"github.com/neilmix/dibs/internal/occ"
	"github.com/neilmix/dibs/internal/session"
)

const (
	dibsDirName      = ".dibs"
	statusName       = "status"
	locksName        = "locks"
	conflictsDirName = "conflicts"
	dibsPath         = dibsDirName
	statusPath       = dibsDirName + "/" + statusName
	locksPath        = dibsDirName + "/" + locksName
	conflictsDirPath = dibsDirName + "/" + conflictsDirName
)

// syntheticKind distinguishes the handful of virtual files under .dibs
// that have no backing descriptor: their content is rendered fresh on
// every read from the control surface (C7) rather than stored.
type syntheticKind int

const (
	kindNone syntheticKind = iota
	kindStatus
	kindLocks
)

// FileSystem implements fuseutil.FileSystem over a single backing
// directory, mediated by the OCC engine. Anything it does not implement
// falls through to NotImplementedFileSystem's ENOSYS, matching the
// teacher's own default (fs/fs.go).
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	root             string
	inodes           *inodemap.Map
	handles          *handle.Table
	engine           *occ.Engine
	surface          *control.Surface
	conflicts        *conflicts.Sink
	readonlyFallback bool

	synMu  sync.Mutex
	synSet map[handle.ID]syntheticKind
}

// New wires a FileSystem over backingDir. conflictSink may be nil when
// conflict payloads are not being saved.
func New(
	backingDir string,
	inodes *inodemap.Map,
	handles *handle.Table,
	engine *occ.Engine,
	surface *control.Surface,
	conflictSink *conflicts.Sink,
	readonlyFallback bool,
) *FileSystem {
	inodes.AllocateSynthetic(dibsPath)
	inodes.AllocateSynthetic(statusPath)
	inodes.AllocateSynthetic(locksPath)
	inodes.AllocateSynthetic(conflictsDirPath)

	return &FileSystem{
		root:             backingDir,
		inodes:           inodes,
		handles:          handles,
		engine:           engine,
		surface:          surface,
		conflicts:        conflictSink,
		readonlyFallback: readonlyFallback,
		synSet:           make(map[handle.ID]syntheticKind),
	}
}

func (fs *FileSystem) abs(p string) string {
	return filepath.Join(fs.root, p)
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return path.Join(parent, name)
}

func isUnderDibs(p string) bool {
	return p == dibsPath || (len(p) > len(dibsPath) && p[:len(dibsPath)+1] == dibsPath+"/")
}

// wantsWrite reports whether open flags request write access, following
// the POSIX O_ACCMODE convention rather than treating the mode bits as a
// bitmask (O_RDONLY is zero).
func wantsWrite(flags uint32) bool {
	switch flags & syscall.O_ACCMODE {
	case syscall.O_WRONLY, syscall.O_RDWR:
		return true
	}
	return false
}

// translateOCCErr maps an occ sentinel error to a kernel errno. When
// readonlyFallback is set, a refused write degrades to a silent success
// instead of surfacing an I/O error to the calling agent; the engine's
// own decision is untouched, only the error presented at this boundary
// changes.
func (fs *FileSystem) translateOCCErr(err error, payload []byte, backingPath string) error {
	if err == nil {
		return nil
	}
	switch err {
	case occ.ErrStaleView, occ.ErrOwnershipBusy:
		if fs.conflicts != nil && len(payload) > 0 {
			if saveErr := fs.conflicts.Save(backingPath, payload); saveErr != nil {
				logger.Warnf("dibsfs: failed to save conflict payload for %q: %v", backingPath, saveErr)
			}
		}
		if fs.readonlyFallback {
			return nil
		}
		return fuse.EIO
	case occ.ErrNotSupported:
		return syscall.ENOTSUP
	default:
		logger.Errorf("dibsfs: %v", err)
		return fuse.EIO
	}
}

////////////////////////////////////////////////////////////////////////
// Attributes
////////////////////////////////////////////////////////////////////////

func statToAttrs(fi os.FileInfo) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(fi.Size()),
		Nlink: 1,
		Mode:  fi.Mode(),
		Mtime: fi.ModTime(),
	}
}

func syntheticFileAttrs(size int, mtime time.Time) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(size),
		Nlink: 1,
		Mode:  0444,
		Mtime: mtime,
	}
}

func syntheticDirAttrs(mtime time.Time) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  0,
		Nlink: 1,
		Mode:  os.ModeDir | 0555,
		Mtime: mtime,
	}
}

////////////////////////////////////////////////////////////////////////
// fuseutil.FileSystem methods
//
// None of these take a separate context.Context: each Op carries its own
// via op.Context(), matching the teacher's fs/fs.go (e.g.
// "child, err := fs.lookUpOrCreateChildInode(op.Context(), parent, op.Name)").
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) Init(op *fuseops.InitOp) error {
	return nil
}

func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) error {
	parentPath, ok := fs.inodes.Resolve(uint64(op.Parent))
	if !ok {
		return fuse.ENOENT
	}
	childPath := join(parentPath, op.Name)

	switch {
	case parentPath == "" && op.Name == dibsDirName:
		op.Entry.Child = fuseops.InodeID(fs.inodes.GetOrAllocate(dibsPath))
		op.Entry.Attributes = syntheticDirAttrs(time.Now())
		return nil
	case parentPath == dibsPath && op.Name == statusName:
		b, _ := fs.surface.Status()
		op.Entry.Child = fuseops.InodeID(fs.inodes.GetOrAllocate(statusPath))
		op.Entry.Attributes = syntheticFileAttrs(len(b), time.Now())
		return nil
	case parentPath == dibsPath && op.Name == locksName:
		b, _ := fs.surface.Locks()
		op.Entry.Child = fuseops.InodeID(fs.inodes.GetOrAllocate(locksPath))
		op.Entry.Attributes = syntheticFileAttrs(len(b), time.Now())
		return nil
	case parentPath == dibsPath && op.Name == conflictsDirName:
		op.Entry.Child = fuseops.InodeID(fs.inodes.GetOrAllocate(conflictsDirPath))
		op.Entry.Attributes = syntheticDirAttrs(time.Now())
		return nil
	case parentPath == conflictsDirPath && fs.conflicts != nil:
		fi, err := os.Lstat(filepath.Join(fs.conflicts.Dir(), op.Name))
		if err != nil {
			return fuse.ENOENT
		}
		op.Entry.Child = fuseops.InodeID(fs.inodes.GetOrAllocate(childPath))
		op.Entry.Attributes = statToAttrs(fi)
		return nil
	}

	fi, err := os.Lstat(fs.abs(childPath))
	if err != nil {
		return fuse.ENOENT
	}
	op.Entry.Child = fuseops.InodeID(fs.inodes.GetOrAllocate(childPath))
	op.Entry.Attributes = statToAttrs(fi)
	return nil
}

func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	p, ok := fs.inodes.Resolve(uint64(op.Inode))
	if !ok {
		return fuse.ENOENT
	}

	switch p {
	case "", dibsPath, conflictsDirPath:
		op.Attributes = syntheticDirAttrs(time.Now())
		return nil
	case statusPath:
		b, err := fs.surface.Status()
		if err != nil {
			return fuse.EIO
		}
		op.Attributes = syntheticFileAttrs(len(b), time.Now())
		return nil
	case locksPath:
		b, err := fs.surface.Locks()
		if err != nil {
			return fuse.EIO
		}
		op.Attributes = syntheticFileAttrs(len(b), time.Now())
		return nil
	}

	var fi os.FileInfo
	var err error
	if isUnderDibs(p) && fs.conflicts != nil {
		fi, err = os.Lstat(filepath.Join(fs.conflicts.Dir(), path.Base(p)))
	} else {
		fi, err = os.Lstat(fs.abs(p))
	}
	if err != nil {
		return fuse.ENOENT
	}
	op.Attributes = statToAttrs(fi)
	return nil
}

// SetInodeAttributes supports only size changes against regular backing
// files (ftruncate). The size change is applied directly with
// os.Truncate, not through the engine: no OCC check is made and no
// receipt is compared or refreshed. Everything else (mode, atime, mtime)
// is refused.
func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	p, ok := fs.inodes.Resolve(uint64(op.Inode))
	if !ok {
		return fuse.ENOENT
	}
	if isUnderDibs(p) {
		return fuse.EPERM
	}
	if op.Mode != nil || op.Atime != nil || op.Mtime != nil {
		return fuse.ENOSYS
	}
	if op.Size != nil {
		if err := os.Truncate(fs.abs(p), int64(*op.Size)); err != nil {
			return fuse.EIO
		}
	}
	fi, err := os.Lstat(fs.abs(p))
	if err != nil {
		return fuse.ENOENT
	}
	op.Attributes = statToAttrs(fi)
	return nil
}

func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) error {
	fs.inodes.Forget(uint64(op.Inode))
	return nil
}

func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) error {
	parentPath, ok := fs.inodes.Resolve(uint64(op.Parent))
	if !ok {
		return fuse.ENOENT
	}
	childPath := join(parentPath, op.Name)
	if isUnderDibs(childPath) || (parentPath == "" && op.Name == dibsDirName) {
		return fuse.EPERM
	}

	if err := os.Mkdir(fs.abs(childPath), 0755); err != nil {
		if os.IsExist(err) {
			return fuse.EEXIST
		}
		return fuse.EIO
	}

	fi, err := os.Lstat(fs.abs(childPath))
	if err != nil {
		return fuse.EIO
	}
	op.Entry.Child = fuseops.InodeID(fs.inodes.GetOrAllocate(childPath))
	op.Entry.Attributes = statToAttrs(fi)
	return nil
}

func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) error {
	parentPath, ok := fs.inodes.Resolve(uint64(op.Parent))
	if !ok {
		return fuse.ENOENT
	}
	childPath := join(parentPath, op.Name)
	if isUnderDibs(childPath) {
		return fuse.EPERM
	}

	sid, _ := session.Resolve(op.OpContext.Pid)

	id, err := fs.engine.OpenForWrite(childPath, sid)
	if err != nil {
		return fs.translateOCCErr(err, nil, childPath)
	}

	fi, err := os.Lstat(fs.abs(childPath))
	if err != nil {
		fs.engine.Release(id)
		return fuse.EIO
	}

	op.Handle = fuseops.HandleID(id)
	op.Entry.Child = fuseops.InodeID(fs.inodes.GetOrAllocate(childPath))
	op.Entry.Attributes = statToAttrs(fi)
	return nil
}

func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) error {
	parentPath, ok := fs.inodes.Resolve(uint64(op.Parent))
	if !ok {
		return fuse.ENOENT
	}
	childPath := join(parentPath, op.Name)
	if isUnderDibs(childPath) {
		return fuse.EPERM
	}
	if err := os.Remove(fs.abs(childPath)); err != nil {
		if os.IsNotExist(err) {
			return fuse.ENOENT
		}
		return fuse.ENOTEMPTY
	}
	return nil
}

func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) error {
	parentPath, ok := fs.inodes.Resolve(uint64(op.Parent))
	if !ok {
		return fuse.ENOENT
	}
	childPath := join(parentPath, op.Name)
	if isUnderDibs(childPath) {
		return fuse.EPERM
	}

	sid, _ := session.Resolve(op.OpContext.Pid)
	if err := fs.engine.Unlink(childPath, sid); err != nil {
		return fs.translateOCCErr(err, nil, childPath)
	}
	return nil
}

// Rename is grounded on the real upstream jacobsa/fuse RenameOp, which is
// absent from the bazilfuse-era vendored snapshot but present in the
// version this module depends on.
func (fs *FileSystem) Rename(op *fuseops.RenameOp) error {
	oldParent, ok := fs.inodes.Resolve(uint64(op.OldParent))
	if !ok {
		return fuse.ENOENT
	}
	newParent, ok := fs.inodes.Resolve(uint64(op.NewParent))
	if !ok {
		return fuse.ENOENT
	}
	oldPath := join(oldParent, op.OldName)
	newPath := join(newParent, op.NewName)
	if isUnderDibs(oldPath) || isUnderDibs(newPath) {
		return fuse.EPERM
	}

	sid, _ := session.Resolve(op.OpContext.Pid)
	if err := fs.engine.Rename(oldPath, newPath, sid); err != nil {
		return fs.translateOCCErr(err, nil, oldPath)
	}
	fs.inodes.Rename(oldPath, newPath)
	return nil
}

////////////////////////////////////////////////////////////////////////
// Directories
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	p, ok := fs.inodes.Resolve(uint64(op.Inode))
	if !ok {
		return fuse.ENOENT
	}
	op.Handle = fuseops.HandleID(fs.handles.OpenDir(p, uint64(op.Inode)))
	return nil
}

type dirEntry struct {
	name string
	dir  bool
}

func (fs *FileSystem) listChildren(p string) ([]dirEntry, error) {
	switch p {
	case "":
		es, err := os.ReadDir(fs.root)
		if err != nil {
			return nil, err
		}
		out := make([]dirEntry, 0, len(es)+1)
		for _, e := range es {
			out = append(out, dirEntry{name: e.Name(), dir: e.IsDir()})
		}
		out = append(out, dirEntry{name: dibsDirName, dir: true})
		return out, nil
	case dibsPath:
		return []dirEntry{
			{name: statusName, dir: false},
			{name: locksName, dir: false},
			{name: conflictsDirName, dir: true},
		}, nil
	case conflictsDirPath:
		if fs.conflicts == nil {
			return nil, nil
		}
		es, err := os.ReadDir(fs.conflicts.Dir())
		if err != nil {
			return nil, err
		}
		out := make([]dirEntry, 0, len(es))
		for _, e := range es {
			out = append(out, dirEntry{name: e.Name(), dir: e.IsDir()})
		}
		return out, nil
	default:
		es, err := os.ReadDir(fs.abs(p))
		if err != nil {
			return nil, err
		}
		out := make([]dirEntry, 0, len(es))
		for _, e := range es {
			out = append(out, dirEntry{name: e.Name(), dir: e.IsDir()})
		}
		return out, nil
	}
}

func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	dh, ok := fs.handles.GetDir(handle.ID(op.Handle))
	if !ok {
		return fuse.EIO
	}

	entries, err := fs.listChildren(dh.Path)
	if err != nil {
		return fuse.EIO
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	op.BytesRead = 0
	for i, e := range entries {
		offset := fuseops.DirOffset(i + 1)
		if offset <= op.Offset {
			continue
		}
		childPath := join(dh.Path, e.name)
		inode, ok := fs.inodes.Lookup(childPath)
		if !ok {
			inode = fs.inodes.GetOrAllocate(childPath)
		}
		de := fuseutil.Dirent{
			Offset: offset,
			Inode:  fuseops.InodeID(inode),
			Name:   e.name,
			Type:   fuseutil.DT_File,
		}
		if e.dir {
			de.Type = fuseutil.DT_Directory
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], de)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	return fs.handles.ReleaseDir(handle.ID(op.Handle))
}

////////////////////////////////////////////////////////////////////////
// Files
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) markSynthetic(id handle.ID, kind syntheticKind) {
	fs.synMu.Lock()
	fs.synSet[id] = kind
	fs.synMu.Unlock()
}

func (fs *FileSystem) syntheticKindOf(id handle.ID) syntheticKind {
	fs.synMu.Lock()
	defer fs.synMu.Unlock()
	return fs.synSet[id]
}

func (fs *FileSystem) dropSynthetic(id handle.ID) {
	fs.synMu.Lock()
	delete(fs.synSet, id)
	fs.synMu.Unlock()
}

func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	p, ok := fs.inodes.Resolve(uint64(op.Inode))
	if !ok {
		return fuse.ENOENT
	}

	switch p {
	case statusPath, locksPath:
		if wantsWrite(op.OpenFlags) {
			return fuse.EPERM
		}
		id := fs.handles.OpenFile(p, uint64(op.Inode), nil)
		kind := kindStatus
		if p == locksPath {
			kind = kindLocks
		}
		fs.markSynthetic(id, kind)
		op.Handle = fuseops.HandleID(id)
		return nil
	}

	if isUnderDibs(p) {
		return fuse.EPERM
	}

	sid, _ := session.Resolve(op.OpContext.Pid)

	var id handle.ID
	var err error
	switch uint32(op.OpenFlags) & syscall.O_ACCMODE {
	case syscall.O_RDWR:
		id, err = fs.engine.OpenForRead(p, sid, true)
	case syscall.O_WRONLY:
		id, err = fs.engine.OpenForWrite(p, sid)
	default:
		id, err = fs.engine.OpenForRead(p, sid, false)
	}
	if err != nil {
		return fs.translateOCCErr(err, nil, p)
	}
	op.Handle = fuseops.HandleID(id)
	return nil
}

func sliceAt(b []byte, offset int64, size int) []byte {
	if offset >= int64(len(b)) {
		return nil
	}
	end := offset + int64(size)
	if end > int64(len(b)) {
		end = int64(len(b))
	}
	return b[offset:end]
}

func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	id := handle.ID(op.Handle)
	switch fs.syntheticKindOf(id) {
	case kindStatus:
		b, err := fs.surface.Status()
		if err != nil {
			return fuse.EIO
		}
		op.Data = sliceAt(b, op.Offset, op.Size)
		return nil
	case kindLocks:
		b, err := fs.surface.Locks()
		if err != nil {
			return fuse.EIO
		}
		op.Data = sliceAt(b, op.Offset, op.Size)
		return nil
	}

	fh, ok := fs.handles.GetFile(id)
	if !ok {
		return fuse.EIO
	}
	buf := make([]byte, op.Size)
	n, err := fh.Handle().ReadAt(buf, op.Offset)
	if err != nil && n == 0 {
		return fuse.EIO
	}
	op.Data = buf[:n]
	return nil
}

func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) error {
	id := handle.ID(op.Handle)
	if fs.syntheticKindOf(id) != kindNone {
		return fuse.EPERM
	}

	fh, ok := fs.handles.GetFile(id)
	if !ok {
		return fuse.EIO
	}
	if _, err := fs.engine.Write(id, op.Data, op.Offset); err != nil {
		return fs.translateOCCErr(err, op.Data, fh.Path)
	}
	return nil
}

func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) error {
	return fs.FlushFile(&fuseops.FlushFileOp{
		Inode:     op.Inode,
		Handle:    op.Handle,
		OpContext: op.OpContext,
	})
}

func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) error {
	id := handle.ID(op.Handle)
	if fs.syntheticKindOf(id) != kindNone {
		return nil
	}
	if err := fs.engine.Flush(id); err != nil {
		return fuse.EIO
	}
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	id := handle.ID(op.Handle)
	if fs.syntheticKindOf(id) != kindNone {
		fs.dropSynthetic(id)
		return nil
	}
	if err := fs.engine.Release(id); err != nil {
		return fmt.Errorf("dibsfs: release %d: %w", id, err)
	}
	return nil
}

// CreateLink, CreateSymlink and Link against path-keyed OCC state would
// require deciding which path's receipt a hardlinked inode belongs to;
// the protocol has no answer for that, so hardlinks are refused outright
// via the embedded NotImplementedFileSystem's ENOSYS.
