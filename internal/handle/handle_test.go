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

package handle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *os.File {
	t.Helper()
	p := filepath.Join(t.TempDir(), "f")
	f, err := os.Create(p)
	require.NoError(t, err)
	return f
}

func TestOpenFile_AssignsDistinctIDs(t *testing.T) {
	tbl := New()
	id1 := tbl.OpenFile("a", 10, openTemp(t))
	id2 := tbl.OpenFile("b", 11, openTemp(t))
	assert.NotEqual(t, id1, id2)
}

func TestGetFile_RoundTrip(t *testing.T) {
	tbl := New()
	f := openTemp(t)
	id := tbl.OpenFile("a", 10, f)

	fh, ok := tbl.GetFile(id)
	require.True(t, ok)
	assert.Equal(t, "a", fh.Path)
	assert.Equal(t, uint64(10), fh.Inode)
	assert.Same(t, f, fh.Handle())
}

func TestReleaseFile_ForgetsHandle(t *testing.T) {
	tbl := New()
	id := tbl.OpenFile("a", 10, openTemp(t))

	require.NoError(t, tbl.ReleaseFile(id))

	_, ok := tbl.GetFile(id)
	assert.False(t, ok)
}

func TestReleaseFile_UnknownErrors(t *testing.T) {
	tbl := New()
	err := tbl.ReleaseFile(999)
	assert.Error(t, err)
}

func TestDirHandle_RoundTrip(t *testing.T) {
	tbl := New()
	id := tbl.OpenDir("dir", 20)

	dh, ok := tbl.GetDir(id)
	require.True(t, ok)
	assert.Equal(t, "dir", dh.Path)

	require.NoError(t, tbl.ReleaseDir(id))
	_, ok = tbl.GetDir(id)
	assert.False(t, ok)
}

func TestFileAndDirHandles_ShareIDSpaceWithoutCollision(t *testing.T) {
	tbl := New()
	fid := tbl.OpenFile("f", 1, openTemp(t))
	did := tbl.OpenDir("d", 2)
	assert.NotEqual(t, fid, did)
}
