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

package cas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilmix/dibs/internal/clock"
)

func TestTouchReaderAndGetReader_RoundTrip(t *testing.T) {
	tbl := New(clock.RealClock{})
	unlock := tbl.Lock("f")
	tbl.TouchReader(1, "f", []byte("h1"))
	unlock()

	unlock = tbl.Lock("f")
	h, ok := tbl.GetReader(1, "f")
	unlock()

	require.True(t, ok)
	assert.Equal(t, []byte("h1"), h)
}

func TestGetReader_UnknownSessionAbsent(t *testing.T) {
	tbl := New(clock.RealClock{})
	unlock := tbl.Lock("f")
	defer unlock()
	_, ok := tbl.GetReader(99, "f")
	assert.False(t, ok)
}

func TestTryAcquireWriter_ExclusiveOwnership(t *testing.T) {
	tbl := New(clock.RealClock{})
	unlock := tbl.Lock("f")
	tbl.RecordWriteOpen("f")
	assert.True(t, tbl.TryAcquireWriter("f", 1))
	assert.False(t, tbl.TryAcquireWriter("f", 2), "a second handle must not acquire while another owns")
	unlock()

	assert.True(t, tbl.HasActiveWriter("f"))
}

func TestReleaseWriter_OnlyOwnerClears(t *testing.T) {
	tbl := New(clock.RealClock{})
	unlock := tbl.Lock("f")
	tbl.RecordWriteOpen("f")
	require.True(t, tbl.TryAcquireWriter("f", 1))
	unlock()

	unlock = tbl.Lock("f")
	tbl.ReleaseWriter("f", 2) // wrong handle, should be a no-op
	unlock()
	assert.True(t, tbl.HasActiveWriter("f"))

	unlock = tbl.Lock("f")
	tbl.ReleaseWriter("f", 1)
	unlock()
	assert.False(t, tbl.HasActiveWriter("f"))
}

func TestTryAcquireWriter_AfterRelease_NewOwnerSucceeds(t *testing.T) {
	tbl := New(clock.RealClock{})
	unlock := tbl.Lock("f")
	tbl.RecordWriteOpen("f")
	require.True(t, tbl.TryAcquireWriter("f", 1))
	tbl.ReleaseWriter("f", 1)
	assert.True(t, tbl.TryAcquireWriter("f", 2))
	unlock()
}

func TestInvalidate_RemovesAllSessionReceipts(t *testing.T) {
	tbl := New(clock.RealClock{})
	unlock := tbl.Lock("f")
	tbl.TouchReader(1, "f", []byte("a"))
	tbl.TouchReader(2, "f", []byte("a"))
	unlock()

	tbl.Invalidate("f")

	unlock = tbl.Lock("f")
	_, ok1 := tbl.GetReader(1, "f")
	_, ok2 := tbl.GetReader(2, "f")
	unlock()
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestRekeyReceipt_MovesHashToNewPath(t *testing.T) {
	tbl := New(clock.RealClock{})
	unlock := tbl.Lock("old")
	tbl.TouchReader(1, "old", []byte("h"))
	unlock()

	tbl.RekeyReceipt(1, "old", "new")

	unlock = tbl.Lock("old")
	_, ok := tbl.GetReader(1, "old")
	unlock()
	assert.False(t, ok)

	unlock = tbl.Lock("new")
	h, ok := tbl.GetReader(1, "new")
	unlock()
	require.True(t, ok)
	assert.Equal(t, []byte("h"), h)
}

func TestRekeyReceipt_NoReceiptIsNoop(t *testing.T) {
	tbl := New(clock.RealClock{})
	tbl.RekeyReceipt(1, "old", "new")
	unlock := tbl.Lock("new")
	_, ok := tbl.GetReader(1, "new")
	unlock()
	assert.False(t, ok)
}

func TestEvict_SkipsEntriesWithWriteOwner(t *testing.T) {
	fc := clock.NewSimulatedClock(time.Unix(0, 0))
	tbl := New(fc)

	unlock := tbl.Lock("owned")
	tbl.RecordWriteOpen("owned")
	require.True(t, tbl.TryAcquireWriter("owned", 1))
	unlock()

	unlock = tbl.Lock("free")
	tbl.RecordWriteOpen("free")
	unlock()

	fc.AdvanceTime(2 * time.Hour)
	tbl.Evict(time.Hour)

	assert.Equal(t, 1, tbl.TrackedFileCount())
	assert.True(t, tbl.HasActiveWriter("owned"))
}

func TestEvict_PrunesStaleReceiptsOnly(t *testing.T) {
	fc := clock.NewSimulatedClock(time.Unix(0, 0))
	tbl := New(fc)

	unlock := tbl.Lock("f")
	tbl.TouchReader(1, "f", []byte("h"))
	unlock()

	fc.AdvanceTime(30 * time.Minute)

	unlock = tbl.Lock("f")
	tbl.TouchReader(2, "f", []byte("h2"))
	unlock()

	fc.AdvanceTime(40 * time.Minute)
	tbl.Evict(time.Hour)

	unlock = tbl.Lock("f")
	_, ok1 := tbl.GetReader(1, "f")
	_, ok2 := tbl.GetReader(2, "f")
	unlock()
	assert.False(t, ok1, "older receipt should be pruned")
	assert.True(t, ok2, "newer receipt should survive")
}

func TestSnapshot_ReflectsTrackedFiles(t *testing.T) {
	tbl := New(clock.RealClock{})
	unlock := tbl.Lock("f")
	tbl.RecordWriteOpen("f")
	unlock()

	snap := tbl.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "f", snap[0].Path)
}
