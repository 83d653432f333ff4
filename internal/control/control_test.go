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

package control

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilmix/dibs/internal/cas"
	"github.com/neilmix/dibs/internal/clock"
)

func TestStatus_ReflectsTableState(t *testing.T) {
	tbl := cas.New(clock.RealClock{})
	unlock := tbl.Lock("a")
	tbl.RecordWriteOpen("a")
	require.True(t, tbl.TryAcquireWriter("a", 1))
	unlock()

	started := time.Now().Add(-5 * time.Second)
	s := New(tbl, "sess-1", started, func() time.Time { return started.Add(5 * time.Second) })

	b, err := s.Status()
	require.NoError(t, err)

	var st Status
	require.NoError(t, json.Unmarshal(b, &st))
	assert.Equal(t, 1, st.TrackedFiles)
	assert.Equal(t, 1, st.ActiveLocks)
	assert.Equal(t, int64(5), st.UptimeSeconds)
	assert.Equal(t, "sess-1", st.SessionID)
}

func TestLocks_ListsEachTrackedFile(t *testing.T) {
	tbl := cas.New(clock.RealClock{})
	unlock := tbl.Lock("a")
	tbl.RecordWriteOpen("a")
	require.True(t, tbl.TryAcquireWriter("a", 42))
	unlock()

	s := New(tbl, "sess-1", time.Now(), time.Now)
	b, err := s.Locks()
	require.NoError(t, err)

	var locks []Lock
	require.NoError(t, json.Unmarshal(b, &locks))
	require.Len(t, locks, 1)
	assert.Equal(t, "a", locks[0].Path)
	assert.Equal(t, uint64(42), locks[0].WriteOwner)
}

func TestLocks_EmptyTableYieldsEmptyArray(t *testing.T) {
	tbl := cas.New(clock.RealClock{})
	s := New(tbl, "sess-1", time.Now(), time.Now)
	b, err := s.Locks()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}
