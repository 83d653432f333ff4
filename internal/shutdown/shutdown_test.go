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

package shutdown

import (
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	doneCh      chan struct{}
	unmounted   atomic.Bool
	joinBlocked chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{doneCh: make(chan struct{}), joinBlocked: make(chan struct{})}
}

func (s *fakeSession) Done() <-chan struct{} { return s.doneCh }
func (s *fakeSession) Unmount() error {
	s.unmounted.Store(true)
	close(s.joinBlocked)
	return nil
}
func (s *fakeSession) Join() error {
	<-s.joinBlocked
	return nil
}

type fakeEvictor struct {
	stopped    atomic.Bool
	stoppedAt  atomic.Int64
}

func (e *fakeEvictor) Stop() {
	time.Sleep(5 * time.Millisecond)
	e.stoppedAt.Store(time.Now().UnixNano())
	e.stopped.Store(true)
}

func TestRun_ExternalUnmount_JoinsEvictorFirst(t *testing.T) {
	sess := newFakeSession()
	close(sess.joinBlocked) // external exit: nothing further needed from Unmount
	ev := &fakeEvictor{}

	o, err := New()
	require.NoError(t, err)
	defer o.Close()

	go func() {
		time.Sleep(2 * time.Millisecond)
		close(sess.doneCh)
	}()

	code := o.Run(sess, ev)
	assert.Equal(t, 0, code)
	assert.True(t, ev.stopped.Load())
	assert.False(t, sess.unmounted.Load(), "external path must not call Unmount itself")
}

func TestRun_Signal_CallsUnmountThenJoins(t *testing.T) {
	sess := newFakeSession()
	ev := &fakeEvictor{}

	o, err := New()
	require.NoError(t, err)
	defer o.Close()

	done := make(chan int, 1)
	go func() { done <- o.Run(sess, ev) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after signal")
	}

	assert.True(t, ev.stopped.Load())
	assert.True(t, sess.unmounted.Load())
}

func TestRun_BoundedLatency(t *testing.T) {
	sess := newFakeSession()
	close(sess.joinBlocked)
	ev := &fakeEvictor{}

	o, err := New()
	require.NoError(t, err)
	defer o.Close()

	start := time.Now()
	go func() {
		time.Sleep(3 * time.Millisecond)
		close(sess.doneCh)
	}()
	o.Run(sess, ev)

	assert.Less(t, time.Since(start), time.Second)
}
