// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startLoop runs a Loop for the duration of the test.
func startLoop(t *testing.T) (*Loop, *Runner) {
	t.Helper()
	loop := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = loop.Run(ctx)
	}()
	runner := NewRunner(context.Background(), loop, nil)
	t.Cleanup(func() {
		runner.Wait()
		cancel()
		<-stopped
	})
	return loop, runner
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("chain did not finish")
	}
}

func TestLoop_RunsInOrder(t *testing.T) {
	loop, _ := startLoop(t)

	var got []int
	for i := range 100 {
		loop.Post(func() { got = append(got, i) })
	}
	require.NoError(t, loop.Do(context.Background(), func() {}))

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestLoop_SurvivesPanic(t *testing.T) {
	loop, _ := startLoop(t)

	loop.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, loop.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
	assert.Zero(t, loop.Pending())
}

func TestLoop_DoRespectsContext(t *testing.T) {
	loop := NewLoop(nil) // never run
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, loop.Do(ctx, func() {}), context.Canceled)
	assert.Equal(t, 1, loop.Pending())
}

type scratch struct {
	value  int
	trail  []string
	failed error
}

func TestChain_StagesRunInOrderWithScratch(t *testing.T) {
	_, runner := startLoop(t)

	var reachedEnd atomic.Bool
	s := &scratch{}
	done := New(runner, "ordered", s).
		Async(func(_ context.Context, s *scratch) error {
			s.value = 41
			s.trail = append(s.trail, "bg1")
			return nil
		}).
		Async(func(_ context.Context, s *scratch) error {
			s.value++
			s.trail = append(s.trail, "bg2")
			return nil
		}).
		Sync(func(s *scratch) error {
			s.trail = append(s.trail, "fg1")
			return nil
		}).
		Async(func(_ context.Context, s *scratch) error {
			s.trail = append(s.trail, "bg3")
			return nil
		}).
		Sync(func(s *scratch) error {
			s.trail = append(s.trail, "fg2")
			reachedEnd.Store(true)
			return nil
		}).
		Execute()

	waitDone(t, done)
	assert.Equal(t, 42, s.value)
	assert.Equal(t, []string{"bg1", "bg2", "fg1", "bg3", "fg2"}, s.trail)
	assert.True(t, reachedEnd.Load())
}

func TestChain_ForegroundRunsOnLoop(t *testing.T) {
	loop, runner := startLoop(t)

	// Block the loop; a foreground stage must wait for it.
	release := make(chan struct{})
	loop.Post(func() { <-release })

	var fgRan atomic.Bool
	done := New[scratch](runner, "blocked", nil).
		Async(func(context.Context, *scratch) error { return nil }).
		Sync(func(*scratch) error {
			fgRan.Store(true)
			return nil
		}).
		Execute()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, fgRan.Load())
	close(release)
	waitDone(t, done)
	assert.True(t, fgRan.Load())
}

func TestChain_FailureSkipsRemainingStages(t *testing.T) {
	_, runner := startLoop(t)

	boom := errors.New("store down")
	var later, finally atomic.Bool
	s := &scratch{}
	done := New(runner, "failing", s).
		Async(func(context.Context, *scratch) error { return boom }).
		Sync(func(*scratch) error {
			later.Store(true)
			return nil
		}).
		Failed(func(s *scratch, err error) { s.failed = err }).
		Finally(func(*scratch) { finally.Store(true) }).
		Execute()

	waitDone(t, done)
	assert.False(t, later.Load())
	assert.ErrorIs(t, s.failed, boom)
	assert.True(t, finally.Load())
}

func TestChain_StopIsNotAFailure(t *testing.T) {
	_, runner := startLoop(t)

	var failedCalled, finallyCalled bool
	done := New[scratch](runner, "stopping", nil).
		Sync(func(*scratch) error { return Stop }).
		Sync(func(*scratch) error {
			t.Error("stage after Stop ran")
			return nil
		}).
		Failed(func(*scratch, error) { failedCalled = true }).
		Finally(func(*scratch) { finallyCalled = true }).
		Execute()

	waitDone(t, done)
	assert.False(t, failedCalled)
	assert.True(t, finallyCalled)
}

func TestChain_PanicBecomesFailure(t *testing.T) {
	_, runner := startLoop(t)

	var got error
	done := New[scratch](runner, "panicky", nil).
		Async(func(context.Context, *scratch) error { panic("driver bug") }).
		Failed(func(_ *scratch, err error) { got = err }).
		Execute()

	waitDone(t, done)
	require.Error(t, got)
	assert.Contains(t, got.Error(), "driver bug")
}

func TestChain_EmptyChainCompletes(t *testing.T) {
	_, runner := startLoop(t)
	waitDone(t, New[scratch](runner, "empty", nil).Execute())
}

func TestRunner_WaitCoversConcurrentChains(t *testing.T) {
	_, runner := startLoop(t)

	var mu sync.Mutex
	count := 0
	for range 200 {
		New[scratch](runner, "counted", nil).
			Async(func(context.Context, *scratch) error {
				time.Sleep(time.Millisecond)
				return nil
			}).
			Sync(func(*scratch) error {
				mu.Lock()
				count++
				mu.Unlock()
				return nil
			}).
			Execute()
	}
	runner.Wait()
	assert.Equal(t, 200, count)
}
