// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pipeline runs operations as ordered chains of background and
// foreground stages. Background stages perform blocking store I/O on their
// own goroutines; foreground stages run one at a time on a Loop, the
// responsive thread that owns cache mutation and user-visible effects.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Executor runs tasks on the foreground.
type Executor interface {
	Post(task func())
}

// Loop is a single-goroutine task queue. Post never blocks; tasks run in the
// order posted.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	logger *slog.Logger
}

// NewLoop creates a Loop. Nothing runs until Run is called.
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{wake: make(chan struct{}, 1), logger: logger}
}

// Post queues task for the loop goroutine.
func (l *Loop) Post(task func()) {
	l.mu.Lock()
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes posted tasks until ctx is done. A panicking task is logged and
// the loop carries on.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for {
			task, ok := l.next()
			if !ok {
				break
			}
			l.safeRun(task)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Do posts fn and waits for it to run, or for ctx to end.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("foreground task panicked", "panic", fmt.Sprint(r))
		}
	}()
	task()
}

var _ Executor = (*Loop)(nil)
