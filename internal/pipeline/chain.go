// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Stop ends a chain early without counting as a failure. Failed handlers are
// not called; Finally handlers are.
var Stop = errors.New("pipeline: stop")

// Runner owns the background context and tracks chains in flight.
type Runner struct {
	fg     Executor
	ctx    context.Context
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewRunner creates a Runner whose background stages receive ctx and whose
// foreground stages run on fg.
func NewRunner(ctx context.Context, fg Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{fg: fg, ctx: ctx, logger: logger}
}

// Wait blocks until every executed chain has finished. The foreground
// executor must keep running until Wait returns.
func (r *Runner) Wait() {
	r.wg.Wait()
}

type stage[S any] struct {
	background func(context.Context, *S) error
	foreground func(*S) error
}

type place int

const (
	placeCaller place = iota
	placeBackground
	placeForeground
)

// Chain is one logical operation: stages run strictly in order, each
// background stage on a worker goroutine and each foreground stage on the
// runner's executor. S is the chain-local scratch state shared by stages.
type Chain[S any] struct {
	runner  *Runner
	name    string
	scratch *S
	stages  []stage[S]
	failed  func(*S, error)
	finally func(*S)
	done    chan struct{}
}

// New starts building a chain named name over scratch.
func New[S any](r *Runner, name string, scratch *S) *Chain[S] {
	if scratch == nil {
		scratch = new(S)
	}
	return &Chain[S]{runner: r, name: name, scratch: scratch, done: make(chan struct{})}
}

// Async appends a background stage.
func (c *Chain[S]) Async(fn func(ctx context.Context, s *S) error) *Chain[S] {
	c.stages = append(c.stages, stage[S]{background: fn})
	return c
}

// Sync appends a foreground stage.
func (c *Chain[S]) Sync(fn func(s *S) error) *Chain[S] {
	c.stages = append(c.stages, stage[S]{foreground: fn})
	return c
}

// Failed sets the foreground handler for a stage error.
func (c *Chain[S]) Failed(fn func(s *S, err error)) *Chain[S] {
	c.failed = fn
	return c
}

// Finally sets a foreground handler that runs once the chain ends, however
// it ends.
func (c *Chain[S]) Finally(fn func(s *S)) *Chain[S] {
	c.finally = fn
	return c
}

// Execute starts the chain. The returned channel closes after the chain's
// last handler has run.
func (c *Chain[S]) Execute() <-chan struct{} {
	c.runner.wg.Add(1)
	c.advance(0, placeCaller)
	return c.done
}

func (c *Chain[S]) advance(i int, at place) {
	for i < len(c.stages) {
		st := c.stages[i]
		if st.background != nil && at != placeBackground {
			go c.advance(i, placeBackground)
			return
		}
		if st.foreground != nil && at != placeForeground {
			c.runner.fg.Post(func() { c.advance(i, placeForeground) })
			return
		}
		if err := c.call(st); err != nil {
			c.end(err, at)
			return
		}
		i++
	}
	c.end(nil, at)
}

func (c *Chain[S]) call(st stage[S]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: stage panicked: %v", r)
		}
	}()
	if st.background != nil {
		return st.background(c.runner.ctx, c.scratch)
	}
	return st.foreground(c.scratch)
}

func (c *Chain[S]) end(err error, at place) {
	if at != placeForeground && (c.finally != nil || (c.failed != nil && err != nil)) {
		c.runner.fg.Post(func() { c.end(err, placeForeground) })
		return
	}

	status := "ok"
	switch {
	case errors.Is(err, Stop):
		status = "stopped"
	case err != nil:
		status = "failed"
		if c.failed != nil {
			c.guard(func() { c.failed(c.scratch, err) })
		} else {
			c.runner.logger.Warn("chain failed", "chain", c.name, "error", err)
		}
	}
	if c.finally != nil {
		c.guard(func() { c.finally(c.scratch) })
	}
	chainsTotal.WithLabelValues(c.name, status).Inc()
	close(c.done)
	c.runner.wg.Done()
}

func (c *Chain[S]) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.runner.logger.Error("chain handler panicked", "chain", c.name, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
