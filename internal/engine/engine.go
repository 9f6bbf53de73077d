// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package engine coordinates the credential store, the session cache and the
// task pipeline for every authentication operation.
//
// Methods other than New, Ready and Wait must be called on the foreground
// executor. Each operation is a pipeline chain that takes the identity's
// cache lock in its first background stage and releases it when the chain
// ends, so chains for one identity never interleave. Store writes always
// complete before the matching cache mutation, and cache mutations are
// applied only while the identity is still cached.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/duoauth/internal/auth"
	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/notify"
	"github.com/holomush/duoauth/internal/pipeline"
	"github.com/holomush/duoauth/internal/session"
)

// Config holds the engine policy.
type Config struct {
	MaxAttempts int
	// Cooldown is the minimum time between attempts by one identity; zero
	// disables it.
	Cooldown        time.Duration
	DefaultPassword string
	DefaultPin      string
	Policy          auth.Policy
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		Cooldown:        auth.DefaultCooldown,
		DefaultPassword: "pass1234",
		DefaultPin:      "1234",
		Policy:          auth.DefaultPolicy(),
	}
}

var attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "duoauth_auth_attempts_total",
	Help: "Total number of authentication attempts by outcome",
}, []string{"outcome"})

func init() {
	for _, o := range auth.Outcomes {
		attemptsTotal.WithLabelValues(o.String())
	}
}

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{attemptsTotal}
}

type defaultHashes struct {
	password string
	pin      string
}

// Engine is the authentication session engine.
type Engine struct {
	store    credential.Store
	cache    *session.Cache
	runner   *pipeline.Runner
	hasher   auth.Hasher
	notifier notify.Notifier
	cooldown *auth.Cooldown
	cfg      Config
	logger   *slog.Logger
	clock    func() time.Time

	ready    atomic.Bool
	defaults atomic.Pointer[defaultHashes]
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the time source for timestamps and cooldowns.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// New creates an Engine. Call Start before admitting identities.
func New(store credential.Store, cache *session.Cache, runner *pipeline.Runner, hasher auth.Hasher, notifier notify.Notifier, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		cache:    cache,
		runner:   runner,
		hasher:   hasher,
		notifier: notifier,
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.Cooldown > 0 {
		e.cooldown = auth.NewCooldown(cfg.Cooldown, e.clock)
	}
	return e
}

// Ready reports whether default credentials have been prepared. Safe to call
// from any goroutine.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Wait blocks until every chain the engine started has finished.
func (e *Engine) Wait() {
	e.runner.Wait()
}

// Cache returns the session cache.
func (e *Engine) Cache() *session.Cache {
	return e.cache
}

type startScratch struct {
	hashes defaultHashes
}

// Start hashes the default password and PIN in the background and marks the
// engine ready once done.
func (e *Engine) Start() <-chan struct{} {
	return pipeline.New(e.runner, "prepare-defaults", &startScratch{}).
		Async(func(_ context.Context, s *startScratch) error {
			var err error
			if s.hashes.password, err = e.hasher.Hash(e.cfg.DefaultPassword); err != nil {
				return err
			}
			s.hashes.pin, err = e.hasher.Hash(e.cfg.DefaultPin)
			return err
		}).
		Sync(func(s *startScratch) error {
			e.defaults.Store(&s.hashes)
			e.ready.Store(true)
			e.logger.Info("default credentials prepared")
			return nil
		}).
		Failed(func(_ *startScratch, err error) {
			e.logger.Error("preparing default credentials failed; identities stay locked out",
				"error", err)
		}).
		Execute()
}

// Status is how the engine sees an identity.
type Status string

// Statuses.
const (
	StatusLoading   Status = "loading"
	StatusUnmanaged Status = "unmanaged"
	StatusAuthed    Status = "authed"
	StatusUnauthed  Status = "unauthed"
)

// Status reports whether id may act. Identities without a cache entry are
// not managed by the engine.
func (e *Engine) Status(id uuid.UUID) Status {
	if !e.Ready() {
		return StatusLoading
	}
	entry, ok := e.cache.Get(id)
	switch {
	case !ok:
		return StatusUnmanaged
	case entry.Authed:
		return StatusAuthed
	default:
		return StatusUnauthed
	}
}

// Quit drops id from the session cache. The credential record is untouched.
func (e *Engine) Quit(id uuid.UUID) {
	e.cache.Disconnect(id)
}

func (e *Engine) notify(kind notify.Kind, audience notify.Audience, id uuid.UUID, attrs ...string) {
	e.notifier.Notify(context.Background(), notify.New(kind, audience, id, attrs...))
}

// locked holds the identity lock for a chain.
type locked struct {
	id     uuid.UUID
	unlock func()
}

func (l *locked) acquire(cache *session.Cache) {
	l.unlock = cache.Lock(l.id)
}

func (l *locked) release() {
	if l.unlock != nil {
		l.unlock()
		l.unlock = nil
	}
}
