// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sweep periodically deauthenticates identities whose last
// successful authentication is older than the configured timeout.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/notify"
	"github.com/holomush/duoauth/internal/pipeline"
	"github.com/holomush/duoauth/internal/session"
	"github.com/holomush/duoauth/pkg/errutil"
)

// State is the sweeper's position in its Idle → Scanning → Idle cycle.
type State int32

// Sweeper states.
const (
	StateIdle State = iota
	StateScanning
)

func (s State) String() string {
	if s == StateScanning {
		return "scanning"
	}
	return "idle"
}

// Config controls expiry.
type Config struct {
	// Timeout is the session lifetime measured from the last timestamp.
	Timeout time.Duration
	// Interval is the time between sweeps.
	Interval time.Duration
	// TimeoutOnline also expires connected identities in the session cache.
	TimeoutOnline bool
	// Concurrency bounds identities processed at once; 0 means 16.
	Concurrency int
}

// DefaultConfig returns the stock expiry settings.
func DefaultConfig() Config {
	return Config{Timeout: 48 * time.Hour, Interval: 5 * time.Minute, Concurrency: 16}
}

// Result summarizes one sweep.
type Result struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

var (
	sweepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duoauth_sweeps_total",
		Help: "Total number of expiration sweeps by status",
	}, []string{"status"})

	expiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duoauth_sweep_expired_total",
		Help: "Total number of identities deauthenticated by the sweeper",
	})
)

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{sweepsTotal, expiredTotal}
}

// Sweeper scans the credential store and expires stale sessions.
type Sweeper struct {
	store    credential.Store
	cache    *session.Cache
	runner   *pipeline.Runner
	notifier notify.Notifier
	cfg      Config
	logger   *slog.Logger
	clock    func() time.Time

	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// New creates a Sweeper.
func New(store credential.Store, cache *session.Cache, runner *pipeline.Runner, notifier notify.Notifier, cfg Config, opts ...Option) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	s := &Sweeper{
		store:    store,
		cache:    cache,
		runner:   runner,
		notifier: notifier,
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Sweeper) State() State {
	return State(s.state.Load())
}

type scratch struct {
	id      uuid.UUID
	unlock  func()
	expired bool
	skipped bool
}

// RunOnce performs one sweep. Overlapping calls are skipped. Per-identity
// problems are logged and counted, never returned; only failing to list
// identities is an error.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateScanning)) {
		s.logger.Debug("sweep already running; skipping")
		sweepsTotal.WithLabelValues("skipped").Inc()
		return Result{}, nil
	}
	defer s.state.Store(int32(StateIdle))

	ids, err := s.store.AllIdentities(ctx)
	if err != nil {
		sweepsTotal.WithLabelValues("failed").Inc()
		return Result{}, err
	}

	var (
		mu  sync.Mutex
		res = Result{Scanned: len(ids)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			sc := &scratch{id: id}
			var failed bool
			done := pipeline.New(s.runner, "sweep", sc).
				Async(s.expire).
				Sync(s.applyOnline).
				Failed(func(sc *scratch, err error) {
					failed = true
					errutil.LogError(s.logger, "sweep failed for identity", err, "id", sc.id.String())
				}).
				Finally(func(sc *scratch) {
					if sc.unlock != nil {
						sc.unlock()
					}
				}).
				Execute()

			select {
			case <-done:
			case <-gctx.Done():
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case failed:
				res.Failed++
			case sc.expired:
				res.Expired++
			case sc.skipped:
				res.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sweepsTotal.WithLabelValues("failed").Inc()
		return res, err
	}

	sweepsTotal.WithLabelValues("ok").Inc()
	if res.Expired > 0 {
		s.logger.Info("sweep expired sessions", "expired", res.Expired, "scanned", res.Scanned)
	}
	return res, nil
}

// expire runs in the background with the identity lock held.
func (s *Sweeper) expire(ctx context.Context, sc *scratch) error {
	sc.unlock = s.cache.Lock(sc.id)

	stamp, err := s.store.ReadTimestamp(ctx, sc.id)
	switch {
	case errors.Is(err, credential.ErrNotFound):
		sc.skipped = true
		return pipeline.Stop
	case errors.Is(err, credential.ErrMalformed):
		errutil.LogWarn(s.logger, "skipping identity with unreadable timestamp", err, "id", sc.id.String())
		sc.skipped = true
		return pipeline.Stop
	case err != nil:
		return err
	}

	authed, err := s.store.ReadAuthed(ctx, sc.id)
	if errors.Is(err, credential.ErrNotFound) {
		sc.skipped = true
		return pipeline.Stop
	}
	if err != nil {
		return err
	}
	if !authed || s.clock().Sub(stamp) < s.cfg.Timeout {
		return pipeline.Stop
	}

	if err := s.store.WriteAuthed(ctx, sc.id, false); err != nil {
		return err
	}
	sc.expired = true
	expiredTotal.Inc()
	return nil
}

// applyOnline mirrors the expiry into the cache for connected identities.
func (s *Sweeper) applyOnline(sc *scratch) error {
	if !s.cfg.TimeoutOnline || !s.cache.Connected(sc.id) {
		return nil
	}
	if s.cache.Mutate(sc.id, func(e *session.Entry) { e.Authed = false }) {
		s.notifier.Notify(context.Background(), notify.New(notify.KindSessionExpired, notify.AudienceUser, sc.id))
	}
	return nil
}

// Start runs a sweep every Interval until Stop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				errutil.LogError(s.logger, "sweep failed", err)
			}
		}
	}
}
