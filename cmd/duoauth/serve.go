// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/duoauth/internal/auth"
	"github.com/holomush/duoauth/internal/config"
	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/credential/backend"
	"github.com/holomush/duoauth/internal/engine"
	"github.com/holomush/duoauth/internal/gate"
	"github.com/holomush/duoauth/internal/logging"
	"github.com/holomush/duoauth/internal/notify"
	"github.com/holomush/duoauth/internal/observability"
	"github.com/holomush/duoauth/internal/pipeline"
	"github.com/holomush/duoauth/internal/session"
	"github.com/holomush/duoauth/internal/sweep"
	"github.com/holomush/duoauth/pkg/errutil"
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication engine",
		Long: `Run the authentication engine with its expiration sweeper and health
endpoints. With --console, connection and command events are read from stdin,
one per line, and serve exits at end of input.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Locate(configFile), cmd.Flags())
			if err != nil {
				return err
			}
			warnings := cfg.Normalize()

			logger := logging.SetDefault(logging.Options{
				Service: "duoauth",
				Version: version,
				Format:  cfg.Log.Format,
				Writer:  cmd.ErrOrStderr(),
			})
			for _, w := range warnings {
				logger.Warn("configuration value replaced",
					"code", "CONFIG_WARNING", "key", w.Key, "value", w.Value, "used", w.Used)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var in io.Reader
			if interactive {
				in = cmd.InOrStdin()
			}
			return runServe(ctx, cfg, logger, in, cmd.OutOrStdout())
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&interactive, "console", false, "read connection and command events from stdin")

	return cmd
}

// server holds the wired components of a running engine.
type server struct {
	cfg     config.Config
	logger  *slog.Logger
	store   credential.Store
	hasher  auth.Hasher
	catalog *notify.Catalog
	loop    *pipeline.Loop
	engine  *engine.Engine
	gate    *gate.Gate
	sweeper *sweep.Sweeper
	obs     *observability.Server
	out     io.Writer
	active  atomic.Pointer[console]

	stopLoop context.CancelFunc
	loopDone chan struct{}
}

type serverOption func(*server)

// withHasher replaces the bcrypt hasher.
func withHasher(h auth.Hasher) serverOption {
	return func(s *server) { s.hasher = h }
}

// withStore replaces the configured backend.
func withStore(st credential.Store) serverOption {
	return func(s *server) { s.store = st }
}

// syncWriter serializes writes from the console and the foreground loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	//nolint:wrapcheck // passthrough writer
	return w.w.Write(p)
}

// newServer opens the store and wires every component. Nothing runs until
// start.
func newServer(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer, opts ...serverOption) (*server, error) {
	s := &server{cfg: cfg, logger: logger, out: &syncWriter{w: out}}
	for _, opt := range opts {
		opt(s)
	}

	catalog, err := notify.LoadCatalog(cfg.Messages)
	if err != nil {
		return nil, err
	}
	s.catalog = catalog

	if s.store == nil {
		st, kind, err := backend.Open(ctx, cfg.Backend(), logger)
		if err != nil {
			return nil, oops.Code("STORE_OPEN_FAILED").With("database", cfg.Database).Wrap(err)
		}
		logger.Info("credential store opened", "database", string(kind))
		s.store = st
	}
	if s.hasher == nil {
		s.hasher = auth.NewBcryptHasher(cfg.CostFactor)
	}

	s.loop = pipeline.NewLoop(logger)
	runner := pipeline.NewRunner(context.Background(), s.loop, logger)
	notifier := notify.Fanout{
		notify.NewLogNotifier(logger, catalog),
		notify.Func(func(_ context.Context, ev notify.Event) {
			if c := s.active.Load(); c != nil {
				c.event(ev)
			}
		}),
	}
	cache := session.NewCache()

	s.engine = engine.New(s.store, cache, runner, s.hasher, notifier, cfg.Engine(), engine.WithLogger(logger))
	s.gate = gate.New(s.store, cfg.Gate(), s.engine.Ready, logger)
	s.sweeper = sweep.New(s.store, cache, runner, notifier, cfg.Sweep(), sweep.WithLogger(logger))

	if cfg.Metrics.Addr != "" {
		var cs []prometheus.Collector
		cs = append(cs, session.Collectors()...)
		cs = append(cs, pipeline.Collectors()...)
		cs = append(cs, gate.Collectors()...)
		cs = append(cs, sweep.Collectors()...)
		cs = append(cs, engine.Collectors()...)
		s.obs, err = observability.NewServer(cfg.Metrics.Addr, s.engine.Ready, cs...)
		if err != nil {
			_ = s.store.Close()
			return nil, err
		}
	}
	return s, nil
}

// start runs the foreground loop, begins preparing default credentials and
// starts the sweeper and the health endpoints. The returned channel closes
// once the engine is ready or preparation failed.
func (s *server) start(ctx context.Context) (<-chan struct{}, <-chan error, error) {
	loopCtx, cancel := context.WithCancel(context.Background())
	s.stopLoop = cancel
	s.loopDone = make(chan struct{})
	go func() {
		defer close(s.loopDone)
		_ = s.loop.Run(loopCtx)
	}()

	var obsErr <-chan error
	if s.obs != nil {
		var err error
		if obsErr, err = s.obs.Start(); err != nil {
			cancel()
			<-s.loopDone
			return nil, nil, err
		}
	}

	var ready <-chan struct{}
	if err := s.loop.Do(ctx, func() { ready = s.engine.Start() }); err != nil {
		return nil, obsErr, err
	}
	s.sweeper.Start(ctx)
	return ready, obsErr, nil
}

// shutdown stops the sweeper, drains in-flight chains, then stops the loop,
// the health endpoints and the store.
func (s *server) shutdown() {
	s.sweeper.Stop()
	s.engine.Wait()
	if s.stopLoop != nil {
		s.stopLoop()
		<-s.loopDone
	}

	if s.obs != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.obs.Stop(shutdownCtx); err != nil {
			errutil.LogWarn(s.logger, "error stopping observability server", err)
		}
	}
	if err := s.store.Close(); err != nil {
		errutil.LogWarn(s.logger, "error closing credential store", err)
	}
	s.logger.Info("shutdown complete")
}

// runServe runs until ctx ends, the health server fails, or, when in is
// non-nil, the console input is exhausted.
func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger, in io.Reader, out io.Writer, opts ...serverOption) error {
	s, err := newServer(ctx, cfg, logger, out, opts...)
	if err != nil {
		return err
	}
	ready, obsErr, err := s.start(ctx)
	if err != nil {
		s.shutdown()
		return err
	}
	defer s.shutdown()

	select {
	case <-ready:
	case <-ctx.Done():
		return nil
	}
	logger.Info("duoauth ready", "database", cfg.Database, "metrics_addr", cfg.Metrics.Addr)

	// The console must be drained before the deferred shutdown waits on
	// in-flight chains; a line still executing could otherwise start one.
	consoleCtx, stopConsole := context.WithCancel(ctx)
	defer stopConsole()
	var consoleDone chan error
	if in != nil {
		consoleDone = make(chan error, 1)
		c := newConsole(s)
		s.active.Store(c)
		go func() { consoleDone <- c.Run(consoleCtx, in) }()
	}
	drain := func() {
		stopConsole()
		if consoleDone != nil {
			<-consoleDone
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			drain()
			return nil
		case err := <-consoleDone:
			return err
		case err, ok := <-obsErr:
			if ok && err != nil {
				drain()
				return oops.Code("OBSERVABILITY_FAILED").Wrap(err)
			}
			obsErr = nil
		}
	}
}
