// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package backend selects and opens the configured credential.Store.
package backend

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/credential/jsonfile"
	"github.com/holomush/duoauth/internal/credential/postgres"
	"github.com/holomush/duoauth/internal/credential/redisstore"
	"github.com/holomush/duoauth/internal/credential/sqlite"
)

// Kind names a storage backend.
type Kind string

// Supported backends.
const (
	KindJSON     Kind = "json"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
	KindRedis    Kind = "redis"
)

// Config holds every backend's settings; only the selected one is read.
type Config struct {
	Kind        string
	DataDir     string
	SQLitePath  string
	PostgresURL string
	Redis       redisstore.Options
	// ConnectAttempts bounds connection retries for network backends.
	ConnectAttempts uint64
	ConnectBackoff  time.Duration
}

// Warning describes a configuration value that was replaced by a fallback.
type Warning struct {
	Key     string
	Value   string
	Message string
}

// Resolve returns the backend kind for cfg. Unknown names, and network
// backends without an address, fall back to json with a warning.
func Resolve(cfg Config) (Kind, []Warning) {
	name := strings.ToLower(strings.TrimSpace(cfg.Kind))
	switch Kind(name) {
	case KindJSON:
		return KindJSON, nil
	case KindSQLite:
		return KindSQLite, nil
	case KindPostgres:
		if cfg.PostgresURL == "" {
			return KindJSON, []Warning{{
				Key: "storage.postgres-url", Value: "",
				Message: "postgres selected without a connection url; using json",
			}}
		}
		return KindPostgres, nil
	case KindRedis:
		if cfg.Redis.Addr == "" {
			return KindJSON, []Warning{{
				Key: "storage.redis-addr", Value: "",
				Message: "redis selected without an address; using json",
			}}
		}
		return KindRedis, nil
	default:
		return KindJSON, []Warning{{
			Key: "database", Value: cfg.Kind,
			Message: "unknown database type; using json",
		}}
	}
}

// Open resolves and opens the configured store, applying migrations for the
// SQL backends. Network backends are retried with exponential backoff.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (credential.Store, Kind, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kind, warnings := Resolve(cfg)
	for _, w := range warnings {
		logger.Warn("configuration warning",
			"code", "CONFIG_WARNING", "key", w.Key, "value", w.Value, "message", w.Message)
	}

	switch kind {
	case KindSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, kind, err
		}
		return s, kind, nil
	case KindPostgres:
		var s *postgres.Store
		err := withRetry(ctx, cfg, logger, kind, func(ctx context.Context) error {
			if err := postgres.Migrate(cfg.PostgresURL); err != nil {
				return err
			}
			var err error
			s, err = postgres.Open(ctx, cfg.PostgresURL)
			return err
		})
		if err != nil {
			return nil, kind, err
		}
		return s, kind, nil
	case KindRedis:
		var s *redisstore.Store
		err := withRetry(ctx, cfg, logger, kind, func(ctx context.Context) error {
			var err error
			s, err = redisstore.Open(ctx, cfg.Redis)
			return err
		})
		if err != nil {
			return nil, kind, err
		}
		return s, kind, nil
	default:
		s, err := jsonfile.New(cfg.DataDir)
		if err != nil {
			return nil, KindJSON, err
		}
		return s, KindJSON, nil
	}
}

func withRetry(ctx context.Context, cfg Config, logger *slog.Logger, kind Kind, fn func(context.Context) error) error {
	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 5
	}
	base := cfg.ConnectBackoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	b := retry.WithMaxRetries(attempts-1, retry.NewExponential(base))

	try := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		try++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		logger.Warn("backend connection failed", "backend", string(kind), "attempt", try, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return oops.Code("STORE_UNAVAILABLE").
			With("backend", string(kind)).
			With("attempts", try).
			Wrapf(err, "open %s backend", kind)
	}
	return nil
}
