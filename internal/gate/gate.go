// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package gate decides whether a connecting identity may be admitted.
package gate

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/logging"
	"github.com/holomush/duoauth/pkg/errutil"
)

// Reason explains a denial.
type Reason string

// Denial reasons.
const (
	ReasonNone        Reason = ""
	ReasonLocked      Reason = "locked"
	ReasonLoading     Reason = "loading"
	ReasonUnavailable Reason = "unavailable"
)

// Decision is the result of a Check.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Deauthed is set when an address change cleared the stored authed flag.
	Deauthed bool
}

// Config holds the admission policy.
type Config struct {
	MaxAttempts int
	// AddressChangeReauth forces re-authentication when the connecting
	// address differs from the last recorded one.
	AddressChangeReauth bool
}

var decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "duoauth_gate_decisions_total",
	Help: "Total number of pre-admission decisions by outcome",
}, []string{"decision"})

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{decisionsTotal}
}

// Gate reads the credential store and decides admission. Check blocks on
// store I/O and must be called off the foreground.
type Gate struct {
	store  credential.Store
	cfg    Config
	ready  func() bool
	logger *slog.Logger
}

// New creates a Gate. ready reports whether the engine has finished loading;
// nil means always ready.
func New(store credential.Store, cfg Config, ready func() bool, logger *slog.Logger) *Gate {
	if ready == nil {
		ready = func() bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, cfg: cfg, ready: ready, logger: logger}
}

// Check decides whether id, connecting from address, may be admitted. The
// returned error is non-nil only with a ReasonUnavailable denial.
func (g *Gate) Check(ctx context.Context, id uuid.UUID, address string) (Decision, error) {
	ctx = logging.WithIdentity(ctx, id)
	d, err := g.check(ctx, id, address)
	label := "allowed"
	if !d.Allowed {
		label = string(d.Reason)
	}
	decisionsTotal.WithLabelValues(label).Inc()
	if err != nil {
		errutil.LogError(g.logger, "admission check failed", err, "id", id.String())
	}
	return d, err
}

func (g *Gate) check(ctx context.Context, id uuid.UUID, address string) (Decision, error) {
	if !g.ready() {
		return Decision{Reason: ReasonLoading}, nil
	}

	known, err := g.store.Contains(ctx, id)
	if err != nil {
		return Decision{Reason: ReasonUnavailable}, err
	}
	if !known {
		return Decision{Allowed: true}, nil
	}

	attempts, err := g.store.ReadAttempts(ctx, id)
	if err != nil {
		return Decision{Reason: ReasonUnavailable}, err
	}
	if attempts >= g.cfg.MaxAttempts {
		g.logger.InfoContext(ctx, "admission denied: locked out", "attempts", attempts)
		return Decision{Reason: ReasonLocked}, nil
	}

	if !g.cfg.AddressChangeReauth {
		return Decision{Allowed: true}, nil
	}
	last, err := g.store.ReadAddress(ctx, id)
	if err != nil {
		return Decision{Reason: ReasonUnavailable}, err
	}
	if last == address {
		return Decision{Allowed: true}, nil
	}
	if err := g.store.WriteAuthed(ctx, id, false); err != nil {
		return Decision{Reason: ReasonUnavailable}, err
	}
	g.logger.InfoContext(ctx, "address changed; authentication cleared",
		"previous", last, "current", address)
	return Decision{Allowed: true, Deauthed: true}, nil
}
