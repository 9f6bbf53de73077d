// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify carries semantic events from the engine to whatever renders
// them for users and operators.
package notify

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Kind identifies an event.
type Kind string

// Event kinds.
const (
	KindSessionExpired      Kind = "session-expired"
	KindLocked              Kind = "locked"
	KindKicked              Kind = "kicked"
	KindEnforced            Kind = "enforced"
	KindEnforcedSetup       Kind = "enforced-setup"
	KindEnforcedSetupFailed Kind = "enforced-setup-failed"
	KindDeauthed            Kind = "deauthed"
	KindCredentialsReset    Kind = "credentials-reset"
	KindAttemptsCleared     Kind = "attempts-cleared"
)

// Audience says who an event is for.
type Audience string

// Audiences.
const (
	AudienceUser     Audience = "user"
	AudienceOperator Audience = "operator"
)

// Event is one notification. Attrs carries values for message placeholders.
type Event struct {
	ID       ulid.ULID
	Kind     Kind
	Identity uuid.UUID
	Audience Audience
	Time     time.Time
	Attrs    map[string]string
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New builds an event stamped now. attrs are key/value pairs.
func New(kind Kind, audience Audience, identity uuid.UUID, attrs ...string) Event {
	now := time.Now()
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), entropy)
	entropyLock.Unlock()

	ev := Event{ID: id, Kind: kind, Identity: identity, Audience: audience, Time: now.UTC()}
	if len(attrs) > 0 {
		ev.Attrs = make(map[string]string, len(attrs)/2)
		for i := 0; i+1 < len(attrs); i += 2 {
			ev.Attrs[attrs[i]] = attrs[i+1]
		}
	}
	return ev
}

// Notifier delivers events. Implementations must not block; the engine calls
// Notify from the foreground.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, ev Event)

func (f Func) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Fanout delivers each event to every notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, ev Event) {
	for _, n := range f {
		n.Notify(ctx, ev)
	}
}

// LogNotifier writes rendered events to a logger.
type LogNotifier struct {
	logger  *slog.Logger
	catalog *Catalog
}

// NewLogNotifier creates a LogNotifier. A nil catalog uses the defaults.
func NewLogNotifier(logger *slog.Logger, catalog *Catalog) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &LogNotifier{logger: logger, catalog: catalog}
}

func (n *LogNotifier) Notify(ctx context.Context, ev Event) {
	n.logger.InfoContext(ctx, n.catalog.Render(ev),
		"event", string(ev.Kind),
		"event_id", ev.ID.String(),
		"audience", string(ev.Audience),
		"id", ev.Identity.String(),
	)
}

var (
	_ Notifier = Func(nil)
	_ Notifier = Fanout(nil)
	_ Notifier = (*LogNotifier)(nil)
)
