// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/holomush/duoauth/internal/auth"
	"github.com/holomush/duoauth/internal/notify"
	"github.com/holomush/duoauth/internal/pipeline"
	"github.com/holomush/duoauth/internal/session"
	"github.com/holomush/duoauth/pkg/errutil"
)

// Attempt is the result of Authenticate.
type Attempt struct {
	Outcome auth.Outcome
	// Attempts is the failure count after the attempt.
	Attempts int
	// Wait is the remaining cooldown for OutcomeMustWait.
	Wait time.Duration
}

type authScratch struct {
	locked
	address      string
	password     string
	pin          string
	passwordHash string
	pinHash      string
	result       Attempt
	authed       bool
	// loaded is set once authed and result.Attempts reflect the store.
	loaded bool
	// rehashed is set when passwordHash and pinHash were rewritten at the
	// hasher's current cost.
	rehashed bool
}

// Authenticate checks password and pin for id, connecting from address.
// reply runs on the foreground with the outcome once known; it may be nil.
func (e *Engine) Authenticate(id uuid.UUID, address, password, pin string, reply func(Attempt)) <-chan struct{} {
	finish := func(a Attempt) {
		attemptsTotal.WithLabelValues(a.Outcome.String()).Inc()
		if reply != nil {
			reply(a)
		}
	}

	entry, ok := e.cache.Get(id)
	if early, stop := e.precheck(id, entry, ok); stop {
		finish(early)
		return closed()
	}
	e.cache.Mutate(id, func(en *session.Entry) { en.InProgress = true })

	sc := &authScratch{
		locked:       locked{id: id},
		address:      address,
		password:     password,
		pin:          pin,
		passwordHash: entry.PasswordHash,
		pinHash:      entry.PinHash,
	}
	return pipeline.New(e.runner, "authenticate", sc).
		Async(e.verify).
		Sync(func(sc *authScratch) error {
			e.cache.Mutate(sc.id, func(en *session.Entry) {
				en.InProgress = false
				en.Authed = sc.authed
				en.Attempts = sc.result.Attempts
				if sc.result.Outcome == auth.OutcomeSuccess {
					en.Address = sc.address
				}
				if sc.rehashed {
					en.PasswordHash = sc.passwordHash
					en.PinHash = sc.pinHash
				}
			})
			e.refund(sc.id, sc.result.Outcome)
			if sc.result.Outcome == auth.OutcomeWrongCredentials && sc.result.Attempts >= e.cfg.MaxAttempts {
				e.notify(notify.KindLocked, notify.AudienceUser, sc.id,
					"attempts", strconv.Itoa(sc.result.Attempts))
			}
			finish(sc.result)
			return nil
		}).
		Failed(func(sc *authScratch, err error) {
			errutil.LogError(e.logger, "authentication failed", err, "id", sc.id.String())
			e.cache.Mutate(sc.id, func(en *session.Entry) {
				en.InProgress = false
				if sc.loaded {
					en.Authed = sc.authed
					en.Attempts = sc.result.Attempts
				}
			})
			e.refund(sc.id, auth.OutcomeUnavailable)
			finish(Attempt{Outcome: auth.OutcomeUnavailable})
		}).
		Finally(func(sc *authScratch) { sc.release() }).
		Execute()
}

// precheck answers from the cache alone when it can.
func (e *Engine) precheck(id uuid.UUID, entry session.Entry, ok bool) (Attempt, bool) {
	switch {
	case !ok:
		return Attempt{Outcome: auth.OutcomeNotRegistered}, true
	case entry.InProgress:
		return Attempt{Outcome: auth.OutcomeInProgress, Attempts: entry.Attempts}, true
	case entry.Authed:
		return Attempt{Outcome: auth.OutcomeAlreadyAuthenticated, Attempts: entry.Attempts}, true
	case entry.Attempts >= e.cfg.MaxAttempts:
		return Attempt{Outcome: auth.OutcomeLockedOut, Attempts: entry.Attempts}, true
	}
	if e.cooldown != nil {
		if allowed, wait := e.cooldown.Take(id); !allowed {
			return Attempt{Outcome: auth.OutcomeMustWait, Attempts: entry.Attempts, Wait: wait}, true
		}
	}
	return Attempt{}, false
}

// refund gives back the cooldown slot of an attempt whose secrets were never
// checked.
func (e *Engine) refund(id uuid.UUID, o auth.Outcome) {
	if e.cooldown != nil && !o.Terminal() {
		e.cooldown.Release(id)
	}
}

// verify re-reads the authoritative state, checks the secrets against the
// cached hashes and records the result.
func (e *Engine) verify(ctx context.Context, sc *authScratch) error {
	sc.acquire(e.cache)

	authed, err := e.store.ReadAuthed(ctx, sc.id)
	if err != nil {
		return err
	}
	attempts, err := e.store.ReadAttempts(ctx, sc.id)
	if err != nil {
		return err
	}
	sc.authed = authed
	sc.result.Attempts = attempts
	sc.loaded = true
	if authed {
		sc.result.Outcome = auth.OutcomeAlreadyAuthenticated
		return nil
	}
	if attempts >= e.cfg.MaxAttempts {
		sc.result.Outcome = auth.OutcomeLockedOut
		return nil
	}

	ok, err := e.secretsMatch(sc)
	if err != nil {
		return err
	}
	if !ok {
		attempts++
		if err := e.store.WriteAttempts(ctx, sc.id, attempts); err != nil {
			return err
		}
		sc.result = Attempt{Outcome: auth.OutcomeWrongCredentials, Attempts: attempts}
		return nil
	}

	if err := e.store.WriteAuthed(ctx, sc.id, true); err != nil {
		return err
	}
	sc.authed = true
	if err := e.store.WriteAttempts(ctx, sc.id, 0); err != nil {
		return err
	}
	sc.result = Attempt{Outcome: auth.OutcomeSuccess}
	if err := e.store.WriteAddress(ctx, sc.id, sc.address); err != nil {
		return err
	}
	if err := e.store.WriteTimestamp(ctx, sc.id, e.clock()); err != nil {
		return err
	}
	e.upgradeHashes(ctx, sc)
	return nil
}

// upgradeHashes rewrites hashes made with weaker parameters. The attempt has
// already succeeded, so failures are logged and the old hashes stay in use.
func (e *Engine) upgradeHashes(ctx context.Context, sc *authScratch) {
	if !e.hasher.NeedsUpgrade(sc.passwordHash) && !e.hasher.NeedsUpgrade(sc.pinHash) {
		return
	}
	passwordHash, err := e.hasher.Hash(sc.password)
	if err != nil {
		errutil.LogError(e.logger, "hash upgrade failed", err, "id", sc.id.String())
		return
	}
	pinHash, err := e.hasher.Hash(sc.pin)
	if err != nil {
		errutil.LogError(e.logger, "hash upgrade failed", err, "id", sc.id.String())
		return
	}
	if err := e.store.WriteCredentials(ctx, sc.id, passwordHash, pinHash); err != nil {
		errutil.LogError(e.logger, "hash upgrade failed", err, "id", sc.id.String())
		return
	}
	sc.passwordHash, sc.pinHash = passwordHash, pinHash
	sc.rehashed = true
	e.logger.InfoContext(ctx, "credential hashes upgraded", "id", sc.id.String())
}

// secretsMatch verifies both secrets; both are always checked.
func (e *Engine) secretsMatch(sc *authScratch) (bool, error) {
	pwOK, err := e.hasher.Verify(sc.password, sc.passwordHash)
	if err != nil {
		return false, err
	}
	pinOK, err := e.hasher.Verify(sc.pin, sc.pinHash)
	if err != nil {
		return false, err
	}
	return pwOK && pinOK, nil
}

func closed() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
