// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/notify"
	"github.com/holomush/duoauth/internal/pipeline"
	"github.com/holomush/duoauth/internal/session"
	"github.com/holomush/duoauth/pkg/errutil"
)

// ErrNotAuthenticated is returned when a self-service action needs an
// authenticated session.
var ErrNotAuthenticated = oops.Code("AUTH_NOT_AUTHENTICATED").Errorf("identity is not authenticated")

type manageScratch struct {
	locked
	password string
	pin      string
}

// run builds the common shape of a management chain: lock, store work,
// cache work, reply.
func (e *Engine) run(name string, sc *manageScratch,
	store func(context.Context, *manageScratch) error,
	apply func(*manageScratch),
	reply func(error),
) <-chan struct{} {
	respond := func(err error) {
		if reply != nil {
			reply(err)
		}
	}
	return pipeline.New(e.runner, name, sc).
		Async(func(ctx context.Context, sc *manageScratch) error {
			sc.acquire(e.cache)
			return store(ctx, sc)
		}).
		Sync(func(sc *manageScratch) error {
			apply(sc)
			respond(nil)
			return nil
		}).
		Failed(func(sc *manageScratch, err error) {
			errutil.LogError(e.logger, name+" failed", err, "id", sc.id.String())
			respond(err)
		}).
		Finally(func(sc *manageScratch) { sc.release() }).
		Execute()
}

// requireRecord fails with a not-found error when id has no record.
func (e *Engine) requireRecord(ctx context.Context, id uuid.UUID) error {
	ok, err := e.store.Contains(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return credential.NotFound(id)
	}
	return nil
}

// Reset replaces the password and PIN of an authenticated identity after
// validating them against the policy.
func (e *Engine) Reset(id uuid.UUID, password, pin string, reply func(error)) <-chan struct{} {
	entry, ok := e.cache.Get(id)
	if !ok || !entry.Authed {
		return replyNow(reply, ErrNotAuthenticated)
	}
	if err := e.cfg.Policy.Validate(password, pin); err != nil {
		return replyNow(reply, err)
	}

	sc := &manageScratch{locked: locked{id: id}, password: password, pin: pin}
	return e.run("reset", sc,
		func(ctx context.Context, sc *manageScratch) error {
			pwHash, err := e.hasher.Hash(sc.password)
			if err != nil {
				return err
			}
			pinHash, err := e.hasher.Hash(sc.pin)
			if err != nil {
				return err
			}
			if err := e.store.WriteCredentials(ctx, sc.id, pwHash, pinHash); err != nil {
				return err
			}
			sc.password, sc.pin = pwHash, pinHash
			return nil
		},
		func(sc *manageScratch) {
			if e.cache.Mutate(sc.id, func(en *session.Entry) {
				en.PasswordHash, en.PinHash = sc.password, sc.pin
			}) {
				e.notify(notify.KindCredentialsReset, notify.AudienceUser, sc.id)
			}
		},
		reply)
}

// Deauth clears the authenticated flag of id at its own request.
func (e *Engine) Deauth(id uuid.UUID, reply func(error)) <-chan struct{} {
	entry, ok := e.cache.Get(id)
	if !ok || !entry.Authed {
		return replyNow(reply, ErrNotAuthenticated)
	}
	return e.deauth("deauth", id, reply)
}

// AdminDeauth clears the authenticated flag of target, online or not.
func (e *Engine) AdminDeauth(target uuid.UUID, reply func(error)) <-chan struct{} {
	return e.deauth("admin-deauth", target, reply)
}

func (e *Engine) deauth(name string, id uuid.UUID, reply func(error)) <-chan struct{} {
	return e.run(name, &manageScratch{locked: locked{id: id}},
		func(ctx context.Context, sc *manageScratch) error {
			if err := e.requireRecord(ctx, sc.id); err != nil {
				return err
			}
			return e.store.WriteAuthed(ctx, sc.id, false)
		},
		func(sc *manageScratch) {
			if e.cache.Mutate(sc.id, func(en *session.Entry) { en.Authed = false }) {
				e.notify(notify.KindDeauthed, notify.AudienceUser, sc.id)
			}
		},
		reply)
}

// AdminAllow clears the failed-attempt count of target, lifting a lockout.
func (e *Engine) AdminAllow(target uuid.UUID, reply func(error)) <-chan struct{} {
	return e.run("admin-allow", &manageScratch{locked: locked{id: target}},
		func(ctx context.Context, sc *manageScratch) error {
			if err := e.requireRecord(ctx, sc.id); err != nil {
				return err
			}
			return e.store.WriteAttempts(ctx, sc.id, 0)
		},
		func(sc *manageScratch) {
			e.cache.Mutate(sc.id, func(en *session.Entry) { en.Attempts = 0 })
			if e.cooldown != nil {
				e.cooldown.Release(sc.id)
			}
			e.notify(notify.KindAttemptsCleared, notify.AudienceOperator, sc.id)
		},
		reply)
}

// AdminReset deletes the record of target. A connected target loses its cache
// entry and is told to reconnect.
func (e *Engine) AdminReset(target uuid.UUID, reply func(error)) <-chan struct{} {
	return e.run("admin-reset", &manageScratch{locked: locked{id: target}},
		func(ctx context.Context, sc *manageScratch) error {
			return e.store.Delete(ctx, sc.id)
		},
		func(sc *manageScratch) {
			_, cached := e.cache.Get(sc.id)
			e.cache.Remove(sc.id)
			if cached && e.cache.Connected(sc.id) {
				e.notify(notify.KindKicked, notify.AudienceUser, sc.id)
			}
		},
		reply)
}

func replyNow(reply func(error), err error) <-chan struct{} {
	if reply != nil {
		reply(err)
	}
	return closed()
}
