// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/notify"
	"github.com/holomush/duoauth/internal/pipeline"
	"github.com/holomush/duoauth/internal/session"
	"github.com/holomush/duoauth/pkg/errutil"
)

type joinScratch struct {
	locked
	address     string
	enforced    bool
	provisioned bool
	written     bool
	record      credential.Record
}

// Join marks id online and seeds its cache entry. Known identities are loaded
// from the store. Unknown identities are provisioned with the default
// credentials when enforced is set and otherwise left unmanaged.
func (e *Engine) Join(id uuid.UUID, address string, enforced bool) <-chan struct{} {
	e.cache.Connect(id)

	sc := &joinScratch{locked: locked{id: id}, address: address, enforced: enforced}
	return pipeline.New(e.runner, "join", sc).
		Async(e.joinLoad).
		Sync(e.joinApply).
		Failed(func(sc *joinScratch, err error) {
			errutil.LogError(e.logger, "join failed", err, "id", sc.id.String())
			if sc.provisioned {
				e.notify(notify.KindEnforcedSetupFailed, notify.AudienceOperator, sc.id)
			}
		}).
		Finally(func(sc *joinScratch) { sc.release() }).
		Execute()
}

func (e *Engine) joinLoad(ctx context.Context, sc *joinScratch) error {
	sc.acquire(e.cache)

	known, err := e.store.Contains(ctx, sc.id)
	if err != nil {
		return err
	}
	if known {
		sc.record, err = loadEntryFields(ctx, e.store, sc.id)
		return err
	}
	if !sc.enforced {
		return pipeline.Stop
	}

	defaults := e.defaults.Load()
	if defaults == nil {
		e.logger.Warn("enforced join before default credentials are ready", "id", sc.id.String())
		return pipeline.Stop
	}
	sc.provisioned = true
	sc.written, err = e.store.WriteDefault(ctx, sc.id, defaults.password, defaults.pin, sc.address)
	if err != nil {
		return err
	}
	sc.record = credential.NewDefaultRecord(sc.id, defaults.password, defaults.pin, sc.address, e.clock())
	return nil
}

// loadEntryFields reads everything the cache mirrors. The timestamp is left
// to the sweeper.
func loadEntryFields(ctx context.Context, s credential.Store, id uuid.UUID) (credential.Record, error) {
	rec := credential.Record{ID: id}
	var err error
	if rec.PasswordHash, err = s.ReadPasswordHash(ctx, id); err != nil {
		return rec, err
	}
	if rec.PinHash, err = s.ReadPinHash(ctx, id); err != nil {
		return rec, err
	}
	if rec.Authed, err = s.ReadAuthed(ctx, id); err != nil {
		return rec, err
	}
	if rec.Attempts, err = s.ReadAttempts(ctx, id); err != nil {
		return rec, err
	}
	if rec.Address, err = s.ReadAddress(ctx, id); err != nil {
		return rec, err
	}
	return rec, nil
}

func (e *Engine) joinApply(sc *joinScratch) error {
	if sc.provisioned {
		if !sc.written {
			e.notify(notify.KindEnforcedSetupFailed, notify.AudienceOperator, sc.id)
			return nil
		}
		e.notify(notify.KindEnforcedSetup, notify.AudienceOperator, sc.id)
	}

	entry := session.Entry{
		ID:           sc.id,
		Authed:       sc.record.Authed,
		Attempts:     sc.record.Attempts,
		Address:      sc.record.Address,
		PasswordHash: sc.record.PasswordHash,
		PinHash:      sc.record.PinHash,
	}
	if !e.cache.PutIfConnected(entry) {
		return nil
	}
	e.logger.Info("identity joined",
		"id", sc.id.String(),
		"authed", entry.Authed,
		"attempts", entry.Attempts,
		"address", entry.Address,
	)
	if sc.provisioned {
		e.notify(notify.KindEnforced, notify.AudienceUser, sc.id)
	}
	return nil
}
