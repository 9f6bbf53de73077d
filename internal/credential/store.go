// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the durable, pluggable credential backend keyed by identity.
//
// Each method is atomic for the field it touches. Nothing spans fields: a
// logical operation that writes several fields sequences the calls itself and
// tolerates partial application.
type Store interface {
	// Contains reports whether a record exists for id.
	Contains(ctx context.Context, id uuid.UUID) (bool, error)

	ReadPasswordHash(ctx context.Context, id uuid.UUID) (string, error)
	ReadPinHash(ctx context.Context, id uuid.UUID) (string, error)
	ReadAuthed(ctx context.Context, id uuid.UUID) (bool, error)
	ReadAttempts(ctx context.Context, id uuid.UUID) (int, error)
	ReadAddress(ctx context.Context, id uuid.UUID) (string, error)
	ReadTimestamp(ctx context.Context, id uuid.UUID) (time.Time, error)

	// WriteDefault creates the record for a never-seen identity with
	// authed=false, attempts=0 and the current time. It returns false when
	// the record could not be created, including when one already exists.
	WriteDefault(ctx context.Context, id uuid.UUID, passwordHash, pinHash, address string) (bool, error)

	WriteAuthed(ctx context.Context, id uuid.UUID, authed bool) error
	WriteAttempts(ctx context.Context, id uuid.UUID, attempts int) error
	WriteAddress(ctx context.Context, id uuid.UUID, address string) error
	WriteTimestamp(ctx context.Context, id uuid.UUID, t time.Time) error

	// WriteCredentials replaces both hashes in one write.
	WriteCredentials(ctx context.Context, id uuid.UUID, passwordHash, pinHash string) error

	// Delete removes the record for id.
	Delete(ctx context.Context, id uuid.UUID) error

	// AllIdentities returns a snapshot of every known identity.
	AllIdentities(ctx context.Context) ([]uuid.UUID, error)

	// Close releases backend resources.
	Close() error
}

// Read returns one field of the record for id, typed as string, bool, int or
// time.Time depending on the field.
func Read(ctx context.Context, s Store, id uuid.UUID, field Field) (any, error) {
	switch field {
	case FieldPasswordHash:
		return s.ReadPasswordHash(ctx, id)
	case FieldPinHash:
		return s.ReadPinHash(ctx, id)
	case FieldAuthed:
		return s.ReadAuthed(ctx, id)
	case FieldAttempts:
		return s.ReadAttempts(ctx, id)
	case FieldAddress:
		return s.ReadAddress(ctx, id)
	case FieldTimestamp:
		return s.ReadTimestamp(ctx, id)
	default:
		return nil, UnknownField(field)
	}
}

// Load reads every field of the record for id.
func Load(ctx context.Context, s Store, id uuid.UUID) (Record, error) {
	rec := Record{ID: id}
	var err error
	if rec.PasswordHash, err = s.ReadPasswordHash(ctx, id); err != nil {
		return Record{}, err
	}
	if rec.PinHash, err = s.ReadPinHash(ctx, id); err != nil {
		return Record{}, err
	}
	if rec.Authed, err = s.ReadAuthed(ctx, id); err != nil {
		return Record{}, err
	}
	if rec.Attempts, err = s.ReadAttempts(ctx, id); err != nil {
		return Record{}, err
	}
	if rec.Address, err = s.ReadAddress(ctx, id); err != nil {
		return Record{}, err
	}
	if rec.Timestamp, err = s.ReadTimestamp(ctx, id); err != nil {
		return Record{}, err
	}
	return rec, nil
}
