// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package credential defines the durable per-identity authentication record
// and the contract every storage backend implements.
package credential

import (
	"time"

	"github.com/google/uuid"
)

// Field names one persisted attribute of a Record.
type Field string

// Persisted fields. The string values double as column, hash-field and JSON
// key names in the backends.
const (
	FieldPasswordHash Field = "password"
	FieldPinHash      Field = "pin"
	FieldAuthed       Field = "authed"
	FieldAttempts     Field = "attempts"
	FieldAddress      Field = "ip"
	FieldTimestamp    Field = "timestamp"
)

// Fields lists every persisted field in storage order.
var Fields = []Field{
	FieldPasswordHash,
	FieldPinHash,
	FieldAuthed,
	FieldAttempts,
	FieldAddress,
	FieldTimestamp,
}

// Valid reports whether f names a persisted field.
func (f Field) Valid() bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}

// Record is the durable authentication state of one identity.
type Record struct {
	ID           uuid.UUID
	PasswordHash string
	PinHash      string
	Authed       bool
	Attempts     int
	Address      string
	Timestamp    time.Time
}

// NewDefaultRecord returns the record written when an identity is provisioned
// for the first time: not authenticated, no failed attempts, stamped at now.
func NewDefaultRecord(id uuid.UUID, passwordHash, pinHash, address string, now time.Time) Record {
	return Record{
		ID:           id,
		PasswordHash: passwordHash,
		PinHash:      pinHash,
		Address:      address,
		Timestamp:    now.UTC(),
	}
}

// FormatTimestamp renders t the way text-based backends persist it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses a persisted timestamp. A value that does not parse is
// reported as a malformed record.
func ParseTimestamp(id uuid.UUID, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, Malformed(id, FieldTimestamp, err)
	}
	return t, nil
}
