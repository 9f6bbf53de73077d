// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Sentinel errors. Backends wrap them with oops context; callers match with
// errors.Is.
var (
	// ErrNotFound is returned when reading or mutating an unknown identity.
	ErrNotFound = errors.New("identity not found")

	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("credential store unavailable")

	// ErrMalformed is returned when a stored field cannot be decoded.
	ErrMalformed = errors.New("malformed record")
)

// NotFound wraps ErrNotFound for id.
func NotFound(id uuid.UUID) error {
	return oops.Code("RECORD_NOT_FOUND").
		With("id", id.String()).
		Wrap(ErrNotFound)
}

// Unavailable wraps a backend failure so it matches ErrUnavailable while
// keeping the driver error in the chain.
func Unavailable(operation string, id uuid.UUID, err error) error {
	b := oops.Code("STORE_UNAVAILABLE").With("operation", operation)
	if id != uuid.Nil {
		b = b.With("id", id.String())
	}
	return b.Wrap(fmt.Errorf("%w: %w", ErrUnavailable, err))
}

// Malformed wraps a decode failure of field for id.
func Malformed(id uuid.UUID, field Field, err error) error {
	return oops.Code("MALFORMED_RECORD").
		With("id", id.String()).
		With("field", string(field)).
		Wrap(fmt.Errorf("%w: %w", ErrMalformed, err))
}

// UnknownField is returned by Read for a field outside Fields.
func UnknownField(field Field) error {
	return oops.Code("UNKNOWN_FIELD").
		With("field", string(field)).
		Errorf("unknown record field %q", field)
}
