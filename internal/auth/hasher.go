// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// Cost factor bounds for bcrypt.
const (
	MinCost     = 12
	MaxCost     = 30
	DefaultCost = MinCost
)

// ErrEmptySecret is returned when attempting to hash an empty password or PIN.
var ErrEmptySecret = oops.Code("AUTH_EMPTY_SECRET").Errorf("secret cannot be empty")

// Hasher hashes and verifies passwords and PINs.
type Hasher interface {
	// Hash produces a one-way hash of secret.
	Hash(secret string) (string, error)

	// Verify checks secret against hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(secret, hash string) (bool, error)

	// NeedsUpgrade returns true if hash was produced with weaker parameters
	// than the hasher currently uses.
	NeedsUpgrade(hash string) bool
}

// ClampCost bounds cost to [MinCost, MaxCost] and reports whether it changed.
func ClampCost(cost int) (int, bool) {
	switch {
	case cost < MinCost:
		return MinCost, true
	case cost > MaxCost:
		return MaxCost, true
	default:
		return cost, false
	}
}

// BcryptHasher implements Hasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. Out-of-range costs are clamped.
func NewBcryptHasher(cost int) *BcryptHasher {
	cost, _ = ClampCost(cost)
	return &BcryptHasher{cost: cost}
}

// Cost returns the effective cost factor.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash produces a bcrypt hash of secret.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").With("cost", h.cost).Wrap(err)
	}
	return string(out), nil
}

// Verify compares secret with hash in constant time.
func (h *BcryptHasher) Verify(secret, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
}

// NeedsUpgrade returns true if hash is not bcrypt or uses a lower cost.
func (h *BcryptHasher) NeedsUpgrade(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}

// Compile-time interface check.
var _ Hasher = (*BcryptHasher)(nil)
