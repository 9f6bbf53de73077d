// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides fast Hasher doubles for tests.
package authtest

import (
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/duoauth/internal/auth"
)

const (
	prefix       = "plain$"
	legacyPrefix = "legacy$"
)

// PlainHasher stores secrets with a marker prefix. It is not a hash and
// exists only so tests avoid bcrypt's cost.
type PlainHasher struct {
	// Gate, when set, is received from before each Verify returns.
	Gate chan struct{}
}

func (h *PlainHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", auth.ErrEmptySecret
	}
	return prefix + secret, nil
}

func (h *PlainHasher) Verify(secret, hash string) (bool, error) {
	if h.Gate != nil {
		<-h.Gate
	}
	stored, ok := strings.CutPrefix(hash, prefix)
	if !ok {
		stored, ok = strings.CutPrefix(hash, legacyPrefix)
	}
	if !ok {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("not a plain hash")
	}
	return stored == secret, nil
}

func (h *PlainHasher) NeedsUpgrade(hash string) bool {
	return !strings.HasPrefix(hash, prefix)
}

// MustHash returns the stored form of secret.
func MustHash(secret string) string {
	return prefix + secret
}

// LegacyHash returns a stored form of secret that verifies but reports as
// needing an upgrade.
func LegacyHash(secret string) string {
	return legacyPrefix + secret
}

var _ auth.Hasher = (*PlainHasher)(nil)
