// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth holds the authentication primitives the engine builds on.
//
// # Hashing
//
// Hasher is the one-way boundary for passwords and PINs. BcryptHasher is the
// production implementation; its cost factor is clamped to [MinCost, MaxCost].
// Raw secrets never cross into the credential store.
//
// # Policy
//
// Policy validates new passwords and PINs before a credential reset is
// hashed and written.
//
// # Outcomes
//
// Outcome enumerates the results of an authentication attempt. Lockout and
// already-authenticated are outcomes, not errors.
//
// # Cooldown
//
// Cooldown limits how often an identity may submit an attempt.
package auth
