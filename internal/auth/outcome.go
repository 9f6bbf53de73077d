// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

// Outcome is the result of an authentication attempt.
type Outcome string

// Attempt outcomes.
const (
	OutcomeSuccess              Outcome = "success"
	OutcomeWrongCredentials     Outcome = "wrong-credentials"
	OutcomeAlreadyAuthenticated Outcome = "already-authenticated"
	OutcomeLockedOut            Outcome = "locked-out"
	OutcomeInProgress           Outcome = "in-progress"
	OutcomeMustWait             Outcome = "must-wait"
	OutcomeNotRegistered        Outcome = "not-registered"
	OutcomeUnavailable          Outcome = "unavailable"
)

// Outcomes lists every outcome. Metrics pre-register one label per entry.
var Outcomes = []Outcome{
	OutcomeSuccess,
	OutcomeWrongCredentials,
	OutcomeAlreadyAuthenticated,
	OutcomeLockedOut,
	OutcomeInProgress,
	OutcomeMustWait,
	OutcomeNotRegistered,
	OutcomeUnavailable,
}

func (o Outcome) String() string {
	return string(o)
}

// Terminal reports whether the secrets were checked against the stored
// hashes. Attempts that end any other way give back their cooldown slot.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeSuccess, OutcomeWrongCredentials:
		return true
	default:
		return false
	}
}
