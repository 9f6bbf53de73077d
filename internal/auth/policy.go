// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"unicode"

	"github.com/samber/oops"
)

// Policy rule names reported in AUTH_POLICY_VIOLATION errors.
const (
	RulePasswordLength  = "password_min_length"
	RulePasswordCases   = "password_both_cases"
	RulePasswordNumbers = "password_numbers"
	RulePasswordSpecial = "password_special_chars"
	RulePinNumeric      = "pin_numeric"
	RulePinLength       = "pin_min_length"
)

// Policy describes the requirements for a new password and PIN.
type Policy struct {
	PasswordMinLength int
	BothCases         bool
	Numbers           bool
	SpecialChars      bool
	PinMinLength      int
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{PasswordMinLength: 8, PinMinLength: 4}
}

func violation(rule, msg string) error {
	return oops.Code("AUTH_POLICY_VIOLATION").With("rule", rule).Errorf("%s", msg)
}

// ValidatePassword checks password against the policy.
func (p Policy) ValidatePassword(password string) error {
	if len([]rune(password)) < p.PasswordMinLength {
		return violation(RulePasswordLength, "password is too short")
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			special = true
		}
	}
	if p.BothCases && !(upper && lower) {
		return violation(RulePasswordCases, "password needs upper and lower case letters")
	}
	if p.Numbers && !digit {
		return violation(RulePasswordNumbers, "password needs a number")
	}
	if p.SpecialChars && !special {
		return violation(RulePasswordSpecial, "password needs a special character")
	}
	return nil
}

// ValidatePin checks pin against the policy. PINs are always numeric.
func (p Policy) ValidatePin(pin string) error {
	if !IsNumeric(pin) {
		return violation(RulePinNumeric, "pin must contain only digits")
	}
	if len(pin) < p.PinMinLength {
		return violation(RulePinLength, "pin is too short")
	}
	return nil
}

// Validate checks both secrets, password first.
func (p Policy) Validate(password, pin string) error {
	if err := p.ValidatePassword(password); err != nil {
		return err
	}
	return p.ValidatePin(pin)
}

// IsNumeric reports whether s is a non-empty string of ASCII digits.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
