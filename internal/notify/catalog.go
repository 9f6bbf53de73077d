// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"os"
	"sort"
	"strings"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/holomush/duoauth/internal/auth"
)

// Catalog maps event kinds and attempt outcomes to message templates.
// Templates use {name} placeholders filled from event attributes; {id} is
// always the identity.
type Catalog struct {
	Prefix   string                  `yaml:"prefix"`
	Events   map[Kind]string         `yaml:"events"`
	Outcomes map[auth.Outcome]string `yaml:"outcomes"`
}

// DefaultCatalog returns the built-in messages.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Prefix: "[DuoAuth] ",
		Events: map[Kind]string{
			KindSessionExpired:      "Your session has expired. Please authenticate again.",
			KindLocked:              "Too many failed attempts. Your account is locked; contact an administrator.",
			KindKicked:              "Your credentials were reset by an administrator. Please reconnect.",
			KindEnforced:            "You are required to authenticate. Your default credentials have been set; change them with /auth reset.",
			KindEnforcedSetup:       "User {id} is required to authenticate; default credentials were set up.",
			KindEnforcedSetupFailed: "User {id} is required to authenticate but setting up default credentials failed.",
			KindDeauthed:            "You have been deauthenticated.",
			KindCredentialsReset:    "Your password and PIN have been changed.",
			KindAttemptsCleared:     "Failed attempts for {id} were cleared.",
		},
		Outcomes: map[auth.Outcome]string{
			auth.OutcomeSuccess:              "You have successfully authenticated.",
			auth.OutcomeWrongCredentials:     "Failed to authenticate. Attempts: {attempts}.",
			auth.OutcomeAlreadyAuthenticated: "You are already authenticated.",
			auth.OutcomeLockedOut:            "Too many failed attempts. Your account is locked.",
			auth.OutcomeInProgress:           "Authentication is already in progress.",
			auth.OutcomeMustWait:             "Please wait before trying again.",
			auth.OutcomeNotRegistered:        "You are not registered for authentication.",
			auth.OutcomeUnavailable:          "Authentication is temporarily unavailable.",
		},
	}
}

// ParseCatalog decodes a YAML catalog and layers it over the defaults.
// Unknown event kinds or outcomes are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	var overlay Catalog
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, oops.Code("CATALOG_INVALID").Wrapf(err, "invalid YAML")
	}

	c := DefaultCatalog()
	if overlay.Prefix != "" {
		c.Prefix = overlay.Prefix
	}
	for k, v := range overlay.Events {
		if _, ok := c.Events[k]; !ok {
			return nil, oops.Code("CATALOG_INVALID").With("event", string(k)).Errorf("unknown event kind %q", k)
		}
		c.Events[k] = v
	}
	for k, v := range overlay.Outcomes {
		if _, ok := c.Outcomes[k]; !ok {
			return nil, oops.Code("CATALOG_INVALID").With("outcome", string(k)).Errorf("unknown outcome %q", k)
		}
		c.Outcomes[k] = v
	}
	return c, nil
}

// LoadCatalog reads a catalog file. An empty path returns the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, oops.Code("CATALOG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return ParseCatalog(data)
}

// Render returns the prefixed message for ev.
func (c *Catalog) Render(ev Event) string {
	tmpl, ok := c.Events[ev.Kind]
	if !ok {
		tmpl = string(ev.Kind)
	}
	return c.Prefix + fill(tmpl, ev.Identity.String(), ev.Attrs)
}

// RenderOutcome returns the prefixed message for an attempt outcome.
func (c *Catalog) RenderOutcome(o auth.Outcome, attrs map[string]string) string {
	tmpl, ok := c.Outcomes[o]
	if !ok {
		tmpl = string(o)
	}
	return c.Prefix + fill(tmpl, attrs["id"], attrs)
}

func fill(tmpl, id string, attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := []string{"{id}", id}
	for _, k := range keys {
		if k == "id" {
			continue
		}
		pairs = append(pairs, "{"+k+"}", attrs[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
