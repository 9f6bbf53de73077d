// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg locates duoauth files under the XDG Base Directory layout.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "duoauth"

// ConfigFileName is the config file looked up in ConfigDir.
const ConfigFileName = "duoauth.yaml"

// ConfigDir returns the XDG config directory for duoauth.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default config file path and whether it exists.
func ConfigFile() (string, bool) {
	path := filepath.Join(ConfigDir(), ConfigFileName)
	info, err := os.Stat(path)
	return path, err == nil && !info.IsDir()
}
