// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads and normalizes duoauth configuration from a YAML file
// and command-line flags.
package config

import (
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/duoauth/internal/auth"
	"github.com/holomush/duoauth/internal/credential/backend"
	"github.com/holomush/duoauth/internal/credential/redisstore"
	"github.com/holomush/duoauth/internal/engine"
	"github.com/holomush/duoauth/internal/gate"
	"github.com/holomush/duoauth/internal/sweep"
	"github.com/holomush/duoauth/internal/xdg"
)

// Config is the full configuration surface.
type Config struct {
	Database   string   `koanf:"database"`
	Storage    Storage  `koanf:"storage"`
	CostFactor int      `koanf:"cost-factor"`
	Deauth     Deauth   `koanf:"deauth"`
	Command    Command  `koanf:"command"`
	Password   Password `koanf:"password"`
	Pin        Pin      `koanf:"pin"`
	Log        Log      `koanf:"log"`
	Metrics    Metrics  `koanf:"metrics"`
	// Messages is an optional message catalog file.
	Messages string `koanf:"messages"`
}

// Storage configures every backend.
type Storage struct {
	DataDir       string `koanf:"data-dir"`
	SQLitePath    string `koanf:"sqlite-path"`
	PostgresURL   string `koanf:"postgres-url"`
	RedisAddr     string `koanf:"redis-addr"`
	RedisPassword string `koanf:"redis-password"`
	RedisDB       int    `koanf:"redis-db"`
	RedisPrefix   string `koanf:"redis-prefix"`
}

// Deauth configures expiry. Timeout is in hours, the interval in minutes.
type Deauth struct {
	Timeout              int  `koanf:"timeout"`
	TimeoutCheckInterval int  `koanf:"timeout-check-interval"`
	TimeoutOnline        bool `koanf:"timeout-online"`
	IPChanges            bool `koanf:"ip-changes"`
}

// Command configures attempt limits. Cooldown is in seconds.
type Command struct {
	Attempts int `koanf:"attempts"`
	Cooldown int `koanf:"cooldown"`
}

// Password configures the default password and reset policy.
type Password struct {
	Default      string `koanf:"default"`
	MinLength    int    `koanf:"min-length"`
	BothCases    bool   `koanf:"both-cases"`
	Numbers      bool   `koanf:"numbers"`
	SpecialChars bool   `koanf:"special-chars"`
}

// Pin configures the default PIN and reset policy.
type Pin struct {
	Default   string `koanf:"default"`
	MinLength int    `koanf:"min-length"`
}

// Log configures log output.
type Log struct {
	Format string `koanf:"format"`
}

// Metrics configures the observability server; an empty Addr disables it.
type Metrics struct {
	Addr string `koanf:"addr"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Database: string(backend.KindJSON),
		Storage: Storage{
			DataDir:     "data",
			SQLitePath:  "data/duoauth.db",
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "duoauth",
		},
		CostFactor: auth.DefaultCost,
		Deauth: Deauth{
			Timeout:              48,
			TimeoutCheckInterval: 5,
			IPChanges:            true,
		},
		Command:  Command{Attempts: 5, Cooldown: 20},
		Password: Password{Default: "pass1234", MinLength: 8},
		Pin:      Pin{Default: "1234", MinLength: 4},
		Log:      Log{Format: "json"},
		Metrics:  Metrics{Addr: "127.0.0.1:9100"},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"database":     "database",
	"data-dir":     "storage.data-dir",
	"sqlite-path":  "storage.sqlite-path",
	"postgres-url": "storage.postgres-url",
	"redis-addr":   "storage.redis-addr",
	"cost-factor":  "cost-factor",
	"log-format":   "log.format",
	"metrics-addr": "metrics.addr",
	"messages":     "messages",
}

// Locate returns path, or the XDG default config file when path is empty and
// that file exists. It returns "" when there is nothing to read.
func Locate(path string) string {
	if path != "" {
		return path
	}
	if def, ok := xdg.ConfigFile(); ok {
		return def
	}
	return ""
}

// Load reads path (skipped when empty) and overlays the flags in fs that were
// set explicitly. The result is not normalized.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return cfg, nil
}

// RegisterFlags adds the overridable flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("database", d.Database, "credential backend (json, sqlite, postgres, redis)")
	fs.String("data-dir", d.Storage.DataDir, "directory for the json backend")
	fs.String("sqlite-path", d.Storage.SQLitePath, "database file for the sqlite backend")
	fs.String("postgres-url", d.Storage.PostgresURL, "connection url for the postgres backend")
	fs.String("redis-addr", d.Storage.RedisAddr, "address of the redis backend")
	fs.Int("cost-factor", d.CostFactor, "bcrypt cost factor (12-30)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("messages", d.Messages, "message catalog YAML file")
}

// Warning records a value that was replaced during normalization.
type Warning struct {
	Key   string
	Value string
	Used  string
}

// Normalize replaces invalid values with defaults and reports each change.
func (c *Config) Normalize() []Warning {
	d := Default()
	var warnings []Warning
	positive := func(key string, v *int, def int) {
		if *v <= 0 {
			warnings = append(warnings, Warning{Key: key, Value: strconv.Itoa(*v), Used: strconv.Itoa(def)})
			*v = def
		}
	}

	if cost, changed := auth.ClampCost(c.CostFactor); changed {
		warnings = append(warnings, Warning{Key: "cost-factor", Value: strconv.Itoa(c.CostFactor), Used: strconv.Itoa(cost)})
		c.CostFactor = cost
	}
	positive("deauth.timeout", &c.Deauth.Timeout, d.Deauth.Timeout)
	positive("deauth.timeout-check-interval", &c.Deauth.TimeoutCheckInterval, d.Deauth.TimeoutCheckInterval)
	positive("command.attempts", &c.Command.Attempts, d.Command.Attempts)
	positive("command.cooldown", &c.Command.Cooldown, d.Command.Cooldown)
	positive("password.min-length", &c.Password.MinLength, d.Password.MinLength)
	positive("pin.min-length", &c.Pin.MinLength, d.Pin.MinLength)

	if c.Password.Default == "" {
		warnings = append(warnings, Warning{Key: "password.default", Value: "", Used: d.Password.Default})
		c.Password.Default = d.Password.Default
	}
	if !auth.IsNumeric(c.Pin.Default) {
		warnings = append(warnings, Warning{Key: "pin.default", Value: c.Pin.Default, Used: d.Pin.Default})
		c.Pin.Default = d.Pin.Default
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		warnings = append(warnings, Warning{Key: "log.format", Value: c.Log.Format, Used: d.Log.Format})
		c.Log.Format = d.Log.Format
	}
	return warnings
}

// Backend returns the storage settings.
func (c *Config) Backend() backend.Config {
	return backend.Config{
		Kind:        c.Database,
		DataDir:     c.Storage.DataDir,
		SQLitePath:  c.Storage.SQLitePath,
		PostgresURL: c.Storage.PostgresURL,
		Redis: redisstore.Options{
			Addr:     c.Storage.RedisAddr,
			Password: c.Storage.RedisPassword,
			DB:       c.Storage.RedisDB,
			Prefix:   c.Storage.RedisPrefix,
		},
	}
}

// Sweep returns the expiry settings.
func (c *Config) Sweep() sweep.Config {
	return sweep.Config{
		Timeout:       time.Duration(c.Deauth.Timeout) * time.Hour,
		Interval:      time.Duration(c.Deauth.TimeoutCheckInterval) * time.Minute,
		TimeoutOnline: c.Deauth.TimeoutOnline,
	}
}

// Gate returns the admission policy.
func (c *Config) Gate() gate.Config {
	return gate.Config{MaxAttempts: c.Command.Attempts, AddressChangeReauth: c.Deauth.IPChanges}
}

// Engine returns the engine policy.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		MaxAttempts:     c.Command.Attempts,
		Cooldown:        time.Duration(c.Command.Cooldown) * time.Second,
		DefaultPassword: c.Password.Default,
		DefaultPin:      c.Pin.Default,
		Policy: auth.Policy{
			PasswordMinLength: c.Password.MinLength,
			BothCases:         c.Password.BothCases,
			Numbers:           c.Password.Numbers,
			SpecialChars:      c.Password.SpecialChars,
			PinMinLength:      c.Pin.MinLength,
		},
	}
}
