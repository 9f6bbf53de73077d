// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/duoauth/internal/observability"
	"github.com/holomush/duoauth/pkg/errutil"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "hash", "status"})
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestHashCmd(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		args    []string
		secret  string
		warning bool
	}{
		{"argument", "", []string{"hash", "s3cret"}, "s3cret", false},
		{"stdin", "1234\n", []string{"hash"}, "1234", false},
		{"cost clamped", "", []string{"hash", "--cost-factor", "4", "pw"}, "pw", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, err := execute(t, tt.stdin, tt.args...)
			require.NoError(t, err)

			hash := strings.TrimSpace(out)
			require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(tt.secret)))
			cost, err := bcrypt.Cost([]byte(hash))
			require.NoError(t, err)
			assert.Equal(t, 12, cost)
			if tt.warning {
				assert.Contains(t, errOut, "out of range")
			}
		})
	}
}

func TestMigrateCmd_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "duoauth.db")

	out, _, err := execute(t, "", "migrate", "up", "--database", "sqlite", "--sqlite-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Migrations completed successfully")

	out, _, err = execute(t, "", "migrate", "version", "--database", "sqlite", "--sqlite-path", path)
	require.NoError(t, err)
	assert.Equal(t, "version 1", strings.TrimSpace(out))
}

func TestMigrateCmd_NoSchema(t *testing.T) {
	_, _, err := execute(t, "", "migrate", "up", "--database", "json")
	errutil.AssertErrorCode(t, err, "MIGRATION_UNSUPPORTED")
}

func TestStatusCmd(t *testing.T) {
	server, err := observability.NewServer("127.0.0.1:0", func() bool { return false })
	require.NoError(t, err)
	_, err = server.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	out, _, err := execute(t, "", "status", "--metrics-addr", server.Addr(), "--json")
	require.NoError(t, err)

	var statuses []ProbeStatus
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	assert.Equal(t, []ProbeStatus{
		{Probe: "liveness", OK: true, Detail: "ok"},
		{Probe: "readiness", OK: false, Detail: "not ready"},
	}, statuses)

	out, _, err = execute(t, "", "status", "--metrics-addr", server.Addr())
	require.NoError(t, err)
	assert.Contains(t, out, "PROBE")
	assert.Contains(t, out, "failing")
}

func TestStatusCmd_Unreachable(t *testing.T) {
	out, _, err := execute(t, "", "status", "--metrics-addr", "127.0.0.1:1", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, "failed to connect")

	_, _, err = execute(t, "", "status", "--metrics-addr", "")
	assert.Error(t, err)
}
