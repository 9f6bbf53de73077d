// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/credential/credentialtest"
	"github.com/holomush/duoauth/pkg/errutil"
)

func TestStore_Conformance(t *testing.T) {
	credentialtest.RunStoreSuite(t, func(t *testing.T) credential.Store {
		s, err := New(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestNew_EmptyDir(t *testing.T) {
	_, err := New("")
	errutil.AssertErrorCode(t, err, "STORE_CONFIG_INVALID")
}

func TestStore_MalformedTimestamp(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	id := uuid.New()
	raw := `{"password":"pw","pin":"pin","authed":true,"attempts":0,"ip":"10.0.0.1","timestamp":"03/14/2026 15:09"}`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), id.String()+".json"), []byte(raw), 0o600))

	_, err = s.ReadTimestamp(ctx, id)
	assert.ErrorIs(t, err, credential.ErrMalformed)

	authed, err := s.ReadAuthed(ctx, id)
	require.NoError(t, err)
	assert.True(t, authed, "other fields still readable")
}

func TestStore_CorruptDocument(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	id := uuid.New()
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), id.String()+".json"), []byte("{not json"), 0o600))

	_, err = s.ReadAuthed(ctx, id)
	errutil.AssertCodedIs(t, err, "MALFORMED_RECORD", credential.ErrMalformed)

	err = s.WriteAuthed(ctx, id, false)
	assert.ErrorIs(t, err, credential.ErrMalformed)
}

func TestStore_AllIdentitiesSkipsForeignFiles(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	id := uuid.New()
	_, err = s.WriteDefault(ctx, id, "pw", "pin", "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "README.txt"), []byte("hi"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "not-a-uuid.json"), []byte("{}"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "backup"), 0o750))

	ids, err := s.AllIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)
}

func TestStore_NoTempFilesLeftBehind(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	id := uuid.New()
	_, err = s.WriteDefault(ctx, id, "pw", "pin", "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, s.WriteAttempts(ctx, id, 2))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id.String()+".json", entries[0].Name())
}
