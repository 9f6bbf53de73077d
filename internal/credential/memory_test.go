// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/credential/credentialtest"
	"github.com/holomush/duoauth/pkg/errutil"
)

func TestMemoryStore_Conformance(t *testing.T) {
	credentialtest.RunStoreSuite(t, func(*testing.T) credential.Store {
		return credential.NewMemoryStore()
	})
}

func TestMemoryStore_Fail(t *testing.T) {
	ctx := context.Background()
	s := credential.NewMemoryStore()
	id := uuid.New()
	s.Fail(errors.New("connection refused"))

	_, err := s.Contains(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, credential.ErrUnavailable)
	errutil.AssertErrorCode(t, err, "STORE_UNAVAILABLE")
	assert.Contains(t, err.Error(), "connection refused")

	s.Fail(nil)
	ok, err := s.Contains(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_Corrupt(t *testing.T) {
	ctx := context.Background()
	s := credential.NewMemoryStore()
	id := uuid.New()
	_, err := s.WriteDefault(ctx, id, "pw", "pin", "10.0.0.1")
	require.NoError(t, err)

	s.Corrupt(id, credential.FieldTimestamp)

	_, err = s.ReadTimestamp(ctx, id)
	assert.ErrorIs(t, err, credential.ErrMalformed)
	errutil.AssertErrorContext(t, err, "field", "timestamp")

	authed, err := s.ReadAuthed(ctx, id)
	require.NoError(t, err)
	assert.False(t, authed)
}

func TestMemoryStore_WriteDefaultUsesClock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := credential.NewMemoryStore()
	s.Now = func() time.Time { return fixed }
	id := uuid.New()

	_, err := s.WriteDefault(context.Background(), id, "pw", "pin", "10.0.0.1")
	require.NoError(t, err)

	rec, ok := s.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, fixed, rec.Timestamp)
}

func TestRead_UnknownField(t *testing.T) {
	_, err := credential.Read(context.Background(), credential.NewMemoryStore(), uuid.New(), credential.Field("email"))
	errutil.AssertErrorCode(t, err, "UNKNOWN_FIELD")
}

func TestField_Valid(t *testing.T) {
	for _, f := range credential.Fields {
		assert.True(t, f.Valid(), string(f))
	}
	assert.False(t, credential.Field("email").Valid())
}

func TestParseTimestamp(t *testing.T) {
	id := uuid.New()
	now := time.Now().UTC()

	got, err := credential.ParseTimestamp(id, credential.FormatTimestamp(now))
	require.NoError(t, err)
	assert.True(t, now.Equal(got))

	_, err = credential.ParseTimestamp(id, "03/14/2026 15:09:26")
	assert.ErrorIs(t, err, credential.ErrMalformed)
}
