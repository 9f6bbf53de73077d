// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package credentialtest provides a conformance suite shared by every
// credential.Store backend.
package credentialtest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/duoauth/internal/credential"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) credential.Store

// RunStoreSuite exercises the credential.Store contract against a backend.
func RunStoreSuite(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("unknown identity is absent", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, newStore)
		id := uuid.New()

		ok, err := s.Contains(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		for _, field := range credential.Fields {
			_, err := credential.Read(ctx, s, id, field)
			assert.ErrorIs(t, err, credential.ErrNotFound, "field %s", field)
		}
	})

	t.Run("write default provisions record", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, newStore)
		id := uuid.New()
		before := time.Now().Add(-time.Second)

		written, err := s.WriteDefault(ctx, id, "pw-hash", "pin-hash", "10.0.0.1")
		require.NoError(t, err)
		require.True(t, written)

		ok, err := s.Contains(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)

		rec, err := credential.Load(ctx, s, id)
		require.NoError(t, err)
		assert.Equal(t, "pw-hash", rec.PasswordHash)
		assert.Equal(t, "pin-hash", rec.PinHash)
		assert.False(t, rec.Authed)
		assert.Equal(t, 0, rec.Attempts)
		assert.Equal(t, "10.0.0.1", rec.Address)
		assert.True(t, rec.Timestamp.After(before), "timestamp %v not after %v", rec.Timestamp, before)
	})

	t.Run("write default does not overwrite", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, newStore)
		id := uuid.New()

		_, err := s.WriteDefault(ctx, id, "first", "first-pin", "10.0.0.1")
		require.NoError(t, err)
		require.NoError(t, s.WriteAuthed(ctx, id, true))

		written, err := s.WriteDefault(ctx, id, "second", "second-pin", "10.0.0.2")
		require.NoError(t, err)
		assert.False(t, written)

		hash, err := s.ReadPasswordHash(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "first", hash)
		authed, err := s.ReadAuthed(ctx, id)
		require.NoError(t, err)
		assert.True(t, authed)
	})

	t.Run("field writes are independent", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, newStore)
		id := uuid.New()
		_, err := s.WriteDefault(ctx, id, "pw", "pin", "10.0.0.1")
		require.NoError(t, err)

		stamp := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
		require.NoError(t, s.WriteAuthed(ctx, id, true))
		require.NoError(t, s.WriteAttempts(ctx, id, 3))
		require.NoError(t, s.WriteAddress(ctx, id, "192.168.1.7"))
		require.NoError(t, s.WriteTimestamp(ctx, id, stamp))
		require.NoError(t, s.WriteCredentials(ctx, id, "pw2", "pin2"))

		rec, err := credential.Load(ctx, s, id)
		require.NoError(t, err)
		assert.True(t, rec.Authed)
		assert.Equal(t, 3, rec.Attempts)
		assert.Equal(t, "192.168.1.7", rec.Address)
		assert.True(t, stamp.Equal(rec.Timestamp), "timestamp %v != %v", rec.Timestamp, stamp)
		assert.Equal(t, "pw2", rec.PasswordHash)
		assert.Equal(t, "pin2", rec.PinHash)
	})

	t.Run("writes to unknown identity fail with not found", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, newStore)
		id := uuid.New()

		assert.ErrorIs(t, s.WriteAuthed(ctx, id, true), credential.ErrNotFound)
		assert.ErrorIs(t, s.WriteAttempts(ctx, id, 1), credential.ErrNotFound)
		assert.ErrorIs(t, s.WriteAddress(ctx, id, "x"), credential.ErrNotFound)
		assert.ErrorIs(t, s.WriteTimestamp(ctx, id, time.Now()), credential.ErrNotFound)
		assert.ErrorIs(t, s.WriteCredentials(ctx, id, "a", "b"), credential.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, id), credential.ErrNotFound)
	})

	t.Run("delete removes record", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, newStore)
		id := uuid.New()
		_, err := s.WriteDefault(ctx, id, "pw", "pin", "10.0.0.1")
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, id))

		ok, err := s.Contains(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
		ids, err := s.AllIdentities(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, id)
	})

	t.Run("all identities snapshot", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, newStore)
		want := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
		for _, id := range want {
			_, err := s.WriteDefault(ctx, id, "pw", "pin", "10.0.0.1")
			require.NoError(t, err)
		}

		got, err := s.AllIdentities(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, want, got)
	})
}

func open(t *testing.T, newStore Factory) credential.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
