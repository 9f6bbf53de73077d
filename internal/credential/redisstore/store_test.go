// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/credential/credentialtest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, "test"), mr
}

func TestStore_Conformance(t *testing.T) {
	credentialtest.RunStoreSuite(t, func(t *testing.T) credential.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	id := uuid.New()

	ok, err := s.WriteDefault(ctx, id, "pw", "pin", "10.0.0.1")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "false", mr.HGet("test:cred:"+id.String(), "authed"))
	assert.Equal(t, "0", mr.HGet("test:cred:"+id.String(), "attempts"))
	members, err := mr.Members("test:ids")
	require.NoError(t, err)
	assert.Equal(t, []string{id.String()}, members)

	require.NoError(t, s.Delete(ctx, id))
	assert.False(t, mr.Exists("test:cred:"+id.String()))
	assert.False(t, mr.Exists("test:ids"))
}

func TestStore_DamagedHash(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	id := uuid.New()
	_, err := s.WriteDefault(ctx, id, "pw", "pin", "10.0.0.1")
	require.NoError(t, err)

	mr.HSet("test:cred:"+id.String(), "attempts", "many")
	mr.HDel("test:cred:"+id.String(), "ip")

	_, err = s.ReadAttempts(ctx, id)
	assert.ErrorIs(t, err, credential.ErrMalformed)
	_, err = s.ReadAddress(ctx, id)
	assert.ErrorIs(t, err, credential.ErrMalformed)
}

func TestStore_ServerDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Contains(context.Background(), uuid.New())
	assert.ErrorIs(t, err, credential.ErrUnavailable)
	_, err = s.AllIdentities(context.Background())
	assert.ErrorIs(t, err, credential.ErrUnavailable)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	s, err := Open(context.Background(), Options{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.Equal(t, "duoauth", s.prefix)

	mr.Close()
	_, err = Open(context.Background(), Options{Addr: addr})
	assert.ErrorIs(t, err, credential.ErrUnavailable)
}
