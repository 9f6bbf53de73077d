// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/duoauth/internal/credential"
)

func seed(t *testing.T, s *credential.MemoryStore, attempts int, authed bool, addr string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	_, err := s.WriteDefault(ctx, id, "pw", "pin", addr)
	require.NoError(t, err)
	require.NoError(t, s.WriteAttempts(ctx, id, attempts))
	require.NoError(t, s.WriteAuthed(ctx, id, authed))
	return id
}

func TestGate_Check(t *testing.T) {
	tests := []struct {
		name         string
		cfg          Config
		attempts     int
		storedAddr   string
		incomingAddr string
		unknown      bool
		want         Decision
		wantAuthed   bool
	}{
		{
			name:         "unknown identity is admitted",
			cfg:          Config{MaxAttempts: 5, AddressChangeReauth: true},
			unknown:      true,
			incomingAddr: "10.0.0.1",
			want:         Decision{Allowed: true},
		},
		{
			name:         "below max is admitted",
			cfg:          Config{MaxAttempts: 5, AddressChangeReauth: true},
			attempts:     4,
			storedAddr:   "10.0.0.1",
			incomingAddr: "10.0.0.1",
			want:         Decision{Allowed: true},
			wantAuthed:   true,
		},
		{
			name:         "at max is locked",
			cfg:          Config{MaxAttempts: 5, AddressChangeReauth: true},
			attempts:     5,
			storedAddr:   "10.0.0.1",
			incomingAddr: "10.0.0.1",
			want:         Decision{Reason: ReasonLocked},
			wantAuthed:   true,
		},
		{
			name:         "locked regardless of address",
			cfg:          Config{MaxAttempts: 5, AddressChangeReauth: true},
			attempts:     9,
			storedAddr:   "10.0.0.1",
			incomingAddr: "10.9.9.9",
			want:         Decision{Reason: ReasonLocked},
			wantAuthed:   true,
		},
		{
			name:         "address change clears authed",
			cfg:          Config{MaxAttempts: 5, AddressChangeReauth: true},
			storedAddr:   "10.0.0.1",
			incomingAddr: "10.0.0.2",
			want:         Decision{Allowed: true, Deauthed: true},
			wantAuthed:   false,
		},
		{
			name:         "address change ignored when policy off",
			cfg:          Config{MaxAttempts: 5},
			storedAddr:   "10.0.0.1",
			incomingAddr: "10.0.0.2",
			want:         Decision{Allowed: true},
			wantAuthed:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := credential.NewMemoryStore()
			id := uuid.New()
			if !tt.unknown {
				id = seed(t, store, tt.attempts, true, tt.storedAddr)
			}

			g := New(store, tt.cfg, nil, nil)
			got, err := g.Check(ctx, id, tt.incomingAddr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			if tt.unknown {
				ok, err := store.Contains(ctx, id)
				require.NoError(t, err)
				assert.False(t, ok, "gate never provisions")
				return
			}
			authed, err := store.ReadAuthed(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAuthed, authed)
		})
	}
}

func TestGate_CheckIsIdempotentOnAttempts(t *testing.T) {
	ctx := context.Background()
	store := credential.NewMemoryStore()
	id := seed(t, store, 3, false, "10.0.0.1")
	g := New(store, Config{MaxAttempts: 5, AddressChangeReauth: true}, nil, nil)

	for range 2 {
		d, err := g.Check(ctx, id, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	attempts, err := store.ReadAttempts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestGate_DeniesWhileLoading(t *testing.T) {
	store := credential.NewMemoryStore()
	ready := false
	g := New(store, Config{MaxAttempts: 5}, func() bool { return ready }, nil)

	d, err := g.Check(context.Background(), uuid.New(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, Decision{Reason: ReasonLoading}, d)

	ready = true
	d, err = g.Check(context.Background(), uuid.New(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGate_FailsClosedWhenStoreUnavailable(t *testing.T) {
	store := credential.NewMemoryStore()
	id := seed(t, store, 0, true, "10.0.0.1")
	store.Fail(errors.New("connection reset"))
	g := New(store, Config{MaxAttempts: 5}, nil, nil)

	d, err := g.Check(context.Background(), id, "10.0.0.1")
	assert.ErrorIs(t, err, credential.ErrUnavailable)
	assert.Equal(t, Decision{Reason: ReasonUnavailable}, d)
}
