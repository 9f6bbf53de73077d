// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/notify"
	"github.com/holomush/duoauth/internal/notify/notifytest"
	"github.com/holomush/duoauth/internal/pipeline"
	"github.com/holomush/duoauth/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *credential.MemoryStore
	cache    *session.Cache
	recorder *notifytest.Recorder
	runner   *pipeline.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loop := pipeline.NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = loop.Run(ctx)
	}()
	f := &fixture{
		store:    credential.NewMemoryStore(),
		cache:    session.NewCache(),
		recorder: &notifytest.Recorder{},
		runner:   pipeline.NewRunner(context.Background(), loop, nil),
	}
	t.Cleanup(func() {
		f.runner.Wait()
		cancel()
		<-stopped
	})
	return f
}

func (f *fixture) sweeper(cfg Config) *Sweeper {
	return New(f.store, f.cache, f.runner, f.recorder, cfg, WithClock(func() time.Time { return now }))
}

func (f *fixture) seed(authed bool, age time.Duration) uuid.UUID {
	id := uuid.New()
	f.store.Put(credential.Record{
		ID:           id,
		PasswordHash: "pw",
		PinHash:      "pin",
		Authed:       authed,
		Address:      "10.0.0.1",
		Timestamp:    now.Add(-age),
	})
	return id
}

func (f *fixture) online(id uuid.UUID, authed bool) {
	f.cache.Connect(id)
	f.cache.Put(session.Entry{ID: id, Authed: authed})
}

func authedInStore(t *testing.T, s *credential.MemoryStore, id uuid.UUID) bool {
	t.Helper()
	rec, ok := s.Snapshot(id)
	require.True(t, ok)
	return rec.Authed
}

func TestSweeper_ExpiresStaleSessions(t *testing.T) {
	f := newFixture(t)
	timeout := 48 * time.Hour
	stale := f.seed(true, timeout+time.Hour)
	exact := f.seed(true, timeout)
	fresh := f.seed(true, timeout-time.Second)
	unauthed := f.seed(false, 10*timeout)

	res, err := f.sweeper(Config{Timeout: timeout}).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Scanned: 4, Expired: 2}, res)
	assert.False(t, authedInStore(t, f.store, stale))
	assert.False(t, authedInStore(t, f.store, exact))
	assert.True(t, authedInStore(t, f.store, fresh))
	assert.False(t, authedInStore(t, f.store, unauthed))
}

func TestSweeper_TimeoutOnline(t *testing.T) {
	tests := []struct {
		name          string
		timeoutOnline bool
		wantCache     bool
		wantNotices   int
	}{
		{"enabled mirrors into cache", true, false, 1},
		{"disabled leaves cache alone", false, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.seed(true, 49*time.Hour)
			f.online(id, true)

			_, err := f.sweeper(Config{Timeout: 48 * time.Hour, TimeoutOnline: tt.timeoutOnline}).
				RunOnce(context.Background())
			require.NoError(t, err)

			assert.False(t, authedInStore(t, f.store, id))
			entry, ok := f.cache.Get(id)
			require.True(t, ok)
			assert.Equal(t, tt.wantCache, entry.Authed)
			assert.Len(t, f.recorder.OfKind(notify.KindSessionExpired), tt.wantNotices)
		})
	}
}

func TestSweeper_OfflineIdentityGetsNoNotice(t *testing.T) {
	f := newFixture(t)
	id := f.seed(true, 49*time.Hour)

	_, err := f.sweeper(Config{Timeout: 48 * time.Hour, TimeoutOnline: true}).RunOnce(context.Background())
	require.NoError(t, err)

	assert.False(t, authedInStore(t, f.store, id))
	_, ok := f.cache.Get(id)
	assert.False(t, ok, "sweep never creates cache entries")
	assert.Empty(t, f.recorder.Events())
}

func TestSweeper_MalformedTimestampIsSkipped(t *testing.T) {
	f := newFixture(t)
	bad := f.seed(true, 100*time.Hour)
	good := f.seed(true, 100*time.Hour)
	f.store.Corrupt(bad, credential.FieldTimestamp)

	res, err := f.sweeper(Config{Timeout: time.Hour}).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Scanned: 2, Expired: 1, Skipped: 1}, res)
	assert.True(t, authedInStore(t, f.store, bad))
	assert.False(t, authedInStore(t, f.store, good))
}

func TestSweeper_ListFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.seed(true, 100*time.Hour)
	f.store.Fail(errors.New("connection refused"))

	sw := f.sweeper(Config{Timeout: time.Hour})
	_, err := sw.RunOnce(context.Background())
	assert.ErrorIs(t, err, credential.ErrUnavailable)
	assert.Equal(t, StateIdle, sw.State())
}

func TestSweeper_HoldsIdentityLock(t *testing.T) {
	f := newFixture(t)
	id := f.seed(true, 100*time.Hour)
	unlock := f.cache.Lock(id)

	sw := f.sweeper(Config{Timeout: time.Hour})
	done := make(chan Result)
	go func() {
		res, _ := sw.RunOnce(context.Background())
		done <- res
	}()

	require.Eventually(t, func() bool { return sw.State() == StateScanning }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, authedInStore(t, f.store, id), "sweep waits for the identity lock")

	// A concurrent sweep is skipped while one is scanning.
	res, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	unlock()
	assert.Equal(t, 1, (<-done).Expired)
	assert.Equal(t, StateIdle, sw.State())
}

func TestSweeper_StartStop(t *testing.T) {
	f := newFixture(t)
	id := f.seed(true, 100*time.Hour)

	sw := f.sweeper(Config{Timeout: time.Hour, Interval: 5 * time.Millisecond})
	sw.Start(context.Background())
	require.Eventually(t, func() bool {
		rec, _ := f.store.Snapshot(id)
		return !rec.Authed
	}, 2*time.Second, 5*time.Millisecond)
	sw.Stop()
	assert.Equal(t, "idle", sw.State().String())
}
