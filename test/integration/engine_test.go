// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/duoauth/internal/auth"
	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/engine"
	"github.com/holomush/duoauth/internal/notify"
	"github.com/holomush/duoauth/internal/notify/notifytest"
	"github.com/holomush/duoauth/internal/pipeline"
	"github.com/holomush/duoauth/internal/session"
	"github.com/holomush/duoauth/internal/sweep"
)

// harness runs an engine and sweeper over the shared postgres store.
type harness struct {
	loop     *pipeline.Loop
	engine   *engine.Engine
	sweeper  *sweep.Sweeper
	recorder *notifytest.Recorder
	now      time.Time
}

func newHarness() *harness {
	h := &harness{recorder: &notifytest.Recorder{}, now: time.Now()}
	h.loop = pipeline.NewLoop(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = h.loop.Run(ctx)
	}()

	runner := pipeline.NewRunner(context.Background(), h.loop, quietLogger())
	cache := session.NewCache()
	cfg := engine.DefaultConfig()
	cfg.Cooldown = 0
	h.engine = engine.New(env.store, cache, runner, auth.NewBcryptHasher(auth.MinCost),
		h.recorder, cfg, engine.WithLogger(quietLogger()))
	h.sweeper = sweep.New(env.store, cache, runner, h.recorder,
		sweep.Config{Timeout: time.Hour, Interval: time.Hour, TimeoutOnline: true},
		sweep.WithLogger(quietLogger()),
		sweep.WithClock(func() time.Time { return h.now }))

	DeferCleanup(func() {
		h.engine.Wait()
		cancel()
		<-stopped
	})

	h.call(h.engine.Start)
	Expect(h.engine.Ready()).To(BeTrue())
	return h
}

func (h *harness) call(op func() <-chan struct{}) {
	var done <-chan struct{}
	Expect(h.loop.Do(context.Background(), func() { done = op() })).To(Succeed())
	Eventually(done).WithTimeout(10 * time.Second).Should(BeClosed())
}

func (h *harness) authenticate(id uuid.UUID, password, pin string) engine.Attempt {
	var got engine.Attempt
	h.call(func() <-chan struct{} {
		return h.engine.Authenticate(id, "10.0.0.1", password, pin, func(a engine.Attempt) { got = a })
	})
	return got
}

func (h *harness) status(id uuid.UUID) engine.Status {
	var s engine.Status
	Expect(h.loop.Do(context.Background(), func() { s = h.engine.Status(id) })).To(Succeed())
	return s
}

var _ = Describe("Engine over postgres", func() {
	It("provisions, authenticates and expires a session", func() {
		h := newHarness()
		id := uuid.New()

		h.call(func() <-chan struct{} { return h.engine.Join(id, "10.0.0.1", true) })
		Expect(h.recorder.OfKind(notify.KindEnforcedSetup)).To(HaveLen(1))
		Expect(h.status(id)).To(Equal(engine.StatusUnauthed))

		Expect(h.authenticate(id, "nope", "0000").Outcome).To(Equal(auth.OutcomeWrongCredentials))
		attempts, err := env.store.ReadAttempts(env.ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(attempts).To(Equal(1))

		Expect(h.authenticate(id, "pass1234", "1234").Outcome).To(Equal(auth.OutcomeSuccess))
		authed, err := env.store.ReadAuthed(env.ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(authed).To(BeTrue())

		h.now = time.Now().Add(2 * time.Hour)
		res, err := h.sweeper.RunOnce(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Expired).To(Equal(1))

		authed, err = env.store.ReadAuthed(env.ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(authed).To(BeFalse())
		Expect(h.status(id)).To(Equal(engine.StatusUnauthed))
		Expect(h.recorder.OfKind(notify.KindSessionExpired)).To(HaveLen(1))
	})

	It("locks out after too many failures until an operator allows", func() {
		h := newHarness()
		id := uuid.New()
		h.call(func() <-chan struct{} { return h.engine.Join(id, "10.0.0.1", true) })

		for range engine.DefaultConfig().MaxAttempts {
			h.authenticate(id, "nope", "0000")
		}
		Expect(h.authenticate(id, "pass1234", "1234").Outcome).To(Equal(auth.OutcomeLockedOut))
		Expect(h.recorder.OfKind(notify.KindLocked)).To(HaveLen(1))

		h.call(func() <-chan struct{} { return h.engine.AdminAllow(id, nil) })
		Expect(h.authenticate(id, "pass1234", "1234").Outcome).To(Equal(auth.OutcomeSuccess))
	})

	It("forgets a reset identity", func() {
		h := newHarness()
		id := uuid.New()
		h.call(func() <-chan struct{} { return h.engine.Join(id, "10.0.0.1", true) })

		var result error
		h.call(func() <-chan struct{} {
			return h.engine.AdminReset(id, func(err error) { result = err })
		})
		Expect(result).NotTo(HaveOccurred())

		_, err := env.store.ReadAuthed(env.ctx, id)
		Expect(err).To(MatchError(credential.ErrNotFound))
		Expect(h.status(id)).To(Equal(engine.StatusUnmanaged))
	})
})
