// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/credential/postgres"
)

var _ = Describe("Postgres credential store", func() {
	It("provisions a default record once", func() {
		id := uuid.New()

		written, err := env.store.WriteDefault(env.ctx, id, "pw", "pin", "10.0.0.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(written).To(BeTrue())

		written, err = env.store.WriteDefault(env.ctx, id, "other", "other", "10.0.0.2")
		Expect(err).NotTo(HaveOccurred())
		Expect(written).To(BeFalse())

		rec, err := credential.Load(env.ctx, env.store, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.PasswordHash).To(Equal("pw"))
		Expect(rec.Address).To(Equal("10.0.0.1"))
		Expect(rec.Authed).To(BeFalse())
		Expect(rec.Attempts).To(BeZero())
	})

	It("lets exactly one concurrent default write win", func() {
		id := uuid.New()
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				written, err := env.store.WriteDefault(env.ctx, id, "pw", "pin", "10.0.0.1")
				Expect(err).NotTo(HaveOccurred())
				if written {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		Expect(wins).To(Equal(1))
	})

	It("round-trips every field", func() {
		id := uuid.New()
		_, err := env.store.WriteDefault(env.ctx, id, "pw", "pin", "10.0.0.1")
		Expect(err).NotTo(HaveOccurred())

		stamp := time.Date(2026, 3, 4, 5, 6, 7, 123456000, time.UTC)
		Expect(env.store.WriteAuthed(env.ctx, id, true)).To(Succeed())
		Expect(env.store.WriteAttempts(env.ctx, id, 3)).To(Succeed())
		Expect(env.store.WriteAddress(env.ctx, id, "192.168.0.9")).To(Succeed())
		Expect(env.store.WriteTimestamp(env.ctx, id, stamp)).To(Succeed())
		Expect(env.store.WriteCredentials(env.ctx, id, "pw2", "pin2")).To(Succeed())

		rec, err := credential.Load(env.ctx, env.store, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Authed).To(BeTrue())
		Expect(rec.Attempts).To(Equal(3))
		Expect(rec.Address).To(Equal("192.168.0.9"))
		Expect(rec.Timestamp.Equal(stamp)).To(BeTrue())
		Expect(rec.PasswordHash).To(Equal("pw2"))
		Expect(rec.PinHash).To(Equal("pin2"))
	})

	It("reports missing identities as not found", func() {
		id := uuid.New()
		_, err := env.store.ReadAttempts(env.ctx, id)
		Expect(err).To(MatchError(credential.ErrNotFound))
		Expect(env.store.WriteAuthed(env.ctx, id, true)).To(MatchError(credential.ErrNotFound))
		Expect(env.store.Delete(env.ctx, id)).To(MatchError(credential.ErrNotFound))
	})

	It("lists and deletes identities", func() {
		a, b := uuid.New(), uuid.New()
		for _, id := range []uuid.UUID{a, b} {
			_, err := env.store.WriteDefault(env.ctx, id, "pw", "pin", "10.0.0.1")
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(env.store.Delete(env.ctx, a)).To(Succeed())

		ids, err := env.store.AllIdentities(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(ConsistOf(b))
	})

	It("reports the applied schema version", func() {
		m, err := postgres.NewMigrator(env.connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = m.Close() })

		Expect(m.Up()).To(Succeed())
		version, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
	})
})
