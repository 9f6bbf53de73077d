// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCooldown is the minimum interval between attempts by one identity.
const DefaultCooldown = 20 * time.Second

// Cooldown tracks when each identity last submitted an attempt. Records
// older than the window are pruned as attempts arrive.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[uuid.UUID]time.Time
	now    func() time.Time
	pruned time.Time
}

// NewCooldown creates a Cooldown with the given window. A non-positive window
// uses DefaultCooldown.
func NewCooldown(window time.Duration, now func() time.Time) *Cooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Cooldown{window: window, last: make(map[uuid.UUID]time.Time), now: now}
}

// Take records an attempt for id if the window has elapsed. It returns false
// and the remaining wait otherwise.
func (c *Cooldown) Take(id uuid.UUID) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.prune(now)
	if last, ok := c.last[id]; ok {
		if elapsed := now.Sub(last); elapsed < c.window {
			return false, c.window - elapsed
		}
	}
	c.last[id] = now
	return true, 0
}

// Release drops the record for id so its next attempt is not throttled.
func (c *Cooldown) Release(id uuid.UUID) {
	c.mu.Lock()
	delete(c.last, id)
	c.mu.Unlock()
}

// prune drops expired records at most once per window. Caller holds mu.
func (c *Cooldown) prune(now time.Time) {
	if now.Sub(c.pruned) < c.window {
		return
	}
	c.pruned = now
	for id, last := range c.last {
		if now.Sub(last) >= c.window {
			delete(c.last, id)
		}
	}
}
