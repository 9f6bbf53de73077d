// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

// Tracked returns the number of identities with a live cooldown record.
func (c *Cooldown) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
