// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package session holds the in-memory view of connected identities and their
// authentication state.
package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Entry is the cached authentication state of one connected identity.
type Entry struct {
	ID           uuid.UUID
	Authed       bool
	Attempts     int
	Address      string
	PasswordHash string
	PinHash      string
	// InProgress is set while an authentication chain for the identity runs.
	InProgress bool
}

// Cache maps connected identities to their Entry. Every entry has a backing
// credential record; callers insert only after the record exists.
type Cache struct {
	mu        sync.RWMutex
	entries   map[uuid.UUID]*Entry
	connected map[uuid.UUID]struct{}
	locks     *keyedMutex
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries:   make(map[uuid.UUID]*Entry),
		connected: make(map[uuid.UUID]struct{}),
		locks:     newKeyedMutex(),
	}
}

// Connect marks id as online.
func (c *Cache) Connect(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected[id] = struct{}{}
}

// Disconnect marks id as offline and drops its entry. The store is untouched.
func (c *Cache) Disconnect(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.connected, id)
	delete(c.entries, id)
	cacheEntries.Set(float64(len(c.entries)))
}

// Connected reports whether id is online.
func (c *Cache) Connected(id uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.connected[id]
	return ok
}

// Get returns a copy of the entry for id.
func (c *Cache) Get(id uuid.UUID) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Put replaces the entry for e.ID wholesale.
func (c *Cache) Put(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(e)
}

// PutIfConnected stores e only when e.ID is still online, and reports whether
// it did. The liveness check and insert are atomic so a disconnect cannot be
// undone by a late chain.
func (c *Cache) PutIfConnected(e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.connected[e.ID]; !ok {
		slog.Debug("dropping cache put for offline identity", "id", e.ID.String())
		return false
	}
	c.putLocked(e)
	return true
}

func (c *Cache) putLocked(e Entry) {
	stored := e
	c.entries[e.ID] = &stored
	cacheEntries.Set(float64(len(c.entries)))
}

// Remove drops the entry for id but leaves it online.
func (c *Cache) Remove(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	cacheEntries.Set(float64(len(c.entries)))
}

// Mutate applies fn to the entry for id. It is a no-op, returning false, when
// there is no entry.
func (c *Cache) Mutate(id uuid.UUID, fn func(*Entry)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	fn(e)
	e.ID = id
	return true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Lock serializes work on id. Chains for the same identity queue behind each
// other; different identities proceed in parallel. Call the returned function
// to release.
func (c *Cache) Lock(id uuid.UUID) (unlock func()) {
	return c.locks.lock(id)
}
