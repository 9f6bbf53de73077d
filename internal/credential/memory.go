// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests. It can simulate an unreachable
// backend and corrupted fields.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
	corrupt map[uuid.UUID]map[Field]bool
	failErr error

	// Now supplies the timestamp for WriteDefault. Defaults to time.Now.
	Now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]Record),
		corrupt: make(map[uuid.UUID]map[Field]bool),
		Now:     time.Now,
	}
}

// Fail makes every subsequent call return an unavailable error wrapping err.
// Passing nil restores normal operation.
func (s *MemoryStore) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Corrupt makes reads of field for id report a malformed record.
func (s *MemoryStore) Corrupt(id uuid.UUID, field Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.corrupt[id] == nil {
		s.corrupt[id] = make(map[Field]bool)
	}
	s.corrupt[id][field] = true
}

// Put stores rec verbatim, replacing any existing record.
func (s *MemoryStore) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
}

// Snapshot returns a copy of the record for id.
func (s *MemoryStore) Snapshot(id uuid.UUID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *MemoryStore) get(op string, id uuid.UUID, field Field) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failErr != nil {
		return Record{}, Unavailable(op, id, s.failErr)
	}
	rec, ok := s.records[id]
	if !ok {
		return Record{}, NotFound(id)
	}
	if s.corrupt[id][field] {
		return Record{}, Malformed(id, field, errors.New("corrupted by test"))
	}
	return rec, nil
}

func (s *MemoryStore) update(op string, id uuid.UUID, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return Unavailable(op, id, s.failErr)
	}
	rec, ok := s.records[id]
	if !ok {
		return NotFound(id)
	}
	fn(&rec)
	s.records[id] = rec
	return nil
}

// Contains reports whether a record exists for id.
func (s *MemoryStore) Contains(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failErr != nil {
		return false, Unavailable("contains", id, s.failErr)
	}
	_, ok := s.records[id]
	return ok, nil
}

func (s *MemoryStore) ReadPasswordHash(_ context.Context, id uuid.UUID) (string, error) {
	rec, err := s.get("read password", id, FieldPasswordHash)
	return rec.PasswordHash, err
}

func (s *MemoryStore) ReadPinHash(_ context.Context, id uuid.UUID) (string, error) {
	rec, err := s.get("read pin", id, FieldPinHash)
	return rec.PinHash, err
}

func (s *MemoryStore) ReadAuthed(_ context.Context, id uuid.UUID) (bool, error) {
	rec, err := s.get("read authed", id, FieldAuthed)
	return rec.Authed, err
}

func (s *MemoryStore) ReadAttempts(_ context.Context, id uuid.UUID) (int, error) {
	rec, err := s.get("read attempts", id, FieldAttempts)
	return rec.Attempts, err
}

func (s *MemoryStore) ReadAddress(_ context.Context, id uuid.UUID) (string, error) {
	rec, err := s.get("read address", id, FieldAddress)
	return rec.Address, err
}

func (s *MemoryStore) ReadTimestamp(_ context.Context, id uuid.UUID) (time.Time, error) {
	rec, err := s.get("read timestamp", id, FieldTimestamp)
	return rec.Timestamp, err
}

// WriteDefault creates a default record unless one already exists.
func (s *MemoryStore) WriteDefault(_ context.Context, id uuid.UUID, passwordHash, pinHash, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return false, Unavailable("write default", id, s.failErr)
	}
	if _, exists := s.records[id]; exists {
		return false, nil
	}
	s.records[id] = NewDefaultRecord(id, passwordHash, pinHash, address, s.Now())
	return true, nil
}

func (s *MemoryStore) WriteAuthed(_ context.Context, id uuid.UUID, authed bool) error {
	return s.update("write authed", id, func(r *Record) { r.Authed = authed })
}

func (s *MemoryStore) WriteAttempts(_ context.Context, id uuid.UUID, attempts int) error {
	return s.update("write attempts", id, func(r *Record) { r.Attempts = attempts })
}

func (s *MemoryStore) WriteAddress(_ context.Context, id uuid.UUID, address string) error {
	return s.update("write address", id, func(r *Record) { r.Address = address })
}

func (s *MemoryStore) WriteTimestamp(_ context.Context, id uuid.UUID, t time.Time) error {
	return s.update("write timestamp", id, func(r *Record) { r.Timestamp = t.UTC() })
}

func (s *MemoryStore) WriteCredentials(_ context.Context, id uuid.UUID, passwordHash, pinHash string) error {
	return s.update("write credentials", id, func(r *Record) {
		r.PasswordHash = passwordHash
		r.PinHash = pinHash
	})
}

// Delete removes the record for id.
func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return Unavailable("delete", id, s.failErr)
	}
	if _, ok := s.records[id]; !ok {
		return NotFound(id)
	}
	delete(s.records, id)
	delete(s.corrupt, id)
	return nil
}

// AllIdentities returns the known identities in a stable order.
func (s *MemoryStore) AllIdentities(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failErr != nil {
		return nil, Unavailable("all identities", uuid.Nil, s.failErr)
	}
	ids := make([]uuid.UUID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
