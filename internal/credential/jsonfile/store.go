// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package jsonfile implements credential.Store as one JSON document per
// identity inside a data directory.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/duoauth/internal/credential"
)

const fileExt = ".json"

// wholeDocument labels decode failures that are not tied to one field.
const wholeDocument credential.Field = "document"

// document is the on-disk shape of a record.
type document struct {
	Password  string `json:"password"`
	PIN       string `json:"pin"`
	Authed    bool   `json:"authed"`
	Attempts  int    `json:"attempts"`
	IP        string `json:"ip"`
	Timestamp string `json:"timestamp"`
}

// Store keeps records under dir as <uuid>.json. Writes go through a temp file
// and rename so a crash never leaves a half-written document.
type Store struct {
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, oops.Code("STORE_CONFIG_INVALID").Errorf("data directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, credential.Unavailable("create data directory", uuid.Nil, err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the directory holding the documents.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+fileExt)
}

// load reads and decodes the document for id. Callers hold s.mu.
func (s *Store) load(op string, id uuid.UUID, field credential.Field) (document, error) {
	raw, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return document{}, credential.NotFound(id)
	}
	if err != nil {
		return document{}, credential.Unavailable(op, id, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document{}, credential.Malformed(id, field, err)
	}
	return doc, nil
}

// save writes doc for id atomically. Callers hold s.mu for writing.
func (s *Store) save(op string, id uuid.UUID, doc document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return oops.Code("STORE_ENCODE_FAILED").With("id", id.String()).Wrap(err)
	}
	tmp, err := os.CreateTemp(s.dir, id.String()+".*.tmp")
	if err != nil {
		return credential.Unavailable(op, id, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return credential.Unavailable(op, id, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return credential.Unavailable(op, id, err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		_ = os.Remove(tmpName)
		return credential.Unavailable(op, id, err)
	}
	return nil
}

func (s *Store) read(op string, id uuid.UUID, field credential.Field) (document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(op, id, field)
}

func (s *Store) update(op string, id uuid.UUID, fn func(*document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A document that no longer decodes is rewritten from scratch only by
	// WriteDefault; field writes refuse to guess at the rest of it.
	doc, err := s.load(op, id, wholeDocument)
	if err != nil {
		return err
	}
	fn(&doc)
	return s.save(op, id, doc)
}

// Contains reports whether a document exists for id.
func (s *Store) Contains(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, credential.Unavailable("contains", id, err)
	}
	return true, nil
}

func (s *Store) ReadPasswordHash(_ context.Context, id uuid.UUID) (string, error) {
	doc, err := s.read("read password", id, credential.FieldPasswordHash)
	return doc.Password, err
}

func (s *Store) ReadPinHash(_ context.Context, id uuid.UUID) (string, error) {
	doc, err := s.read("read pin", id, credential.FieldPinHash)
	return doc.PIN, err
}

func (s *Store) ReadAuthed(_ context.Context, id uuid.UUID) (bool, error) {
	doc, err := s.read("read authed", id, credential.FieldAuthed)
	return doc.Authed, err
}

func (s *Store) ReadAttempts(_ context.Context, id uuid.UUID) (int, error) {
	doc, err := s.read("read attempts", id, credential.FieldAttempts)
	return doc.Attempts, err
}

func (s *Store) ReadAddress(_ context.Context, id uuid.UUID) (string, error) {
	doc, err := s.read("read address", id, credential.FieldAddress)
	return doc.IP, err
}

func (s *Store) ReadTimestamp(_ context.Context, id uuid.UUID) (time.Time, error) {
	doc, err := s.read("read timestamp", id, credential.FieldTimestamp)
	if err != nil {
		return time.Time{}, err
	}
	return credential.ParseTimestamp(id, doc.Timestamp)
}

// WriteDefault creates the document for id unless one already exists.
func (s *Store) WriteDefault(_ context.Context, id uuid.UUID, passwordHash, pinHash, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path(id)); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, credential.Unavailable("write default", id, err)
	}
	rec := credential.NewDefaultRecord(id, passwordHash, pinHash, address, s.now())
	if err := s.save("write default", id, toDocument(rec)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) WriteAuthed(_ context.Context, id uuid.UUID, authed bool) error {
	return s.update("write authed", id, func(d *document) { d.Authed = authed })
}

func (s *Store) WriteAttempts(_ context.Context, id uuid.UUID, attempts int) error {
	return s.update("write attempts", id, func(d *document) { d.Attempts = attempts })
}

func (s *Store) WriteAddress(_ context.Context, id uuid.UUID, address string) error {
	return s.update("write address", id, func(d *document) { d.IP = address })
}

func (s *Store) WriteTimestamp(_ context.Context, id uuid.UUID, t time.Time) error {
	return s.update("write timestamp", id, func(d *document) { d.Timestamp = credential.FormatTimestamp(t) })
}

func (s *Store) WriteCredentials(_ context.Context, id uuid.UUID, passwordHash, pinHash string) error {
	return s.update("write credentials", id, func(d *document) {
		d.Password = passwordHash
		d.PIN = pinHash
	})
}

// Delete removes the document for id.
func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return credential.NotFound(id)
	}
	if err != nil {
		return credential.Unavailable("delete", id, err)
	}
	return nil
}

// AllIdentities lists the directory once. Files whose name is not a UUID are
// ignored.
func (s *Store) AllIdentities(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	entries, err := os.ReadDir(s.dir)
	s.mu.RUnlock()
	if err != nil {
		return nil, credential.Unavailable("all identities", uuid.Nil, err)
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Close is a no-op; documents are closed after every operation.
func (s *Store) Close() error { return nil }

func toDocument(rec credential.Record) document {
	return document{
		Password:  rec.PasswordHash,
		PIN:       rec.PinHash,
		Authed:    rec.Authed,
		Attempts:  rec.Attempts,
		IP:        rec.Address,
		Timestamp: credential.FormatTimestamp(rec.Timestamp),
	}
}

// Compile-time interface check.
var _ credential.Store = (*Store)(nil)
