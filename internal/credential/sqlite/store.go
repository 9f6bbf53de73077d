// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sqlite implements credential.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Register the sqlite3 driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/google/uuid"
	// Register the sqlite3 database/sql driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/credential/sqlmigrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store keeps records in a single SQLite table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Migrate brings the schema of the database at path up to date.
func Migrate(path string) error {
	return sqlmigrate.Apply(migrationsFS, "migrations", "sqlite3://"+path)
}

// NewMigrator returns a migrator for the database at path.
func NewMigrator(path string) (*sqlmigrate.Migrator, error) {
	return sqlmigrate.New(migrationsFS, "migrations", "sqlite3://"+path)
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, credential.Unavailable("create database directory", uuid.Nil, err)
		}
	}
	if err := Migrate(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, credential.Unavailable("open database", uuid.Nil, err)
	}
	// One writer at a time; SQLite serializes writes anyway and this avoids
	// SQLITE_BUSY under concurrent chains.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, credential.Unavailable("ping database", uuid.Nil, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) readColumn(ctx context.Context, op string, id uuid.UUID, column string, dest any) error {
	//nolint:gosec // column is one of the package constants, never user input
	q := fmt.Sprintf(`SELECT %s FROM credentials WHERE id = ?`, column)
	err := s.db.QueryRowContext(ctx, q, id.String()).Scan(dest)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.NotFound(id)
	}
	if err != nil {
		return credential.Unavailable(op, id, err)
	}
	return nil
}

func (s *Store) writeColumn(ctx context.Context, op string, id uuid.UUID, column string, value any) error {
	//nolint:gosec // column is one of the package constants, never user input
	q := fmt.Sprintf(`UPDATE credentials SET %s = ? WHERE id = ?`, column)
	res, err := s.db.ExecContext(ctx, q, value, id.String())
	if err != nil {
		return credential.Unavailable(op, id, err)
	}
	return requireRow(res, op, id)
}

func requireRow(res sql.Result, op string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return credential.Unavailable(op, id, err)
	}
	if n == 0 {
		return credential.NotFound(id)
	}
	return nil
}

// Contains reports whether a row exists for id.
func (s *Store) Contains(ctx context.Context, id uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM credentials WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, credential.Unavailable("contains", id, err)
	}
	return true, nil
}

func (s *Store) ReadPasswordHash(ctx context.Context, id uuid.UUID) (string, error) {
	var v string
	err := s.readColumn(ctx, "read password", id, "password_hash", &v)
	return v, err
}

func (s *Store) ReadPinHash(ctx context.Context, id uuid.UUID) (string, error) {
	var v string
	err := s.readColumn(ctx, "read pin", id, "pin_hash", &v)
	return v, err
}

func (s *Store) ReadAuthed(ctx context.Context, id uuid.UUID) (bool, error) {
	var v int
	err := s.readColumn(ctx, "read authed", id, "authed", &v)
	return v != 0, err
}

func (s *Store) ReadAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var v int
	err := s.readColumn(ctx, "read attempts", id, "attempts", &v)
	return v, err
}

func (s *Store) ReadAddress(ctx context.Context, id uuid.UUID) (string, error) {
	var v string
	err := s.readColumn(ctx, "read address", id, "ip", &v)
	return v, err
}

func (s *Store) ReadTimestamp(ctx context.Context, id uuid.UUID) (time.Time, error) {
	var raw string
	if err := s.readColumn(ctx, "read timestamp", id, "last_timestamp", &raw); err != nil {
		return time.Time{}, err
	}
	return credential.ParseTimestamp(id, raw)
}

// WriteDefault inserts the default row; an existing row is left alone and
// reported as not written.
func (s *Store) WriteDefault(ctx context.Context, id uuid.UUID, passwordHash, pinHash, address string) (bool, error) {
	rec := credential.NewDefaultRecord(id, passwordHash, pinHash, address, s.now())
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO credentials (id, password_hash, pin_hash, authed, attempts, ip, last_timestamp)
		VALUES (?, ?, ?, 0, 0, ?, ?)
	`, id.String(), rec.PasswordHash, rec.PinHash, rec.Address, credential.FormatTimestamp(rec.Timestamp))
	if err != nil {
		return false, credential.Unavailable("write default", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, credential.Unavailable("write default", id, err)
	}
	return n == 1, nil
}

func (s *Store) WriteAuthed(ctx context.Context, id uuid.UUID, authed bool) error {
	v := 0
	if authed {
		v = 1
	}
	return s.writeColumn(ctx, "write authed", id, "authed", v)
}

func (s *Store) WriteAttempts(ctx context.Context, id uuid.UUID, attempts int) error {
	return s.writeColumn(ctx, "write attempts", id, "attempts", attempts)
}

func (s *Store) WriteAddress(ctx context.Context, id uuid.UUID, address string) error {
	return s.writeColumn(ctx, "write address", id, "ip", address)
}

func (s *Store) WriteTimestamp(ctx context.Context, id uuid.UUID, t time.Time) error {
	return s.writeColumn(ctx, "write timestamp", id, "last_timestamp", credential.FormatTimestamp(t))
}

func (s *Store) WriteCredentials(ctx context.Context, id uuid.UUID, passwordHash, pinHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET password_hash = ?, pin_hash = ? WHERE id = ?`,
		passwordHash, pinHash, id.String())
	if err != nil {
		return credential.Unavailable("write credentials", id, err)
	}
	return requireRow(res, "write credentials", id)
}

// Delete removes the row for id.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id.String())
	if err != nil {
		return credential.Unavailable("delete", id, err)
	}
	return requireRow(res, "delete", id)
}

// AllIdentities returns every id in one query. Rows whose id does not parse
// are skipped.
func (s *Store) AllIdentities(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM credentials`)
	if err != nil {
		return nil, credential.Unavailable("all identities", uuid.Nil, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, credential.Unavailable("scan identity", uuid.Nil, err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, credential.Unavailable("iterate identities", uuid.Nil, err)
	}
	return ids, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Compile-time interface check.
var _ credential.Store = (*Store)(nil)
