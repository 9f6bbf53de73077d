// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements credential.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	// Register the pgx/v5 driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/holomush/duoauth/internal/credential"
	"github.com/holomush/duoauth/internal/credential/sqlmigrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store keeps records in the credentials table.
type Store struct {
	pool Pool
	now  func() time.Time
}

// New wraps an existing pool.
func New(pool Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Open connects to dsn, verifies the connection and returns a Store.
// Migrations are not applied; call Migrate first.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, credential.Unavailable("connect", uuid.Nil, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, credential.Unavailable("ping", uuid.Nil, err)
	}
	return New(pool), nil
}

// MigrateURL converts a postgres:// or postgresql:// URL to the pgx5://
// scheme golang-migrate expects.
func MigrateURL(databaseURL string) string {
	if rest, found := strings.CutPrefix(databaseURL, "postgres://"); found {
		return "pgx5://" + rest
	}
	if rest, found := strings.CutPrefix(databaseURL, "postgresql://"); found {
		return "pgx5://" + rest
	}
	return databaseURL
}

// NewMigrator returns a migrator for the database at databaseURL.
func NewMigrator(databaseURL string) (*sqlmigrate.Migrator, error) {
	return sqlmigrate.New(migrationsFS, "migrations", MigrateURL(databaseURL))
}

// Migrate applies pending migrations to the database at databaseURL.
func Migrate(databaseURL string) error {
	return sqlmigrate.Apply(migrationsFS, "migrations", MigrateURL(databaseURL))
}

func (s *Store) readColumn(ctx context.Context, op string, id uuid.UUID, column string, dest any) error {
	//nolint:gosec // column is one of the package constants, never user input
	q := fmt.Sprintf(`SELECT %s FROM credentials WHERE id = $1`, column)
	err := s.pool.QueryRow(ctx, q, id.String()).Scan(dest)
	if errors.Is(err, pgx.ErrNoRows) {
		return credential.NotFound(id)
	}
	if err != nil {
		return credential.Unavailable(op, id, err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, op string, id uuid.UUID, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return credential.Unavailable(op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return credential.NotFound(id)
	}
	return nil
}

func (s *Store) writeColumn(ctx context.Context, op string, id uuid.UUID, column string, value any) error {
	//nolint:gosec // column is one of the package constants, never user input
	q := fmt.Sprintf(`UPDATE credentials SET %s = $1 WHERE id = $2`, column)
	return s.exec(ctx, op, id, q, value, id.String())
}

// Contains reports whether a row exists for id.
func (s *Store) Contains(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM credentials WHERE id = $1)`, id.String()).Scan(&exists)
	if err != nil {
		return false, credential.Unavailable("contains", id, err)
	}
	return exists, nil
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
	var v bool
	err := s.readColumn(ctx, "read authed", id, "authed", &v)
	return v, err
}

func (s *Store) ReadAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var v int32
	err := s.readColumn(ctx, "read attempts", id, "attempts", &v)
	return int(v), err
}

func (s *Store) ReadAddress(ctx context.Context, id uuid.UUID) (string, error) {
	var v string
	err := s.readColumn(ctx, "read address", id, "ip", &v)
	return v, err
}

func (s *Store) ReadTimestamp(ctx context.Context, id uuid.UUID) (time.Time, error) {
	var v time.Time
	if err := s.readColumn(ctx, "read timestamp", id, "last_timestamp", &v); err != nil {
		return time.Time{}, err
	}
	return v.UTC(), nil
}

// WriteDefault inserts the default row. A unique violation means another
// writer provisioned the identity first and is reported as not written.
func (s *Store) WriteDefault(ctx context.Context, id uuid.UUID, passwordHash, pinHash, address string) (bool, error) {
	rec := credential.NewDefaultRecord(id, passwordHash, pinHash, address, s.now())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (id, password_hash, pin_hash, authed, attempts, ip, last_timestamp)
		VALUES ($1, $2, $3, FALSE, 0, $4, $5)
	`, id.String(), rec.PasswordHash, rec.PinHash, rec.Address, rec.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return false, nil
		}
		return false, credential.Unavailable("write default", id, err)
	}
	return true, nil
}

func (s *Store) WriteAuthed(ctx context.Context, id uuid.UUID, authed bool) error {
	return s.writeColumn(ctx, "write authed", id, "authed", authed)
}

func (s *Store) WriteAttempts(ctx context.Context, id uuid.UUID, attempts int) error {
	return s.writeColumn(ctx, "write attempts", id, "attempts", attempts)
}

func (s *Store) WriteAddress(ctx context.Context, id uuid.UUID, address string) error {
	return s.writeColumn(ctx, "write address", id, "ip", address)
}

func (s *Store) WriteTimestamp(ctx context.Context, id uuid.UUID, t time.Time) error {
	return s.writeColumn(ctx, "write timestamp", id, "last_timestamp", t.UTC())
}

func (s *Store) WriteCredentials(ctx context.Context, id uuid.UUID, passwordHash, pinHash string) error {
	return s.exec(ctx, "write credentials", id,
		`UPDATE credentials SET password_hash = $1, pin_hash = $2 WHERE id = $3`,
		passwordHash, pinHash, id.String())
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "delete", id, `DELETE FROM credentials WHERE id = $1`, id.String())
}

// AllIdentities returns every id in a single query.
func (s *Store) AllIdentities(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id::text FROM credentials`)
	if err != nil {
		return nil, credential.Unavailable("all identities", uuid.Nil, err)
	}
	defer rows.Close()

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

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Compile-time interface check.
var _ credential.Store = (*Store)(nil)
