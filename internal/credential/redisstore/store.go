// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redisstore implements credential.Store on Redis. Each identity is a
// hash under <prefix>:cred:<uuid>; a set under <prefix>:ids indexes them.
package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/holomush/duoauth/internal/credential"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store keeps records as Redis hashes.
type Store struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// insertScript writes a fresh hash only when the key is absent.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

// updateScript sets fields on an existing hash and never creates one.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// New wraps an existing client.
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "duoauth"
	}
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

// Open dials Redis with opts and checks connectivity.
func Open(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, credential.Unavailable("ping", uuid.Nil, err)
	}
	return New(rdb, opts.Prefix), nil
}

func (s *Store) key(id uuid.UUID) string {
	return s.prefix + ":cred:" + id.String()
}

func (s *Store) indexKey() string {
	return s.prefix + ":ids"
}

func (s *Store) readField(ctx context.Context, id uuid.UUID, field credential.Field) (string, error) {
	v, err := s.rdb.HGet(ctx, s.key(id), string(field)).Result()
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", credential.Unavailable("read "+string(field), id, err)
	}
	// Missing field: distinguish an absent record from a damaged one.
	ok, cerr := s.Contains(ctx, id)
	if cerr != nil {
		return "", cerr
	}
	if !ok {
		return "", credential.NotFound(id)
	}
	return "", credential.Malformed(id, field, errors.New("field missing"))
}

func (s *Store) update(ctx context.Context, op string, id uuid.UUID, pairs ...string) error {
	args := make([]any, len(pairs))
	for i, p := range pairs {
		args[i] = p
	}
	n, err := updateScript.Run(ctx, s.rdb, []string{s.key(id)}, args...).Int()
	if err != nil {
		return credential.Unavailable(op, id, err)
	}
	if n == 0 {
		return credential.NotFound(id)
	}
	return nil
}

// Contains reports whether the hash for id exists.
func (s *Store) Contains(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, credential.Unavailable("contains", id, err)
	}
	return n == 1, nil
}

func (s *Store) ReadPasswordHash(ctx context.Context, id uuid.UUID) (string, error) {
	return s.readField(ctx, id, credential.FieldPasswordHash)
}

func (s *Store) ReadPinHash(ctx context.Context, id uuid.UUID) (string, error) {
	return s.readField(ctx, id, credential.FieldPinHash)
}

func (s *Store) ReadAuthed(ctx context.Context, id uuid.UUID) (bool, error) {
	raw, err := s.readField(ctx, id, credential.FieldAuthed)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, credential.Malformed(id, credential.FieldAuthed, err)
	}
	return v, nil
}

func (s *Store) ReadAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	raw, err := s.readField(ctx, id, credential.FieldAttempts)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		if err == nil {
			err = errors.New("negative attempts")
		}
		return 0, credential.Malformed(id, credential.FieldAttempts, err)
	}
	return v, nil
}

func (s *Store) ReadAddress(ctx context.Context, id uuid.UUID) (string, error) {
	return s.readField(ctx, id, credential.FieldAddress)
}

func (s *Store) ReadTimestamp(ctx context.Context, id uuid.UUID) (time.Time, error) {
	raw, err := s.readField(ctx, id, credential.FieldTimestamp)
	if err != nil {
		return time.Time{}, err
	}
	return credential.ParseTimestamp(id, raw)
}

// WriteDefault creates the hash and indexes it, atomically, unless it exists.
func (s *Store) WriteDefault(ctx context.Context, id uuid.UUID, passwordHash, pinHash, address string) (bool, error) {
	rec := credential.NewDefaultRecord(id, passwordHash, pinHash, address, s.now())
	n, err := insertScript.Run(ctx, s.rdb, []string{s.key(id), s.indexKey()},
		id.String(),
		string(credential.FieldPasswordHash), rec.PasswordHash,
		string(credential.FieldPinHash), rec.PinHash,
		string(credential.FieldAuthed), strconv.FormatBool(rec.Authed),
		string(credential.FieldAttempts), strconv.Itoa(rec.Attempts),
		string(credential.FieldAddress), rec.Address,
		string(credential.FieldTimestamp), credential.FormatTimestamp(rec.Timestamp),
	).Int()
	if err != nil {
		return false, credential.Unavailable("write default", id, err)
	}
	return n == 1, nil
}

func (s *Store) WriteAuthed(ctx context.Context, id uuid.UUID, authed bool) error {
	return s.update(ctx, "write authed", id, string(credential.FieldAuthed), strconv.FormatBool(authed))
}

func (s *Store) WriteAttempts(ctx context.Context, id uuid.UUID, attempts int) error {
	return s.update(ctx, "write attempts", id, string(credential.FieldAttempts), strconv.Itoa(attempts))
}

func (s *Store) WriteAddress(ctx context.Context, id uuid.UUID, address string) error {
	return s.update(ctx, "write address", id, string(credential.FieldAddress), address)
}

func (s *Store) WriteTimestamp(ctx context.Context, id uuid.UUID, t time.Time) error {
	return s.update(ctx, "write timestamp", id, string(credential.FieldTimestamp), credential.FormatTimestamp(t))
}

func (s *Store) WriteCredentials(ctx context.Context, id uuid.UUID, passwordHash, pinHash string) error {
	return s.update(ctx, "write credentials", id,
		string(credential.FieldPasswordHash), passwordHash,
		string(credential.FieldPinHash), pinHash)
}

// Delete removes the hash and its index entry.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, s.key(id))
		p.SRem(ctx, s.indexKey(), id.String())
		return nil
	})
	if err != nil {
		return credential.Unavailable("delete", id, err)
	}
	if del.Val() == 0 {
		return credential.NotFound(id)
	}
	return nil
}

// AllIdentities reads the index set. Members that do not parse are skipped.
func (s *Store) AllIdentities(ctx context.Context) ([]uuid.UUID, error) {
	members, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, credential.Unavailable("all identities", uuid.Nil, err)
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Compile-time interface check.
var _ credential.Store = (*Store)(nil)
