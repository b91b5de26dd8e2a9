// Package redis provides a Redis-backed SessionStore.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/swfrench/aerospike-session/store"
	"golang.org/x/exp/slog"
)

// ErrRedisClient indicates that a Redis command failed.
var ErrRedisClient = errors.New("redis client error")

const scanBatch = 100

// Store is a Redis-based store for sessions of type S, implementing the
// store.SessionStore interface. Each session is one string key, <prefix>:<SID>,
// expiring after the store TTL.
type Store[S store.Session] struct {
	// NewID mints session IDs. It can be overridden in tests.
	NewID  func() string
	rc     *goredis.Client
	codec  store.Codec[S]
	prefix string
	ttl    time.Duration
}

// New returns a new Store using the provided Redis client. Keys will be stored
// with the provided prefix, and live for ttl after their last read or write.
func New[S store.Session](rc *goredis.Client, codec store.Codec[S], prefix string, ttl time.Duration) *Store[S] {
	return &Store[S]{
		NewID:  store.NewSessionID,
		rc:     rc,
		codec:  codec,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (rs *Store[S]) sessionKey(sid string) string {
	return fmt.Sprintf("%s:%s", rs.prefix, sid)
}

func (rs *Store[S]) encode(s S) ([]byte, error) {
	val, err := rs.codec.Encode(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session data (error: %v): %w", err, store.ErrInvalidSessionData)
	}
	return val, nil
}

func (rs *Store[S]) decode(sid, val string) (S, error) {
	s, err := rs.codec.Decode([]byte(val))
	if err != nil {
		var zero S
		return zero, fmt.Errorf("failed to decode session data from Redis (error: %v): %w", err, store.ErrInvalidStoredSessionData)
	}
	s.AssignSessionID(sid)
	return s, nil
}

// Create mints a new SID, assigns it to s and stores s, returning
// ErrSessionExists if the SID is already in use.
func (rs *Store[S]) Create(ctx context.Context, s S) (string, error) {
	sid := rs.NewID()
	s.AssignSessionID(sid)
	val, err := rs.encode(s)
	if err != nil {
		return "", err
	}
	set, err := rs.rc.SetNX(ctx, rs.sessionKey(sid), val, rs.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to store session to Redis (error: %v): %w", err, ErrRedisClient)
	}
	if !set {
		return "", store.ErrSessionExists
	}
	return sid, nil
}

// Read returns the stored session associated with sid and restarts its TTL,
// or returns ErrSessionNotFound if no stored session exists. A failure to
// restart the TTL is logged but does not fail the read.
func (rs *Store[S]) Read(ctx context.Context, sid string) (S, error) {
	var zero S
	key := rs.sessionKey(sid)
	val, err := rs.rc.Get(ctx, key).Result()
	if err == goredis.Nil {
		return zero, store.ErrSessionNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to read session from Redis (error: %v): %w", err, ErrRedisClient)
	}
	s, err := rs.decode(sid, val)
	if err != nil {
		return zero, err
	}
	if err := rs.rc.Expire(ctx, key, rs.ttl).Err(); err != nil {
		slog.Warn("Failed to refresh session TTL", "sid", sid, "error", err)
	}
	return s, nil
}

// Update replaces the stored session with the same SID as s and restarts its
// TTL. The write is conditional on the key existing (SET XX), so a session
// that was deleted or expired is not recreated; ErrSessionNotFound is
// returned instead.
func (rs *Store[S]) Update(ctx context.Context, s S) error {
	val, err := rs.encode(s)
	if err != nil {
		return err
	}
	set, err := rs.rc.SetXX(ctx, rs.sessionKey(s.SessionID()), val, rs.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store session to Redis (error: %v): %w", err, ErrRedisClient)
	}
	if !set {
		return store.ErrSessionNotFound
	}
	return nil
}

// Delete deletes the stored session with the same SID as s, if any.
func (rs *Store[S]) Delete(ctx context.Context, s S) error {
	if err := rs.rc.Del(ctx, rs.sessionKey(s.SessionID())).Err(); err != nil {
		return fmt.Errorf("failed to delete session from Redis (error: %v): %w", err, ErrRedisClient)
	}
	return nil
}

// Active walks the keyspace with SCAN and returns every live, decodable
// session once. Errors are logged, and whatever was collected is returned.
func (rs *Store[S]) Active(ctx context.Context) []S {
	seen := make(map[string]bool)
	var sessions []S
	iter := rs.rc.Scan(ctx, 0, rs.sessionKey("*"), scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		sid := strings.TrimPrefix(key, rs.prefix+":")
		if seen[sid] {
			continue
		}
		val, err := rs.rc.Get(ctx, key).Result()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			slog.Warn("Failed to read session during scan", "sid", sid, "error", err)
			continue
		}
		s, err := rs.decode(sid, val)
		if err != nil {
			slog.Warn("Skipping unreadable session", "sid", sid, "error", err)
			continue
		}
		seen[sid] = true
		sessions = append(sessions, s)
	}
	if err := iter.Err(); err != nil {
		slog.Error("Failed to scan active sessions", "prefix", rs.prefix, "error", err)
	}
	return sessions
}
