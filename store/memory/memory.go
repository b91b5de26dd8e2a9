// Package memory provides an in-memory SessionStore.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/swfrench/aerospike-session/store"
	"golang.org/x/exp/slog"
)

type entry struct {
	data    []byte
	expires time.Time
}

// Store is a simple in-memory session store, for use in tests or where an
// external store is not available. It follows the same contract as the
// Aerospike store: sessions are stored in encoded form with a fixed TTL, which
// Read and Update restart.
//
// Eviction: Expired sessions are garbage collected on entry to any Store
// method.
type Store[S store.Session] struct {
	// Clock can be overridden in tests (e.g., to test eviction logic).
	Clock func() time.Time
	// NewID mints session IDs. It can be overridden in tests.
	NewID     func() string
	codec     store.Codec[S]
	ttl       time.Duration
	mu        sync.Mutex
	items     map[string]*entry
	evictions *evictionQueue
}

// New returns a new Store instance whose sessions live for ttl after their
// last read or write.
func New[S store.Session](codec store.Codec[S], ttl time.Duration) *Store[S] {
	return &Store[S]{
		Clock:     func() time.Time { return time.Now() },
		NewID:     store.NewSessionID,
		codec:     codec,
		ttl:       ttl,
		items:     make(map[string]*entry),
		evictions: newEvictionQueue(),
	}
}

func (ms *Store[S]) evict(t time.Time) {
	for _, d := range ms.evictions.due(t) {
		// Only the latest deadline for an entry matches its expiry.
		if e, ok := ms.items[d.sid]; ok && e.expires.Equal(d.at) {
			delete(ms.items, d.sid)
		}
	}
}

// write stores data for sid; callers hold mu.
func (ms *Store[S]) write(sid string, data []byte, t time.Time) {
	e := &entry{data: data, expires: t.Add(ms.ttl)}
	ms.items[sid] = e
	ms.evictions.schedule(sid, e.expires)
}

func (ms *Store[S]) decode(sid string, data []byte) (S, error) {
	s, err := ms.codec.Decode(data)
	if err != nil {
		var zero S
		return zero, fmt.Errorf("failed to decode session data (error: %v): %w", err, store.ErrInvalidStoredSessionData)
	}
	s.AssignSessionID(sid)
	return s, nil
}

// Create mints a new SID, assigns it to s and stores s, returning
// ErrSessionExists if the SID is already in use.
func (ms *Store[S]) Create(ctx context.Context, s S) (string, error) {
	sid := ms.NewID()
	s.AssignSessionID(sid)
	data, err := ms.codec.Encode(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode session data (error: %v): %w", err, store.ErrInvalidSessionData)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	t := ms.Clock()
	ms.evict(t)
	if _, ok := ms.items[sid]; ok {
		return "", store.ErrSessionExists
	}
	ms.write(sid, data, t)
	return sid, nil
}

// Read returns the stored session associated with sid and restarts its TTL,
// or returns ErrSessionNotFound if no stored session exists.
func (ms *Store[S]) Read(ctx context.Context, sid string) (S, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	t := ms.Clock()
	ms.evict(t)
	e, ok := ms.items[sid]
	if !ok {
		var zero S
		return zero, store.ErrSessionNotFound
	}
	s, err := ms.decode(sid, e.data)
	if err != nil {
		var zero S
		return zero, err
	}
	ms.write(sid, e.data, t)
	return s, nil
}

// Update replaces the stored session with the same SID as s, returning
// ErrSessionNotFound if no stored session exists.
func (ms *Store[S]) Update(ctx context.Context, s S) error {
	sid := s.SessionID()
	data, err := ms.codec.Encode(s)
	if err != nil {
		return fmt.Errorf("failed to encode session data (error: %v): %w", err, store.ErrInvalidSessionData)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	t := ms.Clock()
	ms.evict(t)
	if _, ok := ms.items[sid]; !ok {
		return store.ErrSessionNotFound
	}
	ms.write(sid, data, t)
	return nil
}

// Delete deletes the stored session with the same SID as s, if any.
func (ms *Store[S]) Delete(ctx context.Context, s S) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.evict(ms.Clock())
	// Note: We let the evictions entry get cleaned up lazily.
	delete(ms.items, s.SessionID())
	return nil
}

// Active returns every live session. Entries that fail to decode are logged
// and skipped.
func (ms *Store[S]) Active(ctx context.Context) []S {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.evict(ms.Clock())
	sessions := make([]S, 0, len(ms.items))
	for sid, e := range ms.items {
		s, err := ms.decode(sid, e.data)
		if err != nil {
			slog.Warn("Skipping unreadable session", "sid", sid, "error", err)
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions
}
