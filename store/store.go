// Package store and its subpackages provide session storage functionality for
// use by Manager. See the aerospike, redis and memory subpackages for concrete
// implementations of SessionStore.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound indicates that the provided SID does not map to any
	// stored session (i.e., it was never created, was deleted, or expired).
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists indicates that a newly minted SID already maps to a
	// stored session.
	ErrSessionExists = errors.New("session exists")
	// ErrInvalidSessionData indicates that the provided session data is
	// invalid, and cannot be used. For example, this may occur if it cannot be
	// successfully marshalled to JSON.
	ErrInvalidSessionData = errors.New("invalid session data")
	// ErrInvalidStoredSessionData indicates that the session data fetched from
	// storage is invalid, and cannot be used. For example, this may occur if it
	// cannot be successfully unmarshalled.
	ErrInvalidStoredSessionData = errors.New("invalid stored session data")
)

// Session is implemented by session types that can be persisted to a
// SessionStore. The store assigns the SID at creation time.
type Session interface {
	SessionID() string
	AssignSessionID(sid string)
}

// SessionStore represents an abstract Session storage object.
//
// Every stored session lives for the store's TTL, which is refreshed by both
// Read and Update. Implementations must be safe for concurrent use.
type SessionStore[S Session] interface {
	// Create mints a new SID, assigns it to s, and stores s.
	Create(ctx context.Context, s S) (string, error)
	// Read returns the stored session for sid, refreshing its TTL, or
	// ErrSessionNotFound.
	Read(ctx context.Context, sid string) (S, error)
	// Update overwrites an existing stored session, returning
	// ErrSessionNotFound rather than recreating a missing one.
	Update(ctx context.Context, s S) error
	// Delete removes the stored session, if any. Deleting a missing session
	// is not an error.
	Delete(ctx context.Context, s S) error
	// Active returns all live sessions on a best-effort basis: enumeration
	// failures are logged and whatever was collected is returned.
	Active(ctx context.Context) []S
}

// Codec converts sessions to and from their opaque stored form.
type Codec[S any] interface {
	Encode(S) ([]byte, error)
	Decode([]byte) (S, error)
}

// JSONCodec is a Codec for *T based on encoding/json.
type JSONCodec[T any] struct{}

// Encode marshals s to JSON.
func (JSONCodec[T]) Encode(s *T) ([]byte, error) {
	return json.Marshal(s)
}

// Decode unmarshals a new *T from JSON.
func (JSONCodec[T]) Decode(b []byte) (*T, error) {
	t := new(T)
	if err := json.Unmarshal(b, t); err != nil {
		return nil, err
	}
	return t, nil
}

// NewSessionID returns a new random (version 4) UUID string.
func NewSessionID() string {
	return uuid.NewString()
}
