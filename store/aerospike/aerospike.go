// Package aerospike provides an Aerospike-backed SessionStore.
//
// Each session is stored as a single record addressed by (namespace, set,
// SID), holding the encoded session in one bin. Records carry a fixed TTL
// which the cluster enforces; reads refresh it with a touch, so a session
// expires only after a full TTL without activity.
//
// The client API takes no context: the ctx passed to Store methods is not
// consulted, and calls are bounded by the client policy timeouts instead.
package aerospike

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	as "github.com/aerospike/aerospike-client-go/v7"
	"github.com/swfrench/aerospike-session/store"
	"golang.org/x/exp/slog"
)

const (
	// DefaultNamespace is the namespace used if none is configured.
	DefaultNamespace = "test"
	// DefaultSet is the set used if none is configured.
	DefaultSet = "sessions"
	// DefaultBin is the bin holding the encoded session if none is configured.
	DefaultBin = "data"
	// DefaultTTL is the record TTL used if none is configured.
	DefaultTTL = 30 * time.Minute
	// MaxTTL is the longest accepted record TTL: the default ceiling of the
	// server's max-ttl namespace setting.
	MaxTTL = 10 * 365 * 24 * time.Hour
	// DefaultScanRecordsPerSecond throttles enumeration scans if no other
	// limit is configured.
	DefaultScanRecordsPerSecond = 5000

	maxBinNameLen = 15
)

var (
	// ErrStoreClient indicates that an operation failed in the Aerospike
	// client (e.g., a timeout or a node failure).
	ErrStoreClient = errors.New("aerospike client error")
	// ErrInvalidOptions indicates that the provided Options cannot be used.
	ErrInvalidOptions = errors.New("invalid options")
)

// Options controls record addressing and expiration for Store.
type Options struct {
	// Namespace holding session records.
	// Default if unspecified: "test"
	Namespace string
	// Set holding session records.
	// Default if unspecified: "sessions"
	Set string
	// Bin holding the encoded session. At most 15 bytes.
	// Default if unspecified: "data"
	Bin string
	// TTL is the record time-to-live, truncated to whole seconds. It must be
	// between one second and MaxTTL, and is shared by every session in the
	// store.
	// Default if unspecified: 30m
	TTL time.Duration
	// ScanRecordsPerSecond limits the rate at which Active scans the cluster,
	// keeping enumeration from starving foreground reads and writes. Negative
	// values disable the limit.
	// Default if unspecified: 5000
	ScanRecordsPerSecond int
	// ScanMaxConcurrentNodes limits how many nodes are scanned in parallel.
	// Default if unspecified: 0 (all nodes)
	ScanMaxConcurrentNodes int
	// Logger receives warnings about degraded operations (failed touches,
	// unreadable records during enumeration).
	// Default if unspecified: slog.Default()
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.Set == "" {
		o.Set = DefaultSet
	}
	if o.Bin == "" {
		o.Bin = DefaultBin
	}
	if o.TTL == 0 {
		o.TTL = DefaultTTL
	}
	if o.ScanRecordsPerSecond == 0 {
		o.ScanRecordsPerSecond = DefaultScanRecordsPerSecond
	} else if o.ScanRecordsPerSecond < 0 {
		o.ScanRecordsPerSecond = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

func (o *Options) validate() error {
	if len(o.Bin) > maxBinNameLen {
		return fmt.Errorf("bin name %q longer than %d bytes: %w", o.Bin, maxBinNameLen, ErrInvalidOptions)
	}
	if o.TTL < time.Second {
		return fmt.Errorf("TTL %v is shorter than one second: %w", o.TTL, ErrInvalidOptions)
	}
	if o.TTL > MaxTTL {
		return fmt.Errorf("TTL %v is longer than %v: %w", o.TTL, MaxTTL, ErrInvalidOptions)
	}
	if o.ScanMaxConcurrentNodes < 0 {
		return fmt.Errorf("negative scan node concurrency %d: %w", o.ScanMaxConcurrentNodes, ErrInvalidOptions)
	}
	return nil
}

// Store is an Aerospike-based store for sessions of type S, implementing the
// store.SessionStore interface. A single Client is shared by all calls; Store
// adds no locking of its own, and concurrent updates of the same session are
// last-write-wins.
type Store[S store.Session] struct {
	// NewID mints session IDs. It can be overridden in tests.
	NewID        func() string
	client       Client
	codec        store.Codec[S]
	opts         Options
	createPolicy *as.WritePolicy
	updatePolicy *as.WritePolicy
	touchPolicy  *as.WritePolicy
	scanPolicy   *as.ScanPolicy
	closeOnce    sync.Once
}

func writePolicy(expiration uint32, action as.RecordExistsAction) *as.WritePolicy {
	p := as.NewWritePolicy(0, expiration)
	p.RecordExistsAction = action
	p.SendKey = true
	return p
}

// New returns a new Store issuing operations through client and encoding
// sessions with codec.
func New[S store.Session](client Client, codec store.Codec[S], opts Options) (*Store[S], error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	expiration := uint32(opts.TTL / time.Second)
	scan := as.NewScanPolicy()
	scan.IncludeBinData = true
	scan.RecordsPerSecond = opts.ScanRecordsPerSecond
	scan.MaxConcurrentNodes = opts.ScanMaxConcurrentNodes
	return &Store[S]{
		NewID:        store.NewSessionID,
		client:       client,
		codec:        codec,
		opts:         opts,
		createPolicy: writePolicy(expiration, as.CREATE_ONLY),
		updatePolicy: writePolicy(expiration, as.UPDATE_ONLY),
		touchPolicy:  as.NewWritePolicy(0, expiration),
		scanPolicy:   scan,
	}, nil
}

// Close releases the underlying client. Only the first call has any effect.
func (s *Store[S]) Close() {
	s.closeOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				s.opts.Logger.Error("Aerospike client panicked on close", "panic", r)
			}
		}()
		s.client.Close()
	})
}

func (s *Store[S]) key(sid string) (*as.Key, error) {
	k, aerr := as.NewKey(s.opts.Namespace, s.opts.Set, sid)
	if aerr != nil {
		return nil, fmt.Errorf("failed to build key for session %q (error: %v): %w", sid, aerr, ErrStoreClient)
	}
	return k, nil
}

func (s *Store[S]) put(policy *as.WritePolicy, key *as.Key, sess S) error {
	val, err := s.codec.Encode(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session data (error: %v): %w", err, store.ErrInvalidSessionData)
	}
	return s.client.Put(policy, key, as.BinMap{s.opts.Bin: val})
}

// decode extracts the session from the payload bin of rec. If the record
// carries its user key, it is assigned as the session ID.
func (s *Store[S]) decode(rec *as.Record) (S, error) {
	var zero S
	val, ok := rec.Bins[s.opts.Bin].([]byte)
	if !ok {
		return zero, fmt.Errorf("bin %q missing or not a blob: %w", s.opts.Bin, store.ErrInvalidStoredSessionData)
	}
	sess, err := s.codec.Decode(val)
	if err != nil {
		return zero, fmt.Errorf("failed to decode session data from Aerospike (error: %v): %w", err, store.ErrInvalidStoredSessionData)
	}
	if rec.Key != nil && rec.Key.Value() != nil {
		if sid, ok := rec.Key.Value().GetObject().(string); ok {
			sess.AssignSessionID(sid)
		}
	}
	return sess, nil
}

// Create mints a new SID, assigns it to sess, and writes the session with the
// configured TTL. A collision with an existing record returns
// store.ErrSessionExists; it is not retried.
func (s *Store[S]) Create(ctx context.Context, sess S) (string, error) {
	sid := s.NewID()
	sess.AssignSessionID(sid)
	key, err := s.key(sid)
	if err != nil {
		return "", err
	}
	if err := s.put(s.createPolicy, key, sess); err != nil {
		if errors.Is(err, ErrKeyExists) {
			return "", store.ErrSessionExists
		}
		if errors.Is(err, store.ErrInvalidSessionData) {
			return "", err
		}
		return "", fmt.Errorf("failed to store session to Aerospike (error: %v): %w", err, ErrStoreClient)
	}
	s.opts.Logger.Debug("Created session", "sid", sid)
	return sid, nil
}

// Read returns the stored session for sid, or store.ErrSessionNotFound, and
// touches the record to restart its TTL. A failed touch is logged but does not
// fail the read.
func (s *Store[S]) Read(ctx context.Context, sid string) (S, error) {
	var zero S
	key, err := s.key(sid)
	if err != nil {
		return zero, err
	}
	rec, err := s.client.Get(key, s.opts.Bin)
	if errors.Is(err, ErrKeyNotFound) {
		return zero, store.ErrSessionNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to read session from Aerospike (error: %v): %w", err, ErrStoreClient)
	}
	sess, err := s.decode(rec)
	if err != nil {
		return zero, err
	}
	sess.AssignSessionID(sid)
	if err := s.client.Touch(s.touchPolicy, key); err != nil {
		s.opts.Logger.Warn("Failed to touch session", "sid", sid, "error", err)
	}
	return sess, nil
}

// Update overwrites the stored session with the same SID as sess, restarting
// its TTL. If no such record exists, store.ErrSessionNotFound is returned and
// nothing is written.
func (s *Store[S]) Update(ctx context.Context, sess S) error {
	sid := sess.SessionID()
	key, err := s.key(sid)
	if err != nil {
		return err
	}
	if _, err := s.client.Get(key); errors.Is(err, ErrKeyNotFound) {
		return store.ErrSessionNotFound
	} else if err != nil {
		return fmt.Errorf("failed to read session from Aerospike (error: %v): %w", err, ErrStoreClient)
	}
	// The record may still expire before the write lands; UPDATE_ONLY keeps
	// the write from recreating it.
	if err := s.put(s.updatePolicy, key, sess); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return store.ErrSessionNotFound
		}
		if errors.Is(err, store.ErrInvalidSessionData) {
			return err
		}
		return fmt.Errorf("failed to store session to Aerospike (error: %v): %w", err, ErrStoreClient)
	}
	return nil
}

// Delete removes the stored session with the same SID as sess. Deleting a
// missing session succeeds; client failures are returned.
func (s *Store[S]) Delete(ctx context.Context, sess S) error {
	sid := sess.SessionID()
	key, err := s.key(sid)
	if err != nil {
		return err
	}
	if err := s.client.Delete(key); err != nil && !errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("failed to delete session %q from Aerospike (error: %v): %w", sid, err, ErrStoreClient)
	}
	s.opts.Logger.Debug("Deleted session", "sid", sid)
	return nil
}

// Active scans the whole set and returns every decodable session, at most once
// per SID. Enumeration is best-effort: unreadable records are skipped and a
// failed scan is logged, returning whatever was collected.
func (s *Store[S]) Active(ctx context.Context) []S {
	found := make(map[string]S)
	var order []string
	err := s.client.ScanAll(s.scanPolicy, s.opts.Namespace, s.opts.Set, func(rec *as.Record, err error) {
		if err != nil {
			s.opts.Logger.Warn("Scan returned an error in place of a record", "error", err)
			return
		}
		sess, err := s.decode(rec)
		if err != nil {
			s.opts.Logger.Warn("Skipping unreadable session record", "error", err)
			return
		}
		sid := sess.SessionID()
		if _, ok := found[sid]; !ok {
			order = append(order, sid)
		}
		found[sid] = sess
	}, s.opts.Bin)
	if err != nil {
		s.opts.Logger.Error("Failed to scan active sessions", "namespace", s.opts.Namespace, "set", s.opts.Set, "error", err)
	}
	sessions := make([]S, 0, len(order))
	for _, sid := range order {
		sessions = append(sessions, found[sid])
	}
	return sessions
}
