// Package session provides helpers for managing user sessions.
//
// At a high level, Manager manages the creation of Session instances, which
// are in turn persisted to a SessionStore (e.g., an Aerospike set). The
// Session is imbued with an arbitrary Data payload, which can be used to store
// user session details (e.g. identity). Session lifetime is owned by the
// store: every read through Manage refreshes the stored record's TTL, and a
// session that is not read for a full TTL disappears.
//
// At Session creation, Manager will set the session cookie to an
// authenticated form of the store-issued Session ID.
//
// Sessions also contain an assocated CSRF token, which can be used in CSRF
// protections (e.g., hidden form fields).
//
// The general principle is that HTTP handlers that must be Session-aware will
// use the Manage middleware. The latter ensures that a Session always exists,
// and defaults to a pre-session - i.e., one with nil associated Data. This
// ensures that CSRF protection is always possible.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/swfrench/aerospike-session/internal/retry"
	"github.com/swfrench/aerospike-session/internal/token"
	"github.com/swfrench/aerospike-session/store"
	"golang.org/x/exp/slog"
)

const (
	defaultIDLen             = 16 // bytes
	defaultSessionCookieName = "session"
	createAttempts           = 3
	sidTokenPurpose          = "session-id"
	csrfTokenPurpose         = "csrf-token"
)

// contextKey is the type used to represent keys identifying values stored in
// the request Context.
type contextKey string

const contextKeySession = contextKey("session")

// Session represents a user session.
type Session[D any] struct {
	// ID is the identifier issued by the SessionStore at creation.
	ID string `json:"id"`
	// Data is an arbitrary data payload. Type D must meet any requirements of
	// the chosen store Codec (e.g., must marshal to / from JSON).
	Data *D `json:"data"`
	// Created is the time at which the session was first stored.
	Created time.Time `json:"created"`
	// CSRFToken is a random identifier (authenticated) bound to this session,
	// suitable for, e.g., embedding in a hidden form field.
	CSRFToken string `json:"csrf_token"`
}

// SessionID implements store.Session.
func (s *Session[D]) SessionID() string {
	return s.ID
}

// AssignSessionID implements store.Session.
func (s *Session[D]) AssignSessionID(sid string) {
	s.ID = sid
}

// Options represents tunable knobs that control the behavior of Manager.
type Options struct {
	// CookieLifetime bounds the lifetime of the session cookie. Zero yields a
	// browser-session cookie (no Expires attribute); the stored session still
	// expires per the store TTL.
	// Default if unspecified: 0
	CookieLifetime time.Duration
	// IDLen is the length of random portion of CSRF tokens. Note that the
	// full token will be extended with its HMAC (32 bytes) and base64url
	// enconded.
	// Default if unspecified: 16 bytes
	IDLen int
	// SessionCookieName is the name of the session ID cookie set by Manager.
	// For example, together with a suitable definition of CreateCookie (see
	// below), this can be used to configure a secure cookie name prefix
	// (e.g., "__Host-").
	// Default if unspecified: "session"
	SessionCookieName string
	// CreateCookie is a user-supplied factory for creating session ID cookies
	// with the provided name, value, and expiration. This is provided as a
	// convenience for granular control of cookie attributes, such as Path.
	// Default if unspecified: CreateStrictCookie
	CreateCookie func(name, value string, expires time.Time) *http.Cookie
	// OnCreate, if set, is invoked with the new *Session[D] whenever Create
	// succeeds, after the session cookie has been set.
	OnCreate func(w http.ResponseWriter, s any)
}

// CreateStrictCookie returns an http.Cookie with strict defaults, with the
// provided name, value, and expiration. The resulting cookie is marked Secure,
// HttpOnly, and SameSite Strict, with no Domain or Path attribute.
// Consider using this as a base for your own implementation of CreateCookie.
func CreateStrictCookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Expires:  expires,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// Manager manages user sessions (i.e., Session instances).
type Manager[D any] struct {
	// Clock can be used to override measurement of time in tests.
	Clock    func() time.Time
	store    store.SessionStore[*Session[D]]
	opts     *Options
	sidAuth  *token.Authenticator
	csrfAuth *token.Authenticator
	backoff  retry.Backoff
}

// NewManager returns a new Manager using the provided store for session
// storage and respecting the provided options.
// Session cookies and associated CSRF tokens are authenticated with
// HMAC-SHA256 using keys derived from the provided secret.
func NewManager[D any](s store.SessionStore[*Session[D]], secret []byte, opts *Options) (*Manager[D], error) {
	if opts.IDLen == 0 {
		opts.IDLen = defaultIDLen
	}
	if opts.SessionCookieName == "" {
		opts.SessionCookieName = defaultSessionCookieName
	}
	if opts.CreateCookie == nil {
		opts.CreateCookie = CreateStrictCookie
	}
	sidAuth, err := token.NewAuthenticator(secret, sidTokenPurpose)
	if err != nil {
		return nil, err
	}
	csrfAuth, err := token.NewAuthenticator(secret, csrfTokenPurpose)
	if err != nil {
		return nil, err
	}
	return &Manager[D]{
		Clock:    func() time.Time { return time.Now() },
		store:    s,
		opts:     opts,
		sidAuth:  sidAuth,
		csrfAuth: csrfAuth,
		backoff: retry.Backoff{
			Base:   10 * time.Millisecond,
			Growth: 2.0,
			Jitter: 0.2,
		},
	}, nil
}

// GetSession returns the Session object instance from the provided Context -
// i.e., previously stored there via the Manage middleware.
func (sm *Manager[D]) GetSession(ctx context.Context) *Session[D] {
	s := ctx.Value(contextKeySession)
	if s == nil {
		return nil
	}
	return s.(*Session[D])
}

func (sm *Manager[D]) createCSRFToken() (string, error) {
	data := make([]byte, sm.opts.IDLen)
	if _, err := rand.Read(data); err != nil {
		return "", err
	}
	return sm.csrfAuth.Create(data), nil
}

// Create creates a new Session with the provided Data payload, storing the
// session to the SessionStore and setting the associated session cookie.
// Store failures other than invalid session data are retried with jittered
// backoff.
func (sm *Manager[D]) Create(ctx context.Context, w http.ResponseWriter, data *D) (*Session[D], error) {
	csrf, err := sm.createCSRFToken()
	if err != nil {
		return nil, err
	}
	var s *Session[D]
	err = sm.backoff.Do(ctx, func(ctx context.Context) error {
		s = &Session[D]{
			Data:      data,
			Created:   sm.Clock(),
			CSRFToken: csrf,
		}
		if _, err := sm.store.Create(ctx, s); err != nil {
			if errors.Is(err, store.ErrInvalidSessionData) {
				return retry.Permanent(err)
			}
			if !errors.Is(err, store.ErrSessionExists) {
				slog.Error("Failed to store new session", "error", err)
			}
			return err
		}
		return nil
	}, createAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	sm.setSIDCookie(w, s.ID)
	if sm.opts.OnCreate != nil {
		sm.opts.OnCreate(w, s)
	}
	return s, nil
}

// Save persists changes to an existing Session (e.g., its Data payload).
// ErrSessionNotFound is returned if the session has since expired or been
// cleared, in which case it is not recreated.
func (sm *Manager[D]) Save(ctx context.Context, s *Session[D]) error {
	return sm.store.Update(ctx, s)
}

// Clear creates a new pre-session (i.e., a Session with no Data payload) and
// attempts to delete the prior session from the SessionStore. The former is
// stored to the SessionStore and its ID set in the session cookie, and it is
// also returned. Deletion of the old session is considered non-critical
// (i.e., unexpected errors are merely logged).
func (sm *Manager[D]) Clear(ctx context.Context, w http.ResponseWriter, sid string) (*Session[D], error) {
	ps, err := sm.Create(ctx, w, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create new pre-session: %w", err)
	}
	if err := sm.store.Delete(ctx, &Session[D]{ID: sid}); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		slog.Error("Failed to delete data for session", "sid", sid, "error", err)
	}
	return ps, nil
}

// Active returns the sessions currently held by the SessionStore, on a
// best-effort basis.
func (sm *Manager[D]) Active(ctx context.Context) []*Session[D] {
	return sm.store.Active(ctx)
}

func (sm *Manager[D]) setSIDCookie(w http.ResponseWriter, sid string) {
	var expires time.Time
	if sm.opts.CookieLifetime > 0 {
		expires = sm.Clock().Add(sm.opts.CookieLifetime)
	}
	http.SetCookie(w, sm.opts.CreateCookie(sm.opts.SessionCookieName, sm.sidAuth.Create([]byte(sid)), expires))
}

var errNoSIDCookie = errors.New("no SID cookie")

// getSID fetches the session cookie from the provided request, verifies its
// authenticity and returns the SID it carries.
func (sm *Manager[D]) getSID(r *http.Request) (string, error) {
	c, err := r.Cookie(sm.opts.SessionCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", errNoSIDCookie
		}
		return "", err
	}
	return sm.VerifySessionCookie(c.Value)
}

// VerifySessionCookie verifies the authenticity of the provided session
// cookie value and returns the SID it carries.
func (sm *Manager[D]) VerifySessionCookie(value string) (string, error) {
	sid, err := sm.sidAuth.Verify(value)
	if err != nil {
		return "", fmt.Errorf("failed to validate session cookie: %w", err)
	}
	return string(sid), nil
}

// VerifySessionCSRFToken verifies the authenticity of the provided CSRF token
// and that it matches the expected value for the provided Session.
func (sm *Manager[D]) VerifySessionCSRFToken(token string, s *Session[D]) error {
	if _, err := sm.csrfAuth.Verify(token); err != nil {
		return fmt.Errorf("failed to validate CSRF token: %w", err)
	}
	if token != s.CSRFToken {
		return fmt.Errorf("CSRF token %q does not match session-bound token %q", token, s.CSRFToken)
	}
	return nil
}

func (sm *Manager[D]) wrapHandler(w http.ResponseWriter, r *http.Request, next http.Handler) {
	var s *Session[D]
	sid, err := sm.getSID(r)
	if err != nil {
		// Regardless of the error reason, we'll create a pre-session below.
		if !errors.Is(err, errNoSIDCookie) {
			slog.Error("Failed to extract session cookie", "error", err)
		}
	} else if cs, err := sm.store.Read(r.Context(), sid); err != nil {
		slog.Debug("Failed to look up session for SID", "sid", sid, "error", err)
	} else {
		s = cs
	}
	if s == nil {
		ps, err := sm.Create(r.Context(), w, nil)
		if err != nil {
			slog.Error("Failed to create session", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		s = ps
	}
	ctx := context.WithValue(r.Context(), contextKeySession, s)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// Manage is a chi-compatible middleware that validates the session cookie,
// looks up the associated session data, and stores it to the request Context
// (which can be retrieved via GetSession).
// If no session cookie is present, a pre-session (i.e., one with nil Data
// payload) will be created. In other words, Manage ensures a session always
// exists (with an associated CSRF token).
func (sm *Manager[D]) Manage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sm.wrapHandler(w, r, next)
	})
}
