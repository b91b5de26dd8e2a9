// Package token creates and verifies authenticated token strings, used by
// Manager to bind session IDs and CSRF tokens to a server-side secret.
//
// Tokens have the form
//
//	v1!<base64url payload>.<base64url HMAC-SHA256>
//
// where the MAC covers everything before the final separator.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	version    = "v1"
	versionSep = "!"
	macSep     = "."
	// Length of a base64-encoded 32 byte MAC.
	encodedMACLen = 44
	keyLen        = 32
)

var (
	// ErrUnsupportedVersion indicates that the version prefix of the token is
	// not supported by this implementation.
	ErrUnsupportedVersion = errors.New("unsupported version")
	// ErrBadToken indicates that the token string is structurally invalid.
	ErrBadToken = errors.New("bad token")
	// ErrInvalidToken indicates that the token string fails authenticity checks.
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticator creates and verifies tokens under a single key.
type Authenticator struct {
	key []byte
}

// NewAuthenticator returns an Authenticator computing MACs with a key derived
// (HKDF-SHA256) from secret for the given purpose. Tokens created for one
// purpose do not verify under another.
func NewAuthenticator(secret []byte, purpose string) (*Authenticator, error) {
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("failed to derive %q key: %w", purpose, err)
	}
	return &Authenticator{key: key}, nil
}

func (a *Authenticator) mac(msg string) []byte {
	h := hmac.New(sha256.New, a.key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

// Create returns an authenticated token carrying data.
func (a *Authenticator) Create(data []byte) string {
	msg := version + versionSep + base64.URLEncoding.EncodeToString(data)
	return msg + macSep + base64.URLEncoding.EncodeToString(a.mac(msg))
}

// Verify checks the authenticity of token and returns the data it carries.
func (a *Authenticator) Verify(token string) ([]byte, error) {
	ver, rest, ok := strings.Cut(token, versionSep)
	if !ok {
		return nil, fmt.Errorf("missing version header: %w", ErrBadToken)
	}
	if ver != version {
		return nil, fmt.Errorf("version %q: %w", ver, ErrUnsupportedVersion)
	}
	body, encodedMAC, ok := strings.Cut(rest, macSep)
	if !ok || strings.Contains(encodedMAC, macSep) || strings.Contains(body, versionSep) {
		return nil, fmt.Errorf("malformed token body: %w", ErrBadToken)
	}
	if len(encodedMAC) != encodedMACLen {
		return nil, fmt.Errorf("incorrect MAC footer length: %w", ErrBadToken)
	}
	mac, err := base64.URLEncoding.DecodeString(encodedMAC)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MAC footer (error: %v): %w", err, ErrBadToken)
	}
	if !hmac.Equal(a.mac(token[:len(ver)+len(versionSep)+len(body)]), mac) {
		return nil, fmt.Errorf("token MAC verification failed: %w", ErrInvalidToken)
	}
	data, err := base64.URLEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data segment (error: %v): %w", err, ErrBadToken)
	}
	return data, nil
}
