// Package tokenstore owns the credential pair for a session.
//
// A pair is either fully present or fully absent; partial pairs are rejected
// at the store boundary so no caller can observe an access token without its
// refresh token or vice versa. The store is the only process-wide mutable
// state in the client; everything else is owned by a single flow instance.
package tokenstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ticketrunners/authkit/token"
)

// ErrPartialCredentials is returned by Replace when either token is missing.
var ErrPartialCredentials = errors.New("credential pair must be fully present")

// Credentials is the access/refresh pair plus the declared access expiry.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	// AccessExpiresAt mirrors the expiry the server declared at issuance.
	// Expiry decisions decode the token itself; this field is informational
	// and survives stores that cannot re-derive it cheaply.
	AccessExpiresAt time.Time
}

func (c Credentials) complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// ExpiringSoon reports whether the access token must be refreshed before use,
// judged at now plus the safety buffer. Malformed tokens report true.
func (c Credentials) ExpiringSoon(buffer time.Duration, now time.Time) bool {
	return token.ExpiringSoon(c.AccessToken, buffer, now)
}

// Store holds at most one credential pair.
//
// Current returns (nil, nil) when no pair is held. Replace swaps the whole
// pair atomically; ReplaceAccess rotates only the access token, which is the
// common refresh outcome. Clear is idempotent.
type Store interface {
	Current(ctx context.Context) (*Credentials, error)
	Replace(ctx context.Context, creds Credentials) error
	ReplaceAccess(ctx context.Context, accessToken string, expiresAt time.Time) error
	Clear(ctx context.Context) error
}

// Memory is the default process-lifetime store.
type Memory struct {
	mu    sync.RWMutex
	creds *Credentials
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Current implements [Store].
func (m *Memory) Current(ctx context.Context) (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return nil, nil
	}
	copied := *m.creds
	return &copied, nil
}

// Replace implements [Store].
func (m *Memory) Replace(ctx context.Context, creds Credentials) error {
	if !creds.complete() {
		return ErrPartialCredentials
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = &creds
	return nil
}

// ReplaceAccess implements [Store]. It fails with [ErrPartialCredentials]
// when no pair is held, since rotating half of an absent pair would create
// the partial state the invariant forbids.
func (m *Memory) ReplaceAccess(ctx context.Context, accessToken string, expiresAt time.Time) error {
	if accessToken == "" {
		return ErrPartialCredentials
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return ErrPartialCredentials
	}
	updated := *m.creds
	updated.AccessToken = accessToken
	updated.AccessExpiresAt = expiresAt
	m.creds = &updated
	return nil
}

// Clear implements [Store].
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	return nil
}
