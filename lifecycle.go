package authkit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ticketrunners/authkit/internal/httpx"
	"github.com/ticketrunners/authkit/token"
	"github.com/ticketrunners/authkit/tokenstore"
)

// SessionState is the lifecycle position of the held credential pair.
type SessionState int32

const (
	// SessionInvalid means no usable pair is held; authorized calls fail
	// with ErrSessionRequired until a flow activates a session.
	SessionInvalid SessionState = iota
	// SessionValid means the pair is held and the access token is believed
	// live.
	SessionValid
	// SessionRefreshing means a refresh exchange is in flight. Concurrent
	// token requests wait on its outcome rather than starting their own.
	SessionRefreshing
)

// String returns the lowercase state name.
func (s SessionState) String() string {
	switch s {
	case SessionValid:
		return "valid"
	case SessionRefreshing:
		return "refreshing"
	default:
		return "invalid"
	}
}

// TokenLifecycle owns the credential pair: it hands out access tokens,
// refreshes them proactively inside the expiry buffer, and retires the
// session when the refresh credential itself is rejected.
//
// At most one refresh exchange is in flight at any moment. Concurrent
// callers that find the access token expiring join the in-flight exchange
// and all observe its single outcome.
type TokenLifecycle struct {
	exec    *httpx.Executor
	store   tokenstore.Store
	buffer  time.Duration
	events  *eventDispatcher
	metrics *Metrics
	now     func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	state SessionState
}

func newTokenLifecycle(
	exec *httpx.Executor,
	store tokenstore.Store,
	buffer time.Duration,
	events *eventDispatcher,
	metrics *Metrics,
	now func() time.Time,
) *TokenLifecycle {
	return &TokenLifecycle{
		exec:    exec,
		store:   store,
		buffer:  buffer,
		events:  events,
		metrics: metrics,
		now:     now,
	}
}

// State reports the current session state.
func (l *TokenLifecycle) State() SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *TokenLifecycle) setState(s SessionState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// observeLive records that a stored pair was seen usable. A client built
// over a store that already holds a session, such as a Redis record from a
// previous process, becomes Valid the first time the pair is served. A
// refresh in flight is not overridden.
func (l *TokenLifecycle) observeLive() {
	l.mu.Lock()
	if l.state == SessionInvalid {
		l.state = SessionValid
	}
	l.mu.Unlock()
}

// Activate installs a freshly issued pair, replacing whatever was held.
func (l *TokenLifecycle) Activate(ctx context.Context, creds tokenstore.Credentials) error {
	if err := l.store.Replace(ctx, creds); err != nil {
		return err
	}
	l.setState(SessionValid)
	return nil
}

// Invalidate discards the pair and marks the session ended. It is idempotent.
func (l *TokenLifecycle) Invalidate(ctx context.Context, cause error) error {
	if err := l.store.Clear(ctx); err != nil {
		return err
	}
	l.setState(SessionInvalid)
	l.metrics.Inc(MetricSessionEnded)
	event := Event{Type: EventSessionEnded, Timestamp: l.now()}
	if cause != nil {
		event.Error = cause.Error()
	}
	l.events.emit(ctx, event)
	return nil
}

// AccessToken returns an access token safe to attach to a request issued
// now. When the held token is inside the expiry buffer it is refreshed
// first; the caller never receives a token expected to die mid-flight.
func (l *TokenLifecycle) AccessToken(ctx context.Context) (string, error) {
	creds, err := l.store.Current(ctx)
	if err != nil {
		return "", err
	}
	if creds == nil {
		return "", ErrSessionRequired
	}
	if !creds.ExpiringSoon(l.buffer, l.now()) {
		l.observeLive()
		return creds.AccessToken, nil
	}
	return l.refresh(ctx)
}

// Refresh forces a refresh exchange regardless of the held token's expiry,
// joining one already in flight.
func (l *TokenLifecycle) Refresh(ctx context.Context) (string, error) {
	return l.refresh(ctx)
}

func (l *TokenLifecycle) refresh(ctx context.Context) (string, error) {
	// The exchange outlives any single caller's context: a second caller
	// joining the flight must not have its result torn down because the
	// first caller gave up.
	result, err, _ := l.group.Do("refresh", func() (any, error) {
		return l.doRefresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return result.(string), nil
}

func (l *TokenLifecycle) doRefresh(ctx context.Context) (string, error) {
	creds, err := l.store.Current(ctx)
	if err != nil {
		return "", err
	}
	if creds == nil {
		return "", ErrSessionRequired
	}
	// Another flight may have rotated the token between the caller's check
	// and this one.
	if !creds.ExpiringSoon(l.buffer, l.now()) {
		l.observeLive()
		return creds.AccessToken, nil
	}

	l.setState(SessionRefreshing)

	var resp tokenPairResponse
	err = l.exec.PostJSON(ctx, pathAuthRefresh, refreshRequest{RefreshToken: creds.RefreshToken}, &resp)
	if err != nil {
		l.metrics.Inc(MetricRefreshFailure)
		if _, terminal := AsAPIError(err); terminal {
			// The refresh credential itself was rejected. The session is
			// over; nothing short of a fresh login recovers it.
			if clearErr := l.Invalidate(ctx, err); clearErr != nil {
				log.Printf("authkit: clearing credentials after refresh rejection: %v", clearErr)
			}
			return "", fmt.Errorf("%w: %w", ErrSessionEnded, err)
		}
		// Transient failure: the held pair stays, the next caller retries.
		l.setState(SessionValid)
		return "", err
	}
	if resp.AccessToken == "" {
		l.setState(SessionValid)
		return "", errors.New("refresh reply missing access token")
	}

	expiresAt := time.Unix(resp.ExpiresAt, 0)
	if resp.ExpiresAt == 0 {
		if claims, inspectErr := token.Inspect(resp.AccessToken); inspectErr == nil {
			expiresAt = claims.ExpiresAt
		}
	}

	if resp.RefreshToken != "" {
		err = l.store.Replace(ctx, tokenstore.Credentials{
			AccessToken:     resp.AccessToken,
			RefreshToken:    resp.RefreshToken,
			AccessExpiresAt: expiresAt,
		})
	} else {
		err = l.store.ReplaceAccess(ctx, resp.AccessToken, expiresAt)
	}
	if err != nil {
		l.setState(SessionValid)
		return "", err
	}

	l.setState(SessionValid)
	l.metrics.Inc(MetricRefreshSuccess)
	l.events.emit(ctx, Event{Type: EventTokenRefreshed, Timestamp: l.now()})
	return resp.AccessToken, nil
}

// activateFromPair installs credentials from a token-issuing reply. Used by
// the login, signup, and OTP verify paths that all share the same shape.
func (l *TokenLifecycle) activateFromPair(ctx context.Context, resp *tokenPairResponse) error {
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return errors.New("token reply missing credential pair")
	}
	expiresAt := time.Unix(resp.ExpiresAt, 0)
	if resp.ExpiresAt == 0 {
		if claims, err := token.Inspect(resp.AccessToken); err == nil {
			expiresAt = claims.ExpiresAt
		}
	}
	return l.Activate(ctx, tokenstore.Credentials{
		AccessToken:     resp.AccessToken,
		RefreshToken:    resp.RefreshToken,
		AccessExpiresAt: expiresAt,
	})
}
