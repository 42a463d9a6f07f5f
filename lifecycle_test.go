package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ticketrunners/authkit/tokenstore"
)

func seedSession(t *testing.T, client *Client, clk *testClock, accessTTL time.Duration) {
	t.Helper()
	err := client.lifecycle.Activate(context.Background(), tokenstore.Credentials{
		AccessToken:     signedToken(t, "cus_1", clk.Now().Add(accessTTL)),
		RefreshToken:    "refresh-1",
		AccessExpiresAt: clk.Now().Add(accessTTL),
	})
	if err != nil {
		t.Fatalf("seeding session: %v", err)
	}
}

func TestAccessTokenWithoutSession(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	if _, err := client.lifecycle.AccessToken(context.Background()); !errors.Is(err, ErrSessionRequired) {
		t.Fatalf("expected ErrSessionRequired, got %v", err)
	}
	if client.Session() != SessionInvalid {
		t.Fatalf("state = %v", client.Session())
	}
}

func TestAccessTokenServedWithoutRefreshWhileLive(t *testing.T) {
	client, clk := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	seedSession(t, client, clk, time.Hour)

	raw, err := client.lifecycle.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if raw == "" {
		t.Fatal("empty token")
	}
}

func TestExpiringTokenTriggersSingleRefresh(t *testing.T) {
	var refreshCalls atomic.Int64

	// The rotated token's expiry is taken far in the future relative to the
	// test clock so it reads as live after the exchange.
	rotatedExp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	client, clk := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathAuthRefresh {
			t.Errorf("unexpected request to %s", r.URL.Path)
			return
		}
		refreshCalls.Add(1)
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken != "refresh-1" {
			t.Errorf("refresh request carried %q", req.RefreshToken)
		}
		// Simulate a slow exchange so every waiter piles onto the flight.
		time.Sleep(50 * time.Millisecond)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"access_token": signedToken(t, "cus_1", rotatedExp),
			"expires_at":   rotatedExp.Unix(),
		})
	}))

	// Ten seconds of life left, inside the thirty second buffer.
	seedSession(t, client, clk, 10*time.Second)

	const waiters = 16
	var wg sync.WaitGroup
	tokens := make([]string, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = client.lifecycle.AccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d: %v", i, errs[i])
		}
		if tokens[i] != tokens[0] {
			t.Fatalf("waiters observed different tokens")
		}
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh exchange, got %d", got)
	}
	if got := client.metrics.Get(MetricRefreshSuccess); got != 1 {
		t.Fatalf("refresh success counter = %d", got)
	}

	// The rotated access token is now live; no further exchange.
	if _, err := client.lifecycle.AccessToken(context.Background()); err != nil {
		t.Fatalf("post-refresh AccessToken: %v", err)
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Fatalf("live token re-refreshed: %d exchanges", got)
	}
}

func TestRefreshRotatesOnlyAccessToken(t *testing.T) {
	rotatedExp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	client, clk := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"access_token": signedToken(t, "cus_1", rotatedExp),
			"expires_at":   rotatedExp.Unix(),
		})
	}))
	seedSession(t, client, clk, time.Second)

	if _, err := client.lifecycle.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}

	creds, err := client.tokens.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if creds.RefreshToken != "refresh-1" {
		t.Fatalf("refresh token must survive an access-only rotation, got %q", creds.RefreshToken)
	}
}

func TestRefreshRotatesFullPairWhenOffered(t *testing.T) {
	rotatedExp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	client, clk := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"access_token":  signedToken(t, "cus_1", rotatedExp),
			"refresh_token": "refresh-2",
			"expires_at":    rotatedExp.Unix(),
		})
	}))
	seedSession(t, client, clk, time.Second)

	if _, err := client.lifecycle.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	creds, _ := client.tokens.Current(context.Background())
	if creds.RefreshToken != "refresh-2" {
		t.Fatalf("refresh token = %q, want rotated pair", creds.RefreshToken)
	}
}

func TestRejectedRefreshEndsSession(t *testing.T) {
	sink := NewChannelSink(16)
	client, clk := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(t, w, http.StatusUnauthorized, "TOKEN_INVALID", "refresh token revoked")
	}), func(b *Builder) { b.WithEventSink(sink) })
	seedSession(t, client, clk, time.Second)

	_, err := client.lifecycle.AccessToken(context.Background())
	if !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	if _, ok := AsAPIError(err); !ok {
		t.Fatalf("cause must stay inspectable: %v", err)
	}

	if client.Session() != SessionInvalid {
		t.Fatalf("state = %v", client.Session())
	}
	creds, _ := client.tokens.Current(context.Background())
	if creds != nil {
		t.Fatal("credentials must be cleared when the session ends")
	}
	drainEvent(t, sink, EventSessionEnded)

	// The flow is idempotent from here: further calls fail the same way
	// without touching the network.
	if _, err := client.lifecycle.AccessToken(context.Background()); !errors.Is(err, ErrSessionRequired) {
		t.Fatalf("expected ErrSessionRequired after invalidation, got %v", err)
	}
}

func TestRehydratedStoreReportsValidSession(t *testing.T) {
	// A store handed to the builder may already hold a pair from a previous
	// process, with no Activate call in this one.
	store := tokenstore.NewMemory()
	liveExp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}), func(b *Builder) { b.WithTokenStore(store) })

	err := store.Replace(context.Background(), tokenstore.Credentials{
		AccessToken:     signedToken(t, "cus_1", liveExp),
		RefreshToken:    "refresh-1",
		AccessExpiresAt: liveExp,
	})
	if err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	if client.Session() != SessionInvalid {
		t.Fatalf("state before first use = %v", client.Session())
	}
	if _, err := client.lifecycle.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if client.Session() != SessionValid {
		t.Fatalf("state = %v, serving a live stored pair must report a valid session", client.Session())
	}
}

func TestTransientRefreshFailureKeepsPair(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	rotatedExp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	client, clk := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"access_token": signedToken(t, "cus_1", rotatedExp),
			"expires_at":   rotatedExp.Unix(),
		})
	}))
	seedSession(t, client, clk, time.Second)

	_, err := client.lifecycle.AccessToken(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if errors.Is(err, ErrSessionEnded) {
		t.Fatal("transient failure must not end the session")
	}

	creds, _ := client.tokens.Current(context.Background())
	if creds == nil {
		t.Fatal("pair must survive a transient refresh failure")
	}

	// Once the backend recovers the same pair refreshes fine.
	fail.Store(false)
	if _, err := client.lifecycle.AccessToken(context.Background()); err != nil {
		t.Fatalf("refresh after recovery: %v", err)
	}
}
