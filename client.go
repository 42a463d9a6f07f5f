package authkit

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/ticketrunners/authkit/internal/httpx"
	"github.com/ticketrunners/authkit/tokenstore"
)

// Client is the entry point to the platform's authentication API. Build one
// per portal session with a [Builder]; it is safe for concurrent use. Flow
// instances created from it are single-attempt state machines.
type Client struct {
	config    Config
	exec      *httpx.Executor
	tokens    tokenstore.Store
	lifecycle *TokenLifecycle
	events    *eventDispatcher
	metrics   *Metrics
	now       func() time.Time
	closed    bool
}

// Close drains the event dispatcher. The client must not be used after.
func (c *Client) Close() {
	c.events.close()
	c.closed = true
}

// ready guards every request-issuing entry point. A zero Client or one that
// was closed fails fast instead of dereferencing a nil executor.
func (c *Client) ready() error {
	if c == nil || c.exec == nil || c.closed {
		return ErrClientNotReady
	}
	return nil
}

// Session reports the credential lifecycle state.
func (c *Client) Session() SessionState {
	return c.lifecycle.State()
}

// Lifecycle exposes the token lifecycle for callers that need direct access
// tokens, such as websocket handshakes.
func (c *Client) Lifecycle() *TokenLifecycle {
	return c.lifecycle
}

// Metrics returns the client's counters.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// DroppedEvents reports how many lifecycle events were discarded because
// the sink could not keep up.
func (c *Client) DroppedEvents() uint64 {
	return c.events.droppedCount()
}

// NewLogin returns a fresh login flow.
func (c *Client) NewLogin() *Login {
	return &Login{client: c}
}

// NewSignup returns a fresh signup wizard.
func (c *Client) NewSignup() *SignupWizard {
	return &SignupWizard{client: c}
}

// NewPasswordReset returns a fresh password reset flow.
func (c *Client) NewPasswordReset() *PasswordReset {
	return &PasswordReset{client: c}
}

// NewFieldChange returns a flow proving ownership of a new contact
// destination for the authenticated account.
func (c *Client) NewFieldChange(dest Destination) *FieldChange {
	challenge := c.newChallenge(PurposeFieldChange, dest,
		pathFieldChangeOTPSend, pathFieldChangeOTPVerify, nil)
	challenge.exec = authorizedExecutor{client: c}
	return &FieldChange{client: c, challenge: challenge}
}

// Me fetches the authenticated account's profile.
func (c *Client) Me(ctx context.Context) (*Account, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	accessToken, err := c.lifecycle.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	var wire wireAccount
	if err := c.exec.GetJSON(ctx, pathUsersMe, &wire, httpx.WithBearer(accessToken)); err != nil {
		return nil, err
	}
	return wire.account(), nil
}

// Logout ends the session. The server is told best effort; local
// credentials are always cleared, so a portal is never stuck logged in
// because the network was down.
func (c *Client) Logout(ctx context.Context) error {
	return c.logout(ctx, pathAuthLogout)
}

// LogoutAll ends every session of the account, this one included.
func (c *Client) LogoutAll(ctx context.Context) error {
	return c.logout(ctx, pathAuthLogoutAll)
}

func (c *Client) logout(ctx context.Context, path string) error {
	if err := c.ready(); err != nil {
		return err
	}
	creds, err := c.tokens.Current(ctx)
	if err != nil {
		return err
	}
	if creds == nil {
		return ErrSessionRequired
	}

	err = c.exec.PostJSON(ctx, path, logoutRequest{RefreshToken: creds.RefreshToken}, nil,
		httpx.WithBearer(creds.AccessToken))
	if err != nil {
		log.Printf("authkit: server-side logout failed, clearing local session anyway: %v", err)
	}

	if err := c.tokens.Clear(ctx); err != nil {
		return err
	}
	c.lifecycle.setState(SessionInvalid)
	c.metrics.Inc(MetricLogout)
	c.events.emit(ctx, Event{Type: EventLogout, Timestamp: c.now()})
	return nil
}

// HTTPClient returns an http.Client whose requests carry the session's
// access token, refreshed transparently.
func (c *Client) HTTPClient() *http.Client {
	next := http.DefaultTransport
	if c.config.API.HTTPClient != nil && c.config.API.HTTPClient.Transport != nil {
		next = c.config.API.HTTPClient.Transport
	}
	return &http.Client{
		Transport: &authTransport{client: c, next: next},
		Timeout:   c.config.API.RequestTimeout,
	}
}

func (c *Client) newChallenge(
	purpose OTPPurpose,
	dest Destination,
	sendPath, verifyPath string,
	extra map[string]string,
) *OTPChallenge {
	return &OTPChallenge{
		exec:       c.exec,
		cfg:        c.config.OTP,
		events:     c.events,
		metrics:    c.metrics,
		now:        c.now,
		purpose:    purpose,
		dest:       dest,
		sendPath:   sendPath,
		verifyPath: verifyPath,
		extra:      extra,
	}
}
