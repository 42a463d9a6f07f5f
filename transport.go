package authkit

import (
	"context"
	"net/http"

	"github.com/ticketrunners/authkit/internal/httpx"
)

// executor is the slice of the request executor the challenge and flow code
// depends on. Satisfied by *httpx.Executor and by authorizedExecutor.
type executor interface {
	PostJSON(ctx context.Context, path string, in, out any, opts ...httpx.CallOption) error
}

// authorizedExecutor attaches a live access token to every call, refreshing
// it first when needed.
type authorizedExecutor struct {
	client *Client
}

func (a authorizedExecutor) PostJSON(ctx context.Context, path string, in, out any, opts ...httpx.CallOption) error {
	accessToken, err := a.client.lifecycle.AccessToken(ctx)
	if err != nil {
		return err
	}
	opts = append(opts, httpx.WithBearer(accessToken))
	return a.client.exec.PostJSON(ctx, path, in, out, opts...)
}

// authTransport is an http.RoundTripper that authorizes arbitrary requests
// against the platform with the client's session. It refreshes the access
// token before use and retires the session on an authorization rejection,
// so portal code can hand the wrapped http.Client to any API consumer.
type authTransport struct {
	client *Client
	next   http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	accessToken, err := t.client.lifecycle.AccessToken(req.Context())
	if err != nil {
		return nil, err
	}

	// Clone before mutating: RoundTrippers must not modify the caller's
	// request.
	authorized := req.Clone(req.Context())
	authorized.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := t.next.RoundTrip(authorized)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// The server no longer honors a token the lifecycle considered
		// live. Treat the session as ended rather than looping on 401s.
		_ = t.client.lifecycle.Invalidate(req.Context(), ErrSessionEnded)
	}
	return resp, nil
}
