package authkit

import (
	"errors"

	"github.com/ticketrunners/authkit/internal/httpx"
)

var (
	// ErrClientNotReady is returned when a flow is requested before Build
	// completed or after Close.
	ErrClientNotReady = errors.New("client not ready")
	// ErrSessionRequired is returned by authorized operations when no
	// credential pair is held.
	ErrSessionRequired = errors.New("session required")
	// ErrSessionEnded is returned when the refresh credential itself was
	// rejected and the session cannot be recovered without a fresh login.
	ErrSessionEnded = errors.New("session ended")
	// ErrOTPMismatch is returned when a submitted code does not match the one
	// issued for the current challenge.
	ErrOTPMismatch = errors.New("otp code mismatch")
	// ErrOTPExpired is returned when the challenge validity window has passed.
	ErrOTPExpired = errors.New("otp code expired")
	// ErrOTPAttemptsExceeded is returned when the server retired the challenge
	// after too many wrong codes. The challenge is closed; request a new one.
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	// ErrChallengeClosed is returned when verifying against a challenge that
	// was already consumed or retired.
	ErrChallengeClosed = errors.New("otp challenge closed")
	// ErrFlowBusy is returned when an operation is invoked while another
	// operation on the same flow instance is still in flight.
	ErrFlowBusy = errors.New("flow operation already in flight")
	// ErrStepOrder is returned when a flow operation is invoked out of order.
	ErrStepOrder = errors.New("flow step out of order")
	// ErrPasswordPolicy is returned when a candidate password fails the local
	// policy check.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordMismatch is returned when the confirmation does not equal the
	// candidate password.
	ErrPasswordMismatch = errors.New("password confirmation mismatch")
	// ErrResetCredentialExpired is returned when the reset credential's
	// declared lifetime elapsed before the new password was submitted.
	ErrResetCredentialExpired = errors.New("reset credential expired")
)

// ErrUnavailable is returned when every retry attempt against the platform
// API was exhausted without a definitive answer.
var ErrUnavailable = httpx.ErrUnavailable

// APIError is a terminal rejection from the platform API. Flow methods map
// well-known codes onto the sentinel errors above and otherwise return the
// *APIError unchanged, so callers can branch with errors.As.
type APIError = httpx.APIError

// AsAPIError unwraps err into an *APIError when one is present.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
