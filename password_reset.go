package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ticketrunners/authkit/token"
)

// ResetState is the position of a PasswordReset flow.
type ResetState int32

const (
	// ResetIdle accepts a reset request.
	ResetIdle ResetState = iota
	// ResetOTPRequested waits for the code delivered to the mobile number.
	ResetOTPRequested
	// ResetOTPVerified holds a short-lived reset credential and waits for
	// the new password.
	ResetOTPVerified
	// ResetCompleted means the password was changed. The flow instance is
	// finished.
	ResetCompleted
)

// String returns the lowercase state name.
func (s ResetState) String() string {
	switch s {
	case ResetOTPRequested:
		return "otp_requested"
	case ResetOTPVerified:
		return "otp_verified"
	case ResetCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// resetCredential is the single-use token issued after code verification,
// together with its declared lifetime. The token is opaque to the client;
// when it happens to decode as a JWT its embedded expiry is honored as an
// additional bound.
type resetCredential struct {
	token    string
	issuedAt time.Time
	ttl      time.Duration
}

func (c *resetCredential) expired(now time.Time) bool {
	if c == nil || c.token == "" {
		return true
	}
	if !now.Before(c.issuedAt.Add(c.ttl)) {
		return true
	}
	if claims, err := token.Inspect(c.token); err == nil && !now.Before(claims.ExpiresAt) {
		return true
	}
	return false
}

// PasswordReset recovers an account whose password is lost. The flow is
// request code, verify code, submit new password. Verification yields a
// short-lived reset credential; when it expires before the new password is
// submitted the flow drops back to ResetOTPRequested and a fresh code must
// be requested, without restarting from scratch.
type PasswordReset struct {
	client *Client

	mu         sync.Mutex
	state      ResetState
	inflight   bool
	mobile     string
	challenge  *OTPChallenge
	credential *resetCredential
}

// State reports the flow position.
func (f *PasswordReset) State() ResetState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// RequestOTP asks for a code to be delivered to the account's mobile number
// and moves the flow to ResetOTPRequested.
func (f *PasswordReset) RequestOTP(ctx context.Context, mobileNumber string) error {
	if err := f.begin(ResetIdle); err != nil {
		return err
	}
	defer f.end()

	challenge := f.client.newChallenge(PurposeReset, MobileDestination(mobileNumber),
		pathResetRequest, pathResetVerify, nil)
	if err := challenge.Request(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	f.mobile = mobileNumber
	f.challenge = challenge
	f.state = ResetOTPRequested
	f.mu.Unlock()

	f.client.metrics.Inc(MetricResetRequested)
	return nil
}

// ResendOTP invalidates the delivered code and requests a fresh one.
func (f *PasswordReset) ResendOTP(ctx context.Context) error {
	f.mu.Lock()
	if f.state != ResetOTPRequested {
		f.mu.Unlock()
		return ErrStepOrder
	}
	challenge := f.challenge
	f.mu.Unlock()
	return challenge.Resend(ctx)
}

// VerifyOTP submits the delivered code. Success yields the reset credential
// and moves the flow to ResetOTPVerified.
func (f *PasswordReset) VerifyOTP(ctx context.Context, code string) error {
	f.mu.Lock()
	if f.state != ResetOTPRequested {
		f.mu.Unlock()
		return ErrStepOrder
	}
	challenge := f.challenge
	f.mu.Unlock()

	proof, err := challenge.Verify(ctx, code)
	if err != nil {
		return err
	}

	var resp resetVerifyResponse
	if err := json.Unmarshal(proof.Payload, &resp); err != nil {
		return fmt.Errorf("decode reset reply: %w", err)
	}
	if resp.PasswordResetToken == "" {
		return errors.New("reset reply missing credential")
	}

	f.mu.Lock()
	f.credential = &resetCredential{
		token:    resp.PasswordResetToken,
		issuedAt: f.client.now(),
		ttl:      time.Duration(resp.ExpiresInSeconds) * time.Second,
	}
	f.state = ResetOTPVerified
	f.mu.Unlock()
	return nil
}

// Confirm submits the new password under the held reset credential.
//
// An expired credential is caught locally before any request is sent; the
// flow drops back to ResetOTPRequested and ErrResetCredentialExpired is
// returned. A server-side rejection of the credential is handled the same
// way. A password policy rejection keeps the flow in ResetOTPVerified so a
// different password can be tried against the same credential.
func (f *PasswordReset) Confirm(ctx context.Context, newPassword, confirmation string) error {
	if newPassword != confirmation {
		return ErrPasswordMismatch
	}
	if err := f.client.config.Password.check(newPassword); err != nil {
		return err
	}
	if err := f.begin(ResetOTPVerified); err != nil {
		return err
	}
	defer f.end()

	f.mu.Lock()
	credential := f.credential
	f.mu.Unlock()

	if credential.expired(f.client.now()) {
		f.restartChallenge()
		return ErrResetCredentialExpired
	}

	err := f.client.exec.PostJSON(ctx, pathResetConfirm, resetConfirmRequest{
		PasswordResetToken:   credential.token,
		Password:             newPassword,
		PasswordConfirmation: confirmation,
	}, nil)
	if err != nil {
		if apiErr, ok := AsAPIError(err); ok {
			switch apiErr.Code {
			case codeResetTokenInvalid, codeResetTokenExpired:
				f.restartChallenge()
				return fmt.Errorf("%w: %w", ErrResetCredentialExpired, err)
			}
		}
		return err
	}

	f.mu.Lock()
	f.state = ResetCompleted
	f.credential = nil
	f.mu.Unlock()

	f.client.metrics.Inc(MetricResetCompleted)
	f.client.events.emit(ctx, Event{Type: EventPasswordResetCompleted, Timestamp: f.client.now()})
	return nil
}

// restartChallenge drops the flow back to ResetOTPRequested with a fresh
// challenge. The new challenge has no issued code yet; ResendOTP delivers
// one.
func (f *PasswordReset) restartChallenge() {
	f.mu.Lock()
	f.credential = nil
	f.challenge = f.client.newChallenge(PurposeReset, MobileDestination(f.mobile),
		pathResetRequest, pathResetVerify, nil)
	f.state = ResetOTPRequested
	f.mu.Unlock()
}

func (f *PasswordReset) begin(want ResetState) error {
	if err := f.client.ready(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != want {
		return ErrStepOrder
	}
	if f.inflight {
		return ErrFlowBusy
	}
	f.inflight = true
	return nil
}

func (f *PasswordReset) end() {
	f.mu.Lock()
	f.inflight = false
	f.mu.Unlock()
}
