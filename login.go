package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// LoginState is the position of a Login flow.
type LoginState int32

const (
	// LoginStart accepts credential submission.
	LoginStart LoginState = iota
	// LoginOTPRequired means the password was accepted but the server wants
	// a delivered code before issuing tokens.
	LoginOTPRequired
	// LoginDone means a session is active. The flow instance is finished.
	LoginDone
)

// String returns the lowercase state name.
func (s LoginState) String() string {
	switch s {
	case LoginOTPRequired:
		return "otp_required"
	case LoginDone:
		return "done"
	default:
		return "start"
	}
}

// LoginResult reports the outcome of a credential submission.
type LoginResult struct {
	// OTPRequired is set when the flow moved to code verification instead
	// of issuing tokens directly.
	OTPRequired bool
	// Account is populated once tokens were issued.
	Account *Account
}

// Login authenticates an existing account. One instance drives one attempt;
// operations are serialized, a second call while one is in flight fails with
// ErrFlowBusy.
type Login struct {
	client *Client

	mu        sync.Mutex
	state     LoginState
	inflight  bool
	mobile    string
	challenge *OTPChallenge
}

// State reports the flow position.
func (f *Login) State() LoginState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Submit sends the mobile number and password. When the server demands a
// second factor the result reports OTPRequired and the delivered code must
// be passed to VerifyOTP; otherwise the session is active on return.
func (f *Login) Submit(ctx context.Context, mobileNumber, password string) (*LoginResult, error) {
	if err := f.begin(LoginStart); err != nil {
		return nil, err
	}
	defer f.end()

	var resp loginResponse
	err := f.client.exec.PostJSON(ctx, pathAuthLogin, loginRequest{
		MobileNumber: mobileNumber,
		Password:     password,
	}, &resp)
	if err != nil {
		f.client.metrics.Inc(MetricLoginFailure)
		f.client.events.emit(ctx, Event{
			Type:      EventLoginFailure,
			Timestamp: f.client.now(),
			Error:     err.Error(),
		})
		return nil, err
	}

	if resp.OTPRequired {
		challenge := f.client.newChallenge(PurposeLogin, MobileDestination(mobileNumber),
			pathAuthLoginOTPSend, pathAuthLoginOTPVerify, nil)
		// The server delivered a code as part of the login reply; the
		// challenge starts with that code already issued.
		challenge.generation = 1
		challenge.sentAt = f.client.now()

		f.mu.Lock()
		f.mobile = mobileNumber
		f.challenge = challenge
		f.state = LoginOTPRequired
		f.mu.Unlock()
		return &LoginResult{OTPRequired: true}, nil
	}

	if err := f.client.lifecycle.activateFromPair(ctx, &resp.tokenPairResponse); err != nil {
		return nil, err
	}
	f.finish(ctx)
	return &LoginResult{Account: resp.User.account()}, nil
}

// VerifyOTP submits the delivered code. A wrong code leaves the flow in
// LoginOTPRequired so the user can try again, until the server retires the
// challenge.
func (f *Login) VerifyOTP(ctx context.Context, code string) (*LoginResult, error) {
	f.mu.Lock()
	if f.state != LoginOTPRequired {
		f.mu.Unlock()
		return nil, ErrStepOrder
	}
	challenge := f.challenge
	f.mu.Unlock()

	proof, err := challenge.Verify(ctx, code)
	if err != nil {
		return nil, err
	}

	var resp tokenPairResponse
	if err := json.Unmarshal(proof.Payload, &resp); err != nil {
		return nil, fmt.Errorf("decode login reply: %w", err)
	}
	if err := f.client.lifecycle.activateFromPair(ctx, &resp); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.state = LoginDone
	f.mu.Unlock()
	f.emitSuccess(ctx)
	return &LoginResult{Account: resp.User.account()}, nil
}

// ResendOTP invalidates the delivered code and requests a fresh one.
func (f *Login) ResendOTP(ctx context.Context) error {
	f.mu.Lock()
	if f.state != LoginOTPRequired {
		f.mu.Unlock()
		return ErrStepOrder
	}
	challenge := f.challenge
	f.mu.Unlock()
	return challenge.Resend(ctx)
}

func (f *Login) begin(want LoginState) error {
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

func (f *Login) end() {
	f.mu.Lock()
	f.inflight = false
	f.mu.Unlock()
}

func (f *Login) finish(ctx context.Context) {
	f.mu.Lock()
	f.state = LoginDone
	f.mu.Unlock()
	f.emitSuccess(ctx)
}

func (f *Login) emitSuccess(ctx context.Context) {
	f.client.metrics.Inc(MetricLoginSuccess)
	f.client.events.emit(ctx, Event{Type: EventLoginSuccess, Timestamp: f.client.now()})
}
