package authkit

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// DestinationKind selects the channel a challenge code is delivered on.
type DestinationKind string

const (
	// DestinationMobile delivers the code by SMS.
	DestinationMobile DestinationKind = "mobile"
	// DestinationEmail delivers the code by email.
	DestinationEmail DestinationKind = "email"
)

// Destination is where a challenge code is sent.
type Destination struct {
	Kind    DestinationKind
	Address string
}

// MobileDestination targets an SMS challenge at number.
func MobileDestination(number string) Destination {
	return Destination{Kind: DestinationMobile, Address: number}
}

// EmailDestination targets an email challenge at address.
func EmailDestination(address string) Destination {
	return Destination{Kind: DestinationEmail, Address: address}
}

// OTPPurpose names what a verified challenge authorizes.
type OTPPurpose string

const (
	PurposeSignup      OTPPurpose = "signup"
	PurposeLogin       OTPPurpose = "login"
	PurposeReset       OTPPurpose = "password_reset"
	PurposeFieldChange OTPPurpose = "field_change"
)

// VerifiedProof is the outcome of a successful challenge verification.
// Payload preserves the raw server reply for the consuming flow; the login
// verify reply, for example, carries a credential pair.
type VerifiedProof struct {
	Purpose     OTPPurpose
	Destination Destination
	Payload     json.RawMessage
}

// OTPChallenge drives one challenge lifecycle: request a code, verify the
// user's transcription, resend when delivery failed. A challenge is single
// use; a successful verification or a server-side retirement closes it.
//
// Each resend invalidates the previously issued code. A verification racing
// with a resend is resolved against the code generation it started with: if
// the generation moved while the call was in flight, its outcome is
// discarded and the code reported expired.
type OTPChallenge struct {
	exec       executor
	cfg        OTPConfig
	events     *eventDispatcher
	metrics    *Metrics
	now        func() time.Time
	purpose    OTPPurpose
	dest       Destination
	sendPath   string
	verifyPath string
	// extra fields appended to every request, such as the signup handle.
	extra map[string]string

	mu         sync.Mutex
	inflight   bool
	generation uint64
	sentAt     time.Time
	closed     bool
}

// Request asks the server to issue and deliver a code. Calling it again
// behaves like Resend: the prior code is invalidated.
func (c *OTPChallenge) Request(ctx context.Context) error {
	return c.send(ctx)
}

// Resend invalidates the current code and delivers a fresh one.
func (c *OTPChallenge) Resend(ctx context.Context) error {
	return c.send(ctx)
}

// SentAt reports when the current code was issued, zero before Request.
func (c *OTPChallenge) SentAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sentAt
}

// Closed reports whether the challenge can no longer be verified.
func (c *OTPChallenge) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *OTPChallenge) send(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	req := otpSendRequest{Purpose: string(c.purpose)}
	switch c.dest.Kind {
	case DestinationEmail:
		req.Email = c.dest.Address
	default:
		req.MobileNumber = c.dest.Address
	}

	if err := c.exec.PostJSON(ctx, c.sendPath, req, nil); err != nil {
		c.events.emit(ctx, Event{
			Type:      EventOTPFailed,
			Timestamp: c.now(),
			Error:     err.Error(),
			Fields:    c.eventFields(),
		})
		return err
	}

	c.mu.Lock()
	c.generation++
	c.sentAt = c.now()
	c.mu.Unlock()

	c.metrics.Inc(MetricOTPSent)
	c.events.emit(ctx, Event{Type: EventOTPSent, Timestamp: c.now(), Fields: c.eventFields()})
	return nil
}

// Verify submits the user's transcription of the code. Codes failing the
// local shape check or submitted after the validity window never reach the
// server. The server remains authoritative for matching and attempt caps.
func (c *OTPChallenge) Verify(ctx context.Context, code string) (*VerifiedProof, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	c.mu.Lock()
	sentAt := c.sentAt
	generation := c.generation
	c.mu.Unlock()

	if sentAt.IsZero() {
		return nil, ErrStepOrder
	}
	if !c.wellFormed(code) {
		c.metrics.Inc(MetricOTPMismatch)
		return nil, ErrOTPMismatch
	}
	if c.now().After(sentAt.Add(c.cfg.ValidityWindow)) {
		c.metrics.Inc(MetricOTPExpired)
		return nil, ErrOTPExpired
	}

	req := otpVerifyRequest{OTPCode: code, Purpose: string(c.purpose)}
	switch c.dest.Kind {
	case DestinationEmail:
		req.Email = c.dest.Address
	default:
		req.MobileNumber = c.dest.Address
	}
	if id, ok := c.extra["signup_id"]; ok {
		req.SignupID = id
	}

	var payload json.RawMessage
	err := c.exec.PostJSON(ctx, c.verifyPath, req, &payload)

	c.mu.Lock()
	stale := c.generation != generation
	c.mu.Unlock()
	if stale {
		// A resend invalidated the code this call carried; whatever the
		// server said about it no longer applies.
		c.metrics.Inc(MetricOTPExpired)
		return nil, ErrOTPExpired
	}

	if err != nil {
		return nil, c.mapVerifyError(ctx, err)
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	return &VerifiedProof{Purpose: c.purpose, Destination: c.dest, Payload: payload}, nil
}

func (c *OTPChallenge) mapVerifyError(ctx context.Context, err error) error {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return err
	}

	c.events.emit(ctx, Event{
		Type:      EventOTPFailed,
		Timestamp: c.now(),
		Error:     apiErr.Code,
		Fields:    c.eventFields(),
	})

	switch apiErr.Code {
	case codeOTPInvalid:
		c.metrics.Inc(MetricOTPMismatch)
		return ErrOTPMismatch
	case codeOTPExpired:
		c.metrics.Inc(MetricOTPExpired)
		return ErrOTPExpired
	case codeOTPAttemptsExceeded:
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		return ErrOTPAttemptsExceeded
	}
	return err
}

func (c *OTPChallenge) wellFormed(code string) bool {
	if len(code) != c.cfg.Digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (c *OTPChallenge) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChallengeClosed
	}
	if c.inflight {
		return ErrFlowBusy
	}
	c.inflight = true
	return nil
}

func (c *OTPChallenge) end() {
	c.mu.Lock()
	c.inflight = false
	c.mu.Unlock()
}

func (c *OTPChallenge) eventFields() map[string]string {
	return map[string]string{
		"purpose":     string(c.purpose),
		"destination": string(c.dest.Kind),
	}
}
