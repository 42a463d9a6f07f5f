package authkit

import "context"

// FieldChange verifies ownership of a new contact destination for an
// already authenticated account, such as changing the mobile number or
// email on file. Every call is authorized with the session's access token.
type FieldChange struct {
	client    *Client
	challenge *OTPChallenge
}

// Request delivers a code to the new destination.
func (f *FieldChange) Request(ctx context.Context) error {
	return f.challenge.Request(ctx)
}

// Resend invalidates the delivered code and requests a fresh one.
func (f *FieldChange) Resend(ctx context.Context) error {
	return f.challenge.Resend(ctx)
}

// Verify submits the delivered code. Success proves the account controls
// the new destination; the server applies the change.
func (f *FieldChange) Verify(ctx context.Context, code string) (*VerifiedProof, error) {
	return f.challenge.Verify(ctx, code)
}
