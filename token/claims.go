// Package token inspects platform credentials without verifying signatures.
//
// The client never holds a verification key; the server is the only party that
// validates signatures. Inspection here exists for one purpose: deciding
// locally whether a token is about to expire so a request is never issued with
// a token that dies mid-flight. A token that cannot be decoded is always
// treated as expired — fail closed, never open.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned when a credential does not have the expected
// three-part structure or its payload cannot be decoded.
var ErrMalformed = errors.New("malformed token")

// Claims is the decoded payload of an access or reset token.
type Claims struct {
	// Subject is the account identifier (customer_id claim, falling back to
	// the registered sub claim).
	Subject string
	// Mobile is the account's mobile number when the server includes it.
	Mobile string
	// ExpiresAt is the declared expiry. Always set; a token without an exp
	// claim is rejected as malformed.
	ExpiresAt time.Time
	// IssuedAt is zero when the token carries no iat claim.
	IssuedAt time.Time
}

type wireClaims struct {
	CustomerID string `json:"customer_id"`
	Mobile     string `json:"mobile"`
	jwt.RegisteredClaims
}

// Inspect decodes the payload of a dot-delimited three-part credential. The
// signature is not verified.
func Inspect(raw string) (*Claims, error) {
	parser := jwt.NewParser()
	var wc wireClaims
	if _, _, err := parser.ParseUnverified(raw, &wc); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	if wc.ExpiresAt == nil {
		return nil, errors.Join(ErrMalformed, errors.New("missing exp claim"))
	}

	claims := &Claims{
		Subject:   wc.CustomerID,
		Mobile:    wc.Mobile,
		ExpiresAt: wc.ExpiresAt.Time,
	}
	if claims.Subject == "" {
		claims.Subject = wc.Subject
	}
	if wc.IssuedAt != nil {
		claims.IssuedAt = wc.IssuedAt.Time
	}
	return claims, nil
}

// ExpiringSoon reports whether raw should be treated as expired at now plus
// the safety buffer. Malformed tokens always report true.
func ExpiringSoon(raw string, buffer time.Duration, now time.Time) bool {
	claims, err := Inspect(raw)
	if err != nil {
		return true
	}
	return !now.Add(buffer).Before(claims.ExpiresAt)
}
