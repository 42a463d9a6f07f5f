// Package authkit is the authentication and session lifecycle client for the
// TicketRunners platform API, shared by the customer webapp, merchant dashboard,
// organizer dashboard, and admin console backends.
//
// The package owns four correctness-sensitive flows and nothing else:
//
//   - Signup: the ordered onboarding wizard (identity, mobile OTP, password,
//     optional profile image, optional info, activation), see [SignupWizard].
//   - Login: password check with an optional OTP follow-up, see [Login].
//   - Password reset: the two-phase OTP / reset-credential exchange, see
//     [PasswordReset].
//   - Token lifecycle: expiry detection with a safety buffer, serialized
//     refresh, and session invalidation, see [TokenLifecycle].
//
// Screens, payments, uploads beyond the signup image, and all other portal
// surface area are out of scope; portal code reaches the rest of the API
// through [Client.HTTPClient], which injects and refreshes the bearer token.
//
// Construction goes through the builder:
//
//	client, err := authkit.New().
//		WithBaseURL("https://api.example.com/api/v1").
//		Build()
//
// All network operations take a context.Context and suspend only at the HTTP
// boundary. Transient failures (network errors, timeouts, 5xx) are retried
// internally with backoff; terminal rejections surface immediately as
// *APIError or as one of the package sentinel errors.
package authkit
