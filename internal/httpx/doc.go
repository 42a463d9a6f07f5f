// Package httpx executes single outbound calls against the platform API.
//
// The executor is the only layer permitted to retry. Failures are classified
// into two kinds: transient (network unreachable, timeout, 5xx), which are
// retried with exponential backoff up to a fixed attempt ceiling, and terminal
// (4xx rejections), which surface immediately as [*APIError]. Callers above
// this package never retry on their own.
//
// # Architecture boundaries
//
// This package owns transport, JSON/multipart encoding, retry, and error
// classification. It knows nothing about tokens, flows, or endpoint semantics.
package httpx
