package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// ErrUnavailable is returned after every transient retry attempt has been
// exhausted. It never wraps a terminal rejection.
var ErrUnavailable = errors.New("service unavailable")

// errMalformedReply marks a 2xx body that could not be decoded. Retrying
// cannot help, but it is not a server rejection either.
var errMalformedReply = errors.New("malformed response body")

// APIError is a terminal rejection from the platform API (4xx). It is never
// retried; callers map Code/Status onto flow-specific sentinel errors.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api rejected request: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("api rejected request: status %d: %s", e.Status, e.Message)
}

// Config controls transport and retry behavior for an [Executor].
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string

	// MaxAttempts is the total attempt ceiling, first try included.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Executor wraps a single outbound call with bounded retry for transient
// failures. It is safe for concurrent use.
type Executor struct {
	base *url.URL
	hc   *http.Client
	cfg  Config
}

// New validates cfg and returns an executor rooted at cfg.BaseURL.
func New(cfg Config) (*Executor, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("base url requires scheme and host")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, errors.New("max attempts must be positive")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Executor{base: base, hc: hc, cfg: cfg}, nil
}

// Host returns the host portion of the configured base URL.
func (e *Executor) Host() string {
	return e.base.Host
}

type callOptions struct {
	bearer string
}

// CallOption adjusts a single executed call.
type CallOption func(*callOptions)

// WithBearer attaches an Authorization: Bearer header to the call.
func WithBearer(token string) CallOption {
	return func(o *callOptions) {
		o.bearer = token
	}
}

// PostJSON executes a JSON POST. A non-nil out receives the decoded 2xx body.
func (e *Executor) PostJSON(ctx context.Context, path string, in, out any, opts ...CallOption) error {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = encoded
	}
	return e.execute(ctx, http.MethodPost, path, body, "application/json", out, opts)
}

// GetJSON executes a JSON GET.
func (e *Executor) GetJSON(ctx context.Context, path string, out any, opts ...CallOption) error {
	return e.execute(ctx, http.MethodGet, path, nil, "", out, opts)
}

// PostMultipart uploads one file plus form fields. The file is buffered in
// memory so the body can be rebuilt for each retry attempt.
func (e *Executor) PostMultipart(
	ctx context.Context,
	path string,
	fields map[string]string,
	fileField, filename string,
	file io.Reader,
	out any,
	opts ...CallOption,
) error {
	content, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("encode form field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile(fileField, filename)
	if err != nil {
		return fmt.Errorf("encode form file: %w", err)
	}
	if _, err := fw.Write(content); err != nil {
		return fmt.Errorf("encode form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	return e.execute(ctx, http.MethodPost, path, buf.Bytes(), mw.FormDataContentType(), out, opts)
}

func (e *Executor) execute(
	ctx context.Context,
	method, path string,
	body []byte,
	contentType string,
	out any,
	opts []CallOption,
) error {
	var options callOptions
	for _, opt := range opts {
		opt(&options)
	}

	// One key per logical call, stable across retry attempts, so the server
	// can deduplicate a resend of a request whose response was lost.
	idempotencyKey := uuid.NewString()

	operation := func() error {
		err := e.once(ctx, method, path, body, contentType, idempotencyKey, out, options)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) || errors.Is(err, errMalformedReply) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.InitialInterval
	bo.MaxInterval = e.cfg.MaxInterval
	bo.Multiplier = e.cfg.Multiplier
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.cfg.MaxAttempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) || errors.Is(err, errMalformedReply) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (e *Executor) once(
	ctx context.Context,
	method, path string,
	body []byte,
	contentType, idempotencyKey string,
	out any,
	options callOptions,
) error {
	target := e.base.JoinPath(path)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errMalformedReply, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	if options.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+options.bearer)
	}

	resp, err := e.hc.Do(req)
	if err != nil {
		// Network-level failures are transient by classification.
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return decodeAPIError(resp.StatusCode, payload)
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%w: %v", errMalformedReply, err)
		}
	}
	return nil
}

type wireError struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func decodeAPIError(status int, payload []byte) *APIError {
	apiErr := &APIError{Status: status}

	var we wireError
	if err := json.Unmarshal(payload, &we); err == nil {
		apiErr.Code = we.Error.Code
		apiErr.Message = we.Error.Message
		apiErr.Details = we.Error.Details
		if apiErr.Message == "" {
			apiErr.Message = we.Detail
		}
		if apiErr.Message == "" {
			apiErr.Message = we.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(payload))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
