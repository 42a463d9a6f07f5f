package authkit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ticketrunners/authkit/internal/httpx"
	"github.com/ticketrunners/authkit/tokenstore"
)

// Builder assembles a [Client]. Zero or more With calls, then Build.
type Builder struct {
	cfg        Config
	cfgSet     bool
	store      tokenstore.Store
	sink       Sink
	rdb        *redis.Client
	sessionKey string
	now        func() time.Time
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the whole configuration. Unset fields are filled from
// defaults at Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

// WithBaseURL sets the platform API root.
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.cfg.API.BaseURL = baseURL
	return b
}

// WithAppName sets the portal name embedded in the User-Agent.
func (b *Builder) WithAppName(name string) *Builder {
	b.cfg.API.AppName = name
	return b
}

// WithHTTPClient sets the underlying transport client.
func (b *Builder) WithHTTPClient(hc *http.Client) *Builder {
	b.cfg.API.HTTPClient = hc
	return b
}

// WithTokenStore replaces the default in-memory credential store.
func (b *Builder) WithTokenStore(store tokenstore.Store) *Builder {
	b.store = store
	return b
}

// WithRedis caches credentials in Redis under sessionKey, for server-side
// portals running multiple replicas behind one session. Ignored when
// WithTokenStore was also called.
func (b *Builder) WithRedis(rdb *redis.Client, sessionKey string) *Builder {
	b.rdb = rdb
	b.sessionKey = sessionKey
	return b
}

// WithEventSink receives lifecycle events.
func (b *Builder) WithEventSink(sink Sink) *Builder {
	b.sink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.cfg.Metrics.Enabled = enabled
	return b
}

// withClock overrides the time source. Test hook.
func (b *Builder) withClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and assembles the client.
func (b *Builder) Build() (*Client, error) {
	cfg := cloneConfig(b.cfg)
	if !b.cfgSet {
		// Metrics and events default on unless a full config said otherwise.
		def := defaultConfig()
		cfg.Metrics = def.Metrics
		cfg.Events.Enabled = def.Events.Enabled
		cfg.Events.DropIfFull = def.Events.DropIfFull
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	userAgent := "authkit"
	if cfg.API.AppName != "" {
		userAgent = "authkit (" + cfg.API.AppName + ")"
	}

	hc := cfg.API.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.API.RequestTimeout}
	}

	exec, err := httpx.New(httpx.Config{
		BaseURL:         cfg.API.BaseURL,
		HTTPClient:      hc,
		UserAgent:       userAgent,
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Multiplier:      cfg.Retry.Multiplier,
	})
	if err != nil {
		return nil, fmt.Errorf("building executor: %w", err)
	}

	store := b.store
	if store == nil && b.rdb != nil {
		if b.sessionKey == "" {
			return nil, fmt.Errorf("redis store requires a session key")
		}
		store = tokenstore.NewRedis(b.rdb, cfg.Token.RedisPrefix, b.sessionKey, cfg.Token.CacheTTL)
	}
	if store == nil {
		store = tokenstore.NewMemory()
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	metrics := NewMetrics(cfg.Metrics)
	events := newEventDispatcher(cfg.Events, b.sink)

	client := &Client{
		config:  cfg,
		exec:    exec,
		tokens:  store,
		events:  events,
		metrics: metrics,
		now:     now,
	}
	client.lifecycle = newTokenLifecycle(exec, store, cfg.Token.ExpiryBuffer, events, metrics, now)
	return client, nil
}
