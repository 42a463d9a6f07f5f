package authkit

import "sync/atomic"

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts completed logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected login submissions.
	MetricLoginFailure
	// MetricRefreshSuccess counts credential refreshes that produced a new
	// access token.
	MetricRefreshSuccess
	// MetricRefreshFailure counts refresh attempts that did not.
	MetricRefreshFailure
	// MetricSessionEnded counts sessions terminated by refresh rejection.
	MetricSessionEnded
	// MetricLogout counts explicit logouts.
	MetricLogout
	// MetricOTPSent counts challenge codes requested, resends included.
	MetricOTPSent
	// MetricOTPMismatch counts wrong codes submitted.
	MetricOTPMismatch
	// MetricOTPExpired counts codes submitted after the validity window.
	MetricOTPExpired
	// MetricSignupStarted counts signup wizards that reached the server.
	MetricSignupStarted
	// MetricSignupCompleted counts signups that activated an account.
	MetricSignupCompleted
	// MetricResetRequested counts password reset flows started.
	MetricResetRequested
	// MetricResetCompleted counts password reset flows carried to completion.
	MetricResetCompleted
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the client's in-process counters. A nil or disabled Metrics
// accepts increments and stays at zero.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics returns counters honoring cfg.Enabled.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether increments are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter identified by id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Get returns the current value of one counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || !m.enabled || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter at once.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricIDCount)}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return snap
}
