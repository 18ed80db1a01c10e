package metrics

import "sync"

// Counter names used across the coordinator.
const (
	SignInOK          = "signin_ok"
	SignInRejected    = "signin_rejected"
	Disconnects       = "disconnects"
	CallsRequested    = "calls_requested"
	CallsConnected    = "calls_connected"
	BusyBounced       = "busy_bounced"
	RecipientNotFound = "recipient_not_found"
	SessionForwarded  = "session_forwarded"
	SessionDropped    = "session_dropped"
	AuthFailure       = "auth_failure"
	MalformedMessage  = "malformed_message"
	RateLimited       = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry. It keeps the
// coordinator's enforcement paths testable and feeds the /metrics endpoint.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
