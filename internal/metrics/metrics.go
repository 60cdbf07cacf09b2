package metrics

import "sync"

// Event names. Each is exported as one `event` label value of the
// events_total counter.
const (
	ClientConnected    = "client_connected"
	ClientDisconnected = "client_disconnected"
	ClientRejected     = "client_rejected_capacity"

	RoomCreated = "room_created"
	RoomDeleted = "room_deleted"
	RoomReady   = "room_ready"
	RoomExpired = "room_expired"

	MessageRelayed = "message_relayed"
	MessageDropped = "message_dropped_no_peer"

	ProtocolError      = "protocol_error"
	MalformedMessage   = "malformed_message"
	SendFailed         = "send_failed"
	RateLimited        = "rate_limited"
	OriginRejected     = "origin_rejected"
	InvariantViolation = "invariant_violation"
)

// Metrics is a minimal, concurrency-safe counter registry.
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
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
