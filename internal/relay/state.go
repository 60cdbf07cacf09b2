package relay

import (
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
)

// Conn is the outbound half of a client transport.
//
// Send must not block: implementations enqueue and return an error when the
// frame cannot be accepted (queue full or connection closed). Close must be
// idempotent.
type Conn interface {
	Send(msg protocol.Message) error
	Close() error
}

// Delivery is one frame addressed to one client.
type Delivery struct {
	To  string
	Msg protocol.Message
}

type Options struct {
	// MaxClients caps concurrently registered clients. <= 0 disables the cap.
	MaxClients int

	Metrics *metrics.Metrics
	Clock   ratelimit.Clock

	// NewID generates client and room identities. Defaults to random UUIDs.
	NewID func() string
}

type client struct {
	id          string
	conn        Conn
	role        protocol.Role
	roomID      string
	connectedAt time.Time
}

type room struct {
	id        string
	occupants []string // join order, at most two
	createdAt time.Time

	// halfFullSince is zero while the room is full.
	halfFullSince time.Time
}

// State is the complete shared state of the relay: the client registry and
// the room set. It is not safe for concurrent use; see Hub.
type State struct {
	maxClients int
	metrics    *metrics.Metrics
	clock      ratelimit.Clock
	newID      func() string

	clients map[string]*client
	rooms   map[string]*room

	// order lists live room ids in creation order. Joins scan it front to back.
	order []string
}

func NewState(opts Options) *State {
	s := &State{
		maxClients: opts.MaxClients,
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		newID:      opts.NewID,
		clients:    make(map[string]*client),
		rooms:      make(map[string]*room),
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.clock == nil {
		s.clock = ratelimit.RealClock{}
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// allocateID returns an identity not used by any live client or room.
func (s *State) allocateID() string {
	for {
		id := s.newID()
		if id == "" {
			continue
		}
		if _, ok := s.clients[id]; ok {
			continue
		}
		if _, ok := s.rooms[id]; ok {
			continue
		}
		return id
	}
}

type Stats struct {
	Clients       int `json:"clients"`
	Rooms         int `json:"rooms"`
	HalfFullRooms int `json:"halfFullRooms"`
	FullRooms     int `json:"fullRooms"`
}

func (s *State) Stats() Stats {
	st := Stats{
		Clients: len(s.clients),
		Rooms:   len(s.rooms),
	}
	for _, r := range s.rooms {
		switch r.phase() {
		case PhaseHalfFull:
			st.HalfFullRooms++
		case PhaseFull:
			st.FullRooms++
		}
	}
	return st
}

// RoomIDs returns live room ids in creation order.
func (s *State) RoomIDs() []string {
	return append([]string(nil), s.order...)
}

// Occupants returns the client ids in roomID in join order.
func (s *State) Occupants(roomID string) ([]string, bool) {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), r.occupants...), true
}
