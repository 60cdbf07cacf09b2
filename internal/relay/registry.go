package relay

import (
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
)

// ClientInfo is a read-only view of a registered client.
type ClientInfo struct {
	ID          string
	Role        protocol.Role
	RoomID      string
	ConnectedAt time.Time
}

// Register records a new client with no role and no room. The returned
// delivery is the welcome frame carrying the new identity; it must reach the
// client before anything else addressed to it.
func (s *State) Register(conn Conn) (string, Delivery, error) {
	if s.maxClients > 0 && len(s.clients) >= s.maxClients {
		s.metrics.Inc(metrics.ClientRejected)
		return "", Delivery{}, ErrTooManyClients
	}
	id := s.allocateID()
	s.clients[id] = &client{
		id:          id,
		conn:        conn,
		connectedAt: s.clock.Now(),
	}
	s.metrics.Inc(metrics.ClientConnected)
	return id, Delivery{To: id, Msg: protocol.Welcome(id)}, nil
}

// Unregister removes id, leaving its room first. Unknown ids are a no-op so
// transport teardown can call it more than once.
func (s *State) Unregister(id string) []Delivery {
	c, ok := s.clients[id]
	if !ok {
		return nil
	}
	out := s.leave(c)
	delete(s.clients, id)
	s.metrics.Inc(metrics.ClientDisconnected)
	return out
}

func (s *State) Lookup(id string) (ClientInfo, bool) {
	c, ok := s.clients[id]
	if !ok {
		return ClientInfo{}, false
	}
	return ClientInfo{
		ID:          c.id,
		Role:        c.role,
		RoomID:      c.roomID,
		ConnectedAt: c.connectedAt,
	}, true
}

// conn returns the transport handle for id.
func (s *State) conn(id string) (Conn, bool) {
	c, ok := s.clients[id]
	if !ok {
		return nil, false
	}
	return c.conn, true
}

// ClientIDs returns all registered client ids in no particular order.
func (s *State) ClientIDs() []string {
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}
