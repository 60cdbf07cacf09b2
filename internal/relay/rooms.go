package relay

import (
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
)

// join places c into the oldest half-full room, or a new room when none
// exists. The scan and the insert happen in the same call so two joins can
// never both claim the last seat.
func (s *State) join(c *client, requested protocol.Role) ([]Delivery, error) {
	if !requested.Valid() {
		return nil, protocolErrorf(protocol.CodeInvalidRole, "invalid role %q, expected %q or %q",
			string(requested), protocol.RoleOfferer, protocol.RoleAnswerer)
	}
	if c.roomID != "" {
		return nil, protocolErrorf(protocol.CodeAlreadyJoined, "already joined room %s", c.roomID)
	}

	now := s.clock.Now()
	granted := requested

	r := s.firstHalfFull()
	if r != nil {
		peer, ok := s.clients[r.occupants[0]]
		if !ok || !peer.role.Valid() {
			return nil, invariantErrorf("half-full room %s has unusable occupant %s", r.id, r.occupants[0])
		}
		if peer.role == requested {
			granted = requested.Complement()
		}
		if peer.role == granted {
			return nil, invariantErrorf("room %s would hold two %s occupants", r.id, granted)
		}
		r.occupants = append(r.occupants, c.id)
		r.halfFullSince = time.Time{}
	} else {
		r = &room{
			id:            s.allocateID(),
			occupants:     []string{c.id},
			createdAt:     now,
			halfFullSince: now,
		}
		s.rooms[r.id] = r
		s.order = append(s.order, r.id)
		s.metrics.Inc(metrics.RoomCreated)
	}

	c.role = granted
	c.roomID = r.id

	out := []Delivery{{To: c.id, Msg: protocol.Joined(r.id, granted)}}
	if r.phase() == PhaseFull {
		s.metrics.Inc(metrics.RoomReady)
		for _, id := range r.occupants {
			out = append(out, Delivery{To: id, Msg: protocol.Ready(r.id)})
		}
	}
	return out, nil
}

func (s *State) firstHalfFull() *room {
	for _, id := range s.order {
		r := s.rooms[id]
		if r != nil && r.phase() == PhaseHalfFull {
			return r
		}
	}
	return nil
}

// leave removes c from its room. The room is deleted when it empties;
// otherwise the remaining occupant is told its peer is gone and keeps its
// role, waiting for a new partner.
func (s *State) leave(c *client) []Delivery {
	if c.roomID == "" {
		return nil
	}
	r, ok := s.rooms[c.roomID]
	c.role = protocol.RoleUnassigned
	c.roomID = ""
	if !ok {
		return nil
	}

	kept := r.occupants[:0]
	for _, id := range r.occupants {
		if id != c.id {
			kept = append(kept, id)
		}
	}
	r.occupants = kept

	if len(r.occupants) == 0 {
		s.deleteRoom(r.id)
		return nil
	}

	r.halfFullSince = s.clock.Now()
	out := make([]Delivery, 0, len(r.occupants))
	for _, id := range r.occupants {
		out = append(out, Delivery{To: id, Msg: protocol.PeerDisconnected()})
	}
	return out
}

func (s *State) deleteRoom(id string) {
	delete(s.rooms, id)
	for i, rid := range s.order {
		if rid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.metrics.Inc(metrics.RoomDeleted)
}

// Expire evicts rooms that have been waiting for a second occupant for at
// least ttl. The occupant loses its role and is told the room expired, after
// which it may join again. ttl <= 0 disables expiry.
func (s *State) Expire(ttl time.Duration) []Delivery {
	if ttl <= 0 {
		return nil
	}
	now := s.clock.Now()

	var expired []*room
	for _, id := range s.order {
		r := s.rooms[id]
		if r == nil || r.phase() != PhaseHalfFull {
			continue
		}
		if now.Sub(r.halfFullSince) >= ttl {
			expired = append(expired, r)
		}
	}

	var out []Delivery
	for _, r := range expired {
		for _, id := range r.occupants {
			if c, ok := s.clients[id]; ok {
				c.role = protocol.RoleUnassigned
				c.roomID = ""
			}
			out = append(out, Delivery{To: id, Msg: protocol.RoomExpired(r.id)})
		}
		r.occupants = nil
		s.deleteRoom(r.id)
		s.metrics.Inc(metrics.RoomExpired)
	}
	return out
}
