package relay

import (
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
)

// Phase is the lifecycle position of a room. A room with no occupants is
// deleted, so PhaseEmpty is only ever observed for absent rooms.
type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseHalfFull
	PhaseFull
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseHalfFull:
		return "half_full"
	case PhaseFull:
		return "full"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (r *room) phase() Phase {
	switch len(r.occupants) {
	case 0:
		return PhaseEmpty
	case 1:
		return PhaseHalfFull
	default:
		return PhaseFull
	}
}

// RoomPhase reports the phase of roomID. Unknown rooms are PhaseEmpty.
func (s *State) RoomPhase(roomID string) Phase {
	r, ok := s.rooms[roomID]
	if !ok {
		return PhaseEmpty
	}
	return r.phase()
}

// Validate checks the registry invariants: every room has one or two
// occupants with distinct valid roles, every occupant is a registered client
// pointing back at that room, every client with a room is listed in it, and
// the creation order matches the room set.
func (s *State) Validate() error {
	if len(s.order) != len(s.rooms) {
		return invariantErrorf("room order has %d entries for %d rooms", len(s.order), len(s.rooms))
	}
	seenOrder := make(map[string]struct{}, len(s.order))
	for _, id := range s.order {
		if _, dup := seenOrder[id]; dup {
			return invariantErrorf("room %s listed twice in creation order", id)
		}
		seenOrder[id] = struct{}{}
		if _, ok := s.rooms[id]; !ok {
			return invariantErrorf("room %s in creation order but not in room set", id)
		}
	}

	members := 0
	for id, r := range s.rooms {
		if n := len(r.occupants); n < 1 || n > 2 {
			return invariantErrorf("room %s has %d occupants", id, n)
		}
		roles := make(map[protocol.Role]struct{}, 2)
		for _, cid := range r.occupants {
			c, ok := s.clients[cid]
			if !ok {
				return invariantErrorf("room %s lists unknown client %s", id, cid)
			}
			if c.roomID != id {
				return invariantErrorf("client %s listed in room %s but points at %q", cid, id, c.roomID)
			}
			if !c.role.Valid() {
				return invariantErrorf("client %s in room %s has role %s", cid, id, c.role)
			}
			if _, dup := roles[c.role]; dup {
				return invariantErrorf("room %s has two %s occupants", id, c.role)
			}
			roles[c.role] = struct{}{}
		}
		members += len(r.occupants)
	}

	inRoom := 0
	for _, c := range s.clients {
		if c.roomID == "" {
			if c.role != protocol.RoleUnassigned {
				return invariantErrorf("client %s has role %s without a room", c.id, c.role)
			}
			continue
		}
		if _, ok := s.rooms[c.roomID]; !ok {
			return invariantErrorf("client %s points at missing room %s", c.id, c.roomID)
		}
		inRoom++
	}
	if inRoom != members {
		return invariantErrorf("%d clients claim a room but rooms list %d occupants", inRoom, members)
	}
	return nil
}
