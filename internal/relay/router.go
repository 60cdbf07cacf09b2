package relay

import (
	"errors"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
)

// Apply handles one inbound frame from sender and returns every frame that
// must be delivered as a result, in order.
//
// Rejections are part of the result: a *ProtocolError or an ErrInvariant
// error is returned for logging and the matching error frame for the sender
// is already included in the deliveries. State is unchanged in both cases.
// ErrUnknownClient is returned with no deliveries.
func (s *State) Apply(sender string, msg protocol.Message) ([]Delivery, error) {
	c, ok := s.clients[sender]
	if !ok {
		return nil, ErrUnknownClient
	}

	var (
		out []Delivery
		err error
	)
	switch {
	case msg.Type == protocol.TypeJoin:
		out, err = s.join(c, msg.RequestedRole())
	case msg.Type == protocol.TypePing:
		out = []Delivery{{To: sender, Msg: protocol.Pong()}}
	case msg.Type.IsRelayed():
		out, err = s.route(c, msg)
	default:
		err = protocolErrorf(protocol.CodeUnknownType, "unknown message type %q", string(msg.Type))
	}
	if err == nil {
		return out, nil
	}

	var perr *ProtocolError
	switch {
	case errors.As(err, &perr):
		s.metrics.Inc(metrics.ProtocolError)
		return []Delivery{{To: sender, Msg: perr.Frame()}}, err
	case errors.Is(err, ErrInvariant):
		s.metrics.Inc(metrics.InvariantViolation)
		return []Delivery{{To: sender, Msg: protocol.Error(protocol.CodeInternal, "internal error")}}, err
	default:
		return nil, err
	}
}

// route forwards an offer, answer or candidate to the other occupant of the
// sender's room. The payload is passed through untouched.
func (s *State) route(c *client, msg protocol.Message) ([]Delivery, error) {
	if c.roomID == "" {
		return nil, protocolErrorf(protocol.CodeNotInRoom, "join a room before sending %s", string(msg.Type))
	}
	r, ok := s.rooms[c.roomID]
	if !ok {
		return nil, invariantErrorf("client %s points at missing room %s", c.id, c.roomID)
	}

	var out []Delivery
	for _, id := range r.occupants {
		if id == c.id {
			continue
		}
		out = append(out, Delivery{To: id, Msg: protocol.Relay(msg.Type, msg.Payload)})
	}
	if len(out) == 0 {
		s.metrics.Inc(metrics.MessageDropped)
		return nil, nil
	}
	s.metrics.Add(metrics.MessageRelayed, uint64(len(out)))
	return out, nil
}
