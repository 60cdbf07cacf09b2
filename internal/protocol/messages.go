package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Type discriminates signaling frames.
type Type string

const (
	TypeWelcome          Type = "welcome"
	TypeJoin             Type = "join"
	TypeJoined           Type = "joined"
	TypeReady            Type = "ready"
	TypeOffer            Type = "offer"
	TypeAnswer           Type = "answer"
	TypeICECandidate     Type = "ice-candidate"
	TypePeerDisconnected Type = "peer-disconnected"
	TypeRoomExpired      Type = "room-expired"
	TypePing             Type = "ping"
	TypePong             Type = "pong"
	TypeError            Type = "error"
)

// IsRelayed reports whether frames of type t are forwarded verbatim to the
// other room occupant.
func (t Type) IsRelayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	default:
		return false
	}
}

// Error codes carried in the "code" field of error frames.
const (
	CodeBadMessage    = "bad_message"
	CodeInvalidRole   = "invalid_role"
	CodeUnknownType   = "unknown_type"
	CodeNotInRoom     = "not_in_room"
	CodeAlreadyJoined = "already_joined"
	CodeRateLimited   = "rate_limited"
	CodeInternal      = "internal_error"
)

var (
	ErrMalformed      = errors.New("protocol: malformed message")
	ErrMissingType    = errors.New("protocol: message missing type")
	ErrTrailingData   = errors.New("protocol: unexpected trailing data")
	ErrPayloadNotJSON = errors.New("protocol: payload is not valid json")
	ErrInvalidUTF8    = errors.New("protocol: message is not valid utf-8")
)

// Message is the single frame shape used in both directions.
//
// Payload is kept as raw JSON and is never interpreted by the relay; offers,
// answers and candidates round-trip with whatever structure the two peers
// agreed on.
type Message struct {
	Type     Type            `json:"type"`
	ClientID string          `json:"clientId,omitempty"`
	RoomID   string          `json:"roomId,omitempty"`
	Role     Role            `json:"role,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Code     string          `json:"code,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// Parse decodes a single client frame.
//
// Unknown types are not rejected here; classification belongs to the router,
// which answers with an error naming the type.
// Frames must be valid UTF-8; Payload would otherwise carry the raw bytes
// through to the peer's text frame.
func Parse(data []byte) (Message, error) {
	if !utf8.Valid(data) {
		return Message{}, ErrInvalidUTF8
	}
	dec := json.NewDecoder(bytes.NewReader(data))

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, ErrTrailingData
	}
	if strings.TrimSpace(string(msg.Type)) == "" {
		return Message{}, ErrMissingType
	}
	return msg, nil
}

// Encode serializes msg without HTML escaping so opaque payloads are emitted
// byte-for-byte as decoded (modulo insignificant whitespace).
func Encode(msg Message) ([]byte, error) {
	if len(msg.Payload) > 0 && !json.Valid(msg.Payload) {
		return nil, ErrPayloadNotJSON
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// RequestedRole extracts the role from a join frame. Clients send it either
// nested ({"payload":{"role":"offerer"}}) or top level ({"role":"offerer"}).
func (m Message) RequestedRole() Role {
	if m.Role != "" {
		return m.Role
	}
	if len(m.Payload) == 0 {
		return RoleUnassigned
	}
	var body struct {
		Role Role `json:"role"`
	}
	if err := json.Unmarshal(m.Payload, &body); err != nil {
		return RoleUnassigned
	}
	return body.Role
}

func Welcome(clientID string) Message {
	return Message{
		Type:     TypeWelcome,
		ClientID: clientID,
		Message:  "connected to signaling server",
	}
}

func Joined(roomID string, role Role) Message {
	return Message{
		Type:    TypeJoined,
		RoomID:  roomID,
		Role:    role,
		Message: fmt.Sprintf("joined room %s as %s", roomID, role),
	}
}

func Ready(roomID string) Message {
	return Message{
		Type:    TypeReady,
		RoomID:  roomID,
		Message: "room is full, peers can start negotiating",
	}
}

func PeerDisconnected() Message {
	return Message{
		Type:    TypePeerDisconnected,
		Message: "peer disconnected",
	}
}

func RoomExpired(roomID string) Message {
	return Message{
		Type:    TypeRoomExpired,
		RoomID:  roomID,
		Message: "room expired waiting for a peer",
	}
}

func Pong() Message {
	return Message{Type: TypePong}
}

// Relay builds the frame forwarded to the other occupant. Only the type and
// the raw payload cross over; sender metadata is never attached.
func Relay(t Type, payload json.RawMessage) Message {
	return Message{Type: t, Payload: payload}
}

func Error(code, message string) Message {
	return Message{
		Type:    TypeError,
		Code:    code,
		Message: message,
	}
}
