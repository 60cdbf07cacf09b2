package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_JoinNestedRole(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"join","payload":{"role":"offerer"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, msg.Type)
	assert.Equal(t, RoleOfferer, msg.RequestedRole())
}

func TestParse_JoinTopLevelRole(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"join","role":"answerer"}`))
	require.NoError(t, err)
	assert.Equal(t, RoleAnswerer, msg.RequestedRole())
}

func TestParse_JoinInvalidRoleIsPreserved(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"join","payload":{"role":"banana"}}`))
	require.NoError(t, err)
	assert.Equal(t, Role("banana"), msg.RequestedRole())
	assert.False(t, msg.RequestedRole().Valid())
}

func TestParse_JoinWithoutRole(t *testing.T) {
	for _, raw := range []string{
		`{"type":"join"}`,
		`{"type":"join","payload":"offerer"}`,
		`{"type":"join","payload":{}}`,
	} {
		msg, err := Parse([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, RoleUnassigned, msg.RequestedRole(), raw)
	}
}

func TestParse_KeepsPayloadOpaque(t *testing.T) {
	raw := `{"type":"offer","payload":{"sdp":"v=0\r\n<a>","extra":[1,2,{"x":null}]}}`
	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, TypeOffer, msg.Type)
	assert.JSONEq(t, `{"sdp":"v=0\r\n<a>","extra":[1,2,{"x":null}]}`, string(msg.Payload))
}

func TestParse_AllowsUnknownFields(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"ping","ts":12345}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, msg.Type)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "not json", raw: `hello`, want: ErrMalformed},
		{name: "array", raw: `[1,2]`, want: ErrMalformed},
		{name: "type not string", raw: `{"type":5}`, want: ErrMalformed},
		{name: "missing type", raw: `{"payload":{}}`, want: ErrMissingType},
		{name: "blank type", raw: `{"type":"  "}`, want: ErrMissingType},
		{name: "trailing", raw: `{"type":"ping"}{"type":"ping"}`, want: ErrTrailingData},
		{name: "invalid utf-8 in payload", raw: "{\"type\":\"offer\",\"payload\":{\"sdp\":\"v=0\xff\xfe\"}}", want: ErrInvalidUTF8},
		{name: "invalid utf-8 in type", raw: "{\"type\":\"\xc3\"}", want: ErrInvalidUTF8},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEncode_RelayForwardsPayloadVerbatim(t *testing.T) {
	payload := json.RawMessage(`{"sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1 <&>"}`)
	b, err := Encode(Relay(TypeOffer, payload))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"offer","payload":{"sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1 <&>"}}`, string(b))
}

func TestEncode_ServerMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "welcome",
			msg:  Welcome("c1"),
			want: `{"type":"welcome","clientId":"c1","message":"connected to signaling server"}`,
		},
		{
			name: "joined",
			msg:  Joined("r1", RoleAnswerer),
			want: `{"type":"joined","roomId":"r1","role":"answerer","message":"joined room r1 as answerer"}`,
		},
		{
			name: "ready",
			msg:  Ready("r1"),
			want: `{"type":"ready","roomId":"r1","message":"room is full, peers can start negotiating"}`,
		},
		{
			name: "peer disconnected",
			msg:  PeerDisconnected(),
			want: `{"type":"peer-disconnected","message":"peer disconnected"}`,
		},
		{
			name: "room expired",
			msg:  RoomExpired("r9"),
			want: `{"type":"room-expired","roomId":"r9","message":"room expired waiting for a peer"}`,
		},
		{
			name: "pong",
			msg:  Pong(),
			want: `{"type":"pong"}`,
		},
		{
			name: "error",
			msg:  Error(CodeInvalidRole, "invalid role"),
			want: `{"type":"error","code":"invalid_role","message":"invalid role"}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(tc.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(b))
		})
	}
}

func TestEncode_RejectsInvalidPayload(t *testing.T) {
	_, err := Encode(Relay(TypeAnswer, json.RawMessage(`{broken`)))
	assert.ErrorIs(t, err, ErrPayloadNotJSON)
}

func TestRole_Complement(t *testing.T) {
	assert.Equal(t, RoleAnswerer, RoleOfferer.Complement())
	assert.Equal(t, RoleOfferer, RoleAnswerer.Complement())
	assert.Equal(t, RoleUnassigned, RoleUnassigned.Complement())
	assert.Equal(t, "unassigned", RoleUnassigned.String())
}

func TestType_IsRelayed(t *testing.T) {
	for _, typ := range []Type{TypeOffer, TypeAnswer, TypeICECandidate} {
		assert.True(t, typ.IsRelayed(), typ)
	}
	for _, typ := range []Type{TypeJoin, TypePing, TypeWelcome, TypeError, Type("banana")} {
		assert.False(t, typ.IsRelayed(), typ)
	}
}
