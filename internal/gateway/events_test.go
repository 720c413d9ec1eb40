package gateway

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		event string
		check func(t *testing.T, in Inbound)
		err   error
	}{
		{
			name:  "join with object",
			raw:   `{"event":"join_room","data":{"room_id":" c1 "}}`,
			event: EventJoinRoom,
			check: func(t *testing.T, in Inbound) { require.Equal(t, "c1", in.(RoomEvent).RoomID) },
		},
		{
			name:  "leave with bare id",
			raw:   `{"event":"leave_room","data":"c2"}`,
			event: EventLeaveRoom,
			check: func(t *testing.T, in Inbound) { require.Equal(t, "c2", in.(RoomEvent).RoomID) },
		},
		{
			name:  "new message",
			raw:   `{"event":"new_message","data":{"receiver_id":"bob","content":"hi","image_url":"u"}}`,
			event: EventNewMessage,
			check: func(t *testing.T, in Inbound) {
				e := in.(NewMessageEvent)
				require.Equal(t, "bob", e.ReceiverID)
				require.Equal(t, "hi", e.Content)
				require.Equal(t, "u", e.ImageURL)
			},
		},
		{
			name:  "seen",
			raw:   `{"event":"message_seen","data":{"message_id":"m1"}}`,
			event: EventMessageSeen,
		},
		{name: "ping without data", raw: `{"event":"ping"}`, event: EventPing},
		{name: "auth", raw: `{"event":"auth","data":{"token":"t"}}`, event: EventAuth},
		{name: "not json", raw: `hello`, err: errMalformed},
		{name: "missing event", raw: `{"data":{}}`, err: errMalformed},
		{name: "unknown event", raw: `{"event":"dance"}`, err: errUnknownEvent},
		{name: "join without id", raw: `{"event":"join_room","data":{}}`, err: errMalformed},
		{name: "seen without id", raw: `{"event":"message_seen","data":{"message_id":""}}`, err: errMalformed},
		{name: "new message without data", raw: `{"event":"new_message"}`, err: errMalformed},
		{name: "auth without token", raw: `{"event":"auth","data":{}}`, err: errMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := DecodeInbound([]byte(tt.raw))
			if tt.err != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tt.err), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.event, in.event())
			if tt.check != nil {
				tt.check(t, in)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	raw, err := Encode(EventUserOnline, PresencePayload{UserID: "alice"})
	require.NoError(t, err)

	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	require.Equal(t, EventUserOnline, f.Event)
	require.JSONEq(t, `{"user_id":"alice"}`, string(f.Data))
}
