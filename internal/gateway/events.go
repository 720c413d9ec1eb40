package gateway

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/K3NXXX/social-network-backend/internal/chat"
	"github.com/K3NXXX/social-network-backend/internal/models"
	"github.com/pkg/errors"
)

// Client -> server events.
const (
	EventAuth        = "auth"
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventNewMessage  = "new_message"
	EventMessageSeen = "message_seen"
	EventPing        = "ping"
)

// Server -> client events. message_seen is echoed back to the room.
const (
	EventConnected   = "connected"
	EventMessage     = "message"
	EventChatCreated = "chat_created"
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventError       = "error"
	EventPong        = "pong"
)

// Frame is the envelope of every websocket text message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is one decoded client event.
type Inbound interface {
	event() string
}

type AuthEvent struct {
	Token string `json:"token"`
}

// RoomEvent carries a room id. Clients may send either {"room_id": "..."}
// or the bare id as a JSON string.
type RoomEvent struct {
	RoomID string `json:"room_id"`
	join   bool
}

type NewMessageEvent struct {
	ChatID     string `json:"chat_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	ImageURL   string `json:"image_url"`
}

type MessageSeenEvent struct {
	MessageID string `json:"message_id"`
}

type PingEvent struct{}

func (AuthEvent) event() string        { return EventAuth }
func (NewMessageEvent) event() string  { return EventNewMessage }
func (MessageSeenEvent) event() string { return EventMessageSeen }
func (PingEvent) event() string        { return EventPing }

func (e RoomEvent) event() string {
	if e.join {
		return EventJoinRoom
	}
	return EventLeaveRoom
}

var (
	errMalformed    = errors.New("malformed frame")
	errUnknownEvent = errors.New("unknown event")
)

// DecodeInbound parses and validates one client frame.
func DecodeInbound(raw []byte) (Inbound, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(errMalformed, err.Error())
	}
	f.Event = strings.TrimSpace(f.Event)
	if f.Event == "" {
		return nil, errors.Wrap(errMalformed, "missing event")
	}

	switch f.Event {
	case EventAuth:
		var e AuthEvent
		if err := decodeData(f.Data, &e); err != nil {
			return nil, err
		}
		if strings.TrimSpace(e.Token) == "" {
			return nil, errors.Wrap(errMalformed, "token is required")
		}
		return e, nil

	case EventJoinRoom, EventLeaveRoom:
		e := RoomEvent{join: f.Event == EventJoinRoom}
		trimmed := bytes.TrimSpace(f.Data)
		if len(trimmed) > 0 && trimmed[0] == '"' {
			if err := json.Unmarshal(trimmed, &e.RoomID); err != nil {
				return nil, errors.Wrap(errMalformed, err.Error())
			}
		} else if err := decodeData(f.Data, &e); err != nil {
			return nil, err
		}
		e.RoomID = strings.TrimSpace(e.RoomID)
		if e.RoomID == "" {
			return nil, errors.Wrap(errMalformed, "room_id is required")
		}
		return e, nil

	case EventNewMessage:
		var e NewMessageEvent
		if err := decodeData(f.Data, &e); err != nil {
			return nil, err
		}
		return e, nil

	case EventMessageSeen:
		var e MessageSeenEvent
		if err := decodeData(f.Data, &e); err != nil {
			return nil, err
		}
		if strings.TrimSpace(e.MessageID) == "" {
			return nil, errors.Wrap(errMalformed, "message_id is required")
		}
		return e, nil

	case EventPing:
		return PingEvent{}, nil
	}
	return nil, errors.Wrapf(errUnknownEvent, "%q", f.Event)
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.Wrap(errMalformed, "missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(errMalformed, err.Error())
	}
	return nil
}

// Encode builds an outbound frame.
func Encode(event string, data interface{}) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s", event)
	}
	return json.Marshal(Frame{Event: event, Data: body})
}

type ConnectedPayload struct {
	UserID string `json:"user_id"`
	ConnID string `json:"conn_id"`
}

type MessagePayload struct {
	ID        string             `json:"id"`
	ChatID    string             `json:"chat_id"`
	SenderID  string             `json:"sender_id"`
	Content   string             `json:"content"`
	ImageURL  *string            `json:"image_url"`
	IsRead    bool               `json:"is_read"`
	CreatedAt time.Time          `json:"created_at"`
	Sender    models.UserProfile `json:"sender"`
}

func newMessagePayload(res *chat.SendResult) MessagePayload {
	m := res.Message
	return MessagePayload{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		ImageURL:  m.ImageURL,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
		Sender:    res.Sender,
	}
}

type ChatCreatedPayload struct {
	ChatID       string   `json:"chat_id"`
	IsGroup      bool     `json:"is_group"`
	Participants []string `json:"participants"`
	// CreatedBy is the user whose first message opened the chat.
	CreatedBy models.UserProfile `json:"created_by"`
}

type SeenPayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
}

type PresencePayload struct {
	UserID string `json:"user_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
