package models

import "github.com/goccy/go-json"

// Closed set of wire event names. Frames carrying anything else are logged
// and ignored, never dispatched.

// Client → server requests.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
	EventStopTyping  = "stop-typing"
)

// Server → client events.
const (
	EventAck               = "ack"
	EventNewMessage        = "new-message"
	EventMessageUpdated    = "message-updated"
	EventMessageDeleted    = "message-deleted"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventRoomJoined        = "room-joined"
	EventRoomLeft          = "room-left"
	EventUserJoinedRoom    = "user-joined-room"
	EventUserLeftRoom      = "user-left-room"
)

// Frame is the client→server envelope. Frames for join-room, leave-room and
// send-message carry a correlation ID and receive an Ack; typing frames are
// fire-and-forget and omit it.
type Frame struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Ack is the server's reply to a correlated request frame. Exactly one of
// Error and Data is meaningful: a nil Error means success.
type Ack struct {
	Type  string      `json:"type"` // always EventAck
	ID    string      `json:"id"`
	Error *AckError   `json:"error"`
	Data  interface{} `json:"data,omitempty"`
}

// AckError is the classified failure carried on the ack channel.
type AckError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Event is the server→client broadcast envelope.
type Event struct {
	Type      string      `json:"type"`
	RoomID    string      `json:"roomId,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Request payloads.

type RoomRef struct {
	RoomID string `json:"roomId"`
}

type SendMessageData struct {
	RoomID   string   `json:"roomId"`
	Content  string   `json:"content"`
	Type     string   `json:"type,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
	ReplyTo  string   `json:"replyTo,omitempty"`
}

// Broadcast payloads.

type UserRoomData struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	RoomID   string `json:"roomId"`
}

type MessageDeletedData struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId,omitempty"`
}
