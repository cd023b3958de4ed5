package internal

import "encoding/json"

const (
	EventPresenceUpdate = "presence:update"
	EventMessageNew     = "message:new"
)

// Frame is the JSON envelope of every server to client websocket message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PresenceEvent announces that a user came online or went offline.
type PresenceEvent struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// MessageEvent carries a relayed message to a recipient's sessions. The
// message body is opaque and forwarded as received.
type MessageEvent struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}
