package realtime

import (
	"encoding/json"
	"fmt"
)

// Event names used on the wire. Each frame is a JSON object of the form
// {"event": <name>, "data": <payload>}.
const (
	EventAuthenticate  = "authenticate"
	EventAuthError     = "auth_error"
	EventTyping        = "typing"
	EventStopTyping    = "stop_typing"
	EventUserStatus    = "user_status"
	EventActiveUsers   = "active_users"
	EventNewMessage    = "new_message"
	EventMessageStatus = "message_status"
)

// PresenceStatus is the value carried by a user_status event.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// MessageStatus is a delivery receipt state carried by message_status.
type MessageStatus string

const (
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// Valid reports whether s is a receipt state clients understand.
func (s MessageStatus) Valid() bool {
	return s == MessageDelivered || s == MessageRead
}

// Event is an outbound frame.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// InboundEvent is a frame received from a client. Data is decoded lazily
// because its shape depends on Name.
type InboundEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// UserStatus is the payload of user_status.
type UserStatus struct {
	UserID string         `json:"userId"`
	Status PresenceStatus `json:"status"`
}

// MessageStatusUpdate is the payload of message_status.
type MessageStatusUpdate struct {
	MessageID string        `json:"messageId"`
	Status    MessageStatus `json:"status"`
}

// TypingSignal is the outbound payload of typing and stop_typing.
type TypingSignal struct {
	UserID string `json:"userId"`
}

// TypingRequest is the inbound payload of typing and stop_typing.
type TypingRequest struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// AuthError is sent right before a connection with a rejected token is closed.
type AuthError struct {
	Message string `json:"message"`
}

// withSender returns the payload's JSON object fields with senderId added.
// The payload must encode to a JSON object.
func withSender(payload any, senderID string) (map[string]any, error) {
	fields := make(map[string]any)
	switch p := payload.(type) {
	case nil:
	case map[string]any:
		for k, v := range p {
			fields[k] = v
		}
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("payload is not a JSON object: %w", err)
		}
	}
	fields["senderId"] = senderID
	return fields, nil
}
