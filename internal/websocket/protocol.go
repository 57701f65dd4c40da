package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Client to server events.
const (
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
)

// Server to client events.
const (
	EventAck            = "ack"
	EventError          = "error"
	EventNewMessage     = "newMessage"
	EventUserJoinedRoom = "userJoinedRoom"
	EventUserLeftRoom   = "userLeftRoom"
)

// Ack error codes.
const (
	CodeValidation  = "validation"
	CodeNotFound    = "not_found"
	CodeForbidden   = "forbidden"
	CodeNotJoined   = "not_joined"
	CodeTimeout     = "timeout"
	CodeInternal    = "internal"
	CodeRateLimited = "rate_limited"
)

// Reasons shown to users.
const (
	ReasonTripIDRequired = "Trip ID is required"
	ReasonEmptyMessage   = "Message cannot be empty"
	ReasonTooLong        = "Message too long (max 2000 characters)"
	ReasonInvalidPayload = "Invalid payload"
	ReasonTripNotFound   = "Trip not found"
	ReasonNotMember      = "You are not a member of this trip"
	ReasonNotJoined      = "You must join the room first"
	ReasonTimeout        = "Request timed out, please retry"
	ReasonSendFailed     = "Failed to send message"
	ReasonJoinFailed     = "Failed to join room"
	ReasonRequestFailed  = "Request failed"
	ReasonRateLimited    = "Rate limit exceeded"
	ReasonInvalidFrame   = "Invalid message format"
	ReasonUnknownEvent   = "Unknown event"

	ReasonDisconnect = "disconnect"
)

// Envelope is the frame format in both directions. AckID is set by a client
// that wants an acknowledgment and echoed on the matching ack.
type Envelope struct {
	Event string          `json:"event"`
	AckID *int64          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoomRequest struct {
	TripID string `json:"tripId" validate:"required"`
}

type LeaveRoomRequest struct {
	TripID string `json:"tripId" validate:"required"`
}

type SendMessageRequest struct {
	TripID          string `json:"tripId" validate:"required"`
	Text            string `json:"text"`
	ClientMessageID string `json:"clientMessageId,omitempty" validate:"omitempty,max=64"`
}

type TypingRequest struct {
	TripID   string `json:"tripId" validate:"required"`
	IsTyping bool   `json:"isTyping"`
}

// Ack answers a single client event. Either Success is set or Error and Code
// are.
type Ack struct {
	Success   bool       `json:"success,omitempty"`
	Room      string     `json:"room,omitempty"`
	MessageID string     `json:"messageId,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	Error     string     `json:"error,omitempty"`
	Code      string     `json:"code,omitempty"`
}

// Retryable reports whether resending the same event may succeed.
func (a Ack) Retryable() bool {
	return a.Code == CodeTimeout || a.Code == CodeInternal || a.Code == CodeRateLimited
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// PresencePayload is carried by userJoinedRoom and userLeftRoom.
type PresencePayload struct {
	TripID    uuid.UUID `json:"tripId"`
	UserID    uuid.UUID `json:"userId"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

type TypingPayload struct {
	TripID   uuid.UUID `json:"tripId"`
	UserID   uuid.UUID `json:"userId"`
	IsTyping bool      `json:"isTyping"`
}

// RoomName is the label acknowledged on a successful join.
func RoomName(tripID uuid.UUID) string {
	return "trip:" + tripID.String()
}

func encode(event string, ackID *int64, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, AckID: ackID, Data: raw})
}
