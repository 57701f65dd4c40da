package models

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a chat message posted in a trip's room
type Message struct {
	ID              uuid.UUID `json:"id"`
	TripID          uuid.UUID `json:"trip"`
	SenderID        uuid.UUID `json:"-"`
	Sender          Sender    `json:"sender"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"createdAt"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
}

// Sender is the resolved identity of a message author
type Sender struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"`
}

// MessagePage is one slice of a trip's history, oldest first
type MessagePage struct {
	Messages   []*Message `json:"messages"`
	HasMore    bool       `json:"hasMore"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// MessageRequest is the REST body for posting a message
type MessageRequest struct {
	Text string `json:"text"`
}
