package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the read-only view of an account the chat needs to render senders
type User struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// Trip scopes a chat room. DeletedAt marks a soft-deleted trip.
type Trip struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// TripMember grants a user access to a trip and its chat
type TripMember struct {
	TripID uuid.UUID `json:"tripId"`
	UserID uuid.UUID `json:"userId"`
}
