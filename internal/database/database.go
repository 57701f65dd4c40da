package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/ammar1510/tripchat/internal/membership"
	"github.com/ammar1510/tripchat/internal/models"
)

const (
	MaxMessageLength = 2000
	DefaultPageLimit = 10
	MaxPageLimit     = 50
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrEmptyMessage   = fmt.Errorf("%w: message cannot be empty", ErrValidation)
	ErrMessageTooLong = fmt.Errorf("%w: message too long (max %d characters)", ErrValidation, MaxMessageLength)

	ErrNotFound     = errors.New("not found")
	ErrTripNotFound = fmt.Errorf("trip %w", ErrNotFound)
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
)

// PageOptions selects a slice of history. Before is the id of the oldest
// message the caller already holds; an id that does not resolve is ignored.
type PageOptions struct {
	Limit  int
	Before string
}

// MessageStore is the only component allowed to write chat messages.
type MessageStore interface {
	Append(ctx context.Context, tripID, senderID uuid.UUID, text string) (*models.Message, error)
	Page(ctx context.Context, tripID uuid.UUID, opts PageOptions) (*models.MessagePage, error)
}

// Seeder writes the trip/user collaborator tables. The chat core never calls
// it; it exists for development seeding and tests.
type Seeder interface {
	CreateUser(ctx context.Context, user *models.User) error
	CreateTrip(ctx context.Context, trip *models.Trip, memberIDs ...uuid.UUID) error
	AddMember(ctx context.Context, tripID, userID uuid.UUID) error
	SoftDeleteTrip(ctx context.Context, tripID uuid.UUID) error
}

type DBInterface interface {
	MessageStore
	membership.Oracle
	Seeder

	Migrate(ctx context.Context) error
	Close() error
}

type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgres"
	MySQL      DatabaseType = "mysql"
	SQLite     DatabaseType = "sqlite"
)

func NewDatabase(dbType DatabaseType, connStr string) (DBInterface, error) {
	var (
		db  DBInterface
		err error
	)
	switch dbType {
	case PostgreSQL:
		db, err = NewPostgresDB(connStr)
	case MySQL:
		db, err = NewMySQLDB(connStr)
	case SQLite:
		db, err = NewSQLiteDB(connStr)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}

// ValidateText trims text and enforces the 1..2000 character bound.
func ValidateText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	n := utf8.RuneCountInString(trimmed)
	if n == 0 {
		return "", ErrEmptyMessage
	}
	if n > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return trimmed, nil
}

// NormalizeLimit applies the default and the cap.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// parseCursor turns an opaque cursor into a message id. Garbage is treated
// like an unknown id: no cursor.
func parseCursor(before string) (uuid.UUID, bool) {
	if before == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(before)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// newMessageID returns a time-ordered id so that id order follows insertion
// order, which makes it a valid tie-break for equal timestamps.
func newMessageID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// now is the server clock, truncated to what every backend can store.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// finishPage takes up to limit+1 rows ordered newest first and returns the
// page in chronological order.
func finishPage(rows []*models.Message, limit int) *models.MessagePage {
	page := &models.MessagePage{Messages: []*models.Message{}}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	if len(rows) == 0 {
		return page
	}
	page.Messages = lo.Reverse(rows)
	if page.HasMore {
		page.NextCursor = page.Messages[0].ID.String()
	}
	return page
}
