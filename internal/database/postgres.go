package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ammar1510/tripchat/internal/logger"
	"github.com/ammar1510/tripchat/internal/models"
)

var log = logger.New("database")

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id    UUID PRIMARY KEY,
	name  TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS trips (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	deleted_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS trip_members (
	trip_id UUID NOT NULL REFERENCES trips(id),
	user_id UUID NOT NULL REFERENCES users(id),
	PRIMARY KEY (trip_id, user_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id         UUID PRIMARY KEY,
	trip_id    UUID NOT NULL REFERENCES trips(id),
	sender_id  UUID NOT NULL REFERENCES users(id),
	text       TEXT NOT NULL CHECK (char_length(text) BETWEEN 1 AND 2000),
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_trip_created ON messages (trip_id, created_at DESC, id DESC);
`

type PostgresDB struct {
	*sql.DB
}

func NewPostgresDB(connStr string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresDB{db}, nil
}

func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (db *PostgresDB) TripExists(ctx context.Context, tripID uuid.UUID) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM trips WHERE id = $1 AND deleted_at IS NULL)",
		tripID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) IsMember(ctx context.Context, tripID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM trip_members WHERE trip_id = $1 AND user_id = $2)",
		tripID, userID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) Append(ctx context.Context, tripID, senderID uuid.UUID, text string) (*models.Message, error) {
	text, err := ValidateText(text)
	if err != nil {
		return nil, err
	}

	message := &models.Message{
		ID:        newMessageID(),
		TripID:    tripID,
		SenderID:  senderID,
		Sender:    models.Sender{ID: senderID},
		Text:      text,
		CreatedAt: now(),
	}

	// the trip check and the insert are one statement so a concurrent soft
	// delete cannot slip in between
	result, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, trip_id, sender_id, text, created_at)
		SELECT $1, t.id, $3, $4, $5 FROM trips t
		WHERE t.id = $2 AND t.deleted_at IS NULL`,
		message.ID, tripID, senderID, message.Text, message.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, ErrTripNotFound
	}

	// the row is committed; a failed lookup only costs the display name
	err = db.QueryRowContext(ctx, "SELECT name, email FROM users WHERE id = $1", senderID).
		Scan(&message.Sender.Name, &message.Sender.Email)
	if err != nil {
		log.Warn("message %s stored but sender %s not resolved: %v", message.ID, senderID, err)
	}

	return message, nil
}

func (db *PostgresDB) Page(ctx context.Context, tripID uuid.UUID, opts PageOptions) (*models.MessagePage, error) {
	limit := NormalizeLimit(opts.Limit)

	const selectMessages = `
		SELECT m.id, m.trip_id, m.sender_id, COALESCE(u.name, ''), COALESCE(u.email, ''), m.text, m.created_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.trip_id = $1`

	var (
		rows *sql.Rows
		err  error
	)

	cursorAt, cursorID, ok, err := db.resolveCursor(ctx, tripID, opts.Before)
	if err != nil {
		return nil, err
	}
	if ok {
		rows, err = db.QueryContext(ctx, selectMessages+`
			AND (m.created_at, m.id) < ($2, $3)
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $4`, tripID, cursorAt, cursorID, limit+1)
	} else {
		rows, err = db.QueryContext(ctx, selectMessages+`
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $2`, tripID, limit+1)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: page messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(&msg.ID, &msg.TripID, &msg.SenderID, &msg.Sender.Name, &msg.Sender.Email, &msg.Text, &msg.CreatedAt)
		if err != nil {
			return nil, err
		}
		msg.Sender.ID = msg.SenderID
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, &msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return finishPage(messages, limit), nil
}

func (db *PostgresDB) resolveCursor(ctx context.Context, tripID uuid.UUID, before string) (time.Time, uuid.UUID, bool, error) {
	id, ok := parseCursor(before)
	if !ok {
		return time.Time{}, uuid.Nil, false, nil
	}

	var createdAt time.Time
	err := db.QueryRowContext(ctx,
		"SELECT created_at FROM messages WHERE id = $1 AND trip_id = $2", id, tripID).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, uuid.Nil, false, nil
	}
	if err != nil {
		return time.Time{}, uuid.Nil, false, fmt.Errorf("postgres: resolve cursor: %w", err)
	}
	return createdAt, id, true, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	_, err := db.ExecContext(ctx,
		"INSERT INTO users (id, name, email) VALUES ($1, $2, $3)",
		user.ID, user.Name, user.Email)
	return err
}

func (db *PostgresDB) CreateTrip(ctx context.Context, trip *models.Trip, memberIDs ...uuid.UUID) error {
	if trip.ID == uuid.Nil {
		trip.ID = uuid.New()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT INTO trips (id, name) VALUES ($1, $2)", trip.ID, trip.Name); err != nil {
		return err
	}
	for _, userID := range memberIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO trip_members (trip_id, user_id) VALUES ($1, $2)", trip.ID, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (db *PostgresDB) AddMember(ctx context.Context, tripID, userID uuid.UUID) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO trip_members (trip_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		tripID, userID)
	return err
}

func (db *PostgresDB) SoftDeleteTrip(ctx context.Context, tripID uuid.UUID) error {
	result, err := db.ExecContext(ctx,
		"UPDATE trips SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL", now(), tripID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrTripNotFound
	}

	return nil
}

func (db *PostgresDB) Close() error {
	return db.DB.Close()
}
