package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ammar1510/tripchat/internal/models"
)

// Row types mirror the postgres schema. UUIDs are stored as their canonical
// string form, which keeps the time-ordered message ids sortable as text.

type userRow struct {
	ID    string `gorm:"primaryKey;type:char(36)"`
	Name  string `gorm:"not null"`
	Email string `gorm:"not null;default:''"`
}

func (userRow) TableName() string { return "users" }

type tripRow struct {
	ID        string `gorm:"primaryKey;type:char(36)"`
	Name      string `gorm:"not null;default:''"`
	DeletedAt gorm.DeletedAt
}

func (tripRow) TableName() string { return "trips" }

type memberRow struct {
	TripID string `gorm:"primaryKey;type:char(36)"`
	UserID string `gorm:"primaryKey;type:char(36)"`
}

func (memberRow) TableName() string { return "trip_members" }

type messageRow struct {
	ID        string    `gorm:"primaryKey;type:char(36)"`
	TripID    string    `gorm:"type:char(36);not null;index:idx_messages_trip_created,priority:1"`
	SenderID  string    `gorm:"type:char(36);not null"`
	Text      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_messages_trip_created,priority:2"`
}

func (messageRow) TableName() string { return "messages" }

// pageRow is one message joined with its sender.
type pageRow struct {
	ID          string
	TripID      string
	SenderID    string
	SenderName  string
	SenderEmail string
	Text        string
	CreatedAt   time.Time
}

func (r pageRow) toModel() (*models.Message, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("bad message id %q: %w", r.ID, err)
	}
	tripID, err := uuid.Parse(r.TripID)
	if err != nil {
		return nil, fmt.Errorf("bad trip id %q: %w", r.TripID, err)
	}
	senderID, err := uuid.Parse(r.SenderID)
	if err != nil {
		return nil, fmt.Errorf("bad sender id %q: %w", r.SenderID, err)
	}
	return &models.Message{
		ID:        id,
		TripID:    tripID,
		SenderID:  senderID,
		Sender:    models.Sender{ID: senderID, Name: r.SenderName, Email: r.SenderEmail},
		Text:      r.Text,
		CreatedAt: r.CreatedAt.UTC(),
	}, nil
}

// GormDB serves the MySQL and SQLite backends.
type GormDB struct {
	db      *gorm.DB
	dialect string
}

func openGorm(dialector gorm.Dialector, dialect string) (*GormDB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: now,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", dialect, err)
	}
	return &GormDB{db: db, dialect: dialect}, nil
}

// NewMySQLDB connects to MySQL. The DSN must carry parseTime=true.
func NewMySQLDB(dsn string) (*GormDB, error) {
	return openGorm(mysql.Open(dsn), "mysql")
}

// NewSQLiteDB opens a file, or ":memory:" for a throwaway store.
func NewSQLiteDB(path string) (*GormDB, error) {
	g, err := openGorm(sqlite.Open(path), "sqlite")
	if err != nil {
		return nil, err
	}
	// an in-memory database lives and dies with a single connection
	sqlDB, err := g.db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return g, nil
}

func (g *GormDB) Migrate(ctx context.Context) error {
	err := g.db.WithContext(ctx).AutoMigrate(&userRow{}, &tripRow{}, &memberRow{}, &messageRow{})
	if err != nil {
		return fmt.Errorf("%s: migrate: %w", g.dialect, err)
	}
	return nil
}

func (g *GormDB) TripExists(ctx context.Context, tripID uuid.UUID) (bool, error) {
	var n int64
	err := g.db.WithContext(ctx).Model(&tripRow{}).Where("id = ?", tripID.String()).Count(&n).Error
	return n > 0, err
}

func (g *GormDB) IsMember(ctx context.Context, tripID, userID uuid.UUID) (bool, error) {
	var n int64
	err := g.db.WithContext(ctx).Model(&memberRow{}).
		Where("trip_id = ? AND user_id = ?", tripID.String(), userID.String()).
		Count(&n).Error
	return n > 0, err
}

func (g *GormDB) Append(ctx context.Context, tripID, senderID uuid.UUID, text string) (*models.Message, error) {
	text, err := ValidateText(text)
	if err != nil {
		return nil, err
	}

	row := messageRow{
		ID:        newMessageID().String(),
		TripID:    tripID.String(),
		SenderID:  senderID.String(),
		Text:      text,
		CreatedAt: now(),
	}

	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&tripRow{}).Where("id = ?", row.TripID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrTripNotFound
		}
		return tx.Create(&row).Error
	})
	if errors.Is(err, ErrTripNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%s: insert message: %w", g.dialect, err)
	}

	message := &models.Message{
		ID:        uuid.MustParse(row.ID),
		TripID:    tripID,
		SenderID:  senderID,
		Sender:    models.Sender{ID: senderID},
		Text:      row.Text,
		CreatedAt: row.CreatedAt,
	}

	var sender userRow
	if err := g.db.WithContext(ctx).Where("id = ?", row.SenderID).Take(&sender).Error; err != nil {
		log.Warn("message %s stored but sender %s not resolved: %v", message.ID, senderID, err)
	} else {
		message.Sender.Name = sender.Name
		message.Sender.Email = sender.Email
	}

	return message, nil
}

func (g *GormDB) Page(ctx context.Context, tripID uuid.UUID, opts PageOptions) (*models.MessagePage, error) {
	limit := NormalizeLimit(opts.Limit)
	db := g.db.WithContext(ctx)

	query := db.Table("messages AS m").
		Select("m.id, m.trip_id, m.sender_id, COALESCE(u.name, '') AS sender_name, " +
			"COALESCE(u.email, '') AS sender_email, m.text, m.created_at").
		Joins("LEFT JOIN users u ON u.id = m.sender_id").
		Where("m.trip_id = ?", tripID.String())

	if id, ok := parseCursor(opts.Before); ok {
		var cursor messageRow
		err := db.Where("id = ? AND trip_id = ?", id.String(), tripID.String()).Take(&cursor).Error
		switch {
		case err == nil:
			query = query.Where("(m.created_at < ? OR (m.created_at = ? AND m.id < ?))",
				cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return nil, fmt.Errorf("%s: resolve cursor: %w", g.dialect, err)
		}
	}

	var rows []pageRow
	err := query.Order("m.created_at DESC").Order("m.id DESC").Limit(limit + 1).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%s: page messages: %w", g.dialect, err)
	}

	messages := make([]*models.Message, 0, len(rows))
	for _, r := range rows {
		msg, err := r.toModel()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return finishPage(messages, limit), nil
}

func (g *GormDB) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return g.db.WithContext(ctx).Create(&userRow{
		ID:    user.ID.String(),
		Name:  user.Name,
		Email: user.Email,
	}).Error
}

func (g *GormDB) CreateTrip(ctx context.Context, trip *models.Trip, memberIDs ...uuid.UUID) error {
	if trip.ID == uuid.Nil {
		trip.ID = uuid.New()
	}
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&tripRow{ID: trip.ID.String(), Name: trip.Name}).Error; err != nil {
			return err
		}
		for _, userID := range memberIDs {
			if err := tx.Create(&memberRow{TripID: trip.ID.String(), UserID: userID.String()}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *GormDB) AddMember(ctx context.Context, tripID, userID uuid.UUID) error {
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&memberRow{TripID: tripID.String(), UserID: userID.String()}).Error
}

func (g *GormDB) SoftDeleteTrip(ctx context.Context, tripID uuid.UUID) error {
	result := g.db.WithContext(ctx).Where("id = ?", tripID.String()).Delete(&tripRow{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTripNotFound
	}
	return nil
}

func (g *GormDB) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
