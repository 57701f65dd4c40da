// Package events hands chat activity to downstream notification layers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ammar1510/tripchat/internal/logger"
	"github.com/ammar1510/tripchat/internal/metrics"
)

var log = logger.New("events")

const (
	TypeMessageCreated = "message.created"
	TypeMemberJoined   = "room.joined"
	TypeMemberLeft     = "room.left"
)

// Event is the record published for every persisted message and every room
// join or leave.
type Event struct {
	Type       string    `json:"type"`
	TripID     uuid.UUID `json:"tripId"`
	UserID     uuid.UUID `json:"userId"`
	MessageID  uuid.UUID `json:"messageId,omitempty"`
	Text       string    `json:"text,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a single topic keyed by trip id, so one
// trip's events stay ordered within a partition.
type KafkaPublisher struct {
	w     messageWriter
	topic string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(e.TripID.String()),
		Value: value,
		Time:  e.OccurredAt,
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues(e.Type, "error").Inc()
		return err
	}
	metrics.EventsPublished.WithLabelValues(e.Type, "ok").Inc()
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// New picks the Kafka publisher when brokers are configured.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		log.Info("No Kafka brokers configured, chat events will not be published")
		return NopPublisher{}
	}
	log.Info("Publishing chat events to %s on %v", topic, brokers)
	return NewKafkaPublisher(brokers, topic)
}

// Emit publishes e in the background. Failures are logged and never reach
// the caller.
func Emit(p Publisher, timeout time.Duration, e Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := p.Publish(ctx, e); err != nil {
			log.Warn("Failed to publish %s for trip %s: %v", e.Type, e.TripID, err)
		}
	}()
}
