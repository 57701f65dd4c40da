package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ammar1510/tripchat/internal/models"
	chat "github.com/ammar1510/tripchat/internal/websocket"
)

// Session drives one trip's Timeline from a live Conn.
type Session struct {
	conn     *Conn
	timeline *Timeline
	fetch    Fetcher

	// OnEvent, if set, sees every push after the timeline has applied it.
	OnEvent func(Event)
}

func NewSession(conn *Conn, timeline *Timeline, fetch Fetcher) *Session {
	return &Session{conn: conn, timeline: timeline, fetch: fetch}
}

func (s *Session) Timeline() *Timeline { return s.timeline }

// Join enters the trip's room and loads the newest page of history.
func (s *Session) Join(ctx context.Context) error {
	ack, err := s.conn.JoinRoom(ctx, s.timeline.TripID())
	if err != nil {
		return err
	}
	if !ack.Success {
		return fmt.Errorf("join %s: %s (%s)", s.timeline.TripID(), ack.Error, ack.Code)
	}
	if s.fetch == nil {
		return nil
	}
	_, err = s.timeline.LoadOlder(ctx, s.fetch)
	return err
}

func (s *Session) Leave(ctx context.Context) error {
	_, err := s.conn.LeaveRoom(ctx, s.timeline.TripID())
	return err
}

// Send shows text immediately and settles it once the server answers.
func (s *Session) Send(ctx context.Context, text string) (chat.Ack, error) {
	entry := s.timeline.Send(text)
	ack, err := s.conn.SendMessage(ctx, s.timeline.TripID(), text, entry.ID)
	if err != nil {
		s.timeline.Discard(entry.ID)
		return chat.Ack{}, err
	}
	s.timeline.Acknowledge(entry.ID, ack)
	return ack, nil
}

// LoadOlder pages further back through history.
func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	if s.fetch == nil {
		return 0, nil
	}
	return s.timeline.LoadOlder(ctx, s.fetch)
}

// Run applies pushes to the timeline until ctx ends or the connection
// closes.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.conn.Events():
			if !ok {
				return ErrClosed
			}
			if ev.Name == chat.EventNewMessage {
				var msg models.Message
				if err := json.Unmarshal(ev.Data, &msg); err != nil {
					log.Warn("Dropping undecodable message: %v", err)
					continue
				}
				s.timeline.ReceiveBroadcast(&msg)
			}
			if s.OnEvent != nil {
				s.OnEvent(ev)
			}
		}
	}
}
