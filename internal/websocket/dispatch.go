package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ammar1510/tripchat/internal/database"
	"github.com/ammar1510/tripchat/internal/events"
	"github.com/ammar1510/tripchat/internal/membership"
	"github.com/ammar1510/tripchat/internal/metrics"
	"github.com/ammar1510/tripchat/internal/models"
)

func (g *Gateway) handleFrame(c *Client, limiter *rate.Limiter, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		log.Debug("Undecodable frame from client %s: %v", c.ID, err)
		metrics.EventsHandled.WithLabelValues("unknown", "bad_frame").Inc()
		g.sendError(c, ReasonInvalidFrame)
		return
	}

	if !limiter.Allow() {
		log.Warn("Rate limit exceeded for client %s", c.ID)
		metrics.EventsHandled.WithLabelValues("any", "rate_limited").Inc()
		g.reject(c, env.AckID, Ack{Error: ReasonRateLimited, Code: CodeRateLimited})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic handling %s from client %s: %v\n%s", env.Event, c.ID, r, debug.Stack())
			metrics.EventsHandled.WithLabelValues(env.Event, "panic").Inc()
			g.ack(c, env.AckID, Ack{Error: failureReason(env.Event), Code: CodeInternal})
		}
	}()

	var ack Ack
	switch env.Event {
	case EventJoinRoom:
		ack = g.joinRoom(c, env.Data)
	case EventLeaveRoom:
		ack = g.leaveRoom(c, env.Data)
	case EventSendMessage:
		ack = g.sendMessage(c, env.Data)
	case EventTyping:
		g.typing(c, env.Data)
		metrics.EventsHandled.WithLabelValues(env.Event, "ok").Inc()
		return
	default:
		log.Warn("Unknown event '%s' from client %s", env.Event, c.ID)
		metrics.EventsHandled.WithLabelValues("unknown", "unknown_event").Inc()
		g.reject(c, env.AckID, Ack{Error: ReasonUnknownEvent, Code: CodeValidation})
		return
	}

	outcome := "ok"
	if !ack.Success {
		outcome = ack.Code
	}
	metrics.EventsHandled.WithLabelValues(env.Event, outcome).Inc()
	g.ack(c, env.AckID, ack)
}

// failureReason is what a caller is told when its event crashed.
func failureReason(event string) string {
	switch event {
	case EventJoinRoom:
		return ReasonJoinFailed
	case EventSendMessage:
		return ReasonSendFailed
	default:
		return ReasonRequestFailed
	}
}

// reject answers on the ack channel when the caller asked for an ack, and
// with an error push when it did not.
func (g *Gateway) reject(c *Client, ackID *int64, ack Ack) {
	if ackID != nil {
		g.ack(c, ackID, ack)
		return
	}
	g.sendError(c, ack.Error)
}

// decode unmarshals and validates a payload. The returned ack is the
// validation failure to report, if any.
func (g *Gateway) decode(data json.RawMessage, v any) (Ack, bool) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return Ack{Error: ReasonInvalidPayload, Code: CodeValidation}, false
	}
	if err := g.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Field() == "TripID" {
					return Ack{Error: ReasonTripIDRequired, Code: CodeValidation}, false
				}
			}
		}
		return Ack{Error: ReasonInvalidPayload, Code: CodeValidation}, false
	}
	return Ack{}, true
}

func (g *Gateway) storeContext() (context.Context, context.CancelFunc) {
	// detached from the connection so a disconnect never aborts a write
	return context.WithTimeout(context.Background(), g.opts.StoreTimeout)
}

func (g *Gateway) joinRoom(c *Client, data json.RawMessage) Ack {
	var req JoinRoomRequest
	if ack, ok := g.decode(data, &req); !ok {
		return ack
	}
	tripID, err := uuid.Parse(req.TripID)
	if err != nil {
		return Ack{Error: ReasonTripNotFound, Code: CodeNotFound}
	}

	ctx, cancel := g.storeContext()
	defer cancel()
	start := time.Now()
	err = membership.Check(ctx, g.oracle, tripID, c.UserID)
	metrics.StoreLatency.WithLabelValues("membership").Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, membership.ErrTripNotFound):
		log.Debug("User %s tried to join missing trip %s", c.UserID, tripID)
		return Ack{Error: ReasonTripNotFound, Code: CodeNotFound}
	case errors.Is(err, membership.ErrNotMember):
		log.Info("User %s is not a member of trip %s", c.UserID, tripID)
		return Ack{Error: ReasonNotMember, Code: CodeForbidden}
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("Membership check for user %s on trip %s timed out", c.UserID, tripID)
		return Ack{Error: ReasonTimeout, Code: CodeTimeout}
	default:
		log.Error("Membership check for user %s on trip %s failed: %v", c.UserID, tripID, err)
		return Ack{Error: ReasonJoinFailed, Code: CodeInternal}
	}

	previous, changed := g.hub.Join(c, tripID)
	if previous != uuid.Nil {
		g.announceLeave(c, previous, "")
	}
	if changed {
		g.broadcast(tripID, EventUserJoinedRoom, PresencePayload{
			TripID:    tripID,
			UserID:    c.UserID,
			Name:      c.Name,
			Timestamp: time.Now().UTC(),
		}, c)
		g.emit(events.Event{Type: events.TypeMemberJoined, TripID: tripID, UserID: c.UserID})
		log.Info("User %s joined trip %s", c.UserID, tripID)
	}

	return Ack{Success: true, Room: RoomName(tripID)}
}

func (g *Gateway) leaveRoom(c *Client, data json.RawMessage) Ack {
	var req LeaveRoomRequest
	if ack, ok := g.decode(data, &req); !ok {
		return ack
	}
	tripID, err := uuid.Parse(req.TripID)
	if err != nil {
		return Ack{Success: true}
	}
	if g.hub.Leave(c, tripID) {
		g.announceLeave(c, tripID, "")
	}
	return Ack{Success: true}
}

func (g *Gateway) sendMessage(c *Client, data json.RawMessage) Ack {
	var req SendMessageRequest
	if ack, ok := g.decode(data, &req); !ok {
		return ack
	}
	tripID, err := uuid.Parse(req.TripID)
	if err != nil || g.hub.RoomOf(c) != tripID {
		return Ack{Error: ReasonNotJoined, Code: CodeNotJoined}
	}
	if _, err := database.ValidateText(req.Text); err != nil {
		return textAck(err)
	}

	ctx, cancel := g.storeContext()
	defer cancel()
	start := time.Now()
	msg, err := g.store.Append(ctx, tripID, c.UserID, req.Text)
	metrics.StoreLatency.WithLabelValues("append").Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, database.ErrValidation):
		return textAck(err)
	case errors.Is(err, database.ErrTripNotFound):
		log.Warn("Trip %s disappeared while user %s was in its room", tripID, c.UserID)
		return Ack{Error: ReasonTripNotFound, Code: CodeNotFound}
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("Append for user %s on trip %s timed out", c.UserID, tripID)
		return Ack{Error: ReasonTimeout, Code: CodeTimeout}
	default:
		log.Error("Append for user %s on trip %s failed: %v", c.UserID, tripID, err)
		return Ack{Error: ReasonSendFailed, Code: CodeInternal}
	}

	metrics.MessagesPersisted.WithLabelValues("websocket").Inc()
	msg.ClientMessageID = req.ClientMessageID
	g.deliver(msg)

	createdAt := msg.CreatedAt
	return Ack{Success: true, MessageID: msg.ID.String(), CreatedAt: &createdAt}
}

func textAck(err error) Ack {
	if errors.Is(err, database.ErrMessageTooLong) {
		return Ack{Error: ReasonTooLong, Code: CodeValidation}
	}
	return Ack{Error: ReasonEmptyMessage, Code: CodeValidation}
}

func (g *Gateway) typing(c *Client, data json.RawMessage) {
	var req TypingRequest
	if _, ok := g.decode(data, &req); !ok {
		return
	}
	tripID, err := uuid.Parse(req.TripID)
	if err != nil || g.hub.RoomOf(c) != tripID {
		return
	}
	g.broadcast(tripID, EventTyping, TypingPayload{
		TripID:   tripID,
		UserID:   c.UserID,
		IsTyping: req.IsTyping,
	}, c)
}

// disconnect runs once per connection after its read loop ends.
func (g *Gateway) disconnect(c *Client) {
	room := g.hub.Remove(c)
	metrics.ConnectionsActive.Dec()
	if room != uuid.Nil {
		g.announceLeave(c, room, ReasonDisconnect)
	}
	log.Info("Client %s (user %s) disconnected", c.ID, c.UserID)
}

func (g *Gateway) announceLeave(c *Client, tripID uuid.UUID, reason string) {
	g.broadcast(tripID, EventUserLeftRoom, PresencePayload{
		TripID:    tripID,
		UserID:    c.UserID,
		Name:      c.Name,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	}, c)
	g.emit(events.Event{Type: events.TypeMemberLeft, TripID: tripID, UserID: c.UserID, Reason: reason})
	log.Info("User %s left trip %s %s", c.UserID, tripID, reason)
}

// DeliverMessage broadcasts a message stored outside the socket path, e.g.
// through the REST fallback, to everyone in its room.
func (g *Gateway) DeliverMessage(msg *models.Message) {
	g.deliver(msg)
}

func (g *Gateway) deliver(msg *models.Message) {
	n := g.broadcast(msg.TripID, EventNewMessage, msg, nil)
	log.Debug("Message %s delivered to %d connections in trip %s", msg.ID, n, msg.TripID)
	g.emit(events.Event{
		Type:      events.TypeMessageCreated,
		TripID:    msg.TripID,
		UserID:    msg.SenderID,
		MessageID: msg.ID,
		Text:      msg.Text,
	})
}

func (g *Gateway) broadcast(tripID uuid.UUID, event string, data any, except *Client) int {
	frame, err := encode(event, nil, data)
	if err != nil {
		log.Error("Failed to encode %s for trip %s: %v", event, tripID, err)
		return 0
	}
	return g.hub.Broadcast(tripID, frame, except)
}

func (g *Gateway) ack(c *Client, ackID *int64, ack Ack) {
	if ackID == nil {
		return
	}
	frame, err := encode(EventAck, ackID, ack)
	if err != nil {
		log.Error("Failed to encode ack for client %s: %v", c.ID, err)
		return
	}
	g.hub.Send(c, frame)
}

func (g *Gateway) sendError(c *Client, message string) {
	frame, err := encode(EventError, nil, ErrorPayload{Message: message})
	if err != nil {
		return
	}
	g.hub.Send(c, frame)
}

func (g *Gateway) emit(e events.Event) {
	e.OccurredAt = time.Now().UTC()
	events.Emit(g.publisher, g.opts.StoreTimeout, e)
}
