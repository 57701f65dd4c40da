package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ammar1510/tripchat/internal/logger"
	chat "github.com/ammar1510/tripchat/internal/websocket"
)

var log = logger.New("client")

var ErrClosed = errors.New("connection closed")

// Event is a server push other than an ack.
type Event struct {
	Name string
	Data json.RawMessage
}

// Conn is a chat protocol connection. Calls that expect an ack block until
// it arrives, the context ends, or the connection drops.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	nextAck int64
	pending map[int64]chan chat.Ack
	err     error
	queue   []Event

	// readLoop appends to queue and never blocks; forward feeds events
	queued chan struct{}
	events chan Event
	done   chan struct{}
}

// Dial opens a connection to url (ws:// or wss://) presenting token as a
// bearer credential.
func Dial(ctx context.Context, url, token string) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Conn{
		ws:      ws,
		pending: make(map[int64]chan chat.Ack),
		queued:  make(chan struct{}, 1),
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.forward()
	return c, nil
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		var env chat.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn("Dropping undecodable frame: %v", err)
			continue
		}

		if env.Event == chat.EventAck {
			c.resolve(env)
			continue
		}

		c.mu.Lock()
		c.queue = append(c.queue, Event{Name: env.Event, Data: env.Data})
		c.mu.Unlock()
		select {
		case c.queued <- struct{}{}:
		default:
		}
	}
}

// forward moves queued pushes onto the events channel in arrival order.
func (c *Conn) forward() {
	defer close(c.events)

	for {
		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, ev := range batch {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-c.queued:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) resolve(env chat.Envelope) {
	if env.AckID == nil {
		return
	}
	var ack chat.Ack
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		log.Warn("Dropping undecodable ack %d: %v", *env.AckID, err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*env.AckID]
	delete(c.pending, *env.AckID)
	c.mu.Unlock()

	if ok {
		ch <- ack
	}
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
	c.pending = make(map[int64]chan chat.Ack)
}

// Events delivers server pushes until the connection closes. Pushes that
// are not drained are buffered without bound; acks never wait on them.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) write(env chat.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(env)
}

func (c *Conn) call(ctx context.Context, event string, payload any) (chat.Ack, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return chat.Ack{}, err
	}

	ch := make(chan chat.Ack, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return chat.Ack{}, ErrClosed
	}
	c.nextAck++
	id := c.nextAck
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.write(chat.Envelope{Event: event, AckID: &id, Data: data}); err != nil {
		forget()
		return chat.Ack{}, err
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-ctx.Done():
		forget()
		return chat.Ack{}, ctx.Err()
	case <-c.done:
		return chat.Ack{}, ErrClosed
	}
}

func (c *Conn) JoinRoom(ctx context.Context, tripID uuid.UUID) (chat.Ack, error) {
	return c.call(ctx, chat.EventJoinRoom, chat.JoinRoomRequest{TripID: tripID.String()})
}

func (c *Conn) LeaveRoom(ctx context.Context, tripID uuid.UUID) (chat.Ack, error) {
	return c.call(ctx, chat.EventLeaveRoom, chat.LeaveRoomRequest{TripID: tripID.String()})
}

func (c *Conn) SendMessage(ctx context.Context, tripID uuid.UUID, text, clientMessageID string) (chat.Ack, error) {
	return c.call(ctx, chat.EventSendMessage, chat.SendMessageRequest{
		TripID:          tripID.String(),
		Text:            text,
		ClientMessageID: clientMessageID,
	})
}

// Typing is fire and forget.
func (c *Conn) Typing(tripID uuid.UUID, isTyping bool) error {
	data, err := json.Marshal(chat.TypingRequest{TripID: tripID.String(), IsTyping: isTyping})
	if err != nil {
		return err
	}
	return c.write(chat.Envelope{Event: chat.EventTyping, Data: data})
}

func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
