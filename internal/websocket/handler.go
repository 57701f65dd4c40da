package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/ammar1510/tripchat/internal/auth"
	"github.com/ammar1510/tripchat/internal/database"
	"github.com/ammar1510/tripchat/internal/events"
	"github.com/ammar1510/tripchat/internal/logger"
	"github.com/ammar1510/tripchat/internal/membership"
	"github.com/ammar1510/tripchat/internal/metrics"
)

var log = logger.New("websocket")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

// Client is one authenticated connection.
type Client struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Name   string

	conn *websocket.Conn
	send chan []byte

	// guarded by Hub.mu
	room   uuid.UUID
	closed bool
}

// Options tune a Gateway. Zero values fall back to defaults.
type Options struct {
	StoreTimeout       time.Duration
	RateLimitPerMinute int
	SendBuffer         int
	AllowedOrigins     []string
}

func (o Options) withDefaults() Options {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.RateLimitPerMinute <= 0 {
		o.RateLimitPerMinute = 60
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// Gateway speaks the chat protocol on top of the Hub.
type Gateway struct {
	hub       *Hub
	store     database.MessageStore
	oracle    membership.Oracle
	publisher events.Publisher
	validate  *validator.Validate
	opts      Options
	upgrader  websocket.Upgrader
}

func NewGateway(hub *Hub, store database.MessageStore, oracle membership.Oracle, publisher events.Publisher, opts Options) *Gateway {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	g := &Gateway{
		hub:       hub,
		store:     store,
		oracle:    oracle,
		publisher: publisher,
		validate:  validator.New(),
		opts:      opts.withDefaults(),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.opts.AllowedOrigins) == 0 || lo.Contains(g.opts.AllowedOrigins, "*") {
		return true
	}
	if lo.Contains(g.opts.AllowedOrigins, origin) {
		return true
	}
	log.Warn("Rejected websocket origin %s", origin)
	return false
}

// ServeWS authenticates the handshake and upgrades it. A bad credential is
// the only thing that refuses a connection.
func (g *Gateway) ServeWS(c *gin.Context) {
	token, source := auth.ExtractToken(c.Request)
	identity, err := auth.Authenticate(token)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			log.Warn("Rejected connection from %s: no token presented", c.Request.RemoteAddr)
			metrics.ConnectionsRejected.WithLabelValues("missing_token").Inc()
		} else {
			log.Warn("Rejected connection from %s: invalid token in %s: %v", c.Request.RemoteAddr, source, err)
			metrics.ConnectionsRejected.WithLabelValues("invalid_token").Inc()
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication error"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		ID:     uuid.New(),
		UserID: identity.UserID,
		Name:   identity.Name,
		conn:   conn,
		send:   make(chan []byte, g.opts.SendBuffer),
	}

	if !g.hub.Register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	metrics.ConnectionsActive.Inc()

	go g.writePump(client)
	go g.readPump(client)
	log.Info("Client %s (user %s) connected", client.ID, client.UserID)
}

// readPump handles one event at a time until the connection drops.
func (g *Gateway) readPump(c *Client) {
	defer func() {
		g.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	limiter := rate.NewLimiter(rate.Limit(float64(g.opts.RateLimitPerMinute)/60), g.opts.RateLimitPerMinute)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error("Error reading from client %s: %v", c.ID, err)
			} else {
				log.Info("Client %s closed connection: %v", c.ID, err)
			}
			return
		}

		g.handleFrame(c, limiter, data)
	}
}

// writePump drains the client's queue, one frame per message, and keeps
// the connection alive with pings.
func (g *Gateway) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// the hub closed the queue
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("Write to client %s failed: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
