package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ammar1510/tripchat/internal/database"
	"github.com/ammar1510/tripchat/internal/membership"
	"github.com/ammar1510/tripchat/internal/metrics"
	"github.com/ammar1510/tripchat/internal/models"
)

// Broadcaster pushes a stored message to the live room.
type Broadcaster interface {
	DeliverMessage(msg *models.Message)
}

// MessageHandler serves trip history over HTTP
type MessageHandler struct {
	Store       database.MessageStore
	Oracle      membership.Oracle
	Broadcaster Broadcaster
	Timeout     time.Duration
}

func NewMessageHandler(store database.MessageStore, oracle membership.Oracle, broadcaster Broadcaster, timeout time.Duration) *MessageHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MessageHandler{Store: store, Oracle: oracle, Broadcaster: broadcaster, Timeout: timeout}
}

// authorize resolves the trip and checks membership, writing the error
// response itself when the caller may not proceed.
func (h *MessageHandler) authorize(ctx context.Context, c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return uuid.Nil, uuid.Nil, false
	}

	tripID, err := uuid.Parse(c.Param("tripId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
		return uuid.Nil, uuid.Nil, false
	}

	err = membership.Check(ctx, h.Oracle, tripID, userID)
	switch {
	case err == nil:
		return tripID, userID, true
	case errors.Is(err, membership.ErrTripNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
	case errors.Is(err, membership.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not a member of this trip"})
	default:
		h.fail(c, err, "membership check", "Failed to load messages")
	}
	return uuid.Nil, uuid.Nil, false
}

func (h *MessageHandler) fail(c *gin.Context, err error, op, reason string) {
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn("%s %s timed out: %v", op, c.Param("tripId"), err)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Request timed out, please retry"})
		return
	}
	log.Error("%s %s failed: %v", op, c.Param("tripId"), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": reason})
}

// GetMessages returns one page of a trip's history, oldest first
func (h *MessageHandler) GetMessages(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	tripID, _, ok := h.authorize(ctx, c)
	if !ok {
		return
	}

	// a malformed limit falls back to the default like a missing one
	limit, _ := strconv.Atoi(c.Query("limit"))

	start := time.Now()
	page, err := h.Store.Page(ctx, tripID, database.PageOptions{
		Limit:  limit,
		Before: c.Query("before"),
	})
	metrics.StoreLatency.WithLabelValues("page").Observe(time.Since(start).Seconds())
	if err != nil {
		h.fail(c, err, "page", "Failed to load messages")
		return
	}

	c.JSON(http.StatusOK, page)
}

// SendMessage stores a message and hands it to the live room
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req models.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	// the write must not be abandoned because the client went away
	ctx, cancel := context.WithTimeout(context.Background(), h.Timeout)
	defer cancel()

	tripID, userID, ok := h.authorize(ctx, c)
	if !ok {
		return
	}

	start := time.Now()
	message, err := h.Store.Append(ctx, tripID, userID, req.Text)
	metrics.StoreLatency.WithLabelValues("append").Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
	case errors.Is(err, database.ErrMessageTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message too long (max 2000 characters)"})
		return
	case errors.Is(err, database.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message cannot be empty"})
		return
	case errors.Is(err, database.ErrTripNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
		return
	default:
		h.fail(c, err, "append", "Failed to send message")
		return
	}

	metrics.MessagesPersisted.WithLabelValues("rest").Inc()
	if h.Broadcaster != nil {
		h.Broadcaster.DeliverMessage(message)
	}

	c.JSON(http.StatusCreated, message)
}
