package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ammar1510/tripchat/internal/auth"
	"github.com/ammar1510/tripchat/internal/logger"
	"github.com/ammar1510/tripchat/internal/metrics"
)

var log = logger.New("api")

// AuthMiddleware validates JWT tokens and sets user info in context
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		// Check if Authorization header exists and has Bearer format
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		identity, err := auth.Authenticate(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				log.Error("Unexpected token error from %s: %v", c.ClientIP(), err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set("userID", identity.UserID)
		c.Set("username", identity.Name)

		c.Next()
	}
}

// currentUser reads what AuthMiddleware stored.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get("userID")
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// RequestMetrics counts requests by route template and status.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
