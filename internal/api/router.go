package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
)

// RouterConfig carries everything the HTTP surface is built from.
type RouterConfig struct {
	AllowedOrigins []string
	Messages       *MessageHandler
	ServeWS        gin.HandlerFunc
}

// NewRouter wires the REST fallback, the websocket endpoint, health and
// metrics onto one gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestMetrics())

	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.Config{
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}
		if lo.Contains(cfg.AllowedOrigins, "*") {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = cfg.AllowedOrigins
			corsConfig.AllowCredentials = true
		}
		router.Use(cors.New(corsConfig))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// the handshake authenticates itself so it can accept query and cookie tokens
	if cfg.ServeWS != nil {
		router.GET("/ws", cfg.ServeWS)
	}

	authHandler := NewAuthHandler()
	authorized := router.Group("/api")
	authorized.Use(AuthMiddleware())
	{
		authorized.GET("/auth/me", authHandler.GetMe)

		if cfg.Messages != nil {
			authorized.GET("/trips/:tripId/messages", cfg.Messages.GetMessages)
			authorized.POST("/trips/:tripId/messages", cfg.Messages.SendMessage)
		}
	}

	return router
}
