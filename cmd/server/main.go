package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/ammar1510/tripchat/internal/api"
	"github.com/ammar1510/tripchat/internal/auth"
	"github.com/ammar1510/tripchat/internal/config"
	"github.com/ammar1510/tripchat/internal/database"
	"github.com/ammar1510/tripchat/internal/events"
	"github.com/ammar1510/tripchat/internal/logger"
	"github.com/ammar1510/tripchat/internal/membership"
	chat "github.com/ammar1510/tripchat/internal/websocket"
)

var log = logger.New("server")

func main() {
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		log.Warn("Ignoring LOG_LEVEL %q: %v", cfg.LogLevel, err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	auth.InitJWTKey([]byte(cfg.JWTSecret))

	db, err := database.NewDatabase(database.DatabaseType(cfg.DBType), cfg.DatabaseURL)
	if err != nil {
		log.Error("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Connected to %s database successfully", cfg.DBType)

	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			log.Error("Failed to migrate database: %v", err)
			os.Exit(1)
		}
		log.Info("Database schema is up to date")
	}

	if cfg.SeedDemo {
		if err := seedDemo(db); err != nil {
			log.Error("Failed to seed demo data: %v", err)
			os.Exit(1)
		}
	}

	var oracle membership.Oracle = db
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("Redis at %s unreachable, membership lookups fall through to the database: %v", cfg.RedisAddr, err)
		}
		cancel()

		oracle = membership.NewCached(db, rdb, cfg.MembershipTTL)
		log.Info("Membership cache enabled (redis %s, ttl %s)", cfg.RedisAddr, cfg.MembershipTTL)
	}

	publisher := events.New(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()

	hub := chat.NewHub()
	gateway := chat.NewGateway(hub, db, oracle, publisher, chat.Options{
		StoreTimeout:       cfg.StoreTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		SendBuffer:         cfg.SendBuffer,
		AllowedOrigins:     cfg.AllowedOrigins,
	})

	router := api.NewRouter(api.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Messages:       api.NewMessageHandler(db, oracle, gateway, cfg.StoreTimeout),
		ServeWS:        gateway.ServeWS,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting on %s", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to start server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// hijacked websocket connections are not tracked by Shutdown
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited properly")
}
