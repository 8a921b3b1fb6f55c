package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"

	"rtchat/internal/api"
	"rtchat/internal/auth"
	"rtchat/internal/config"
	"rtchat/internal/ratelimit"
	"rtchat/internal/store"
	"rtchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	initLogger(cfg.LogLevel)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	mongoClient, err := store.Connect(context.Background(), cfg.MongoURL)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB: ", err)
	}
	db := mongoClient.Database(cfg.MongoDB)

	users := store.NewUserStore(db)
	rooms := store.NewRoomStore(db)
	messages := store.NewMessageStore(db)

	limiter, err := ratelimit.NewRedisLimiter(cfg.RedisURL, cfg.RateLimitPerWindow, cfg.RateLimitWindow)
	if err != nil {
		log.Fatal("Failed to connect to Redis: ", err)
	}
	defer limiter.Close()

	verifier := auth.NewVerifier(cfg.JWTSecret, users)

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	server := ws.NewServer(hub, verifier, rooms, messages, limiter)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", gin.WrapF(server.ServeWS))
	r.GET("/health", func(c *gin.Context) { c.String(200, "OK") })

	api.NewHandler(rooms, messages, server).Register(r, verifier)

	slog.Info("Server starting", "port", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("HTTP server failed: ", err)
	}
}

func initLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
