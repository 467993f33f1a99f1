package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-gateway-api/internal/auth"
	"chat-gateway-api/internal/config"
	"chat-gateway-api/internal/database"
	"chat-gateway-api/internal/handlers"
	"chat-gateway-api/internal/logger"
	"chat-gateway-api/internal/realtime"
	"chat-gateway-api/internal/redisstore"
	"chat-gateway-api/internal/routes"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog.Info("starting", zap.Stringer("config", cfg))

	// Init database
	dbLogLevel := gormlogger.Warn
	if cfg.Log.Development {
		dbLogLevel = gormlogger.Info
	}
	db, err := database.Open(cfg.Database.Path, dbLogLevel)
	if err != nil {
		return err
	}

	tokens := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.TTL)
	var verifier realtime.TokenVerifier = tokens
	if cfg.JWT.CacheTTL > 0 {
		cached := auth.NewCachingVerifier(tokens, cfg.JWT.CacheTTL, cfg.JWT.CacheSize)
		go cached.Run(ctx, time.Minute)
		verifier = cached
	}

	opts := realtime.Options{
		HandshakeTimeout: cfg.Gateway.HandshakeTimeout,
		VerifyTimeout:    cfg.Gateway.VerifyTimeout,
		RelayRate:        cfg.Gateway.RelayRate,
		RelayBurst:       cfg.Gateway.RelayBurst,
		Logger:           zlog,
	}

	if cfg.Redis.Address != "" {
		client, err := redisstore.Connect(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer func(c *redis.Client) { _ = c.Close() }(client)

		mirror := redisstore.NewPresenceMirror(client, cfg.Redis.Prefix)
		if err := mirror.Reset(ctx); err != nil {
			zlog.Warn("reset presence mirror", zap.Error(err))
		}
		opts.Mirror = mirror
		zlog.Info("presence mirror enabled", zap.String("channel", mirror.Channel()))
	}

	gateway := realtime.New(verifier, opts)

	h := handlers.New(db, gateway, tokens, zlog, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SendBuffer:     cfg.Gateway.SendBuffer,
		MaxMessageSize: cfg.Gateway.MaxMessageSize,
	})

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	// Setup the routes (public and protected routes)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           routes.SetupRoutes(h, tokens),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by http.Server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown", zap.Error(err))
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("gateway shutdown", zap.Error(err))
	}
	zlog.Info("server stopped")
	return nil
}
