package handlers

import (
	"net/http"
	"time"

	"chat-gateway-api/internal/auth"
	"chat-gateway-api/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WebSocketConfig tunes the websocket transport.
type WebSocketConfig struct {
	AllowedOrigins []string
	SendBuffer     int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
}

func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		AllowedOrigins: []string{"*"},
		SendBuffer:     256,
		MaxMessageSize: 64 * 1024,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   54 * time.Second,
	}
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	d := DefaultWebSocketConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	return c
}

// Handler serves the REST API and the websocket endpoint.
type Handler struct {
	db       *gorm.DB
	gateway  *realtime.Gateway
	tokens   *auth.JWTManager
	log      *zap.Logger
	ws       WebSocketConfig
	origins  *originPolicy
	upgrader websocket.Upgrader
}

func New(db *gorm.DB, gateway *realtime.Gateway, tokens *auth.JWTManager, log *zap.Logger, ws WebSocketConfig) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		db:      db,
		gateway: gateway,
		tokens:  tokens,
		log:     log.Named("http"),
		ws:      ws.withDefaults(),
	}
	h.origins = newOriginPolicy(h.ws.AllowedOrigins, h.log)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Health reports liveness and the number of online users.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"online": h.gateway.OnlineCount(),
	})
}
