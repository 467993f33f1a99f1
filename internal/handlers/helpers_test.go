package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chat-gateway-api/internal/auth"
	"chat-gateway-api/internal/middleware"
	"chat-gateway-api/internal/models"
	"chat-gateway-api/internal/realtime"
	"chat-gateway-api/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db      *gorm.DB
	gateway *realtime.Gateway
	tokens  *auth.JWTManager
	handler *Handler
	router  *gin.Engine
}

func newTestEnv(t *testing.T, ws WebSocketConfig) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)

	tokens := auth.NewJWTManager("test-secret", "chat-gateway-api", "chat-clients", time.Hour)
	gw := realtime.New(tokens, realtime.Options{HandshakeTimeout: -1, Logger: zap.NewNop()})
	h := New(db, gw, tokens, zap.NewNop(), ws)

	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/ws", h.WebSocket)
	r.POST("/api/auth/register", h.Register)
	r.POST("/api/auth/login", h.Login)
	protected := r.Group("/api", middleware.JWTAuthMiddleware(tokens))
	protected.GET("/users", h.GetAllUsers)
	protected.POST("/messages/:receiverId", h.CreateMessage)
	protected.GET("/messages/:receiverId", h.GetMessages)
	protected.PATCH("/messages/:id/status", h.UpdateMessageStatus)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})

	return &testEnv{db: db, gateway: gw, tokens: tokens, handler: h, router: r}
}

// seedUser stores a user directly and returns it with a valid token.
func (e *testEnv) seedUser(t *testing.T, username string) (models.User, string) {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	u := models.User{Username: username, Email: username + "@example.com", Password: hash}
	require.NoError(t, e.db.Create(&u).Error)
	token, err := e.tokens.GenerateToken(u.ID, u.Username)
	require.NoError(t, err)
	return u, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// attach connects an in-memory connection for the token's user.
func (e *testEnv) attach(t *testing.T, id, token string) *recordingConn {
	t.Helper()
	c := &recordingConn{id: id}
	s, err := e.gateway.Open(c)
	require.NoError(t, err)
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	require.NoError(t, s.Authenticate(context.Background(), token))
	return c
}

type recordingConn struct {
	id      string
	mu      sync.Mutex
	events  []realtime.Event
	closed  bool
	session *realtime.Session
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(evt realtime.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, evt)
	return true
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		if c.session != nil {
			go c.session.Close()
		}
	}
	return nil
}

func (c *recordingConn) named(name string) []realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []realtime.Event
	for _, evt := range c.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}
