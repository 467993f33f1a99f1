package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"chat-gateway-api/internal/middleware"
	"chat-gateway-api/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConn implements realtime.Conn on a websocket. Events are queued on a
// buffered channel and written by writePump; Send never blocks.
type wsConn struct {
	id   string
	conn *websocket.Conn
	cfg  WebSocketConfig
	log  *zap.Logger

	send      chan realtime.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, cfg WebSocketConfig, log *zap.Logger) *wsConn {
	id := uuid.NewString()
	return &wsConn{
		id:   id,
		conn: conn,
		cfg:  cfg,
		log:  log.With(zap.String("conn_id", id)),
		send: make(chan realtime.Event, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues evt. It reports false when the queue is full or the
// connection is closing.
func (c *wsConn) Send(evt realtime.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

// Close asks writePump to flush queued events, send a close frame and drop
// the socket, which in turn ends readPump.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case evt := <-c.send:
			if err := c.write(evt); err != nil {
				c.log.Debug("websocket write failed", zap.Error(err))
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.log.Debug("websocket ping failed", zap.Error(err))
				_ = c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

func (c *wsConn) write(evt realtime.Event) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(evt)
}

// flush writes whatever is still queued, such as an auth_error sent right
// before the close.
func (c *wsConn) flush() {
	for {
		select {
		case evt := <-c.send:
			if err := c.write(evt); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump feeds inbound frames to the session until the socket fails, then
// closes the session. It runs on the handler goroutine.
func (c *wsConn) readPump(ctx context.Context, session *realtime.Session) {
	defer session.Close()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		var in realtime.InboundEvent
		if err := json.Unmarshal(raw, &in); err != nil || in.Name == "" {
			c.log.Debug("discarding malformed frame", zap.Int("bytes", len(raw)))
			continue
		}

		err = session.Handle(ctx, in)
		switch {
		case err == nil:
		case errors.Is(err, realtime.ErrSessionClosed), errors.Is(err, realtime.ErrAuthenticationFailed):
			return
		default:
			c.log.Debug("inbound event rejected", zap.String("event", in.Name), zap.Error(err))
		}
	}
}

func (c *wsConn) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("frame exceeded maximum size", zap.Int64("limit", c.cfg.MaxMessageSize))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Info("unexpected websocket close", zap.Error(err))
	default:
		c.log.Debug("websocket closed", zap.Error(err))
	}
}

// WebSocket upgrades the request and runs the connection until it closes.
// Clients authenticate with an authenticate event; a token passed as a Bearer
// header or ?token= is applied on open as a shortcut.
// GET /ws
func (h *Handler) WebSocket(c *gin.Context) {
	token := middleware.BearerToken(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already replied with an HTTP error
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newWSConn(conn, h.ws, h.log)
	session, err := h.gateway.Open(client)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.ws.WriteWait))
		_ = conn.Close()
		return
	}
	go client.writePump()

	ctx := c.Request.Context()
	if token != "" {
		if err := session.Authenticate(ctx, token); err != nil {
			// the session closed itself; let readPump observe it
			h.log.Debug("token on open rejected", zap.Error(err))
		}
	}
	client.readPump(ctx, session)
}
