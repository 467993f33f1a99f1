// Package realtime is the connection and presence gateway: it authenticates
// live connections, records which user owns which connection, routes message
// notifications and ephemeral signals to the right connections, and keeps
// every client's view of who is online up to date.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrGatewayClosed is returned by Open after Shutdown has started.
var ErrGatewayClosed = errors.New("gateway is shut down")

// TokenVerifier resolves a token to the user identity it was issued for.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, token string) (string, error)

// Verify implements TokenVerifier.
func (f TokenVerifierFunc) Verify(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

// Options tunes a Gateway. Zero values fall back to DefaultOptions.
type Options struct {
	// HandshakeTimeout bounds how long a connection may stay unauthenticated.
	// Zero selects the default; negative disables the timeout.
	HandshakeTimeout time.Duration
	// VerifyTimeout bounds a single TokenVerifier call.
	VerifyTimeout time.Duration
	// RelayRate (signals per second) and RelayBurst limit typing signals per
	// connection. A negative RelayRate disables the limit.
	RelayRate  float64
	RelayBurst int
	// Mirror optionally receives presence transitions.
	Mirror PresenceMirror
	Logger *zap.Logger
}

// DefaultOptions returns the options used for unset fields.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		VerifyTimeout:    5 * time.Second,
		RelayRate:        10,
		RelayBurst:       20,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	if o.VerifyTimeout <= 0 {
		o.VerifyTimeout = def.VerifyTimeout
	}
	if o.RelayRate == 0 {
		o.RelayRate = def.RelayRate
	}
	if o.RelayBurst <= 0 {
		o.RelayBurst = def.RelayBurst
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Gateway is the single entry point into the realtime core. It is built once
// at startup, handed to the transport and HTTP layers, and shut down on exit.
type Gateway struct {
	verifier TokenVerifier
	opts     Options
	log      *zap.Logger

	registry *Registry
	router   *Router
	presence *Presence
	relay    *Relay

	// presenceMu orders registry mutations together with the broadcasts they
	// cause, so clients observe presence snapshots in mutation order. Only
	// non-blocking sends and the mirror enqueue happen under it.
	presenceMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool
	drained  chan struct{}
}

// New builds a gateway that authenticates connections with verifier.
func New(verifier TokenVerifier, opts Options) *Gateway {
	opts = opts.withDefaults()
	log := opts.Logger.Named("gateway")

	registry := NewRegistry()
	router := NewRouter(registry, log)
	return &Gateway{
		verifier: verifier,
		opts:     opts,
		log:      log,
		registry: registry,
		router:   router,
		presence: NewPresence(router, opts.Mirror, log),
		relay:    NewRelay(router),
		sessions: make(map[string]*Session),
	}
}

// Open starts the handshake for a newly connected transport. The returned
// session is UNAUTHENTICATED until an authenticate event succeeds.
func (g *Gateway) Open(c Conn) (*Session, error) {
	s := &Session{
		gw:   g,
		conn: c,
		log:  g.log.With(zap.String("conn_id", c.ID())),
	}
	if g.opts.RelayRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(g.opts.RelayRate), g.opts.RelayBurst)
	}

	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		return nil, ErrGatewayClosed
	}
	g.sessions[c.ID()] = s
	g.mu.Unlock()

	if g.opts.HandshakeTimeout > 0 {
		s.timer = time.AfterFunc(g.opts.HandshakeTimeout, s.expireHandshake)
	}
	s.log.Debug("connection opened")
	return s, nil
}

// NotifyNewMessage pushes a new_message event carrying payload's fields plus
// senderId to every live connection of receiverID. It is called after the
// message has been stored; an offline receiver is not an error. The return
// value is the number of connections that accepted the event.
func (g *Gateway) NotifyNewMessage(senderID, receiverID string, payload any) int {
	data, err := withSender(payload, senderID)
	if err != nil {
		g.log.Error("new_message not delivered",
			zap.String("sender_id", senderID),
			zap.String("receiver_id", receiverID),
			zap.Error(err))
		return 0
	}
	return g.router.Deliver(receiverID, Event{Name: EventNewMessage, Data: data})
}

// NotifyStatus pushes a message_status receipt to receiverID's connections.
func (g *Gateway) NotifyStatus(messageID, receiverID string, status MessageStatus) int {
	return g.router.Deliver(receiverID, Event{
		Name: EventMessageStatus,
		Data: MessageStatusUpdate{MessageID: messageID, Status: status},
	})
}

// Relay forwards a typing or stop_typing signal.
func (g *Gateway) Relay(kind, senderID, receiverID string) (int, error) {
	return g.relay.Relay(kind, senderID, receiverID)
}

// OnlineUserIDs returns the current online set.
func (g *Gateway) OnlineUserIDs() []string { return g.registry.OnlineUserIDs() }

// IsOnline reports whether userID has a live authenticated connection.
func (g *Gateway) IsOnline(userID string) bool { return g.registry.IsOnline(userID) }

// ConnectionsFor returns the connection IDs bound to userID.
func (g *Gateway) ConnectionsFor(userID string) []string { return g.registry.ConnectionsFor(userID) }

// OnlineCount returns the number of distinct online users.
func (g *Gateway) OnlineCount() int { return g.registry.Count() }

// Shutdown stops accepting connections, closes every open transport and
// waits until all sessions have reached CLOSED and the presence mirror has
// applied every transition, or ctx is done.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	open := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		open = append(open, s)
	}
	if g.drained == nil {
		g.drained = make(chan struct{})
		if len(g.sessions) == 0 {
			close(g.drained)
		}
	}
	drained := g.drained
	g.mu.Unlock()

	g.log.Info("shutting down", zap.Int("connections", len(open)))
	for _, s := range open {
		if err := s.conn.Close(); err != nil {
			s.log.Debug("close transport", zap.Error(err))
		}
	}

	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections to close: %w", ctx.Err())
	}
	if err := g.presence.Close(ctx); err != nil {
		return fmt.Errorf("waiting for presence mirror: %w", err)
	}
	g.log.Info("shutdown complete")
	return nil
}

func (g *Gateway) verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.New("missing token")
	}
	ctx, cancel := context.WithTimeout(ctx, g.opts.VerifyTimeout)
	defer cancel()
	return g.verifier.Verify(ctx, token)
}

func (g *Gateway) admit(userID string, c Conn) {
	g.presenceMu.Lock()
	defer g.presenceMu.Unlock()

	online, snapshot := g.registry.Admit(userID, c)
	if online {
		g.presence.Transition(userID, StatusOnline, snapshot)
		return
	}
	g.presence.Resync(c, snapshot)
}

func (g *Gateway) release(s *Session) {
	g.presenceMu.Lock()
	userID, offline, snapshot := g.registry.Remove(s.conn.ID())
	if offline {
		g.presence.Transition(userID, StatusOffline, snapshot)
	}
	g.presenceMu.Unlock()

	g.mu.Lock()
	delete(g.sessions, s.conn.ID())
	if g.closing && len(g.sessions) == 0 && g.drained != nil {
		select {
		case <-g.drained:
		default:
			close(g.drained)
		}
	}
	g.mu.Unlock()
}
