package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrAuthenticationFailed wraps the verifier error of a rejected handshake.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrAlreadyAuthenticated is returned for a second authenticate on one connection.
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	// ErrSessionClosed is returned for any input after the session closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotAuthenticated is returned for routed events before a successful handshake.
	ErrNotAuthenticated = errors.New("connection not authenticated")
	// ErrSenderMismatch is returned when a signal names a sender other than the bound user.
	ErrSenderMismatch = errors.New("sender does not match authenticated user")
	// ErrRateLimited is returned when a connection exceeds its signal budget.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrUnknownEvent is returned for inbound event names the gateway does not handle.
	ErrUnknownEvent = errors.New("unknown event")
)

// State is a connection's handshake state.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session is the per-connection handshake state machine:
//
//	UNAUTHENTICATED --authenticate ok--> AUTHENTICATED
//	UNAUTHENTICATED --authenticate fail--> CLOSED
//	any --close--> CLOSED
//
// There is no way back from CLOSED. Authenticate, Handle and Close must be
// called from the goroutine that reads the connection; State may be read
// from anywhere. The handshake timer moves an UNAUTHENTICATED session to
// CLOSED on its own goroutine, so every transition out of UNAUTHENTICATED is
// a compare-and-swap.
type Session struct {
	gw        *Gateway
	conn      Conn
	state     atomic.Int32
	userID    string
	limiter   *rate.Limiter
	timer     *time.Timer
	log       *zap.Logger
	closeOnce sync.Once
}

// ID returns the connection ID.
func (s *Session) ID() string { return s.conn.ID() }

// State returns the current handshake state.
func (s *Session) State() State { return State(s.state.Load()) }

// UserID returns the bound user, or "" before authentication.
func (s *Session) UserID() string {
	if s.State() != StateAuthenticated {
		return ""
	}
	return s.userID
}

// Authenticate verifies token and, on success, admits the connection into the
// registry. A failed verification closes the connection.
func (s *Session) Authenticate(ctx context.Context, token string) error {
	switch s.State() {
	case StateClosed:
		return ErrSessionClosed
	case StateAuthenticated:
		return ErrAlreadyAuthenticated
	}

	userID, err := s.gw.verify(ctx, token)
	if err == nil && userID == "" {
		err = errors.New("empty user identity")
	}
	if err != nil {
		s.log.Info("handshake rejected", zap.Error(err))
		s.conn.Send(Event{Name: EventAuthError, Data: AuthError{Message: "authentication failed"}})
		s.Close()
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	// The handshake may have expired while the verifier was running.
	s.userID = userID
	if !s.state.CompareAndSwap(int32(StateUnauthenticated), int32(StateAuthenticated)) {
		s.log.Info("handshake completed after close", zap.String("user_id", userID))
		return ErrSessionClosed
	}
	s.stopTimer()
	s.gw.admit(userID, s.conn)
	s.log.Info("connection authenticated", zap.String("user_id", userID))
	return nil
}

// Handle dispatches one inbound frame.
func (s *Session) Handle(ctx context.Context, in InboundEvent) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}

	switch in.Name {
	case EventAuthenticate:
		var token string
		if err := json.Unmarshal(in.Data, &token); err != nil {
			token = ""
		}
		return s.Authenticate(ctx, token)

	case EventTyping, EventStopTyping:
		if s.State() != StateAuthenticated {
			return ErrNotAuthenticated
		}
		var req TypingRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			return fmt.Errorf("decode %s: %w", in.Name, err)
		}
		if req.SenderID != "" && req.SenderID != s.userID {
			return ErrSenderMismatch
		}
		if s.limiter != nil && !s.limiter.Allow() {
			return ErrRateLimited
		}
		_, err := s.gw.relay.Relay(in.Name, s.userID, req.ReceiverID)
		return err

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, in.Name)
	}
}

// Close moves the session to CLOSED from any state, removes the connection
// from the registry and closes the transport. Subsequent calls do nothing.
func (s *Session) Close() {
	prev := State(s.state.Swap(int32(StateClosed)))
	s.closeOnce.Do(func() {
		s.stopTimer()
		s.gw.release(s)
		if err := s.conn.Close(); err != nil {
			s.log.Debug("close transport", zap.Error(err))
		}
		s.log.Debug("connection closed", zap.String("from", prev.String()))
	})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

// expireHandshake moves a connection that never authenticated to CLOSED and
// closes its transport. A verification still in flight then fails its
// compare-and-swap. The reading goroutine observes the closed transport and
// calls Close, which releases the session.
func (s *Session) expireHandshake() {
	if !s.state.CompareAndSwap(int32(StateUnauthenticated), int32(StateClosed)) {
		return
	}
	s.log.Info("handshake timed out")
	if err := s.conn.Close(); err != nil {
		s.log.Debug("close transport", zap.Error(err))
	}
}
