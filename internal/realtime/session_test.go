package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func inbound(t *testing.T, name string, data any) InboundEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return InboundEvent{Name: name, Data: raw}
}

func TestSession_AuthenticateAdmits(t *testing.T) {
	gw := newTestGateway(t, Options{})
	c := newFakeConn("c1")
	s, err := gw.Open(c)
	require.NoError(t, err)
	require.Equal(t, StateUnauthenticated, s.State())
	require.Empty(t, s.UserID())

	require.NoError(t, s.Handle(context.Background(), inbound(t, EventAuthenticate, "token-u1")))
	require.Equal(t, StateAuthenticated, s.State())
	require.Equal(t, "u1", s.UserID())
	require.Equal(t, []string{"c1"}, gw.ConnectionsFor("u1"))

	statuses := c.named(EventUserStatus)
	require.Len(t, statuses, 1)
	require.Equal(t, UserStatus{UserID: "u1", Status: StatusOnline}, statuses[0].Data)
	require.Equal(t, []string{"u1"}, c.lastActiveUsers(t))
}

func TestSession_InvalidTokenNeverAdmits(t *testing.T) {
	gw := newTestGateway(t, Options{})
	watcher, _ := connect(t, gw, "w1", "watcher")
	watcher.reset()

	c := newFakeConn("c1")
	s, err := gw.Open(c)
	require.NoError(t, err)

	err = s.Authenticate(context.Background(), "garbage")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.ErrorIs(t, err, errBadToken)
	require.Equal(t, StateClosed, s.State())
	require.True(t, c.isClosed())
	require.Len(t, c.named(EventAuthError), 1)

	require.Equal(t, []string{"watcher"}, gw.OnlineUserIDs())
	require.Empty(t, watcher.named(EventUserStatus), "a rejected handshake must not announce presence")
}

func TestSession_EmptyTokenFails(t *testing.T) {
	gw := newTestGateway(t, Options{})
	s, err := gw.Open(newFakeConn("c1"))
	require.NoError(t, err)

	err = s.Handle(context.Background(), InboundEvent{Name: EventAuthenticate, Data: json.RawMessage(`{"not":"a string"}`)})
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.Equal(t, StateClosed, s.State())
}

func TestSession_InvalidTransitions(t *testing.T) {
	gw := newTestGateway(t, Options{})
	_, s := connect(t, gw, "c1", "u1")

	require.ErrorIs(t, s.Authenticate(context.Background(), "token-u2"), ErrAlreadyAuthenticated)
	require.Equal(t, "u1", s.UserID())

	s.Close()
	require.Equal(t, StateClosed, s.State())
	require.ErrorIs(t, s.Authenticate(context.Background(), "token-u1"), ErrSessionClosed)
	require.ErrorIs(t, s.Handle(context.Background(), inbound(t, EventTyping, TypingRequest{ReceiverID: "u2"})), ErrSessionClosed)

	// Closing twice is harmless.
	s.Close()
	require.Empty(t, gw.OnlineUserIDs())
}

func TestSession_CloseUnauthenticatedIsSilent(t *testing.T) {
	gw := newTestGateway(t, Options{})
	watcher, _ := connect(t, gw, "w1", "watcher")
	watcher.reset()

	s, err := gw.Open(newFakeConn("c1"))
	require.NoError(t, err)
	s.Close()

	require.Equal(t, StateClosed, s.State())
	require.Empty(t, watcher.named(EventUserStatus))
	require.Empty(t, watcher.named(EventActiveUsers))
}

func TestSession_DisconnectAnnouncesOffline(t *testing.T) {
	gw := newTestGateway(t, Options{})
	a1, _ := connect(t, gw, "a1", "u1")
	_, b1 := connect(t, gw, "b1", "u2")
	a1.reset()

	b1.Close()

	statuses := a1.named(EventUserStatus)
	require.Len(t, statuses, 1)
	require.Equal(t, UserStatus{UserID: "u2", Status: StatusOffline}, statuses[0].Data)
	require.Equal(t, []string{"u1"}, a1.lastActiveUsers(t))
}

func TestSession_HandshakeTimeout(t *testing.T) {
	gw := New(tokenVerifier, Options{HandshakeTimeout: 20 * time.Millisecond})
	c := newFakeConn("c1")
	s, err := gw.Open(c)
	require.NoError(t, err)
	c.setOnClose(s.Close)

	require.Eventually(t, func() bool { return s.State() == StateClosed }, time.Second, 5*time.Millisecond)
	require.True(t, c.isClosed())
	require.Empty(t, gw.OnlineUserIDs())
}

func TestSession_HandshakeTimeoutBeatsSlowVerifier(t *testing.T) {
	slow := TokenVerifierFunc(func(ctx context.Context, token string) (string, error) {
		if token == "token-late" {
			time.Sleep(80 * time.Millisecond)
		}
		return tokenVerifier.Verify(ctx, token)
	})
	gw := New(slow, Options{HandshakeTimeout: 20 * time.Millisecond})

	watcher := newFakeConn("w1")
	ws, err := gw.Open(watcher)
	require.NoError(t, err)
	require.NoError(t, ws.Authenticate(context.Background(), "token-watcher"))
	watcher.reset()

	c := newFakeConn("c1")
	s, err := gw.Open(c)
	require.NoError(t, err)
	c.setOnClose(s.Close)

	err = s.Authenticate(context.Background(), "token-late")
	require.ErrorIs(t, err, ErrSessionClosed)
	require.Equal(t, StateClosed, s.State())
	require.Empty(t, s.UserID())
	require.True(t, c.isClosed())

	require.Equal(t, []string{"watcher"}, gw.OnlineUserIDs())
	require.Empty(t, watcher.named(EventUserStatus), "an expired handshake never appears online")
}

func TestSession_HandshakeTimeoutStopsAfterAuth(t *testing.T) {
	gw := New(tokenVerifier, Options{HandshakeTimeout: 20 * time.Millisecond})
	c, s := connect(t, gw, "c1", "u1")

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateAuthenticated, s.State())
	require.False(t, c.isClosed())
}

func TestOptions_HandshakeTimeoutDefaults(t *testing.T) {
	require.Equal(t, DefaultOptions().HandshakeTimeout, Options{}.withDefaults().HandshakeTimeout)
	require.Equal(t, time.Duration(-1), Options{HandshakeTimeout: -1}.withDefaults().HandshakeTimeout)
}

func TestSession_NegativeHandshakeTimeoutDisables(t *testing.T) {
	gw := New(tokenVerifier, Options{HandshakeTimeout: -1})
	c := newFakeConn("c1")
	s, err := gw.Open(c)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateUnauthenticated, s.State())
	require.False(t, c.isClosed())
	s.Close()
}

func TestSession_TypingRequiresAuthentication(t *testing.T) {
	gw := newTestGateway(t, Options{})
	receiver, _ := connect(t, gw, "r1", "u2")
	receiver.reset()

	s, err := gw.Open(newFakeConn("c1"))
	require.NoError(t, err)
	err = s.Handle(context.Background(), inbound(t, EventTyping, TypingRequest{SenderID: "u1", ReceiverID: "u2"}))
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.Empty(t, receiver.named(EventTyping))
}

func TestSession_TypingUsesBoundUser(t *testing.T) {
	gw := newTestGateway(t, Options{})
	receiver, _ := connect(t, gw, "r1", "u2")
	_, s := connect(t, gw, "c1", "u1")
	receiver.reset()

	require.NoError(t, s.Handle(context.Background(), inbound(t, EventTyping, TypingRequest{SenderID: "u1", ReceiverID: "u2"})))
	require.NoError(t, s.Handle(context.Background(), inbound(t, EventStopTyping, TypingRequest{ReceiverID: "u2"})))

	require.Equal(t, []Event{{Name: EventTyping, Data: TypingSignal{UserID: "u1"}}}, receiver.named(EventTyping))
	require.Equal(t, []Event{{Name: EventStopTyping, Data: TypingSignal{UserID: "u1"}}}, receiver.named(EventStopTyping))

	err := s.Handle(context.Background(), inbound(t, EventTyping, TypingRequest{SenderID: "u3", ReceiverID: "u2"}))
	require.ErrorIs(t, err, ErrSenderMismatch)
	require.Len(t, receiver.named(EventTyping), 1)
}

func TestSession_TypingRateLimited(t *testing.T) {
	gw := newTestGateway(t, Options{RelayRate: 0.001, RelayBurst: 2})
	receiver, _ := connect(t, gw, "r1", "u2")
	_, s := connect(t, gw, "c1", "u1")

	req := inbound(t, EventTyping, TypingRequest{ReceiverID: "u2"})
	require.NoError(t, s.Handle(context.Background(), req))
	require.NoError(t, s.Handle(context.Background(), req))
	require.ErrorIs(t, s.Handle(context.Background(), req), ErrRateLimited)
	require.Len(t, receiver.named(EventTyping), 2)
}

func TestSession_UnknownEvent(t *testing.T) {
	gw := newTestGateway(t, Options{})
	_, s := connect(t, gw, "c1", "u1")
	require.ErrorIs(t, s.Handle(context.Background(), InboundEvent{Name: "bogus"}), ErrUnknownEvent)
	require.Equal(t, StateAuthenticated, s.State())
}

func TestState_String(t *testing.T) {
	require.Equal(t, "UNAUTHENTICATED", StateUnauthenticated.String())
	require.Equal(t, "AUTHENTICATED", StateAuthenticated.String())
	require.Equal(t, "CLOSED", StateClosed.String())
	require.Equal(t, "State(7)", State(7).String())
}
