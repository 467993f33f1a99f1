package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	events  []Event
	closed  bool
	full    bool
	onClose func()
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(evt Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.full {
		return false
	}
	f.events = append(f.events, evt)
	return true
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	first := !f.closed
	f.closed = true
	cb := f.onClose
	f.mu.Unlock()
	if first && cb != nil {
		go cb()
	}
	return nil
}

func (f *fakeConn) setOnClose(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = fn
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) named(name string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, e := range f.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

// lastActiveUsers returns the most recent active_users snapshot, or nil.
func (f *fakeConn) lastActiveUsers(t *testing.T) []string {
	t.Helper()
	evts := f.named(EventActiveUsers)
	if len(evts) == 0 {
		return nil
	}
	ids, ok := evts[len(evts)-1].Data.([]string)
	require.True(t, ok, "active_users payload should be a []string")
	return ids
}

var errBadToken = errors.New("bad token")

// tokenVerifier accepts tokens of the form "token-<userID>".
var tokenVerifier = TokenVerifierFunc(func(_ context.Context, token string) (string, error) {
	if !strings.HasPrefix(token, "token-") {
		return "", errBadToken
	}
	return strings.TrimPrefix(token, "token-"), nil
})

func newTestGateway(t *testing.T, opts Options) *Gateway {
	t.Helper()
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = -1
	}
	return New(tokenVerifier, opts)
}

// connect opens a session for a fresh fake connection and authenticates it.
func connect(t *testing.T, gw *Gateway, connID, userID string) (*fakeConn, *Session) {
	t.Helper()
	c := newFakeConn(connID)
	s, err := gw.Open(c)
	require.NoError(t, err)
	require.NoError(t, s.Authenticate(context.Background(), "token-"+userID))
	return c, s
}

type recordingMirror struct {
	mu    sync.Mutex
	calls []string
}

func (m *recordingMirror) Online(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "online:"+userID)
	return nil
}

func (m *recordingMirror) Offline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "offline:"+userID)
	return nil
}

func (m *recordingMirror) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
