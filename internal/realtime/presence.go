package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PresenceMirror receives every presence transition so that processes other
// than this one can observe who is online. Errors are logged and ignored.
type PresenceMirror interface {
	Online(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string) error
}

const (
	mirrorTimeout = 2 * time.Second
	mirrorQueue   = 1024
)

type mirrorOp struct {
	userID string
	status PresenceStatus
}

// Presence publishes online/offline transitions. Every transition is
// broadcast to all admitted connections as a user_status delta followed by
// a full active_users snapshot, so a client that missed a delta is corrected
// by the next snapshot.
//
// Mirror calls run on a single worker goroutine fed by a bounded queue, so a
// slow mirror never holds up connections; transitions reach it in order.
type Presence struct {
	router *Router
	mirror PresenceMirror
	log    *zap.Logger

	ops      chan mirrorOp
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewPresence returns a broadcaster. mirror may be nil.
func NewPresence(router *Router, mirror PresenceMirror, log *zap.Logger) *Presence {
	p := &Presence{
		router:  router,
		mirror:  mirror,
		log:     log,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if mirror == nil {
		close(p.stopped)
		return p
	}
	p.ops = make(chan mirrorOp, mirrorQueue)
	go p.runMirror()
	return p
}

// Transition announces that userID changed to status. snapshot must be the
// online set observed together with the transition.
func (p *Presence) Transition(userID string, status PresenceStatus, snapshot []string) {
	p.router.Broadcast(Event{Name: EventUserStatus, Data: UserStatus{UserID: userID, Status: status}})
	p.router.Broadcast(Event{Name: EventActiveUsers, Data: snapshot})
	p.log.Info("presence changed",
		zap.String("user_id", userID),
		zap.String("status", string(status)),
		zap.Int("online", len(snapshot)))

	p.enqueueMirror(userID, status)
}

// Resync sends the current snapshot to a single connection. It is used when a
// user who is already online opens another connection.
func (p *Presence) Resync(c Conn, snapshot []string) {
	c.Send(Event{Name: EventActiveUsers, Data: snapshot})
}

// Close stops the mirror worker after it has applied every queued
// transition, or returns when ctx is done.
func (p *Presence) Close(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })
	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Presence) enqueueMirror(userID string, status PresenceStatus) {
	if p.mirror == nil {
		return
	}
	select {
	case p.ops <- mirrorOp{userID: userID, status: status}:
	default:
		p.log.Warn("presence mirror queue full, dropping transition",
			zap.String("user_id", userID),
			zap.String("status", string(status)))
	}
}

func (p *Presence) runMirror() {
	defer close(p.stopped)
	for {
		select {
		case op := <-p.ops:
			p.mirrorTransition(op.userID, op.status)
		case <-p.stop:
			for {
				select {
				case op := <-p.ops:
					p.mirrorTransition(op.userID, op.status)
				default:
					return
				}
			}
		}
	}
}

func (p *Presence) mirrorTransition(userID string, status PresenceStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	var err error
	if status == StatusOnline {
		err = p.mirror.Online(ctx, userID)
	} else {
		err = p.mirror.Offline(ctx, userID)
	}
	if err != nil {
		p.log.Warn("presence mirror failed",
			zap.String("user_id", userID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
