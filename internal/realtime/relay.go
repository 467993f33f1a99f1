package realtime

import (
	"errors"
	"fmt"
)

// ErrUnknownSignal is returned for relay kinds other than typing and stop_typing.
var ErrUnknownSignal = errors.New("unknown ephemeral signal")

// Relay forwards ephemeral signals point to point. Nothing is queued: if the
// receiver is offline the signal is lost.
type Relay struct {
	router *Router
}

// NewRelay returns a relay that delivers through router.
func NewRelay(router *Router) *Relay {
	return &Relay{router: router}
}

// Relay sends a typing or stop_typing signal from senderID to receiverID's
// connections and returns how many connections accepted it.
func (r *Relay) Relay(kind, senderID, receiverID string) (int, error) {
	if kind != EventTyping && kind != EventStopTyping {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, kind)
	}
	if receiverID == "" {
		return 0, nil
	}
	return r.router.Deliver(receiverID, Event{Name: kind, Data: TypingSignal{UserID: senderID}}), nil
}
