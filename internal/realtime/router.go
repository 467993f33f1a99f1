package realtime

import "go.uber.org/zap"

// Router pushes events to the live connections recorded in a Registry.
// Delivery is at-most-once and best effort: a connection whose send buffer
// is full simply misses the event.
type Router struct {
	registry *Registry
	log      *zap.Logger
}

// NewRouter returns a router over registry.
func NewRouter(registry *Registry, log *zap.Logger) *Router {
	return &Router{registry: registry, log: log}
}

// Deliver sends evt to every connection of userID and returns how many
// connections accepted it. Zero connections is not an error.
func (r *Router) Deliver(userID string, evt Event) int {
	conns := r.registry.conns(userID)
	if len(conns) == 0 {
		r.log.Debug("routing miss", zap.String("user_id", userID), zap.String("event", evt.Name))
		return 0
	}
	return r.sendAll(conns, evt)
}

// Broadcast sends evt to every admitted connection.
func (r *Router) Broadcast(evt Event) int {
	return r.sendAll(r.registry.all(), evt)
}

func (r *Router) sendAll(conns []Conn, evt Event) int {
	sent := 0
	for _, c := range conns {
		if c.Send(evt) {
			sent++
			continue
		}
		r.log.Warn("dropped event for slow connection",
			zap.String("conn_id", c.ID()), zap.String("event", evt.Name))
	}
	return sent
}
