package daemonapi

import (
	"sync"

	"github.com/tamias-daemon/tamias/internal/bus"
)

// Dispatcher maintains, per session, the set of SSE subscribers registered
// over /chat and /session/{id}/stream. Bridge subscribers are
// managed separately by internal/bridge.Manager against the same per-session
// Emitter; Dispatcher only tracks the daemon API's own SSE connections so it
// can report subscriber counts and clean up on disconnect.
type Dispatcher struct {
	mu   sync.Mutex
	subs map[string]map[string]struct{} // sessionID -> set of subscriber ids
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[string]map[string]struct{})}
}

// Register records a new SSE subscriber for sessionID.
func (d *Dispatcher) Register(sessionID, subscriberID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.subs[sessionID]
	if !ok {
		set = make(map[string]struct{})
		d.subs[sessionID] = set
	}
	set[subscriberID] = struct{}{}
}

// Unregister drops a subscriber, e.g. on client disconnect.
func (d *Dispatcher) Unregister(sessionID, subscriberID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set, ok := d.subs[sessionID]; ok {
		delete(set, subscriberID)
		if len(set) == 0 {
			delete(d.subs, sessionID)
		}
	}
}

// SubscriberCount reports how many SSE connections are currently attached to
// a session.
func (d *Dispatcher) SubscriberCount(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[sessionID])
}

// forwardUntilDone drains ch and calls send for every event, stopping at the
// first done or error event (inclusive) or when ch closes. The caller
// subscribed ch against s.Emitter and is responsible for unsubscribing.
func forwardUntilDone(ch <-chan bus.DaemonEvent, send func(bus.DaemonEvent) bool) {
	for ev := range ch {
		if !send(ev) {
			return
		}
		if ev.Type == bus.EventDone || ev.Type == bus.EventError {
			return
		}
	}
}
