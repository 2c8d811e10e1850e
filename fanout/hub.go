package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/greybox/hackcore/domain/process"
	"github.com/greybox/hackcore/infrastructure/logging"
	"github.com/greybox/hackcore/infrastructure/metrics"
)

const (
	// PingInterval is how often the transport sends a ping frame to keep
	// idle connections (and any intermediating load balancer) alive.
	PingInterval = 20 * time.Second

	// DropAfter is the grace period after the last pong/read before a
	// subscription is torn down as dead.
	DropAfter = 45 * time.Second
)

// Hub is the process-wide event registry. One Hub serves every connected
// client; engine.Service holds it behind the EventPublisher interface
// (engine/scheduler.go) so the engine never imports the transport layer.
type Hub struct {
	mu    sync.RWMutex
	subs  map[uint64]*Subscription
	seen  map[uint64]time.Time
	nextID uint64

	log *logging.Logger
	m   *metrics.Metrics
}

func NewHub(log *logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		subs: make(map[uint64]*Subscription),
		seen: make(map[uint64]time.Time),
		log:  log,
		m:    m,
	}
}

// Subscribe registers a new mailbox for user (empty string for an
// anonymous/broadcast-only listener) and returns it plus an unsubscribe
// func the transport must call on disconnect.
func (h *Hub) Subscribe(user string) (*Subscription, func()) {
	id := atomic.AddUint64(&h.nextID, 1)
	sub := newSubscription(id, user)

	h.mu.Lock()
	h.subs[id] = sub
	h.seen[id] = time.Now()
	h.mu.Unlock()

	if h.m != nil {
		h.m.SetSubscriptionsActive(len(h.subs))
	}

	return sub, func() { h.unsubscribe(id) }
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		delete(h.seen, id)
	}
	h.mu.Unlock()
	if ok {
		close(sub.closed)
	}
	if h.m != nil {
		h.mu.RLock()
		n := len(h.subs)
		h.mu.RUnlock()
		h.m.SetSubscriptionsActive(n)
	}
}

// Touch records a liveness signal (pong received, or a client text frame)
// for the given subscription, resetting its drop-after deadline.
func (h *Hub) Touch(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; ok {
		h.seen[id] = time.Now()
	}
}

// Publish delivers ev to every matching subscription. Implements the
// EventPublisher interface engine.Scheduler and engine.Service depend on.
func (h *Hub) Publish(ev process.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.matches(ev) {
			continue
		}
		dropped := sub.enqueue(ev)
		if dropped && h.log != nil {
			h.log.Warn(context.Background(), "subscriber queue full, dropped oldest event", map[string]interface{}{"subscription_id": sub.ID()})
		}
		if h.m != nil {
			h.m.RecordEventPublished("fanout", string(ev.Kind))
			if dropped {
				h.m.RecordEventDropped("fanout")
			}
		}
	}
}

// SweepDead tears down subscriptions that have gone silent past
// DropAfter. Registered with engine.Maintenance as a periodic job.
func (h *Hub) SweepDead() {
	cutoff := time.Now().Add(-DropAfter)
	var dead []uint64

	h.mu.RLock()
	for id, last := range h.seen {
		if last.Before(cutoff) {
			dead = append(dead, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range dead {
		h.unsubscribe(id)
	}
	if len(dead) > 0 && h.log != nil {
		h.log.Info(context.Background(), "dropped stale websocket subscriptions", map[string]interface{}{"count": len(dead)})
	}
}

// ID exposes the subscription's identity so the transport can pass it back
// into Touch on every pong.
func (s *Subscription) ID() uint64 { return s.id }
