// Package fanout delivers process.Event values to subscribed connections:
// per-user targeted events and server-wide broadcasts, over a bounded
// queue per subscription so one slow reader can never stall the publisher.
package fanout

import (
	"github.com/greybox/hackcore/domain/process"
)

const (
	// MaxQueue is the per-subscription outbound buffer. Once full, the
	// oldest queued event is dropped to make room for the new one — a
	// subscriber that falls behind loses history, never the connection.
	MaxQueue = 1024
)

// Subscription is one connection's mailbox. Created by Hub.Subscribe and
// drained by the transport (websocket.go) in a dedicated write pump.
type Subscription struct {
	id     uint64
	user   string
	queue  chan process.Event
	closed chan struct{}
}

func newSubscription(id uint64, user string) *Subscription {
	return &Subscription{
		id:     id,
		user:   user,
		queue:  make(chan process.Event, MaxQueue),
		closed: make(chan struct{}),
	}
}

// Events returns the channel to range over for delivery.
func (s *Subscription) Events() <-chan process.Event { return s.queue }

// Done closes when the subscription has been torn down by the hub.
func (s *Subscription) Done() <-chan struct{} { return s.closed }

// enqueue delivers ev, dropping the oldest queued event first if full, and
// reports whether a drop occurred. Never blocks: a full queue under load
// sheds the stalest data rather than back-pressuring the publisher.
func (s *Subscription) enqueue(ev process.Event) (dropped bool) {
	for {
		select {
		case s.queue <- ev:
			return dropped
		default:
		}
		select {
		case <-s.queue:
			dropped = true
		default:
			return dropped
		}
	}
}

func (s *Subscription) matches(ev process.Event) bool {
	if ev.Broadcast {
		return true
	}
	return ev.User != "" && ev.User == s.user
}
