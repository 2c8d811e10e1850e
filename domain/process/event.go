package process

import "time"

// EventKind is the closed set of messages the engine (and the rest of the
// game) can push to a connected client (SPEC_FULL.md §3, §6).
type EventKind string

const (
	EventProcessStarted   EventKind = "process_started"
	EventProcessProgress  EventKind = "process_progress"
	EventProcessPaused    EventKind = "process_paused"
	EventProcessResumed   EventKind = "process_resumed"
	EventProcessCompleted EventKind = "process_completed"
	EventProcessCancelled EventKind = "process_cancelled"
	EventProcessFailed    EventKind = "process_failed"

	// Carried by the same fan-out but produced by other domains; the
	// engine only needs to know their tag to route them, never their
	// payload shape.
	EventMoney        EventKind = "money"
	EventMission      EventKind = "mission"
	EventAttack       EventKind = "attack"
	EventAnnouncement EventKind = "announcement"
)

// Event is a value-type record the fan-out hub enqueues and delivers. It
// never carries a reference back into live engine state.
type Event struct {
	Kind      EventKind              `json:"kind"`
	ProcessID string                 `json:"process_id,omitempty"`
	User      string                 `json:"user,omitempty"`
	Broadcast bool                   `json:"-"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	IssuedAt  time.Time              `json:"issued_at"`
}

// NewProcessEvent builds a process-lifecycle event addressed to p's creator.
func NewProcessEvent(kind EventKind, p *Process, now time.Time) Event {
	return Event{
		Kind:      kind,
		ProcessID: p.ID,
		User:      p.Creator,
		IssuedAt:  now,
		Payload: map[string]interface{}{
			"kind":  string(p.Kind),
			"state": string(p.State),
		},
	}
}

// NewProgressEvent builds a ProcessProgress event carrying the fraction
// complete, 0..1.
func NewProgressEvent(p *Process, now time.Time) Event {
	ev := NewProcessEvent(EventProcessProgress, p, now)
	total := p.ExpectedEnd.Sub(p.StartedAt)
	var frac float64
	if total > 0 {
		frac = 1 - float64(p.Remaining(now))/float64(total)
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
	}
	ev.Payload["fraction"] = frac
	return ev
}
