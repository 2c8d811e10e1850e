package engine

import (
	"context"
	"time"

	"github.com/greybox/hackcore/domain/process"
	"github.com/greybox/hackcore/infrastructure/logging"
	"github.com/greybox/hackcore/infrastructure/metrics"
)

// eventForTerminal picks the lifecycle event kind matching a terminal state.
func eventForTerminal(state process.State) process.EventKind {
	switch state {
	case process.StateCompleted:
		return process.EventProcessCompleted
	case process.StateCancelled:
		return process.EventProcessCancelled
	case process.StateFailed:
		return process.EventProcessFailed
	default:
		return process.EventProcessCompleted
	}
}

// applyTerminal drives the shared tail of every terminal transition: call
// Repository.Transition (the single idempotent, race-safe mutation point,
// SPEC_FULL.md §4.5), and on the rare non-idempotent success path emit
// exactly one lifecycle event and record the outcome. Both the scheduler's
// natural-completion path and the service's cancel path route through this
// free function so there is exactly one place that decides "did this
// caller win the race."
func applyTerminal(ctx context.Context, repo Repository, pub EventPublisher, log *logging.Logger, m *metrics.Metrics, id string, to process.State, reason string) error {
	applied, err := repo.Transition(ctx, id, to, reason)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	p, ok, err := repo.Get(ctx, id)
	if err != nil || !ok {
		return err
	}

	outcome := string(to)
	var elapsed time.Duration
	if !p.StartedAt.IsZero() {
		elapsed = time.Since(p.StartedAt)
	}
	if m != nil {
		m.RecordProcessCompleted("engine", string(p.Kind), outcome, elapsed)
	}
	if log != nil {
		log.LogProcessTransition(ctx, id, "running", outcome, nil)
	}
	pub.Publish(process.NewProcessEvent(eventForTerminal(to), p, time.Now()))
	return nil
}
