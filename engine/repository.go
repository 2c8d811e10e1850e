// Package engine orchestrates the process lifecycle: admission, scheduling,
// idempotent terminal transitions, and persistence, on top of the pure
// domain/process types.
package engine

import (
	"context"
	"time"

	"github.com/greybox/hackcore/domain/process"
)

// Repository is the storage-of-truth seam: process rows plus per-server
// ledgers, mutated together under whatever transactional discipline the
// concrete implementation provides (in-memory mutex, or a Postgres
// transaction with row locking).
type Repository interface {
	// CreateQueued inserts a new process in StateQueued and applies its
	// reservation to the server ledger, atomically. Returns the assigned ID.
	CreateQueued(ctx context.Context, p *process.Process, caps process.ResourceCaps) (string, error)

	// Get returns a snapshot of one process, or (nil, false) if unknown.
	Get(ctx context.Context, id string) (*process.Process, bool, error)

	// ListByUser returns every process owned by user, newest first.
	ListByUser(ctx context.Context, user string) ([]*process.Process, error)

	// ListActive returns every QUEUED/RUNNING/PAUSED/CANCELLING process,
	// used by the scheduler to rebuild its heap on startup.
	ListActive(ctx context.Context) ([]*process.Process, error)

	// Promote moves a QUEUED process to RUNNING, stamping StartedAt and
	// ExpectedEnd. No-op (returns ok=false) if the process is not QUEUED.
	Promote(ctx context.Context, id string, startedAt, expectedEnd time.Time) (ok bool, err error)

	// Pause freezes a RUNNING process's clock, recording PausedAt. The
	// reservation is left untouched (SPEC_FULL.md §4.4 design note). No-op
	// (ok=false) if the process is not currently RUNNING.
	Pause(ctx context.Context, id string, now time.Time) (ok bool, err error)

	// Resume unfreezes a PAUSED process, extending ExpectedEnd by the
	// elapsed pause duration and returning the new ExpectedEnd so the
	// caller can re-arm the scheduler. No-op (ok=false) if the process is
	// not currently PAUSED.
	Resume(ctx context.Context, id string, now time.Time) (ok bool, expectedEnd time.Time, err error)

	// Transition performs the idempotent terminal transition: if the
	// process is already terminal it returns (false, nil) meaning
	// "no-op, already done" rather than an error. Otherwise it validates
	// the edge, writes the new state/reason, releases the reservation from
	// the server ledger, and returns (true, nil).
	Transition(ctx context.Context, id string, to process.State, reason string) (applied bool, err error)

	// ServerLedger returns a snapshot of one server's ledger and caps.
	ServerLedger(ctx context.Context, serverID string) (process.Ledger, process.ResourceCaps, error)

	// SetCaps registers (or overwrites) a server's hardware caps.
	SetCaps(ctx context.Context, serverID string, caps process.ResourceCaps)
}

// ErrNotFound is returned by Promote, Pause, Resume and Transition when the
// id is unknown; Get reports absence with ok=false instead. engine.Service
// checks existence through Get and returns errors.NotFound itself before
// calling those methods.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "process not found" }
