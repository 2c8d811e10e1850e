package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/greybox/hackcore/domain/process"
)

// MemoryRepository is a process-safe, in-memory Repository. It is the
// default when no database DSN is configured, and the backing store for
// the engine's unit tests. Each process row is guarded by its own mutex so
// unrelated processes never serialize against each other; each server
// ledger is guarded by its own mutex so admission on one server never
// blocks admission on another (SPEC_FULL.md §5).
type MemoryRepository struct {
	nextID int64

	mu        sync.RWMutex // guards the processes/ledgers maps themselves
	processes map[string]*processRow
	ledgers   map[string]*ledgerRow
}

type processRow struct {
	mu sync.Mutex
	p  process.Process
}

type ledgerRow struct {
	mu     sync.Mutex
	ledger process.Ledger
	caps   process.ResourceCaps
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		processes: make(map[string]*processRow),
		ledgers:   make(map[string]*ledgerRow),
	}
}

func (r *MemoryRepository) SetCaps(_ context.Context, serverID string, caps process.ResourceCaps) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.ledgers[serverID]
	if !ok {
		row = &ledgerRow{}
		r.ledgers[serverID] = row
	}
	row.mu.Lock()
	row.caps = caps
	row.mu.Unlock()
}

func (r *MemoryRepository) ledgerRowFor(serverID string) *ledgerRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.ledgers[serverID]
	if !ok {
		row = &ledgerRow{}
		r.ledgers[serverID] = row
	}
	return row
}

func (r *MemoryRepository) ServerLedger(_ context.Context, serverID string) (process.Ledger, process.ResourceCaps, error) {
	row := r.ledgerRowFor(serverID)
	row.mu.Lock()
	defer row.mu.Unlock()
	return row.ledger, row.caps, nil
}

// CreateQueued reserves resources on the gateway server's ledger and
// inserts the process row as one logical unit: the ledger row's mutex is
// held for the whole operation so a concurrent allocation on the same
// server cannot interleave with this one.
func (r *MemoryRepository) CreateQueued(_ context.Context, p *process.Process, caps process.ResourceCaps) (string, error) {
	ledgerRow := r.ledgerRowFor(p.GatewayServer)

	ledgerRow.mu.Lock()
	defer ledgerRow.mu.Unlock()

	if ledgerRow.caps == (process.ResourceCaps{}) {
		ledgerRow.caps = caps
	}

	granted, err := ledgerRow.ledger.Allocate(p.CPUReserved, p.RAMReserved, ledgerRow.caps)
	if err != nil {
		return "", err
	}
	ledgerRow.ledger.Apply(granted)

	id := fmt.Sprintf("proc-%d", atomic.AddInt64(&r.nextID, 1))
	p.ID = id
	p.CPUReserved = granted.CPU
	p.RAMReserved = granted.RAM
	p.State = process.StateQueued

	r.mu.Lock()
	r.processes[id] = &processRow{p: *p}
	r.mu.Unlock()

	return id, nil
}

func (r *MemoryRepository) rowFor(id string) (*processRow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.processes[id]
	return row, ok
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*process.Process, bool, error) {
	row, ok := r.rowFor(id)
	if !ok {
		return nil, false, nil
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	cp := row.p
	return &cp, true, nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, user string) ([]*process.Process, error) {
	r.mu.RLock()
	rows := make([]*processRow, 0, len(r.processes))
	for _, row := range r.processes {
		rows = append(rows, row)
	}
	r.mu.RUnlock()

	out := make([]*process.Process, 0)
	for _, row := range rows {
		row.mu.Lock()
		if row.p.Creator == user {
			cp := row.p
			out = append(out, &cp)
		}
		row.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ListActive(_ context.Context) ([]*process.Process, error) {
	r.mu.RLock()
	rows := make([]*processRow, 0, len(r.processes))
	for _, row := range r.processes {
		rows = append(rows, row)
	}
	r.mu.RUnlock()

	out := make([]*process.Process, 0)
	for _, row := range rows {
		row.mu.Lock()
		if !row.p.State.IsTerminal() {
			cp := row.p
			out = append(out, &cp)
		}
		row.mu.Unlock()
	}
	return out, nil
}

func (r *MemoryRepository) Promote(_ context.Context, id string, startedAt, expectedEnd time.Time) (bool, error) {
	row, ok := r.rowFor(id)
	if !ok {
		return false, ErrNotFound
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.p.State != process.StateQueued {
		return false, nil
	}
	row.p.State = process.StateRunning
	row.p.StartedAt = startedAt
	row.p.ExpectedEnd = expectedEnd
	return true, nil
}

// Pause holds the process row's mutex for the same reason CreateQueued
// holds the ledger row's: State/PausedAt must change together or not at
// all. Delegates the edge check to process.Process.Pause.
func (r *MemoryRepository) Pause(_ context.Context, id string, now time.Time) (bool, error) {
	row, ok := r.rowFor(id)
	if !ok {
		return false, ErrNotFound
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	return row.p.Pause(now), nil
}

// Resume mirrors Pause: one mutex-held call into process.Process.Resume so
// State/ExpectedEnd/PauseAccumulated move together.
func (r *MemoryRepository) Resume(_ context.Context, id string, now time.Time) (bool, time.Time, error) {
	row, ok := r.rowFor(id)
	if !ok {
		return false, time.Time{}, ErrNotFound
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if !row.p.Resume(now) {
		return false, time.Time{}, nil
	}
	return true, row.p.ExpectedEnd, nil
}

// Transition performs the idempotent terminal transition described in
// SPEC_FULL.md §4.5: holding the process row's own mutex, it checks
// terminality first (short-circuiting duplicate cancels/completions),
// then validates the edge, writes state, and releases the ledger
// reservation — all before releasing the row mutex, so a racing caller
// always observes a fully-applied prior transition rather than a partial
// one.
func (r *MemoryRepository) Transition(_ context.Context, id string, to process.State, reason string) (bool, error) {
	row, ok := r.rowFor(id)
	if !ok {
		return false, ErrNotFound
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	if row.p.State.IsTerminal() {
		return false, nil
	}
	if !row.p.State.CanTransitionTo(to) {
		return false, newInvalidTransition(string(row.p.State), string(to))
	}

	if to.IsTerminal() {
		ledgerRow := r.ledgerRowFor(row.p.GatewayServer)
		ledgerRow.mu.Lock()
		ledgerRow.ledger.Deallocate(row.p.Reservation(), ledgerRow.caps)
		ledgerRow.mu.Unlock()
		row.p.CPUReserved = 0
		row.p.RAMReserved = 0
	}

	row.p.State = to
	row.p.Reason = reason
	return true, nil
}
