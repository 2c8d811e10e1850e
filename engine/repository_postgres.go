package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/greybox/hackcore/domain/process"
	hcerrors "github.com/greybox/hackcore/infrastructure/errors"
	"github.com/greybox/hackcore/infrastructure/resilience"
)

// PostgresRepository is the durable Repository implementation, grounded on
// the teacher's pkg/storage/postgres.BaseStore transaction-in-context
// idiom and null-value helpers, narrowed to the two tables this engine
// needs (processes, server_ledgers) and extended with the row-locked
// ledger transaction SPEC_FULL.md §5 requires.
type PostgresRepository struct {
	db      *sqlx.DB
	breaker *resilience.CircuitBreaker
}

// NewPostgresRepository wraps an already-open sqlx connection. Migrations
// are applied separately via golang-migrate (see cmd/engine/main.go).
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		breaker: resilience.New(resilience.DefaultConfig()),
	}
}

type processRowDB struct {
	ID               int64          `db:"id"`
	Creator          string         `db:"creator"`
	Victim           string         `db:"victim"`
	Kind             string         `db:"kind"`
	GatewayServer    string         `db:"gateway_server"`
	TargetServer     string         `db:"target_server"`
	SoftwareRef      string         `db:"software_ref"`
	CreatedAt        time.Time      `db:"created_at"`
	StartedAt        sql.NullTime   `db:"started_at"`
	ExpectedEnd      sql.NullTime   `db:"expected_end"`
	PausedAt         sql.NullTime   `db:"paused_at"`
	PauseAccumulated int64          `db:"pause_accumulated"`
	CPUReserved      int64          `db:"cpu_reserved"`
	RAMReserved      int64          `db:"ram_reserved"`
	Priority         int            `db:"priority"`
	State            string         `db:"state"`
	Reason           string         `db:"reason"`
}

func (r processRowDB) toDomain() *process.Process {
	p := &process.Process{
		ID:               fmt.Sprintf("%d", r.ID),
		Creator:          r.Creator,
		Victim:           r.Victim,
		Kind:             process.Kind(r.Kind),
		GatewayServer:    r.GatewayServer,
		TargetServer:     r.TargetServer,
		SoftwareRef:      r.SoftwareRef,
		CreatedAt:        r.CreatedAt,
		PauseAccumulated: time.Duration(r.PauseAccumulated),
		CPUReserved:      process.Units(r.CPUReserved),
		RAMReserved:      process.Units(r.RAMReserved),
		Priority:         r.Priority,
		State:            process.State(r.State),
		Reason:           r.Reason,
	}
	if r.StartedAt.Valid {
		p.StartedAt = r.StartedAt.Time
	}
	if r.ExpectedEnd.Valid {
		p.ExpectedEnd = r.ExpectedEnd.Time
	}
	if r.PausedAt.Valid {
		p.PausedAt = r.PausedAt.Time
	}
	return p
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func (r *PostgresRepository) SetCaps(ctx context.Context, serverID string, caps process.ResourceCaps) {
	_, _ = r.db.ExecContext(ctx, `
		INSERT INTO server_ledgers (server_id, cpu_cap, ram_cap, net_cap)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (server_id) DO UPDATE SET cpu_cap = $2, ram_cap = $3, net_cap = $4
	`, serverID, int64(caps.CPU), int64(caps.RAM), int64(caps.Net))
}

func (r *PostgresRepository) ServerLedger(ctx context.Context, serverID string) (process.Ledger, process.ResourceCaps, error) {
	var row struct {
		CPUCap  int64 `db:"cpu_cap"`
		RAMCap  int64 `db:"ram_cap"`
		NetCap  int64 `db:"net_cap"`
		CPUUsed int64 `db:"cpu_used"`
		RAMUsed int64 `db:"ram_used"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT cpu_cap, ram_cap, net_cap, cpu_used, ram_used FROM server_ledgers WHERE server_id = $1`, serverID)
	if err == sql.ErrNoRows {
		return process.Ledger{}, process.ResourceCaps{}, nil
	}
	if err != nil {
		return process.Ledger{}, process.ResourceCaps{}, hcerrors.DatabaseError("server_ledger", err)
	}
	return process.Ledger{Used: process.ResourceShape{CPU: process.Units(row.CPUUsed), RAM: process.Units(row.RAMUsed)}},
		process.ResourceCaps{CPU: process.Units(row.CPUCap), RAM: process.Units(row.RAMCap), Net: process.Units(row.NetCap)},
		nil
}

// CreateQueued locks the gateway server's ledger row, computes admission,
// and inserts the process row inside one transaction so a crash between
// the two can never happen (SPEC_FULL.md §5).
func (r *PostgresRepository) CreateQueued(ctx context.Context, p *process.Process, caps process.ResourceCaps) (string, error) {
	var id string
	err := r.breaker.Execute(ctx, func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return hcerrors.DatabaseError("begin tx", err)
		}
		defer func() { _ = tx.Rollback() }()

		var ledger struct {
			CPUCap  int64 `db:"cpu_cap"`
			RAMCap  int64 `db:"ram_cap"`
			CPUUsed int64 `db:"cpu_used"`
			RAMUsed int64 `db:"ram_used"`
		}
		err = tx.GetContext(ctx, &ledger, `SELECT cpu_cap, ram_cap, cpu_used, ram_used FROM server_ledgers WHERE server_id = $1 FOR UPDATE`, p.GatewayServer)
		if err == sql.ErrNoRows {
			_, err = tx.ExecContext(ctx, `INSERT INTO server_ledgers (server_id, cpu_cap, ram_cap, net_cap) VALUES ($1,$2,$3,$4)`,
				p.GatewayServer, int64(caps.CPU), int64(caps.RAM), int64(caps.Net))
			if err != nil {
				return hcerrors.DatabaseError("insert ledger", err)
			}
			ledger.CPUCap, ledger.RAMCap = int64(caps.CPU), int64(caps.RAM)
		} else if err != nil {
			return hcerrors.DatabaseError("lock ledger", err)
		}

		dbLedger := process.Ledger{Used: process.ResourceShape{CPU: process.Units(ledger.CPUUsed), RAM: process.Units(ledger.RAMUsed)}}
		dbCaps := process.ResourceCaps{CPU: process.Units(ledger.CPUCap), RAM: process.Units(ledger.RAMCap)}

		granted, err := dbLedger.Allocate(p.CPUReserved, p.RAMReserved, dbCaps)
		if err != nil {
			return err
		}
		dbLedger.Apply(granted)

		_, err = tx.ExecContext(ctx, `UPDATE server_ledgers SET cpu_used = $1, ram_used = $2 WHERE server_id = $3`,
			int64(dbLedger.Used.CPU), int64(dbLedger.Used.RAM), p.GatewayServer)
		if err != nil {
			return hcerrors.DatabaseError("update ledger", err)
		}

		var newID int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO processes (creator, victim, kind, gateway_server, target_server, software_ref, created_at, cpu_reserved, ram_reserved, priority, state, reason)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id
		`, p.Creator, p.Victim, string(p.Kind), p.GatewayServer, p.TargetServer, p.SoftwareRef, p.CreatedAt,
			int64(granted.CPU), int64(granted.RAM), p.Priority, string(process.StateQueued), "").Scan(&newID)
		if err != nil {
			return hcerrors.DatabaseError("insert process", err)
		}

		if err := tx.Commit(); err != nil {
			return hcerrors.DatabaseError("commit tx", err)
		}

		p.CPUReserved = granted.CPU
		p.RAMReserved = granted.RAM
		id = fmt.Sprintf("%d", newID)
		return nil
	})
	return id, err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*process.Process, bool, error) {
	var row processRowDB
	err := r.db.GetContext(ctx, &row, `SELECT * FROM processes WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, hcerrors.DatabaseError("get process", err)
	}
	return row.toDomain(), true, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, user string) ([]*process.Process, error) {
	var rows []processRowDB
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM processes WHERE creator = $1 ORDER BY created_at DESC`, user)
	if err != nil {
		return nil, hcerrors.DatabaseError("list by user", err)
	}
	out := make([]*process.Process, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *PostgresRepository) ListActive(ctx context.Context) ([]*process.Process, error) {
	var rows []processRowDB
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM processes WHERE state NOT IN ($1,$2,$3)`,
		string(process.StateCompleted), string(process.StateCancelled), string(process.StateFailed))
	if err != nil {
		return nil, hcerrors.DatabaseError("list active", err)
	}
	out := make([]*process.Process, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *PostgresRepository) Promote(ctx context.Context, id string, startedAt, expectedEnd time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE processes SET state = $1, started_at = $2, expected_end = $3
		WHERE id = $4 AND state = $5
	`, string(process.StateRunning), nullTime(startedAt), nullTime(expectedEnd), id, string(process.StateQueued))
	if err != nil {
		return false, hcerrors.DatabaseError("promote", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Pause locks the process row, applies process.Process.Pause in Go so the
// edge check stays identical to the in-memory repository, and writes back
// state + paused_at inside the same transaction.
func (r *PostgresRepository) Pause(ctx context.Context, id string, now time.Time) (bool, error) {
	var ok bool
	err := r.breaker.Execute(ctx, func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return hcerrors.DatabaseError("begin tx", err)
		}
		defer func() { _ = tx.Rollback() }()

		var row processRowDB
		if err := tx.GetContext(ctx, &row, `SELECT * FROM processes WHERE id = $1 FOR UPDATE`, id); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return hcerrors.DatabaseError("lock process", err)
		}

		p := row.toDomain()
		if !p.Pause(now) {
			return tx.Commit()
		}

		if _, err := tx.ExecContext(ctx, `UPDATE processes SET state = $1, paused_at = $2 WHERE id = $3`,
			string(p.State), nullTime(p.PausedAt), id); err != nil {
			return hcerrors.DatabaseError("write paused state", err)
		}
		if err := tx.Commit(); err != nil {
			return hcerrors.DatabaseError("commit tx", err)
		}
		ok = true
		return nil
	})
	return ok, err
}

// Resume mirrors Pause: locks the row, applies process.Process.Resume in
// Go, and writes back state/expected_end/pause_accumulated together.
func (r *PostgresRepository) Resume(ctx context.Context, id string, now time.Time) (bool, time.Time, error) {
	var ok bool
	var expectedEnd time.Time
	err := r.breaker.Execute(ctx, func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return hcerrors.DatabaseError("begin tx", err)
		}
		defer func() { _ = tx.Rollback() }()

		var row processRowDB
		if err := tx.GetContext(ctx, &row, `SELECT * FROM processes WHERE id = $1 FOR UPDATE`, id); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return hcerrors.DatabaseError("lock process", err)
		}

		p := row.toDomain()
		if !p.Resume(now) {
			return tx.Commit()
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE processes SET state = $1, expected_end = $2, paused_at = NULL, pause_accumulated = $3 WHERE id = $4`,
			string(p.State), nullTime(p.ExpectedEnd), int64(p.PauseAccumulated), id); err != nil {
			return hcerrors.DatabaseError("write resumed state", err)
		}
		if err := tx.Commit(); err != nil {
			return hcerrors.DatabaseError("commit tx", err)
		}
		ok = true
		expectedEnd = p.ExpectedEnd
		return nil
	})
	return ok, expectedEnd, err
}

// Transition performs the idempotent terminal transition inside one
// transaction that locks the process row first: if already terminal it
// commits as a no-op (applied=false); otherwise it validates the edge,
// releases the ledger reservation, and writes the new state — matching the
// in-memory repository's per-row-mutex discipline but expressed as SQL row
// locking (SPEC_FULL.md §4.5).
func (r *PostgresRepository) Transition(ctx context.Context, id string, to process.State, reason string) (bool, error) {
	var applied bool
	err := r.breaker.Execute(ctx, func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return hcerrors.DatabaseError("begin tx", err)
		}
		defer func() { _ = tx.Rollback() }()

		var row processRowDB
		err = tx.GetContext(ctx, &row, `SELECT * FROM processes WHERE id = $1 FOR UPDATE`, id)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return hcerrors.DatabaseError("lock process", err)
		}

		p := row.toDomain()
		if p.State.IsTerminal() {
			applied = false
			return tx.Commit()
		}
		if !p.State.CanTransitionTo(to) {
			return newInvalidTransition(string(p.State), string(to))
		}

		if to.IsTerminal() {
			var ledger struct {
				CPUCap  int64 `db:"cpu_cap"`
				RAMCap  int64 `db:"ram_cap"`
				CPUUsed int64 `db:"cpu_used"`
				RAMUsed int64 `db:"ram_used"`
			}
			if err := tx.GetContext(ctx, &ledger, `SELECT cpu_cap, ram_cap, cpu_used, ram_used FROM server_ledgers WHERE server_id = $1 FOR UPDATE`, p.GatewayServer); err != nil {
				return hcerrors.DatabaseError("lock ledger", err)
			}
			dbLedger := process.Ledger{Used: process.ResourceShape{CPU: process.Units(ledger.CPUUsed), RAM: process.Units(ledger.RAMUsed)}}
			dbCaps := process.ResourceCaps{CPU: process.Units(ledger.CPUCap), RAM: process.Units(ledger.RAMCap)}
			dbLedger.Deallocate(p.Reservation(), dbCaps)

			if _, err := tx.ExecContext(ctx, `UPDATE server_ledgers SET cpu_used = $1, ram_used = $2 WHERE server_id = $3`,
				int64(dbLedger.Used.CPU), int64(dbLedger.Used.RAM), p.GatewayServer); err != nil {
				return hcerrors.DatabaseError("release ledger", err)
			}

			if _, err := tx.ExecContext(ctx, `UPDATE processes SET state = $1, reason = $2, cpu_reserved = 0, ram_reserved = 0 WHERE id = $3`,
				string(to), reason, id); err != nil {
				return hcerrors.DatabaseError("write terminal state", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `UPDATE processes SET state = $1, reason = $2 WHERE id = $3`, string(to), reason, id); err != nil {
				return hcerrors.DatabaseError("write state", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return hcerrors.DatabaseError("commit tx", err)
		}
		applied = true
		return nil
	})
	return applied, err
}
