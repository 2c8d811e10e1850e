package engine

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greybox/hackcore/domain/process"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewPostgresRepository(sqlxDB), mock
}

func TestPostgresRepository_CreateQueued(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT cpu_cap, ram_cap, cpu_used, ram_used FROM server_ledgers WHERE server_id = \$1 FOR UPDATE`).
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows([]string{"cpu_cap", "ram_cap", "cpu_used", "ram_used"}).AddRow(1000, 2048, 0, 0))
	mock.ExpectExec(`UPDATE server_ledgers SET cpu_used = \$1, ram_used = \$2 WHERE server_id = \$3`).
		WithArgs(int64(100), int64(200), "S1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO processes`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	p := &process.Process{
		Creator:       "alice",
		Kind:          process.KindScan,
		GatewayServer: "S1",
		CPUReserved:   100,
		RAMReserved:   200,
		CreatedAt:     time.Now(),
	}
	id, err := repo.CreateQueued(context.Background(), p, process.ResourceCaps{CPU: 1000, RAM: 2048})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CreateQueued_ZeroRequest(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT cpu_cap, ram_cap, cpu_used, ram_used FROM server_ledgers WHERE server_id = \$1 FOR UPDATE`).
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows([]string{"cpu_cap", "ram_cap", "cpu_used", "ram_used"}).AddRow(1000, 2048, 0, 0))
	mock.ExpectRollback()

	p := &process.Process{Creator: "alice", Kind: process.KindScan, GatewayServer: "S1"}
	_, err := repo.CreateQueued(context.Background(), p, process.ResourceCaps{CPU: 1000, RAM: 2048})
	require.Error(t, err)
}

func TestPostgresRepository_Transition_AlreadyTerminal(t *testing.T) {
	repo, mock := newMockRepo(t)

	cols := []string{"id", "creator", "victim", "kind", "gateway_server", "target_server", "software_ref",
		"created_at", "started_at", "expected_end", "paused_at", "pause_accumulated",
		"cpu_reserved", "ram_reserved", "priority", "state", "reason"}
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM processes WHERE id = \$1 FOR UPDATE`).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(7, "alice", "", "scan", "S1", "victim", "",
			now, now, now, nil, 0, 0, 0, 5, "completed", ""))
	mock.ExpectCommit()

	applied, err := repo.Transition(context.Background(), "7", process.StateCancelled, "late cancel")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_Transition_ReleasesLedger(t *testing.T) {
	repo, mock := newMockRepo(t)

	cols := []string{"id", "creator", "victim", "kind", "gateway_server", "target_server", "software_ref",
		"created_at", "started_at", "expected_end", "paused_at", "pause_accumulated",
		"cpu_reserved", "ram_reserved", "priority", "state", "reason"}
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM processes WHERE id = \$1 FOR UPDATE`).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(7, "alice", "", "scan", "S1", "victim", "",
			now, now, now, nil, 0, 100, 200, 5, "running", ""))
	mock.ExpectQuery(`SELECT cpu_cap, ram_cap, cpu_used, ram_used FROM server_ledgers WHERE server_id = \$1 FOR UPDATE`).
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows([]string{"cpu_cap", "ram_cap", "cpu_used", "ram_used"}).AddRow(1000, 2048, 100, 200))
	mock.ExpectExec(`UPDATE server_ledgers SET cpu_used = \$1, ram_used = \$2 WHERE server_id = \$3`).
		WithArgs(int64(0), int64(0), "S1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE processes SET state = \$1, reason = \$2, cpu_reserved = 0, ram_reserved = 0 WHERE id = \$3`).
		WithArgs(string(process.StateCancelled), "user cancel", "7").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := repo.Transition(context.Background(), "7", process.StateCancelled, "user cancel")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_PauseThenResume(t *testing.T) {
	repo, mock := newMockRepo(t)

	cols := []string{"id", "creator", "victim", "kind", "gateway_server", "target_server", "software_ref",
		"created_at", "started_at", "expected_end", "paused_at", "pause_accumulated",
		"cpu_reserved", "ram_reserved", "priority", "state", "reason"}
	now := time.Now()
	expectedEnd := now.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM processes WHERE id = \$1 FOR UPDATE`).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(7, "alice", "", "research", "S1", "victim", "",
			now, now, expectedEnd, nil, 0, 100, 512, 5, "running", ""))
	mock.ExpectExec(`UPDATE processes SET state = \$1, paused_at = \$2 WHERE id = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.Pause(context.Background(), "7", now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())

	pausedAt := now.Add(time.Second)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM processes WHERE id = \$1 FOR UPDATE`).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(7, "alice", "", "research", "S1", "victim", "",
			now, now, expectedEnd, pausedAt, 0, 100, 512, 5, "paused", ""))
	mock.ExpectExec(`UPDATE processes SET state = \$1, expected_end = \$2, paused_at = NULL, pause_accumulated = \$3 WHERE id = \$4`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resumeAt := pausedAt.Add(5 * time.Second)
	ok, newEnd, err := repo.Resume(context.Background(), "7", resumeAt)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, newEnd.After(expectedEnd))
	assert.NoError(t, mock.ExpectationsWereMet())
}
