package engine

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/greybox/hackcore/infrastructure/logging"
)

// Sweeper is a background job run on a cron schedule. Implementations live
// outside engine (validationcache, fanout) and are registered here so a
// single cron.Cron drives every periodic maintenance task the process
// behind this service needs, mirroring the teacher's ticker-driven
// background workers but on cron expressions instead of fixed tickers,
// since the jobs here run at different cadences.
type Sweeper interface {
	Sweep(ctx context.Context)
}

// SweeperFunc adapts a plain function to Sweeper.
type SweeperFunc func(ctx context.Context)

func (f SweeperFunc) Sweep(ctx context.Context) { f(ctx) }

// Maintenance runs registered sweepers on a schedule. It is independent of
// Scheduler: Scheduler drives individual process lifecycles, Maintenance
// drives fleet-wide housekeeping (expired validation cache entries, dead
// fan-out subscriptions) that has nothing to do with any single process.
type Maintenance struct {
	cron *cron.Cron
	log  *logging.Logger
	ctx  context.Context
}

// NewMaintenance builds an idle cron runner. Register jobs with Register
// before calling Start.
func NewMaintenance(ctx context.Context, log *logging.Logger) *Maintenance {
	return &Maintenance{
		cron: cron.New(),
		log:  log,
		ctx:  ctx,
	}
}

// Register schedules a sweeper under a standard five-field cron
// expression. Registration failures (a malformed spec) are logged and the
// job is dropped rather than propagated, since these are fixed internal
// schedules, never user input.
func (m *Maintenance) Register(name, spec string, s Sweeper) {
	_, err := m.cron.AddFunc(spec, func() {
		s.Sweep(m.ctx)
	})
	if err != nil {
		m.log.WithError(err).WithField("job", name).Error("failed to register maintenance job")
	}
}

func (m *Maintenance) Start() { m.cron.Start() }

func (m *Maintenance) Stop() {
	c := m.cron.Stop()
	<-c.Done()
}
