package engine

import (
	"context"
	"time"

	"github.com/greybox/hackcore/domain/process"
	hcerrors "github.com/greybox/hackcore/infrastructure/errors"
	"github.com/greybox/hackcore/infrastructure/logging"
	"github.com/greybox/hackcore/infrastructure/metrics"
)

// StartRequest is what the API layer hands the engine to start a process.
type StartRequest struct {
	Creator       string
	Victim        string
	Kind          process.Kind
	GatewayServer string
	TargetServer  string
	SoftwareRef   string
	Priority      int
	Hardware      process.Hardware
	Target        process.Target
}

// Service is the engine's orchestration seam: the only thing the API layer
// calls into. It ties together admission, the repository, the scheduler,
// and the event publisher.
type Service struct {
	repo      Repository
	scheduler *Scheduler
	pub       EventPublisher
	balance   process.BalanceTable
	log       *logging.Logger
	m         *metrics.Metrics
}

// NewService constructs a Service. Call Start to begin the scheduler.
func NewService(repo Repository, pub EventPublisher, balance process.BalanceTable, log *logging.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:      repo,
		scheduler: NewScheduler(repo, pub, log, m),
		pub:       pub,
		balance:   balance,
		log:       log,
		m:         m,
	}
}

func (s *Service) Start(ctx context.Context) error { return s.scheduler.Start(ctx) }
func (s *Service) Stop()                           { s.scheduler.Stop() }

// RegisterServer records a server's hardware caps with the repository.
func (s *Service) RegisterServer(ctx context.Context, serverID string, caps process.ResourceCaps) {
	s.repo.SetCaps(ctx, serverID, caps)
}

// StartProcess validates the request, computes duration/shape, admits it
// against the gateway server's ledger, persists it QUEUED-then-RUNNING, and
// emits ProcessStarted (SPEC_FULL.md §4.4).
func (s *Service) StartProcess(ctx context.Context, req StartRequest) (*process.Process, error) {
	if !req.Kind.Valid() {
		return nil, hcerrors.InvalidInput("kind", "unknown process kind")
	}
	if req.Kind.RequiresTarget() && req.TargetServer == "" {
		return nil, hcerrors.MissingParameter("target_server")
	}
	if req.Kind.RequiresSoftware() && req.SoftwareRef == "" {
		return nil, hcerrors.MissingParameter("software_ref")
	}
	if req.GatewayServer == "" {
		return nil, hcerrors.MissingParameter("gateway_server")
	}

	seconds, shape, ok := process.Duration(req.Kind, req.Hardware, req.Target, s.balance)
	if !ok {
		return nil, hcerrors.InvalidInput("kind", "no duration table entry")
	}

	priority := req.Priority
	if priority == 0 {
		priority = process.DefaultPriority
	}

	now := time.Now()
	p := &process.Process{
		Creator:       req.Creator,
		Victim:        req.Victim,
		Kind:          req.Kind,
		GatewayServer: req.GatewayServer,
		TargetServer:  req.TargetServer,
		SoftwareRef:   req.SoftwareRef,
		CreatedAt:     now,
		Priority:      priority,
		CPUReserved:   shape.CPU,
		RAMReserved:   shape.RAM,
	}

	_, ledgerCaps, _ := s.repo.ServerLedger(ctx, req.GatewayServer)

	id, err := s.repo.CreateQueued(ctx, p, ledgerCaps)
	if err != nil {
		if s.m != nil {
			reason := "unknown"
			if svcErr := hcerrors.GetServiceError(err); svcErr != nil {
				reason = string(svcErr.Code)
			}
			s.m.RecordAdmissionRejected("engine", reason)
		}
		return nil, err
	}

	expectedEnd := now.Add(time.Duration(seconds) * time.Second)
	if ok, err := s.repo.Promote(ctx, id, now, expectedEnd); err != nil || !ok {
		return nil, hcerrors.Internal("promote after admission failed", err)
	}

	p, _, err = s.repo.Get(ctx, id)
	if err != nil {
		return nil, hcerrors.Internal("reload after promote failed", err)
	}

	s.scheduler.Track(id, expectedEnd)
	if s.m != nil {
		s.m.RecordProcessStarted("engine", string(req.Kind))
	}
	s.log.LogProcessTransition(ctx, id, "queued", "running", nil)
	s.pub.Publish(process.NewProcessEvent(process.EventProcessStarted, p, now))

	return p, nil
}

// CancelProcess is idempotent: cancelling an already-terminal process is
// reported as success. A process that does not exist and one owned by
// another user both yield NotFound, matching the "NotFound and Forbidden
// look identical to probers" rule in SPEC_FULL.md §7.
func (s *Service) CancelProcess(ctx context.Context, requester, id string) error {
	p, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return hcerrors.Internal("lookup process", err)
	}
	if !ok {
		return hcerrors.NotFound("process", id)
	}
	if p.Creator != requester {
		return hcerrors.NotFound("process", id)
	}

	// QUEUED cancels straight to Cancelled; RUNNING and PAUSED pass through
	// Cancelling first (no asynchronous kind-specific teardown exists in
	// this engine, so Cancelling resolves to Cancelled immediately). A call
	// that loses the race into Cancelling carries on when it finds the
	// process already Cancelling or terminal, and applyTerminal's
	// short-circuit on an already-terminal process makes repeated or racing
	// calls idempotent.
	if p.State == process.StateRunning || p.State == process.StatePaused {
		if _, err := s.repo.Transition(ctx, id, process.StateCancelling, ""); err != nil {
			cur, found, getErr := s.repo.Get(ctx, id)
			if getErr != nil || !found || (cur.State != process.StateCancelling && !cur.State.IsTerminal()) {
				return err
			}
		}
	}
	s.scheduler.Untrack(id)
	return applyTerminal(ctx, s.repo, s.pub, s.log, s.m, id, process.StateCancelled, "cancelled by user")
}

// PauseProcess freezes a RUNNING process's clock in place (SPEC_FULL.md
// §4.4): the reservation stays held, the scheduler stops tracking it, and
// it resumes from where it left off via ResumeProcess.
func (s *Service) PauseProcess(ctx context.Context, requester, id string) error {
	p, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return hcerrors.Internal("lookup process", err)
	}
	if !ok || p.Creator != requester {
		return hcerrors.NotFound("process", id)
	}

	applied, err := s.repo.Pause(ctx, id, time.Now())
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.scheduler.Untrack(id)
	p, _, err = s.repo.Get(ctx, id)
	if err != nil {
		return hcerrors.Internal("reload after pause failed", err)
	}
	s.log.LogProcessTransition(ctx, id, "running", "paused", nil)
	s.pub.Publish(process.NewProcessEvent(process.EventProcessPaused, p, time.Now()))
	return nil
}

// ResumeProcess unfreezes a PAUSED process, extending ExpectedEnd by the
// elapsed pause duration and re-arming the scheduler.
func (s *Service) ResumeProcess(ctx context.Context, requester, id string) error {
	p, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return hcerrors.Internal("lookup process", err)
	}
	if !ok || p.Creator != requester {
		return hcerrors.NotFound("process", id)
	}

	applied, expectedEnd, err := s.repo.Resume(ctx, id, time.Now())
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.scheduler.Track(id, expectedEnd)
	p, _, err = s.repo.Get(ctx, id)
	if err != nil {
		return hcerrors.Internal("reload after resume failed", err)
	}
	s.log.LogProcessTransition(ctx, id, "paused", "running", nil)
	s.pub.Publish(process.NewProcessEvent(process.EventProcessResumed, p, time.Now()))
	return nil
}

func (s *Service) GetProcess(ctx context.Context, requester, id string) (*process.Process, error) {
	p, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, hcerrors.Internal("lookup process", err)
	}
	if !ok || p.Creator != requester {
		return nil, hcerrors.NotFound("process", id)
	}
	return p, nil
}

func (s *Service) ListProcesses(ctx context.Context, requester string) ([]*process.Process, error) {
	return s.repo.ListByUser(ctx, requester)
}
