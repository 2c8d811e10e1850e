package engine

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/greybox/hackcore/domain/process"
	"github.com/greybox/hackcore/infrastructure/logging"
	"github.com/greybox/hackcore/infrastructure/metrics"
)

// wakeItem is one entry in the scheduler's min-heap, keyed by ExpectedEnd so
// the next tick always wakes for the soonest-completing process rather than
// polling every active process on a fixed interval (SPEC_FULL.md §4.4,
// grounded on services/automation/automation_service.go's ticker+stopCh
// worker-loop idiom, generalized from a fixed poll to a heap-driven wakeup).
type wakeItem struct {
	processID   string
	expectedEnd time.Time
	index       int
}

type wakeHeap []*wakeItem

func (h wakeHeap) Len() int            { return len(h) }
func (h wakeHeap) Less(i, j int) bool  { return h[i].expectedEnd.Before(h[j].expectedEnd) }
func (h wakeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *wakeHeap) Push(x interface{}) {
	item := x.(*wakeItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *wakeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

const progressInterval = 1 * time.Second

// Scheduler advances RUNNING processes to completion and emits progress
// events at a bounded rate. One Scheduler per engine.Service.
type Scheduler struct {
	repo Repository
	pub  EventPublisher
	log  *logging.Logger
	m    *metrics.Metrics

	mu          sync.Mutex
	heap        wakeHeap
	items       map[string]*wakeItem
	lastProgress map[string]time.Time

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// EventPublisher is the seam the scheduler and terminal transition use to
// push lifecycle events; implemented by fanout.Hub.
type EventPublisher interface {
	Publish(ev process.Event)
}

// NewScheduler constructs a Scheduler. Call Start to begin ticking and
// Stop to shut it down.
func NewScheduler(repo Repository, pub EventPublisher, log *logging.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		repo:         repo,
		pub:          pub,
		log:          log,
		m:            m,
		items:        make(map[string]*wakeItem),
		lastProgress: make(map[string]time.Time),
		wake:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Track registers a running process with the scheduler, or updates its
// wake time if already tracked (used after pause/resume).
func (s *Scheduler) Track(processID string, expectedEnd time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.items[processID]; ok {
		item.expectedEnd = expectedEnd
		heap.Fix(&s.heap, item.index)
	} else {
		item := &wakeItem{processID: processID, expectedEnd: expectedEnd}
		heap.Push(&s.heap, item)
		s.items[processID] = item
	}
	s.nudge()
}

// Untrack removes a process from the heap (used when it reaches a terminal
// state via a path other than scheduler-driven completion, e.g. cancel).
func (s *Scheduler) Untrack(processID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[processID]
	if !ok {
		return
	}
	heap.Remove(&s.heap, item.index)
	delete(s.items, processID)
	delete(s.lastProgress, processID)
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start recovers active processes from the repository and begins the tick
// loop in its own goroutine, then returns; the loop runs until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, p := range active {
		switch p.State {
		case process.StateQueued:
			if ok, _ := s.repo.Promote(ctx, p.ID, now, now.Add(p.ExpectedEnd.Sub(p.StartedAt))); ok {
				s.Track(p.ID, now.Add(p.ExpectedEnd.Sub(p.StartedAt)))
			}
		case process.StateRunning, process.StateCancelling:
			s.Track(p.ID, p.ExpectedEnd)
		}
	}

	go s.run(ctx)
	return nil
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	for {
		wait := s.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
		s.tick(ctx)
	}
}

func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heap.Len() == 0 {
		return 5 * time.Second
	}
	d := time.Until(s.heap[0].expectedEnd)
	if d <= 0 {
		return 0
	}
	if d > progressInterval {
		return progressInterval
	}
	return d
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	for {
		s.mu.Lock()
		if s.heap.Len() == 0 || s.heap[0].expectedEnd.After(now) {
			s.mu.Unlock()
			break
		}
		item := heap.Pop(&s.heap).(*wakeItem)
		delete(s.items, item.processID)
		delete(s.lastProgress, item.processID)
		s.mu.Unlock()

		s.complete(ctx, item.processID)
	}

	s.emitProgress(now)
}

func (s *Scheduler) complete(ctx context.Context, processID string) {
	if err := applyTerminal(ctx, s.repo, s.pub, s.log, s.m, processID, process.StateCompleted, ""); err != nil {
		s.log.LogProcessTransition(ctx, processID, "running", "completed", err)
	}
}

func (s *Scheduler) emitProgress(now time.Time) {
	s.mu.Lock()
	due := make([]string, 0)
	for _, item := range s.heap {
		last, seen := s.lastProgress[item.processID]
		if !seen || now.Sub(last) >= progressInterval {
			due = append(due, item.processID)
			s.lastProgress[item.processID] = now
		}
	}
	s.mu.Unlock()

	for _, id := range due {
		p, ok, err := s.repo.Get(context.Background(), id)
		if err != nil || !ok || p.State != process.StateRunning {
			continue
		}
		s.pub.Publish(process.NewProgressEvent(p, now))
	}
}
