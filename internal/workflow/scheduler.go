package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"clipstitch/internal/clip"
	"clipstitch/internal/logging"
	"clipstitch/internal/services"
)

// ErrSchedulerStopped reports an Enqueue on a scheduler that is not running.
var ErrSchedulerStopped = errors.New("scheduler not running")

const queueDepth = 256

// Scheduler runs clips on a fixed number of workers. Clips are independent;
// nothing is shared between workers beyond the orchestrator.
type Scheduler struct {
	orch    *Orchestrator
	workers int
	logger  *slog.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	queue   chan string
	wg      sync.WaitGroup
	lastErr error
	active  map[string]struct{}
}

// Summary is a snapshot of scheduler state.
type Summary struct {
	Running bool     `json:"running"`
	Workers int      `json:"workers"`
	Queued  int      `json:"queued"`
	Active  []string `json:"active,omitempty"`
	LastErr string   `json:"lastError,omitempty"`
}

// NewScheduler returns a stopped scheduler with workers workers.
func NewScheduler(orch *Orchestrator, workers int, logger *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		orch:    orch,
		workers: workers,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
		active:  make(map[string]struct{}),
	}
}

// Orchestrator returns the orchestrator the scheduler drives.
func (s *Scheduler) Orchestrator() *Orchestrator { return s.orch }

// Start launches the workers and then queues every clip left Pending or
// interrupted by a previous process.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	queue := make(chan string, queueDepth)
	s.queue = queue
	s.running = true
	s.wg.Add(s.workers)
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		go s.work(runCtx, queue, i)
	}
	return s.recover(runCtx)
}

// Stop cancels in-flight runs and waits for the workers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Enqueue submits input and queues the clip for execution.
func (s *Scheduler) Enqueue(ctx context.Context, input clip.Input) (Submission, error) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return Submission{}, ErrSchedulerStopped
	}
	sub, err := s.orch.Submit(ctx, input)
	if err != nil {
		return Submission{}, err
	}
	if err := s.push(ctx, sub.ClipID); err != nil {
		return sub, err
	}
	return sub, nil
}

// Summary reports the scheduler's state.
func (s *Scheduler) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := Summary{Running: s.running, Workers: s.workers}
	if s.queue != nil {
		sum.Queued = len(s.queue)
	}
	for id := range s.active {
		sum.Active = append(sum.Active, id)
	}
	slices.Sort(sum.Active)
	if s.lastErr != nil {
		sum.LastErr = s.lastErr.Error()
	}
	return sum
}

func (s *Scheduler) push(ctx context.Context, clipID string) error {
	s.mu.RLock()
	queue := s.queue
	s.mu.RUnlock()
	select {
	case queue <- clipID:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue clip %s: %w", clipID, ctx.Err())
	}
}

func (s *Scheduler) recover(ctx context.Context) error {
	ids, err := s.orch.Clips(ctx)
	if err != nil {
		return fmt.Errorf("recover clips: %w", err)
	}
	for _, id := range ids {
		queued, err := s.orch.Recover(ctx, id)
		if err != nil {
			logging.WarnWithContext(logging.WithContext(services.WithClipID(ctx, id), s.logger),
				"clip recovery failed", "scheduler_recovery_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the clip stays in its last recorded status"),
				logging.String(logging.FieldErrorHint, "resubmit the clip once the cause is fixed"),
			)
			continue
		}
		if !queued {
			continue
		}
		if err := s.push(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) work(ctx context.Context, queue <-chan string, worker int) {
	defer s.wg.Done()
	logger := s.logger.With(logging.Int("worker", worker))
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-queue:
			s.setActive(id, true)
			_, err := s.orch.Execute(ctx, id)
			s.setActive(id, false)
			if err == nil {
				continue
			}
			s.setLastError(err)
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrRunActive) || errors.Is(err, ErrAlreadyComplete) {
				logger.Debug("clip skipped", logging.String(logging.FieldClipID, id), logging.Error(err))
			}
		}
	}
}

func (s *Scheduler) setActive(id string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.active[id] = struct{}{}
		return
	}
	delete(s.active, id)
}

func (s *Scheduler) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
