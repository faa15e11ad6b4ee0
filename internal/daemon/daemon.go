package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"

	"clipstitch/internal/config"
	"clipstitch/internal/logging"
	"clipstitch/internal/workflow"
)

// ErrAlreadyRunning reports a second daemon on the same log directory.
var ErrAlreadyRunning = errors.New("another clipstitch daemon instance is already running")

// Daemon owns the scheduler and API server and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	services  *Services
	scheduler *workflow.Scheduler
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool             `json:"running"`
	Workflow     workflow.Summary `json:"workflow"`
	APIAddress   string           `json:"apiAddress,omitempty"`
	LockFilePath string           `json:"lockFilePath"`
}

// New constructs a daemon over already built services.
func New(cfg *config.Config, svc *Services, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || svc == nil || svc.Orchestrator == nil {
		return nil, errors.New("daemon requires config and services")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	scheduler := workflow.NewScheduler(svc.Orchestrator, cfg.Workflow.ClipConcurrency, logger)
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:       cfg,
		logger:    logger,
		services:  svc,
		scheduler: scheduler,
		api:       newAPIServer(cfg, scheduler, svc, logger),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the lock, then starts the scheduler and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.scheduler.Start(runCtx); err != nil {
		d.scheduler.Stop()
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.scheduler.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("clipstitch daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.Int("clip_workers", d.cfg.Workflow.ClipConcurrency),
	)
	return nil
}

// Stop shuts down the API server and the scheduler and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_unlock_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("clipstitch daemon stopped")
}

// Close stops the daemon and releases its services.
func (d *Daemon) Close() error {
	d.Stop()
	return d.services.Close()
}

// Scheduler returns the clip scheduler.
func (d *Daemon) Scheduler() *workflow.Scheduler { return d.scheduler }

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		Workflow:     d.scheduler.Summary(),
		APIAddress:   d.api.address(),
		LockFilePath: d.lockPath,
	}
}
