package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"clipstitch/internal/clip"
	"clipstitch/internal/compose"
	"clipstitch/internal/config"
	"clipstitch/internal/kv"
	"clipstitch/internal/ledger"
	"clipstitch/internal/logging"
	"clipstitch/internal/metrics"
	"clipstitch/internal/services"
	"clipstitch/internal/stitch"
)

var (
	// ErrRunActive reports a clip that already has a run in flight.
	ErrRunActive = fmt.Errorf("%w: clip run already active", services.ErrConflict)
	// ErrAlreadyComplete reports a resubmission of a finished clip.
	ErrAlreadyComplete = fmt.Errorf("%w: clip already complete", services.ErrConflict)
	// ErrInputChanged reports a resubmission whose segments differ from the stored input.
	ErrInputChanged = fmt.Errorf("%w: resubmitted input differs from the original", services.ErrConflict)
	// ErrUnknownClip reports a clip that was never submitted.
	ErrUnknownClip = fmt.Errorf("%w: unknown clip", services.ErrNotFound)
)

// failureWriteTimeout bounds the detached history write that records a failure.
const failureWriteTimeout = 10 * time.Second

// Composer materializes one segment.
type Composer interface {
	Compose(ctx context.Context, req compose.Request) (clip.MaterializedSegment, error)
}

// Stitcher assembles the final clip.
type Stitcher interface {
	Stitch(ctx context.Context, req stitch.Request) (stitch.Result, error)
}

// Options bound concurrency, stage time and retries.
type Options struct {
	SegmentConcurrency int
	ExtractionTimeout  time.Duration
	StitchTimeout      time.Duration
	TransientAttempts  int
	TransientInitial   time.Duration
}

// OptionsFromConfig maps the workflow config section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SegmentConcurrency: cfg.Workflow.SegmentConcurrency,
		ExtractionTimeout:  cfg.ExtractionTimeout(),
		StitchTimeout:      cfg.StitchTimeout(),
		TransientAttempts:  cfg.Workflow.TransientRetryAttempts,
		TransientInitial:   cfg.TransientInitialBackoff(),
	}
}

func (o Options) normalized() Options {
	if o.SegmentConcurrency <= 0 {
		o.SegmentConcurrency = 5
	}
	if o.TransientAttempts <= 0 {
		o.TransientAttempts = 1
	}
	if o.TransientInitial <= 0 {
		o.TransientInitial = 500 * time.Millisecond
	}
	return o
}

// Submission acknowledges an accepted clip request.
type Submission struct {
	ClipID string      `json:"clipId"`
	RunID  string      `json:"runId"`
	Run    int64       `json:"run"`
	Status clip.Status `json:"status"`
}

// Result is the outcome of one executed run.
type Result struct {
	ClipID   string                     `json:"clipId"`
	RunID    string                     `json:"runId"`
	Status   clip.Status                `json:"status"`
	Segments []clip.MaterializedSegment `json:"segments,omitempty"`
	Clip     *stitch.Result             `json:"clip,omitempty"`
	Error    string                     `json:"error,omitempty"`
}

// Orchestrator submits and executes clip runs.
type Orchestrator struct {
	store    kv.Store
	clips    *ledger.Ledger
	segments *ledger.Ledger
	composer Composer
	stitcher Stitcher
	metrics  *metrics.Pipeline
	opts     Options
	logger   *slog.Logger
	newRunID func() string
}

// NewOrchestrator wires an orchestrator over store.
func NewOrchestrator(store kv.Store, composer Composer, stitcher Stitcher, m *metrics.Pipeline, opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		clips:    ledger.New(store, "clip", clip.StatusNames()),
		segments: ledger.New(store, "segment", clip.SegmentStatusNames()),
		composer: composer,
		stitcher: stitcher,
		metrics:  m,
		opts:     opts.normalized(),
		logger:   logging.NewComponentLogger(logger, "workflow"),
		newRunID: uuid.NewString,
	}
}

func inputKey(clipID, runID string) string { return "workflow/inputs/" + clipID + "/" + runID }

func runsKey(clipID string) string { return "workflow/runs/" + clipID }

const clipIndexKey = "workflow/clips"

// Submit validates and persists input and records Pending. A clip may only be
// resubmitted after it Failed, and only with the same input.
//
// The Pending entry is the single conditional write that accepts the run. The
// run's input and the index entry are written before it, so a failure at any
// step leaves nothing that blocks the next Submit.
func (o *Orchestrator) Submit(ctx context.Context, input clip.Input) (Submission, error) {
	if err := input.Validate(); err != nil {
		return Submission{}, err
	}
	data, err := json.Marshal(input)
	if err != nil {
		return Submission{}, fmt.Errorf("encode input: %w", err)
	}
	ctx = services.WithClipID(services.WithEpisodeID(ctx, input.EpisodeID), input.ClipID)
	runID := o.newRunID()
	pending := ledger.Entry{Status: string(clip.StatusPending), RunID: runID, SegmentCount: len(input.Segments)}

	history, err := o.clips.History(ctx, input.ClipID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		if err := o.store.Put(ctx, inputKey(input.ClipID, runID), data); err != nil {
			return Submission{}, fmt.Errorf("persist input: %w", err)
		}
		if _, err := o.store.Append(ctx, clipIndexKey, []byte(input.ClipID)); err != nil {
			return Submission{}, fmt.Errorf("index clip: %w", err)
		}
		if _, err := o.clips.Create(ctx, input.ClipID, pending); err != nil {
			if errors.Is(err, ledger.ErrExists) {
				return Submission{}, fmt.Errorf("%w: %s", ErrRunActive, input.ClipID)
			}
			return Submission{}, err
		}
	case err != nil:
		return Submission{}, err
	default:
		current := clip.Status(history[len(history)-1].Status)
		switch current {
		case clip.StatusFailed:
		case clip.StatusComplete:
			return Submission{}, fmt.Errorf("%w: %s", ErrAlreadyComplete, input.ClipID)
		default:
			return Submission{}, fmt.Errorf("%w: %s is %s", ErrRunActive, input.ClipID, current)
		}
		stored, err := o.storedInput(ctx, input.ClipID, history)
		if err != nil {
			return Submission{}, fmt.Errorf("load stored input: %w", err)
		}
		if !bytes.Equal(stored, data) {
			return Submission{}, fmt.Errorf("%w: %s", ErrInputChanged, input.ClipID)
		}
		if err := o.store.Put(ctx, inputKey(input.ClipID, runID), data); err != nil {
			return Submission{}, fmt.Errorf("persist input: %w", err)
		}
		if _, err := o.clips.AppendAt(ctx, input.ClipID, len(history), pending); err != nil {
			if errors.Is(err, ledger.ErrStale) {
				return Submission{}, fmt.Errorf("%w: %s", ErrRunActive, input.ClipID)
			}
			return Submission{}, err
		}
	}

	logger := logging.WithContext(ctx, o.logger)
	run, err := o.store.Incr(ctx, runsKey(input.ClipID), 1)
	if err != nil {
		run = int64(countRuns(history)) + 1
		logging.WarnWithContext(logger, "run counter not updated", "workflow_run_count_failed",
			logging.Error(err),
			logging.Int64("run", run),
			logging.String(logging.FieldImpact, "the run number is taken from the clip history"),
			logging.String(logging.FieldErrorHint, "check the kv store"),
		)
	}
	logger.Info("clip submitted",
		logging.String(logging.FieldRunID, runID),
		logging.Int64("run", run),
		logging.Int("segment_count", len(input.Segments)),
	)
	return Submission{ClipID: input.ClipID, RunID: runID, Run: run, Status: clip.StatusPending}, nil
}

// countRuns returns how many runs history has accepted.
func countRuns(history []ledger.Entry) int {
	n := 0
	for _, e := range history {
		if e.Status == string(clip.StatusPending) {
			n++
		}
	}
	return n
}

// latestRunID returns the run accepted by the most recent Pending entry.
func latestRunID(history []ledger.Entry) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Status == string(clip.StatusPending) {
			return history[i].RunID
		}
	}
	return ""
}

func (o *Orchestrator) storedInput(ctx context.Context, clipID string, history []ledger.Entry) ([]byte, error) {
	data, err := o.store.Get(ctx, inputKey(clipID, latestRunID(history)))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no stored input", ErrUnknownClip, clipID)
	}
	return data, err
}

// Run submits input and executes it synchronously.
func (o *Orchestrator) Run(ctx context.Context, input clip.Input) (Result, error) {
	if _, err := o.Submit(ctx, input); err != nil {
		return Result{ClipID: input.ClipID}, err
	}
	return o.Execute(ctx, input.ClipID)
}

// Input returns the stored request of clipID's latest run.
func (o *Orchestrator) Input(ctx context.Context, clipID string) (clip.Input, error) {
	history, err := o.History(ctx, clipID)
	if err != nil {
		return clip.Input{}, err
	}
	return o.decodeInput(ctx, clipID, history)
}

func (o *Orchestrator) decodeInput(ctx context.Context, clipID string, history []ledger.Entry) (clip.Input, error) {
	data, err := o.storedInput(ctx, clipID, history)
	if err != nil {
		return clip.Input{}, err
	}
	var in clip.Input
	if err := json.Unmarshal(data, &in); err != nil {
		return clip.Input{}, fmt.Errorf("decode stored input for %s: %w", clipID, err)
	}
	return in, nil
}

// History returns the clip's status history oldest first.
func (o *Orchestrator) History(ctx context.Context, clipID string) ([]ledger.Entry, error) {
	history, err := o.clips.History(ctx, clipID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClip, clipID)
	}
	return history, err
}

// SegmentHistory returns the status history of one segment of clipID.
func (o *Orchestrator) SegmentHistory(ctx context.Context, clipID string, index int) ([]ledger.Entry, error) {
	return o.segments.History(ctx, clip.SegmentEntity(clipID, index))
}

// Clips returns every submitted clip ID in first-submission order. IDs whose
// first Submit never recorded Pending are left out.
func (o *Orchestrator) Clips(ctx context.Context) ([]string, error) {
	raw, err := o.store.List(ctx, clipIndexKey)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	out := make([]string, 0, len(raw))
	for _, id := range raw {
		s := string(id)
		if slices.Contains(out, s) {
			continue
		}
		ok, err := o.clips.Exists(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("list clips: %w", err)
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Recover turns an interrupted run back into a Pending one. A run cut off
// mid-stage is recorded as Failed first so the history stays a legal walk; a
// run that already recorded an interrupted failure is resubmitted as is.
func (o *Orchestrator) Recover(ctx context.Context, clipID string) (bool, error) {
	history, err := o.History(ctx, clipID)
	if err != nil {
		return false, err
	}
	last := history[len(history)-1]
	current := clip.Status(last.Status)
	switch {
	case current == clip.StatusPending:
		return true, nil
	case current == clip.StatusFailed && last.Interrupted:
	case current.IsTerminal():
		return false, nil
	default:
		if _, err := o.clips.AppendAt(ctx, clipID, len(history), ledger.Entry{
			Status:      string(clip.StatusFailed),
			RunID:       last.RunID,
			Error:       fmt.Sprintf("interrupted during %s", current),
			Interrupted: true,
		}); err != nil {
			if errors.Is(err, ledger.ErrStale) {
				return false, fmt.Errorf("%w: %s", ErrRunActive, clipID)
			}
			return false, err
		}
	}
	in, err := o.decodeInput(ctx, clipID, history)
	if err != nil {
		return false, err
	}
	if _, err := o.Submit(ctx, in); err != nil {
		return false, err
	}
	logging.WarnWithContext(logging.WithContext(services.WithClipID(ctx, clipID), o.logger),
		"interrupted clip run resubmitted", "workflow_run_recovered",
		logging.String("interrupted_status", string(current)),
		logging.String(logging.FieldImpact, "the clip is processed again; finished segments are reused"),
		logging.String(logging.FieldErrorHint, "none required"),
	)
	return true, nil
}

// Status returns the latest history entry of clipID.
func (o *Orchestrator) Status(ctx context.Context, clipID string) (ledger.Entry, error) {
	history, err := o.History(ctx, clipID)
	if err != nil {
		return ledger.Entry{}, err
	}
	return history[len(history)-1], nil
}
