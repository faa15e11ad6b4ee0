package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"clipstitch/internal/clip"
	"clipstitch/internal/compose"
	"clipstitch/internal/ledger"
	"clipstitch/internal/logging"
	"clipstitch/internal/metrics"
	"clipstitch/internal/services"
	"clipstitch/internal/stitch"
)

// segmentError carries the index of the segment that failed a run.
type segmentError struct {
	index int
	err   error
}

func (e *segmentError) Error() string { return fmt.Sprintf("segment %d: %v", e.index, e.err) }
func (e *segmentError) Unwrap() error { return e.err }

// run is the mutable state of one Execute call. next is the history position
// of the run's next entry; a position already taken means another writer owns
// the clip.
type run struct {
	o       *Orchestrator
	input   clip.Input
	runID   string
	machine *Machine
	next    int
}

// Execute drives a Pending clip to Complete or Failed. A run that fails
// returns both a Result with the Failed status and the error.
func (o *Orchestrator) Execute(ctx context.Context, clipID string) (Result, error) {
	history, err := o.History(ctx, clipID)
	if err != nil {
		return Result{ClipID: clipID}, err
	}
	last := history[len(history)-1]
	current := clip.Status(last.Status)
	switch current {
	case clip.StatusPending:
	case clip.StatusComplete:
		return Result{ClipID: clipID, RunID: last.RunID, Status: current}, fmt.Errorf("%w: %s", ErrAlreadyComplete, clipID)
	default:
		return Result{ClipID: clipID, RunID: last.RunID, Status: current}, fmt.Errorf("%w: %s is %s", ErrRunActive, clipID, current)
	}
	input, err := o.decodeInput(ctx, clipID, history)
	if err != nil {
		return Result{ClipID: clipID}, err
	}

	ctx = services.WithRunID(services.WithClipID(services.WithEpisodeID(ctx, input.EpisodeID), clipID), last.RunID)
	r := &run{o: o, input: input, runID: last.RunID, machine: NewMachine(clip.StatusPending), next: len(history)}
	res := Result{ClipID: clipID, RunID: last.RunID}
	started := time.Now()
	logger := logging.WithContext(ctx, o.logger)
	logger.Info("clip run started", logging.Int("segment_count", len(input.Segments)))

	segments, stitched, err := r.walk(ctx)
	res.Segments = segments
	if errors.Is(err, ErrRunActive) {
		res.Status = current
		logger.Debug("clip run taken over by another writer", logging.Error(err))
		return res, err
	}
	if err != nil {
		res.Status = clip.StatusFailed
		res.Error = services.FailureReason(err)
		o.metrics.ObserveRun(string(clip.StatusFailed))
		logging.ErrorWithContext(logger, "clip run failed", "workflow_run_failed",
			logging.Error(err),
			logging.String("error_kind", services.Classify(err)),
			logging.Duration("elapsed", time.Since(started)),
			logging.String(logging.FieldImpact, "no clip was produced for this run"),
			logging.String(logging.FieldErrorHint, "fix the cause and resubmit the clip"),
		)
		return res, err
	}
	res.Status = clip.StatusComplete
	res.Clip = &stitched
	o.metrics.ObserveRun(string(clip.StatusComplete))
	logger.Info("clip run complete",
		logging.String("key", stitched.Key),
		logging.Float64("duration_seconds", stitched.Duration),
		logging.Int64("size", stitched.Size),
		logging.Duration("elapsed", time.Since(started)),
	)
	return res, nil
}

// walk performs every stage. On error the Failed entry is already recorded.
func (r *run) walk(ctx context.Context) ([]clip.MaterializedSegment, stitch.Result, error) {
	ordered := r.input.Ordered()
	if err := r.advance(ctx, clip.StatusInProgress, ledger.Entry{SegmentCount: len(ordered)}); err != nil {
		return nil, stitch.Result{}, r.fail(ctx, err)
	}
	if err := r.advance(ctx, clip.StatusSegmentsExtracting, ledger.Entry{SegmentCount: len(ordered)}); err != nil {
		return nil, stitch.Result{}, r.fail(ctx, err)
	}
	extractStart := time.Now()
	segments, err := r.extract(ctx, ordered)
	if err != nil {
		return segments, stitch.Result{}, r.fail(ctx, err)
	}
	if err := r.advance(ctx, clip.StatusSegmentsComplete, ledger.Entry{
		SegmentCount:      len(segments),
		ProcessingSeconds: time.Since(extractStart).Seconds(),
	}); err != nil {
		return segments, stitch.Result{}, r.fail(ctx, err)
	}
	if err := r.advance(ctx, clip.StatusStitching, ledger.Entry{SegmentCount: len(segments)}); err != nil {
		return segments, stitch.Result{}, r.fail(ctx, err)
	}
	stitchStart := time.Now()
	stitched, err := r.stitch(ctx, segments)
	if err != nil {
		return segments, stitch.Result{}, r.fail(ctx, err)
	}
	if err := r.advance(ctx, clip.StatusComplete, ledger.Entry{
		Key:               stitched.Key,
		Size:              stitched.Size,
		DurationSeconds:   stitched.Duration,
		SegmentCount:      len(segments),
		ProcessingSeconds: time.Since(stitchStart).Seconds(),
	}); err != nil {
		return segments, stitched, r.fail(ctx, err)
	}
	return segments, stitched, nil
}

// advance fires the machine and records the matching history entry.
func (r *run) advance(ctx context.Context, to clip.Status, entry ledger.Entry) error {
	return r.machine.Fire(ctx, to, func(ctx context.Context, _, to clip.Status) error {
		entry.Status = string(to)
		entry.RunID = r.runID
		if _, err := r.o.clips.AppendAt(ctx, r.input.ClipID, r.next, entry); err != nil {
			if errors.Is(err, ledger.ErrStale) {
				return fmt.Errorf("%w: %s: record %s: %w", ErrRunActive, r.input.ClipID, to, err)
			}
			return fmt.Errorf("record %s: %w", to, err)
		}
		r.next++
		return nil
	})
}

// fail records Failed on a detached context and returns cause. A run whose
// history was taken over records nothing. Failed entries written because ctx
// was cancelled are marked Interrupted so recovery picks the clip up again.
func (r *run) fail(ctx context.Context, cause error) error {
	if errors.Is(cause, ErrRunActive) {
		return cause
	}
	entry := ledger.Entry{
		Error:       services.FailureReason(cause),
		Interrupted: errors.Is(cause, context.Canceled) && ctx.Err() != nil,
	}
	var segErr *segmentError
	if errors.As(cause, &segErr) {
		entry.SegmentIndex = segErr.index
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := r.advance(writeCtx, clip.StatusFailed, entry); err != nil {
		if errors.Is(err, ErrRunActive) {
			return errors.Join(err, cause)
		}
		logging.ErrorWithContext(logging.WithContext(ctx, r.o.logger), "failed to record clip failure", "workflow_history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "clip history does not show the failure"),
			logging.String(logging.FieldErrorHint, "check the kv store and resubmit the clip"),
		)
		return errors.Join(cause, err)
	}
	return cause
}

// extract fans Compose out over the ordered segments. The first failure
// cancels the siblings; results keep input order.
func (r *run) extract(ctx context.Context, ordered []clip.Segment) ([]clip.MaterializedSegment, error) {
	out := make([]clip.MaterializedSegment, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.opts.SegmentConcurrency)
	for i, seg := range ordered {
		g.Go(func() error {
			ms, err := r.extractOne(gctx, seg)
			if err != nil {
				return &segmentError{index: seg.Order, err: err}
			}
			out[i] = ms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *run) extractOne(ctx context.Context, seg clip.Segment) (clip.MaterializedSegment, error) {
	index := seg.Order
	ctx = services.WithStage(services.WithSegmentIndex(ctx, index), "extract")
	entity := clip.SegmentEntity(r.input.ClipID, index)
	if err := ctx.Err(); err != nil {
		return clip.MaterializedSegment{}, err
	}
	if _, err := r.o.segments.AppendOrCreate(ctx, entity, ledger.Entry{
		Status:          string(clip.SegmentExtracting),
		RunID:           r.runID,
		SegmentIndex:    index,
		DurationSeconds: seg.Duration(),
	}); err != nil {
		return clip.MaterializedSegment{}, err
	}

	started := time.Now()
	stageCtx := ctx
	cancel := context.CancelFunc(func() {})
	if r.o.opts.ExtractionTimeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, r.o.opts.ExtractionTimeout)
	}
	defer cancel()
	ms, err := retryTransient(stageCtx, r.o, "compose", func(ctx context.Context) (clip.MaterializedSegment, error) {
		return r.o.composer.Compose(ctx, compose.Request{
			EpisodeID: r.input.EpisodeID,
			ClipID:    r.input.ClipID,
			Index:     index,
			Segment:   seg,
		})
	})
	elapsed := time.Since(started)
	if err != nil {
		err = stageError(stageCtx, ctx, "extract", err)
		r.o.metrics.ObserveSegment(metrics.OutcomeFailed, elapsed)
		r.recordSegment(ctx, entity, ledger.Entry{
			Status:            string(clip.SegmentFailed),
			RunID:             r.runID,
			SegmentIndex:      index,
			Error:             services.FailureReason(err),
			ProcessingSeconds: elapsed.Seconds(),
		})
		return clip.MaterializedSegment{}, err
	}

	status, outcome := clip.SegmentExtracted, metrics.OutcomeExtracted
	if ms.Reused {
		status, outcome = clip.SegmentReused, metrics.OutcomeReused
	}
	r.o.metrics.ObserveSegment(outcome, elapsed)
	if _, err := r.o.segments.Append(ctx, entity, ledger.Entry{
		Status:            string(status),
		RunID:             r.runID,
		SegmentIndex:      index,
		Key:               ms.Key,
		Size:              ms.Size,
		DurationSeconds:   ms.Duration,
		ProcessingSeconds: elapsed.Seconds(),
	}); err != nil {
		return clip.MaterializedSegment{}, err
	}
	return ms, nil
}

// recordSegment writes a segment failure entry even when ctx is cancelled.
func (r *run) recordSegment(ctx context.Context, entity string, entry ledger.Entry) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if _, err := r.o.segments.Append(writeCtx, entity, entry); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, r.o.logger), "failed to record segment failure", "segment_history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "segment history does not show the failure"),
			logging.String(logging.FieldErrorHint, "check the kv store"),
		)
	}
}

func (r *run) stitch(ctx context.Context, segments []clip.MaterializedSegment) (stitch.Result, error) {
	ctx = services.WithStage(ctx, "stitch")
	stageCtx := ctx
	cancel := context.CancelFunc(func() {})
	if r.o.opts.StitchTimeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, r.o.opts.StitchTimeout)
	}
	defer cancel()
	res, err := retryTransient(stageCtx, r.o, "stitch", func(ctx context.Context) (stitch.Result, error) {
		return r.o.stitcher.Stitch(ctx, stitch.Request{
			EpisodeID: r.input.EpisodeID,
			ClipID:    r.input.ClipID,
			Segments:  segments,
		})
	})
	if err != nil {
		return stitch.Result{}, stageError(stageCtx, ctx, "stitch", err)
	}
	return res, nil
}

// stageError tags err with ErrTimeout when the stage deadline, and not the
// caller, ended the work.
func stageError(stageCtx, parent context.Context, stage string, err error) error {
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return services.Wrap(services.ErrTimeout, stage, "deadline", "stage exceeded its time limit", err)
	}
	return err
}

// retryTransient retries op while it fails with a retryable error.
func retryTransient[T any](ctx context.Context, o *Orchestrator, op string, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.TransientInitial
	b.MaxInterval = 30 * o.opts.TransientInitial
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !services.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.opts.TransientAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logging.WarnWithContext(logging.WithContext(ctx, o.logger), "transient failure; retrying", "workflow_transient_retry",
				logging.String("operation", op),
				logging.Error(err),
				logging.Duration("wait", wait),
				logging.String(logging.FieldImpact, "the stage is delayed"),
				logging.String(logging.FieldErrorHint, "persistent retries point at storage throttling"),
			)
		}),
	)
}
