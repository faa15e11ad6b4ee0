// Package workflow runs the durable per-clip state machine.
//
// A clip moves Pending → InProgress → SegmentsExtracting → SegmentsComplete →
// Stitching → Complete, and may drop to Failed from any non-terminal state.
// Every transition is appended to the clip's status history before the next
// side effect starts, so a run can be diagnosed, and resumed, from persisted
// state alone.
//
// The Orchestrator validates and persists submissions and executes one run.
// Segments fan out with a per-clip concurrency limit; the first unrecoverable
// segment failure cancels its siblings and fails the run without stitching.
// Only transient infrastructure errors are retried, with exponential backoff.
//
// The Scheduler feeds clip IDs to a fixed pool of workers and, on start,
// re-executes every clip whose last recorded status is not terminal. Recovery
// is safe because segment composition is idempotent.
package workflow
