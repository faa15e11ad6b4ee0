// Package services defines shared utilities consumed by the clip pipeline
// stages.
//
// Key responsibilities:
//   - Context helpers that stamp clip, episode, segment, run and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (retryable vs terminal) and rendered into status history.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
