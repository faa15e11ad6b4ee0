// Package clip holds the domain model shared by every pipeline stage: logical
// segments, workflow inputs, clip and segment statuses, deterministic object
// keys and resolution classes.
package clip
