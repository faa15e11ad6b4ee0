// Package transcode adapts ffmpeg and ffprobe into the three media operations
// the pipeline needs: extracting a time range, concatenating compatible files
// and probing metadata.
//
// Extract tries a re-encode into the configured codec set first so that every
// part produced from heterogeneous chunks can later be joined with stream copy.
// When the re-encode fails it retries once with stream copy. Each attempt is
// verified by probing the output.
package transcode
