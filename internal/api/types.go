package api

import (
	"clipstitch/internal/clip"
	"clipstitch/internal/ledger"
	"clipstitch/internal/tracks"
	"clipstitch/internal/workflow"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// HistoryEntry is one status change in transport form.
type HistoryEntry struct {
	Status            string  `json:"status"`
	Timestamp         string  `json:"timestamp"`
	RunID             string  `json:"runId,omitempty"`
	Error             string  `json:"error,omitempty"`
	Interrupted       bool    `json:"interrupted,omitempty"`
	SegmentCount      int     `json:"segmentCount,omitempty"`
	SegmentIndex      int     `json:"segmentIndex,omitempty"`
	ProcessingSeconds float64 `json:"processingSeconds,omitempty"`
	DurationSeconds   float64 `json:"durationSeconds,omitempty"`
	Key               string  `json:"key,omitempty"`
	Size              int64   `json:"size,omitempty"`
}

// ClipStatus is the current state of a clip with its full history and the
// segments of its latest run in clip order.
type ClipStatus struct {
	ClipID   string         `json:"clipId"`
	Current  HistoryEntry   `json:"current"`
	History  []HistoryEntry `json:"history"`
	Segments []clip.Segment `json:"segments,omitempty"`
}

// HistoryResponse wraps a status history.
type HistoryResponse struct {
	ClipID  string         `json:"clipId"`
	History []HistoryEntry `json:"history"`
}

// SubmitResponse acknowledges an accepted clip event.
type SubmitResponse struct {
	ClipID string `json:"clipId"`
	RunID  string `json:"runId"`
	Run    int64  `json:"run"`
	Status string `json:"status"`
}

// ClipListResponse lists submitted clip IDs.
type ClipListResponse struct {
	Clips []string `json:"clips"`
}

// TrackListResponse lists an episode's tracks.
type TrackListResponse struct {
	EpisodeID string         `json:"episodeId"`
	Tracks    []tracks.Track `json:"tracks"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// FromEntry converts a ledger entry.
func FromEntry(e ledger.Entry) HistoryEntry {
	out := HistoryEntry{
		Status:            e.Status,
		RunID:             e.RunID,
		Error:             e.Error,
		Interrupted:       e.Interrupted,
		SegmentCount:      e.SegmentCount,
		SegmentIndex:      e.SegmentIndex,
		ProcessingSeconds: e.ProcessingSeconds,
		DurationSeconds:   e.DurationSeconds,
		Key:               e.Key,
		Size:              e.Size,
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(dateTimeFormat)
	}
	return out
}

// FromHistory converts a history in order.
func FromHistory(history []ledger.Entry) []HistoryEntry {
	out := make([]HistoryEntry, len(history))
	for i, e := range history {
		out[i] = FromEntry(e)
	}
	return out
}

// FromSubmission converts a workflow submission.
func FromSubmission(sub workflow.Submission) SubmitResponse {
	return SubmitResponse{ClipID: sub.ClipID, RunID: sub.RunID, Run: sub.Run, Status: string(sub.Status)}
}
