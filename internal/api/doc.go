// Package api serves the clip workflow over HTTP and provides the matching
// client.
//
// # Routes
//
//	POST /api/clips                          submit a clip event (rate limited)
//	GET  /api/clips                          list submitted clips
//	GET  /api/clips/{clipID}                 current status plus history
//	GET  /api/clips/{clipID}/history         status history only
//	GET  /api/clips/{clipID}/segments/{n}    one segment's history
//	POST /api/episodes/{episodeID}/tracks    register a track
//	GET  /api/episodes/{episodeID}/tracks    list tracks
//	GET  /api/status                         scheduler summary
//	GET  /healthz
//	GET  /metrics
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 with milliseconds.
// Errors are returned as {"error": "..."} with a status derived from the
// error's marker: validation 400, not found 404, conflict 409, otherwise 500.
package api
