// Package daemon coordinates the long-running clipstitch process.
//
// Build wires configuration into the storage, kv, cache, media and workflow
// layers. Daemon owns the lifecycle on top of that: a flock-based single
// instance lock, the clip scheduler and the HTTP API server, started in that
// order and stopped in reverse.
package daemon
