// Package logging assembles structured slog loggers and formatting helpers used
// across clipstitch.
//
// It owns the configurable console/JSON handlers and exposes context-aware
// helpers so stage code can automatically tag log lines with clip, episode,
// segment and run identifiers. The package also provides a no-op logger for
// tests and wiring code that cannot fail.
package logging
