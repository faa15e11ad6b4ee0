// Package main hosts the clipstitch CLI entrypoint and command graph.
//
// Most commands talk to a running clipstitchd over its HTTP API. The run and
// probe commands work in-process and need no daemon. Configuration resolution
// and the API address live in the shared command context so subcommands only
// deal with presentation.
package main
