// Package config loads, normalizes, and validates clipstitch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CLIPSTITCH_REDIS_PASSWORD. The Config type centralizes every knob the daemon
// and CLI need so storage, key-value and transcoder backends are discovered in
// one pass.
package config
