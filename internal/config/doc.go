// Package config loads, normalizes, and validates the cm runtime context.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and overlays CM_-prefixed environment
// variables. The resulting Config is constructed once at startup and passed
// explicitly to the store, the transition engine, and the daemon; nothing in
// the repository reads process-wide settings on its own.
package config
