// Package logging assembles structured slog loggers used across cm.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so engine code tags log lines
// with entity fullnames, operation names, and correlation IDs. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
