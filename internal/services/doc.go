// Package services defines shared error markers and context helpers consumed
// by the transition engine, the store, and the CLI.
//
// Key responsibilities:
//   - Sentinel errors for every failure class an operation can report, plus
//     the Wrap helper that keeps both the marker and the cause inspectable.
//   - Context helpers that stamp entity fullnames, operation names, and
//     correlation identifiers for logging and tracing.
package services
