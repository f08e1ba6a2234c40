// Package preflight provides readiness checks for the directories, store,
// and backends the engine depends on.
//
// These checks run in two contexts:
//   - "cm daemon" calls RunAll before its first iteration and refuses to
//     start when a check fails.
//   - The CLI "cm preflight" command prints every result.
//
// Checks for backends that are not configured are skipped.
package preflight
