// Package daemon drives one campaign to completion without an operator.
//
// A daemon holds a flock-based lock per campaign so two processes never
// advance the same campaign, then repeats prepare, queue, launch, check and
// (optionally) recursive accept with a fixed sleep between cycles. Each
// operation runs to completion even when the process is asked to stop; the
// stop request is honored between operations.
package daemon
