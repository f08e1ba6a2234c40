package hierarchy

import "strings"

// Status is the persisted lifecycle state of an entity, job, or script run.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusReady      Status = "ready"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
	StatusSuperseded Status = "superseded"
)

var allStatuses = []Status{
	StatusWaiting,
	StatusReady,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusAccepted,
	StatusRejected,
	StatusSuperseded,
}

var statusRank = map[Status]int{
	StatusWaiting:    0,
	StatusReady:      1,
	StatusRunning:    2,
	StatusCompleted:  3,
	StatusFailed:     3,
	StatusAccepted:   4,
	StatusRejected:   4,
	StatusSuperseded: 5,
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status, reporting whether it was recognized.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusRank[normalized]
	return normalized, ok
}

// Rank orders statuses along WAITING < READY < RUNNING < {COMPLETED, FAILED}
// < {ACCEPTED, REJECTED}. Unknown statuses rank -1.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Before reports whether s is strictly earlier than other in the lifecycle.
func (s Status) Before(other Status) bool {
	return s.Rank() >= 0 && s.Rank() < other.Rank()
}

// Finished reports whether an execution in this status has stopped.
func (s Status) Finished() bool {
	return s.Rank() >= 3
}

// Resolved reports whether an operator decision has been recorded.
func (s Status) Resolved() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Terminal reports whether s is an execution outcome a simulation or poll may report.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Upper renders the status the way operators write it.
func (s Status) Upper() string {
	return strings.ToUpper(string(s))
}
