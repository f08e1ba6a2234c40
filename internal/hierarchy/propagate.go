package hierarchy

// ChildState is the part of a child entity the propagation fold reads.
type ChildState struct {
	Status Status
	Queued bool
}

// StateOf projects an entity onto the fold's input.
func StateOf(e Entity) ChildState {
	return ChildState{Status: e.Status, Queued: e.Queued}
}

// Aggregate computes a parent's status from the statuses of its active
// children. Callers pass only active children. The result depends on the set
// of child states and the current status, never on their order, and
// Aggregate(children, Aggregate(children, s)) == Aggregate(children, s).
//
// Parents that are ACCEPTED or REJECTED carry an operator decision and are
// returned unchanged.
func Aggregate(children []ChildState, current Status) Status {
	if len(children) == 0 || current.Resolved() {
		return current
	}

	var running, failed, rejected, waiting, accepted, completed int
	for _, c := range children {
		switch c.Status {
		case StatusRunning:
			running++
		case StatusReady:
			if c.Queued {
				running++
			}
		case StatusFailed:
			failed++
		case StatusRejected:
			rejected++
		case StatusWaiting:
			waiting++
		case StatusAccepted:
			accepted++
		case StatusCompleted:
			completed++
		}
	}
	n := len(children)

	switch {
	case running > 0:
		return StatusRunning
	case failed > 0:
		return StatusFailed
	case rejected > 0:
		return current
	case accepted == n:
		return StatusCompleted
	case accepted+completed == n:
		return StatusCompleted
	case waiting == n:
		return StatusWaiting
	}

	// Mixed progress: hold the current status unless it claims an outcome no
	// child supports any more.
	if current == StatusCompleted || current == StatusFailed {
		return StatusReady
	}
	return current
}

// EligibleForAccept reports whether every active child has been accepted.
func EligibleForAccept(children []ChildState) bool {
	for _, c := range children {
		if c.Status != StatusAccepted {
			return false
		}
	}
	return true
}

// PrerequisitesMet reports whether every prerequisite step is ACCEPTED.
func PrerequisitesMet(prereqs []Status) bool {
	for _, s := range prereqs {
		if s != StatusAccepted {
			return false
		}
	}
	return true
}
