package execution

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"cmtools/internal/hierarchy"
)

const simulatedPrefix = "sim-"

// Simulation completes every submission immediately with Status.
type Simulation struct {
	Status     hierarchy.Status
	Diagnostic string
}

// NewSimulation returns a simulation adapter reporting status, which must be
// COMPLETED or FAILED.
func NewSimulation(status hierarchy.Status) (*Simulation, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("simulation status must be completed or failed, got %q", status)
	}
	sim := &Simulation{Status: status}
	if status == hierarchy.StatusFailed {
		sim.Diagnostic = "simulated failure"
	}
	return sim, nil
}

func (s *Simulation) Submit(ctx context.Context, desc SubmissionDescriptor) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return simulatedPrefix + uuid.NewString(), nil
}

func (s *Simulation) Poll(ctx context.Context, executionID string) (PollResult, error) {
	if err := ctx.Err(); err != nil {
		return PollResult{}, err
	}
	if strings.TrimSpace(executionID) == "" {
		return PollResult{}, fmt.Errorf("empty execution id")
	}
	return PollResult{Status: s.Status, Diagnostic: s.Diagnostic}, nil
}

// IsSimulated reports whether an execution id was issued by a Simulation.
func IsSimulated(executionID string) bool {
	return strings.HasPrefix(executionID, simulatedPrefix)
}
