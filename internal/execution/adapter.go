package execution

import (
	"context"

	"cmtools/internal/hierarchy"
)

// SubmissionDescriptor is everything an adapter needs to start one workflow
// execution. It is also what gets archived for audit.
type SubmissionDescriptor struct {
	Fullname   string            `yaml:"fullname"`
	Job        string            `yaml:"job"`
	Handler    string            `yaml:"handler"`
	Generation int               `yaml:"generation"`
	Command    string            `yaml:"command,omitempty"`
	InputColl  string            `yaml:"input_coll,omitempty"`
	OutputColl string            `yaml:"output_coll,omitempty"`
	DataQuery  string            `yaml:"data_query,omitempty"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

// PollResult is an execution's observed state. Diagnostic carries the raw
// failure text when Status is FAILED.
type PollResult struct {
	Status     hierarchy.Status
	Diagnostic string
}

// Adapter submits work and reports on it. Implementations may block on I/O;
// callers must not hold store transactions across these calls.
type Adapter interface {
	Submit(ctx context.Context, desc SubmissionDescriptor) (string, error)
	Poll(ctx context.Context, executionID string) (PollResult, error)
}
