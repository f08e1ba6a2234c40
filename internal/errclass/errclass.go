// Package errclass looks up failure diagnostics in an operator-maintained
// table to decide whether a failed job may be tolerated.
package errclass

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Action is what the engine does with a classified failure.
type Action string

const (
	// ActionFail keeps the job FAILED. It is also the answer for unknown diagnostics.
	ActionFail Action = "fail"
	// ActionIgnore treats the job as COMPLETED.
	ActionIgnore Action = "ignore"
	// ActionRescue keeps the job FAILED and marks it as a supersede candidate.
	ActionRescue Action = "rescue"
	// ActionReview keeps the job FAILED and asks for operator review.
	ActionReview Action = "review"
)

// ErrorType is one row of the table.
type ErrorType struct {
	Name        string `yaml:"name"`
	Code        int    `yaml:"code"`
	DiagMessage string `yaml:"diag_message"`
	Action      Action `yaml:"action"`
	Ticket      string `yaml:"ticket,omitempty"`

	pattern *regexp.Regexp
}

// Tolerated reports whether the failure should not fail its job.
func (e ErrorType) Tolerated() bool {
	return e.Action == ActionIgnore
}

// Table is a read-only ordered list of error types. The zero value matches nothing.
type Table struct {
	types []ErrorType
}

type tableFile struct {
	Errors []ErrorType `yaml:"errors"`
}

// Load reads a table from a YAML file. An empty path yields an empty table.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return &Table{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read error table: %w", err)
	}
	return Parse(data)
}

// Parse builds a table from YAML of the form `errors: [{name, diag_message, action}]`.
func Parse(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse error table: %w", err)
	}
	table := &Table{types: make([]ErrorType, 0, len(file.Errors))}
	for i, et := range file.Errors {
		if strings.TrimSpace(et.Name) == "" {
			return nil, fmt.Errorf("error table entry %d: name is required", i)
		}
		pattern, err := regexp.Compile(et.DiagMessage)
		if err != nil {
			return nil, fmt.Errorf("error table entry %q: %w", et.Name, err)
		}
		et.pattern = pattern
		switch et.Action {
		case "":
			et.Action = ActionFail
		case ActionFail, ActionIgnore, ActionRescue, ActionReview:
		default:
			return nil, fmt.Errorf("error table entry %q: unknown action %q", et.Name, et.Action)
		}
		table.types = append(table.types, et)
	}
	return table, nil
}

// Lookup returns the first entry whose pattern matches diagnostic.
func (t *Table) Lookup(diagnostic string) (ErrorType, bool) {
	if t == nil || strings.TrimSpace(diagnostic) == "" {
		return ErrorType{}, false
	}
	for _, et := range t.types {
		if et.pattern.MatchString(diagnostic) {
			return et, true
		}
	}
	return ErrorType{}, false
}

// Len reports the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.types)
}
