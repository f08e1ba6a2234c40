package blocks

import (
	"fmt"

	"cmtools/internal/services"
)

// ConfigError reports a malformed document, a missing include, an unknown
// handler class, or a template that cannot be expanded. It matches
// services.ErrConfiguration under errors.Is.
type ConfigError struct {
	Block  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "config"
	if e.Block != "" {
		msg += fmt.Sprintf(" block %q", e.Block)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{services.ErrConfiguration}
	}
	return []error{services.ErrConfiguration, e.Err}
}
