package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrUnknownHandler    = errors.New("unknown handler")
	ErrDuplicateEntity   = errors.New("duplicate entity")
	ErrNotFound          = errors.New("not found")
	ErrStaleState        = errors.New("stale state")
	ErrSubmission        = errors.New("external submission error")
	ErrPoll              = errors.New("external poll error")
	ErrIntegrity         = errors.New("integrity violation")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidation        = errors.New("validation error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker so callers can classify it with errors.Is. The
// marker should be one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrIntegrity
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether the caller may reload and retry the operation
// that produced err, either immediately or on the next scheduled cycle.
func Retryable(err error) bool {
	return errors.Is(err, ErrStaleState) || errors.Is(err, ErrPoll) || errors.Is(err, ErrSubmission)
}

// Kind names the sentinel carried by err, or "unknown".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "config"
	case errors.Is(err, ErrUnknownHandler):
		return "unknown_handler"
	case errors.Is(err, ErrDuplicateEntity):
		return "duplicate"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStaleState):
		return "stale"
	case errors.Is(err, ErrSubmission):
		return "submission"
	case errors.Is(err, ErrPoll):
		return "poll"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "unknown"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "operation failure"
	}
	return strings.Join(parts, ": ")
}
