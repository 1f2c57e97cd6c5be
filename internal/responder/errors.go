package responder

import (
	"errors"
	"fmt"
)

// FailureKind classifies collaborator failures.
type FailureKind string

const (
	FailureUnreachable FailureKind = "unreachable"
	FailureTimeout     FailureKind = "timeout"
	FailureUpstream    FailureKind = "upstream"
	FailureDecode      FailureKind = "decode"
	FailureUnavailable FailureKind = "unavailable"
)

// CollaboratorError reports that an external service could not produce an
// answer. It is logged and turned into a short notice for the user; the
// command is not retried.
type CollaboratorError struct {
	Collaborator string
	Kind         FailureKind
	Status       int // HTTP status for FailureUpstream
	Err          error
}

func (e *CollaboratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Collaborator, e.Kind)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Notice is the text shown to the user in place of a reply.
func (e *CollaboratorError) Notice() string {
	switch e.Kind {
	case FailureTimeout:
		return "error: request timed out"
	case FailureUnreachable:
		return "error: failed to request"
	case FailureDecode:
		return "error: failed to parse result"
	case FailureUpstream:
		if e.Status == 0 {
			return "error: unknown error"
		}
		if e.Status >= 500 {
			return "error: server error"
		}
		return "error: client error"
	case FailureUnavailable:
		return "error: command unavailable"
	default:
		return "error: unknown error"
	}
}

// IsCollaboratorError returns true if err wraps a CollaboratorError.
func IsCollaboratorError(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}

// NoticeFor returns the user-facing notice for any responder error.
func NoticeFor(err error) string {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Notice()
	}
	return "error: unknown error"
}
