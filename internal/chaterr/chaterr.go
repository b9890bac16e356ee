// Package chaterr classifies failures into the small taxonomy the
// orchestrator needs to turn an error into an outbound message, instead of
// using exceptions as control flow in the streaming path.
package chaterr

import "fmt"

// Code is one of the error taxonomy entries from the error-handling design.
type Code string

const (
	InvalidRequest     Code = "invalid_request"
	UpstreamUnavailable Code = "upstream_unavailable"
	UpstreamTimeout    Code = "upstream_timeout"
	BudgetExceeded     Code = "budget_exceeded"
	Cancelled          Code = "cancelled"
	Internal           Code = "internal"

	// The LLM adapter (spec.md §6) classifies failures with a narrower,
	// call-site-specific taxonomy. IOError and LLMError both map to
	// UpstreamUnavailable at the orchestrator boundary; EmptyResponse and
	// ProcessingError map to Internal.
	IOError        Code = "io_error"
	LLMError       Code = "llm_error"
	EmptyResponse  Code = "empty_response"
	ProcessingError Code = "processing_error"
)

// Error pairs a taxonomy code with the underlying cause and a human-readable
// message suitable for an outbound `error` frame.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error.
func New(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the taxonomy code from err, defaulting to Internal for
// errors that were never classified.
func CodeOf(err error) Code {
	var ce *Error
	if as(err, &ce) {
		return ce.Code
	}
	return Internal
}

// OrchestratorCode maps the LLM adapter's narrower taxonomy onto the
// orchestrator's outbound-facing set, per the mapping noted above: IOError
// and LLMError are both upstream failures, EmptyResponse and
// ProcessingError are both internal defects.
func OrchestratorCode(code Code) Code {
	switch code {
	case IOError, LLMError:
		return UpstreamUnavailable
	case EmptyResponse, ProcessingError:
		return Internal
	default:
		return code
	}
}

func as(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
