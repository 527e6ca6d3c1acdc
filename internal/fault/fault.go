// Package fault defines the error taxonomy shared across the analysis
// pipeline. Every fatal error carries a Kind that callers can branch on
// without parsing message text.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// Input-stage failures. These abort a run immediately.
	InvalidIdentifier Kind = "invalid_identifier"
	UnsupportedFormat Kind = "unsupported_format"
	UpstreamFetchFailed Kind = "upstream_fetch_failed"

	// Segmentation failure. Aborts the run.
	BudgetTooSmall Kind = "budget_too_small"

	// Per-call gateway failures. Retried inside the orchestrator and never
	// surfaced past it unless retries are exhausted.
	RateLimited       Kind = "rate_limited"
	Timeout           Kind = "timeout"
	MalformedResponse Kind = "malformed_response"

	// All stages failed after retries. Run-fatal.
	AnalysisUnavailable Kind = "analysis_unavailable"
)

// Error wraps a cause with a pipeline error kind. Message is the
// user-visible text; it distinguishes "your input was invalid" from "the
// service is unavailable" without exposing retry counts or gateway
// diagnostics.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind carried by err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// Retryable reports whether a gateway call that failed with err may be
// retried with backoff. MalformedResponse has its own single-retry path.
func Retryable(err error) bool {
	switch KindOf(err) {
	case RateLimited, Timeout:
		return true
	}
	return false
}

// UserMessage returns the text shown to callers. Input faults explain what
// was wrong with the request; service faults say the analysis is
// unavailable.
func UserMessage(err error) string {
	var fe *Error
	if !errors.As(err, &fe) {
		return "analysis failed"
	}
	switch fe.Kind {
	case InvalidIdentifier:
		return "patent identifier is not valid: " + fe.Message
	case UnsupportedFormat:
		return "uploaded document could not be parsed: " + fe.Message
	case UpstreamFetchFailed:
		return "patent registry did not return the document: " + fe.Message
	case BudgetTooSmall:
		return "chunk budget is too small for this document: " + fe.Message
	case AnalysisUnavailable:
		return "the analysis service is currently unavailable"
	default:
		return fe.Message
	}
}
