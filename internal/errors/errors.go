package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrExtraction - primary extractor failed (recovered locally via the pattern
	// fallback, never shown to the visitor)
	ErrExtraction = errors.New("extraction failed")

	// ErrStateViolation - illegal session transition (fatal to the operation,
	// never silently coerced)
	ErrStateViolation = errors.New("state violation")

	// ErrDelivery - webhook delivery failed (recorded, surfaced to operators,
	// recoverable via manual resend)
	ErrDelivery = errors.New("delivery failed")

	// ErrStreamActive - a token stream is already in flight for the session
	ErrStreamActive = errors.New("stream already active")

	// ErrStreamAborted - expected stream cancellation (suppressed from alerts)
	ErrStreamAborted = errors.New("stream aborted")

	// ErrStreamUnsupported - provider has no native token streaming
	ErrStreamUnsupported = errors.New("streaming not supported")

	// ErrInvalidInput - invalid input (show validation error in interactive flows)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrTransient - transient error (retry with backoff)
	ErrTransient = errors.New("transient error")

	// ErrInvalidModelOutput - model returned malformed structured output
	ErrInvalidModelOutput = errors.New("invalid model output")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
