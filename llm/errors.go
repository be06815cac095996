package llm

import "errors"

// Common generation errors.
var (
	// ErrEmptyPrompt is returned when no messages are supplied.
	ErrEmptyPrompt = errors.New("prompt messages cannot be empty")

	// ErrRateLimited is returned when the provider rate limits requests.
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrServiceUnavailable is returned when the generation service is unavailable.
	ErrServiceUnavailable = errors.New("generation service unavailable")
)

// GenerationError provides detailed error information from generation providers.
type GenerationError struct {
	// Provider is the generation provider that returned the error.
	Provider string

	// Code is the provider-specific error code.
	Code string

	// Message is the error message.
	Message string

	// Cause is the underlying error (if any).
	Cause error

	// Retryable indicates if the error is transient and retry may succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + e.Message
}

// Unwrap returns the underlying error.
func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// NewGenerationError creates a new GenerationError.
func NewGenerationError(provider, code, message string, cause error, retryable bool) *GenerationError {
	return &GenerationError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}
