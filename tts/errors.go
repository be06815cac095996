package tts

import (
	"errors"
	"fmt"
)

// Sentinel errors for synthesis failures. A SynthesisError wraps the
// matching sentinel as its Cause where one applies, so errors.Is works
// on either form.
var (
	ErrInvalidVoice       = errors.New("invalid or unsupported voice")
	ErrEmptyText          = errors.New("text cannot be empty")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrServiceUnavailable = errors.New("TTS service unavailable")
)

// SynthesisError carries provider context for a failed synthesis
// request. Retryable distinguishes transient transport failures from
// rejections that would fail again with the same input.
type SynthesisError struct {
	Provider  string // provider name, e.g. "cartesia"
	Code      string // provider error code, empty for transport failures
	Message   string
	Cause     error
	Retryable bool
}

// NewSynthesisError creates a new SynthesisError.
func NewSynthesisError(provider, code, message string, cause error, retryable bool) *SynthesisError {
	return &SynthesisError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

func (e *SynthesisError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s tts: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s tts [%s]: %s", e.Provider, e.Code, e.Message)
}

func (e *SynthesisError) Unwrap() error {
	return e.Cause
}
