package stt

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all transcriber implementations. Callers
// match them with errors.Is, including through a wrapping
// TranscriptionError.
var (
	ErrEmptyAudio         = errors.New("audio data is empty")
	ErrRateLimited        = errors.New("rate limited by provider")
	ErrServiceUnavailable = errors.New("STT service unavailable")
)

// TranscriptionError carries provider context for a failed transcription
// so the caller can decide whether the utterance is worth retrying.
type TranscriptionError struct {
	Provider  string // provider name, e.g. "cartesia"
	Code      string // provider error code, empty for transport failures
	Message   string
	Cause     error
	Retryable bool
}

// NewTranscriptionError creates a new TranscriptionError.
func NewTranscriptionError(provider, code, message string, cause error, retryable bool) *TranscriptionError {
	return &TranscriptionError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

func (e *TranscriptionError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s stt: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s stt [%s]: %s", e.Provider, e.Code, e.Message)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Cause
}
