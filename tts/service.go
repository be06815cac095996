// Package tts defines the text-to-speech collaborator interface and its
// Cartesia-backed implementation.
package tts

import (
	"context"
	"io"
)

// Service converts text to speech audio.
// This interface abstracts different TTS providers, enabling the pipeline
// to use any provider interchangeably.
type Service interface {
	// Name returns the provider identifier (for logging/debugging).
	Name() string

	// Synthesize converts text to audio.
	// Returns a reader for streaming audio data.
	// The caller is responsible for closing the reader.
	Synthesize(ctx context.Context, text string, config SynthesisConfig) (io.ReadCloser, error)

	// SupportedFormats returns supported audio output formats.
	SupportedFormats() []AudioFormat
}

// StreamingService extends Service with streaming synthesis capabilities.
// Streaming TTS provides lower latency by returning audio chunks as they're
// generated.
type StreamingService interface {
	Service

	// SynthesizeStream converts text to audio with streaming output.
	// Returns a channel that receives audio chunks as they're generated.
	// The channel is closed when synthesis completes or an error occurs.
	SynthesizeStream(ctx context.Context, text string, config SynthesisConfig) (<-chan AudioChunk, error)
}

// AudioChunk represents a chunk of synthesized audio data.
type AudioChunk struct {
	// Data is the raw audio bytes.
	Data []byte

	// Index is the chunk sequence number (0-indexed).
	Index int

	// Final indicates this is the last chunk.
	Final bool

	// Error is set if an error occurred during synthesis.
	Error error
}

// SynthesisConfig configures text-to-speech synthesis.
type SynthesisConfig struct {
	// Voice is the voice ID to use for synthesis.
	Voice string

	// Format is the output audio format.
	// Default is µ-law 8 kHz for telephony.
	Format AudioFormat

	// Language is the language code for synthesis (e.g., "hi-IN").
	Language string

	// Model is the TTS model to use (provider-specific).
	Model string
}

// DefaultSynthesisConfig returns sensible defaults for telephony synthesis.
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{
		Format:   FormatMuLaw8k,
		Language: "hi-IN",
	}
}

// AudioFormat describes an audio output format.
type AudioFormat struct {
	// Name is the format identifier ("mulaw", "pcm", "wav").
	Name string

	// MIMEType is the content type (e.g., "audio/basic").
	MIMEType string

	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// BitDepth is the bits per sample (for PCM formats).
	BitDepth int

	// Channels is the number of audio channels (1=mono, 2=stereo).
	Channels int
}

// Common audio formats.
var (
	// FormatMuLaw8k is raw G.711 µ-law at 8 kHz, byte-compatible with
	// telephony media streams. No transcoding needed on the wire path.
	FormatMuLaw8k = AudioFormat{
		Name:       "mulaw",
		MIMEType:   "audio/basic",
		SampleRate: 8000,
		BitDepth:   8,
		Channels:   1,
	}

	// FormatPCM22k is raw 16-bit PCM at 22.05 kHz (browser playback).
	FormatPCM22k = AudioFormat{
		Name:       "pcm",
		MIMEType:   "audio/pcm",
		SampleRate: 22050,
		BitDepth:   16,
		Channels:   1,
	}

	// FormatWAV22k is WAV-wrapped PCM at 22.05 kHz.
	FormatWAV22k = AudioFormat{
		Name:       "wav",
		MIMEType:   "audio/wav",
		SampleRate: 22050,
		BitDepth:   16,
		Channels:   1,
	}
)

// String returns the format name.
func (f AudioFormat) String() string {
	return f.Name
}
