package pipeline

import (
	"time"

	"github.com/karmalabs/karma/audio"
	"github.com/karmalabs/karma/convo"
)

const (
	// DefaultEchoCooldown drops inbound frames after persona audio so the
	// persona does not transcribe the echo of its own playback.
	DefaultEchoCooldown = time.Second

	// DefaultClassifyWindow is how much caller audio is collected for the
	// voice-authenticity check.
	DefaultClassifyWindow = 3500 * time.Millisecond

	// DefaultMinClassifySpeechFrames is the minimum voiced frames needed
	// before the classifier is worth consulting at all.
	DefaultMinClassifySpeechFrames = 5

	// DefaultHistoryTurns bounds the prompt suffix sent to generation.
	DefaultHistoryTurns = 20

	// DefaultMaxConsecutiveFailures ends the call instead of looping on a
	// broken collaborator.
	DefaultMaxConsecutiveFailures = 3

	// DefaultTranscribeTimeout is the deadline for one STT call.
	DefaultTranscribeTimeout = 30 * time.Second

	// DefaultGenerateTimeout is the deadline for one generation stream.
	DefaultGenerateTimeout = 60 * time.Second

	// DefaultClassifyTimeout is the deadline for one classifier consult.
	DefaultClassifyTimeout = 10 * time.Second
)

// Transport identifies how wire audio reaches the session.
type Transport string

const (
	TransportTelephone Transport = "telephone"
	TransportBrowser   Transport = "browser"
)

// Config holds the per-session settings for a call pipeline.
type Config struct {
	CallID    string
	Transport Transport
	Persona   convo.Persona

	// Endpointer tunes turn segmentation; zero value uses defaults.
	Endpointer audio.EndpointerParams

	// HistoryTurns is the bounded suffix length for generation prompts.
	HistoryTurns int

	// BargeInEnabled lets the remote party interrupt the persona
	// mid-reply. When disabled, inbound audio is ignored while speaking.
	BargeInEnabled bool

	// RecordFullReplyOnBargeIn records the full intended reply as the
	// persona turn when interrupted; false records only the spoken spans.
	RecordFullReplyOnBargeIn bool

	// MutedSkipGeneration skips the generation call entirely while muted
	// instead of generating an unspoken reply.
	MutedSkipGeneration bool

	// ClassifyWindow is the caller-audio collection window; zero uses the
	// default. Classification is skipped when no classifier is wired.
	ClassifyWindow          time.Duration
	MinClassifySpeechFrames int

	EchoCooldown time.Duration

	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration
	ClassifyTimeout   time.Duration

	MaxConsecutiveFailures int
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportTelephone
	}
	if c.Persona.SystemPrompt == "" {
		c.Persona = convo.DefaultPersona()
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = DefaultHistoryTurns
	}
	if c.ClassifyWindow <= 0 {
		c.ClassifyWindow = DefaultClassifyWindow
	}
	if c.MinClassifySpeechFrames <= 0 {
		c.MinClassifySpeechFrames = DefaultMinClassifySpeechFrames
	}
	if c.EchoCooldown <= 0 {
		c.EchoCooldown = DefaultEchoCooldown
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = DefaultTranscribeTimeout
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = DefaultGenerateTimeout
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = DefaultClassifyTimeout
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
}
