package audio

import (
	"sync"
	"time"
)

// Default endpointing thresholds for telephony speech.
const (
	DefaultSilenceHold  = 700 * time.Millisecond
	DefaultMinSpeech    = 400 * time.Millisecond
	DefaultMaxUtterance = 30 * time.Second
)

// EndpointerParams configures utterance boundary detection.
type EndpointerParams struct {
	// FrameDuration is the fixed duration of each fed frame (default: 20 ms).
	FrameDuration time.Duration

	// SilenceHold is the trailing silence required to close an utterance
	// (default: 700 ms). Voiced activity resuming before the hold elapses
	// continues the same utterance.
	SilenceHold time.Duration

	// MinSpeech is the minimum voiced content for an utterance to be
	// emitted (default: 400 ms). Shorter bursts are discarded as noise.
	MinSpeech time.Duration

	// MaxUtterance bounds utterance length (default: 30 s). Longer speech
	// is force-closed and emitted early to bound memory and latency.
	MaxUtterance time.Duration
}

// DefaultEndpointerParams returns sensible defaults for endpointing.
func DefaultEndpointerParams() EndpointerParams {
	return EndpointerParams{
		FrameDuration: FrameDuration * time.Millisecond,
		SilenceHold:   DefaultSilenceHold,
		MinSpeech:     DefaultMinSpeech,
		MaxUtterance:  DefaultMaxUtterance,
	}
}

// Validate checks that endpointer parameters are within acceptable ranges.
func (p EndpointerParams) Validate() error {
	if p.FrameDuration <= 0 {
		return &ValidationError{Field: "FrameDuration", Message: "must be positive"}
	}
	if p.SilenceHold <= 0 {
		return &ValidationError{Field: "SilenceHold", Message: "must be positive"}
	}
	if p.MinSpeech < 0 {
		return &ValidationError{Field: "MinSpeech", Message: "must be non-negative"}
	}
	if p.MaxUtterance <= p.MinSpeech {
		return &ValidationError{Field: "MaxUtterance", Message: "must exceed MinSpeech"}
	}
	return nil
}

// ValidationError represents a parameter validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// Utterance is one contiguous span of detected speech, bounded by silence.
type Utterance struct {
	// PCM is the buffered audio, including trailing silence up to the hold.
	PCM []byte

	// Start is when the first voiced frame was seen.
	Start time.Time

	// LastVoiced is when the most recent voiced frame was seen.
	LastVoiced time.Time

	// VoicedFrames counts frames classified as speech.
	VoicedFrames int

	// Overflow marks an utterance force-closed at MaxUtterance.
	Overflow bool
}

// Duration returns the buffered audio duration given the frame parameters.
func (u Utterance) Duration(frameDur time.Duration) time.Duration {
	if FrameSizePCM16 == 0 {
		return 0
	}
	return time.Duration(len(u.PCM)/FrameSizePCM16) * frameDur
}

// UtteranceFunc receives a closed utterance. Handlers must not block;
// they run on the frame-feeding path.
type UtteranceFunc func(Utterance)

// Endpointer detects utterance boundaries in a live PCM16 frame stream.
// Frames are classified per-frame by a Detector; run-length state over the
// classifications decides where an utterance opens and closes.
type Endpointer struct {
	params   EndpointerParams
	detector Detector

	// Derived frame counts.
	silenceFrames   int
	minSpeechFrames int
	maxFrames       int

	mu           sync.Mutex
	buf          []byte
	speechBegun  bool
	silenceCount int
	voicedCount  int
	start        time.Time
	lastVoiced   time.Time
	suppressed   bool
	onUtterance  UtteranceFunc
}

// NewEndpointer creates an Endpointer with the given parameters and frame
// detector. A nil detector selects the energy-threshold fallback.
func NewEndpointer(params EndpointerParams, detector Detector) (*Endpointer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if detector == nil {
		detector = NewEnergyDetector(0)
	}
	return &Endpointer{
		params:          params,
		detector:        detector,
		silenceFrames:   int(params.SilenceHold / params.FrameDuration),
		minSpeechFrames: int(params.MinSpeech / params.FrameDuration),
		maxFrames:       int(params.MaxUtterance / params.FrameDuration),
	}, nil
}

// OnUtterance registers the handler for closed utterances.
func (e *Endpointer) OnUtterance(fn UtteranceFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUtterance = fn
}

// Suppress enables or disables listening. While suppressed, fed frames are
// dropped and any partially accumulated utterance is discarded.
func (e *Endpointer) Suppress(suppressed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suppressed = suppressed
	if suppressed {
		e.resetLocked()
	}
}

// Feed processes one fixed-duration PCM16 frame. It never blocks on I/O;
// a closed utterance is delivered synchronously to the registered handler.
func (e *Endpointer) Feed(frame []byte) {
	voiced := e.detector.Voiced(frame)

	var emit *Utterance

	e.mu.Lock()
	if e.suppressed {
		e.mu.Unlock()
		return
	}

	now := time.Now()
	switch {
	case voiced:
		if !e.speechBegun {
			e.speechBegun = true
			e.start = now
		}
		e.silenceCount = 0
		e.voicedCount++
		e.lastVoiced = now
		e.buf = append(e.buf, frame...)

	case e.speechBegun:
		e.silenceCount++
		// Keep trailing silence so utterances don't end clipped.
		e.buf = append(e.buf, frame...)

		if e.silenceCount >= e.silenceFrames {
			if e.voicedCount >= e.minSpeechFrames {
				emit = e.closeLocked(false)
			} else {
				// Too short, probably noise.
				e.resetLocked()
			}
		}
	}

	// Force-close oversized utterances to bound memory and latency.
	if emit == nil && e.speechBegun && len(e.buf)/FrameSizePCM16 >= e.maxFrames {
		emit = e.closeLocked(true)
	}

	handler := e.onUtterance
	e.mu.Unlock()

	if emit != nil && handler != nil {
		handler(*emit)
	}
}

// closeLocked finalizes the current buffer into an Utterance and resets
// state. Must be called with mu held.
func (e *Endpointer) closeLocked(overflow bool) *Utterance {
	u := &Utterance{
		PCM:          make([]byte, len(e.buf)),
		Start:        e.start,
		LastVoiced:   e.lastVoiced,
		VoicedFrames: e.voicedCount,
		Overflow:     overflow,
	}
	copy(u.PCM, e.buf)
	e.resetLocked()
	return u
}

// resetLocked clears accumulation state. Must be called with mu held.
func (e *Endpointer) resetLocked() {
	e.buf = nil
	e.speechBegun = false
	e.silenceCount = 0
	e.voicedCount = 0
}

// Reset clears all state for a new conversation.
func (e *Endpointer) Reset() {
	e.mu.Lock()
	e.resetLocked()
	e.mu.Unlock()
	e.detector.Reset()
}
