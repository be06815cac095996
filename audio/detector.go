package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// Detector classifies a single PCM16 frame as voiced or unvoiced.
// Implementations must be safe for use from one feeding goroutine;
// the EnergyDetector additionally tolerates concurrent callers.
type Detector interface {
	// Name returns the detector identifier (for logging/debugging).
	Name() string

	// Voiced reports whether the frame contains speech.
	// A failing detector should report false rather than error; endpointing
	// treats unclassifiable frames as silence.
	Voiced(frame []byte) bool

	// Reset clears accumulated state for a new conversation.
	Reset()
}

const (
	// defaultSmoothingAlpha is the exponential smoothing factor (0.0-1.0).
	defaultSmoothingAlpha = 0.3
	// pcmMaxAmplitude is the maximum amplitude for 16-bit signed audio.
	pcmMaxAmplitude = 32768.0
	// DefaultEnergyThreshold is the normalized RMS above which a frame
	// counts as voiced. Telephony speech typically sits at 0.05-0.3.
	DefaultEnergyThreshold = 0.015
)

// EnergyDetector is a voice activity detector using RMS (Root Mean Square)
// analysis with exponential smoothing. It is the fallback used when no
// dedicated voice-activity classifier is configured.
type EnergyDetector struct {
	threshold float64

	mu          sync.Mutex
	smoothedRMS float64
	alpha       float64
}

// NewEnergyDetector creates an EnergyDetector with the given RMS threshold.
// A threshold of 0 selects DefaultEnergyThreshold.
func NewEnergyDetector(threshold float64) *EnergyDetector {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return &EnergyDetector{
		threshold: threshold,
		alpha:     defaultSmoothingAlpha,
	}
}

// Name returns the detector identifier.
func (d *EnergyDetector) Name() string {
	return "energy-rms"
}

// Voiced reports whether the frame's smoothed RMS exceeds the threshold.
func (d *EnergyDetector) Voiced(frame []byte) bool {
	rms := calculateRMS(frame)

	d.mu.Lock()
	d.smoothedRMS = d.alpha*rms + (1-d.alpha)*d.smoothedRMS
	smoothed := d.smoothedRMS
	d.mu.Unlock()

	return smoothed >= d.threshold
}

// Reset clears the smoothing state for a new conversation.
func (d *EnergyDetector) Reset() {
	d.mu.Lock()
	d.smoothedRMS = 0
	d.mu.Unlock()
}

// calculateRMS computes the Root Mean Square of 16-bit PCM audio samples,
// normalized to 0.0-1.0.
func calculateRMS(frame []byte) float64 {
	numSamples := len(frame) / bytesPerSample
	if numSamples == 0 {
		return 0
	}

	var sumSquares float64
	for i := 0; i < numSamples; i++ {
		// #nosec G115 -- overflow is intentional for signed PCM conversion
		sample := int16(binary.LittleEndian.Uint16(frame[i*bytesPerSample:]))
		normalized := float64(sample) / pcmMaxAmplitude
		sumSquares += normalized * normalized
	}

	return math.Sqrt(sumSquares / float64(numSamples))
}
