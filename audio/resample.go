package audio

import (
	"encoding/binary"
	"fmt"
)

// Standard sample rates used across the pipeline.
const (
	// SampleRate16kHz is the rate most STT models expect.
	SampleRate16kHz = 16000
)

// ResamplePCM16 resamples little-endian PCM16 audio between sample rates
// using linear interpolation. Quality is adequate for speech; this is
// not meant for music.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}
	if len(input)%bytesPerSample != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d bytes per sample", len(input), bytesPerSample)
	}

	if fromRate == toRate {
		out := make([]byte, len(input))
		copy(out, input)
		return out, nil
	}

	inSamples := len(input) / bytesPerSample
	outSamples := inSamples * toRate / fromRate
	if outSamples == 0 {
		return []byte{}, nil
	}

	sample := func(i int) float64 {
		//nolint:gosec // PCM16 round-trips through uint16 by construction
		return float64(int16(binary.LittleEndian.Uint16(input[i*bytesPerSample:])))
	}

	step := float64(fromRate) / float64(toRate)
	output := make([]byte, outSamples*bytesPerSample)
	for i := 0; i < outSamples; i++ {
		pos := float64(i) * step
		idx := int(pos)

		var v float64
		if idx >= inSamples-1 {
			v = sample(inSamples - 1)
		} else {
			frac := pos - float64(idx)
			s0 := sample(idx)
			v = s0 + frac*(sample(idx+1)-s0)
		}
		//nolint:gosec // PCM16 round-trips through uint16 by construction
		binary.LittleEndian.PutUint16(output[i*bytesPerSample:], uint16(int16(v)))
	}

	return output, nil
}

// Resample8kTo16k upsamples telephony audio to the rate expected by STT.
func Resample8kTo16k(input []byte) ([]byte, error) {
	return ResamplePCM16(input, SampleRate8kHz, SampleRate16kHz)
}
