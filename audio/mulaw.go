package audio

import (
	"encoding/binary"
	"fmt"
)

// Telephony framing constants. Twilio Media Streams deliver G.711 µ-law
// mono at 8 kHz in 20 ms frames.
const (
	SampleRate8kHz = 8000
	FrameDuration  = 20                                    // milliseconds
	FrameSizeMuLaw = SampleRate8kHz * FrameDuration / 1000 // 160 bytes
	FrameSizePCM16 = FrameSizeMuLaw * 2                    // 320 bytes
	bytesPerSample = 2
)

const (
	// muLawBias is the µ-law companding bias (CCITT G.711).
	muLawBias = 0x84
	// muLawClip is the maximum linear magnitude before companding.
	muLawClip = 32635
)

// DecodeMuLawSample expands one µ-law byte to a linear PCM16 sample.
func DecodeMuLawSample(in byte) int16 {
	in = ^in
	exponent := (in >> 4) & 0x07
	mantissa := in & 0x0F
	sample := ((int16(mantissa) << 3) + muLawBias) << exponent
	sample -= muLawBias
	if in&0x80 != 0 {
		return -sample
	}
	return sample
}

// EncodeMuLawSample compands one linear PCM16 sample to a µ-law byte.
func EncodeMuLawSample(sample int16) byte {
	var sign byte
	v := int32(sample)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((v >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMuLaw converts µ-law bytes to little-endian PCM16.
// Output length is twice the input length.
func DecodeMuLaw(in []byte) []byte {
	out := make([]byte, len(in)*bytesPerSample)
	for i, b := range in {
		//nolint:gosec // Safe PCM16 conversion
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(DecodeMuLawSample(b)))
	}
	return out
}

// EncodeMuLaw converts little-endian PCM16 to µ-law bytes.
// Input length must be a multiple of 2.
func EncodeMuLaw(pcm []byte) ([]byte, error) {
	if len(pcm)%bytesPerSample != 0 {
		return nil, fmt.Errorf("pcm length %d is not a multiple of %d bytes per sample", len(pcm), bytesPerSample)
	}
	out := make([]byte, len(pcm)/bytesPerSample)
	for i := range out {
		//nolint:gosec // Safe PCM16 conversion
		sample := int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:]))
		out[i] = EncodeMuLawSample(sample)
	}
	return out, nil
}
