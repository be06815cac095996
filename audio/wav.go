package audio

import (
	"bytes"
	"encoding/binary"
)

const (
	wavHeaderSize = 44
	wavFmtSize    = 16
	wavPCMFormat  = 1
)

// WrapWAV wraps raw mono PCM16 data in a WAV container at the given sample
// rate. STT and classifier collaborators take WAV payloads.
func WrapWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	dataLen := uint32(len(pcm))
	byteRate := uint32(sampleRate * bytesPerSample)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(wavHeaderSize-8)+dataLen)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(wavFmtSize))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(wavPCMFormat))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bytesPerSample)) // block align
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))             // bits per sample

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)

	return buf.Bytes()
}

// UnwrapWAV strips a WAV container and returns the raw PCM payload.
// Returns the input untouched if it does not look like a WAV file.
func UnwrapWAV(wav []byte) []byte {
	if len(wav) < wavHeaderSize || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wav
	}

	// Walk chunks looking for "data".
	pos := 12
	for pos+8 <= len(wav) {
		chunkID := string(wav[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		pos += 8
		if chunkID == "data" {
			end := pos + chunkSize
			if end > len(wav) {
				end = len(wav)
			}
			return wav[pos:end]
		}
		pos += chunkSize
	}

	// Malformed chunk list: assume a standard 44-byte header.
	return wav[wavHeaderSize:]
}
