package audio

import (
	"encoding/binary"
	"testing"
)

func TestResamplePCM16(t *testing.T) {
	t.Run("same rate returns copy", func(t *testing.T) {
		input := []byte{1, 2, 3, 4}
		output, err := ResamplePCM16(input, 8000, 8000)
		if err != nil {
			t.Fatalf("ResamplePCM16() error = %v", err)
		}
		if len(output) != len(input) {
			t.Errorf("length = %d, want %d", len(output), len(input))
		}
		output[0] = 99
		if input[0] == 99 {
			t.Error("output aliases input")
		}
	})

	t.Run("invalid rates", func(t *testing.T) {
		if _, err := ResamplePCM16(nil, 0, 16000); err == nil {
			t.Error("expected error for zero from-rate")
		}
		if _, err := ResamplePCM16(nil, 8000, -1); err == nil {
			t.Error("expected error for negative to-rate")
		}
	})

	t.Run("odd length rejected", func(t *testing.T) {
		if _, err := ResamplePCM16(make([]byte, 5), 8000, 16000); err == nil {
			t.Error("expected error for odd-length input")
		}
	})

	t.Run("upsample doubles samples", func(t *testing.T) {
		input := make([]byte, 320) // 160 samples at 8 kHz
		for i := 0; i < 160; i++ {
			binary.LittleEndian.PutUint16(input[i*2:], uint16(int16(i*100)))
		}

		output, err := Resample8kTo16k(input)
		if err != nil {
			t.Fatalf("Resample8kTo16k() error = %v", err)
		}
		if len(output) != 640 {
			t.Errorf("output length = %d, want 640", len(output))
		}
	})

	t.Run("constant signal preserved", func(t *testing.T) {
		input := make([]byte, 100)
		for i := 0; i < 50; i++ {
			binary.LittleEndian.PutUint16(input[i*2:], uint16(int16(1000)))
		}

		output, err := ResamplePCM16(input, 8000, 16000)
		if err != nil {
			t.Fatalf("ResamplePCM16() error = %v", err)
		}
		for i := 0; i < len(output)/2; i++ {
			s := int16(binary.LittleEndian.Uint16(output[i*2:]))
			if s != 1000 {
				t.Fatalf("sample %d = %d, want 1000", i, s)
			}
		}
	})
}
