package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/karmalabs/karma/audio"
)

// sarvamTestPCM builds a short PCM16 ramp for synthesis fixtures.
func sarvamTestPCM(samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i*50)))
	}
	return pcm
}

func sarvamTTSServer(t *testing.T, pcm []byte, sampleRate int, gotReq *sarvamTTSRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-subscription-key") != "test-key" {
			t.Error("missing subscription key header")
		}
		if gotReq != nil {
			if err := json.NewDecoder(r.Body).Decode(gotReq); err != nil {
				t.Fatalf("decoding request: %v", err)
			}
		}
		wav := audio.WrapWAV(pcm, sampleRate)
		resp := sarvamTTSResponse{Audios: []string{base64.StdEncoding.EncodeToString(wav)}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestSarvamSynthesizeMuLaw(t *testing.T) {
	pcm := sarvamTestPCM(400)
	var gotReq sarvamTTSRequest
	server := sarvamTTSServer(t, pcm, 8000, &gotReq)
	defer server.Close()

	svc := NewSarvam("test-key", WithSarvamBaseURL(server.URL))
	reader, err := svc.Synthesize(context.Background(), "Haan beta, bolo.", DefaultSynthesisConfig())
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	defer reader.Close()

	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("reading audio: %v", err)
	}

	want, err := audio.EncodeMuLaw(pcm)
	if err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("output is not the companded payload audio")
	}

	if gotReq.Model != SarvamModelBulbul {
		t.Errorf("model = %q, want %q", gotReq.Model, SarvamModelBulbul)
	}
	if gotReq.Speaker != SarvamSpeakerKavya {
		t.Errorf("speaker = %q, want %q", gotReq.Speaker, SarvamSpeakerKavya)
	}
	if gotReq.SpeechSampleRate != "8000" {
		t.Errorf("speech_sample_rate = %q, want %q", gotReq.SpeechSampleRate, "8000")
	}
	if gotReq.TargetLanguage != "hi-IN" {
		t.Errorf("target_language_code = %q", gotReq.TargetLanguage)
	}
}

func TestSarvamSynthesizePCMUnwrapsContainer(t *testing.T) {
	pcm := sarvamTestPCM(200)
	server := sarvamTTSServer(t, pcm, 22050, nil)
	defer server.Close()

	svc := NewSarvam("test-key", WithSarvamBaseURL(server.URL))
	reader, err := svc.Synthesize(context.Background(), "Achha.", SynthesisConfig{Format: FormatPCM22k})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	defer reader.Close()

	got, _ := io.ReadAll(reader)
	if !bytes.Equal(got, pcm) {
		t.Error("pcm format should strip the container and return raw samples")
	}
}

func TestSarvamSynthesizeStreamOrdering(t *testing.T) {
	pcm := sarvamTestPCM(6000) // compands to 6000 bytes, two chunks
	server := sarvamTTSServer(t, pcm, 8000, nil)
	defer server.Close()

	svc := NewSarvam("test-key", WithSarvamBaseURL(server.URL))
	chunks, err := svc.SynthesizeStream(context.Background(), "Ek lambi baat.", DefaultSynthesisConfig())
	if err != nil {
		t.Fatalf("SynthesizeStream() error = %v", err)
	}

	var assembled []byte
	next := 0
	sawFinal := false
	for chunk := range chunks {
		if chunk.Error != nil {
			t.Fatalf("chunk error: %v", chunk.Error)
		}
		if chunk.Index != next {
			t.Errorf("chunk index = %d, want %d", chunk.Index, next)
		}
		next++
		assembled = append(assembled, chunk.Data...)
		sawFinal = chunk.Final
	}
	if !sawFinal {
		t.Error("last chunk should carry Final")
	}

	want, err := audio.EncodeMuLaw(pcm)
	if err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	if !bytes.Equal(assembled, want) {
		t.Error("assembled stream differs from the synthesized audio")
	}
}

func TestSarvamSynthesizeEmptyText(t *testing.T) {
	svc := NewSarvam("test-key")
	if _, err := svc.Synthesize(context.Background(), "   ", DefaultSynthesisConfig()); !errors.Is(err, ErrEmptyText) {
		t.Errorf("error = %v, want ErrEmptyText", err)
	}
}

func TestSarvamSynthesizeRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	svc := NewSarvam("test-key",
		WithSarvamBaseURL(server.URL),
		WithSarvamRetryDelay(time.Millisecond))
	_, err := svc.Synthesize(context.Background(), "Hello.", DefaultSynthesisConfig())
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited cause", err)
	}

	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("error type = %T, want *SynthesisError", err)
	}
	if !synthErr.Retryable {
		t.Error("rate limit should be retryable")
	}
}
