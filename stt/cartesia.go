package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/karmalabs/karma/audio"
)

const (
	cartesiaSTTWSURL   = "wss://api.cartesia.ai/stt/websocket"
	cartesiaAPIVersion = "2025-04-16"

	// CartesiaModelInkWhisper is Cartesia's streaming transcription model.
	CartesiaModelInkWhisper = "ink-whisper"

	// sttChunkSize is the binary frame size for audio upload.
	sttChunkSize = 8192

	// defaultCartesiaSTTTimeout bounds a full transcription exchange.
	defaultCartesiaSTTTimeout = 30 * time.Second

	// sttDoneMessage signals end of audio to the server.
	sttDoneMessage = "done"
)

// CartesiaService implements Service using Cartesia's ink-whisper WebSocket
// transcription API. Audio is uploaded as raw PCM16 frames; the final
// transcript is assembled from the word stream.
type CartesiaService struct {
	apiKey  string
	wsURL   string
	dialer  *websocket.Dialer
	timeout time.Duration
}

// CartesiaOption configures the Cartesia STT service.
type CartesiaOption func(*CartesiaService)

// WithCartesiaWSURL sets a custom WebSocket URL.
func WithCartesiaWSURL(url string) CartesiaOption {
	return func(s *CartesiaService) {
		s.wsURL = url
	}
}

// WithCartesiaDialer sets a custom WebSocket dialer.
func WithCartesiaDialer(dialer *websocket.Dialer) CartesiaOption {
	return func(s *CartesiaService) {
		s.dialer = dialer
	}
}

// WithCartesiaTimeout sets the overall exchange timeout.
func WithCartesiaTimeout(timeout time.Duration) CartesiaOption {
	return func(s *CartesiaService) {
		s.timeout = timeout
	}
}

// NewCartesia creates a Cartesia STT service.
func NewCartesia(apiKey string, opts ...CartesiaOption) *CartesiaService {
	s := &CartesiaService{
		apiKey:  apiKey,
		wsURL:   cartesiaSTTWSURL,
		dialer:  websocket.DefaultDialer,
		timeout: defaultCartesiaSTTTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider identifier.
func (s *CartesiaService) Name() string {
	return "cartesia"
}

// cartesiaSTTMessage is one server message from the transcription stream.
type cartesiaSTTMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Words   []struct {
		Word string `json:"word"`
	} `json:"words,omitempty"`
}

// Transcribe uploads the audio and assembles the returned word stream.
func (s *CartesiaService) Transcribe(ctx context.Context, pcm []byte, config TranscriptionConfig) (string, error) {
	if len(pcm) == 0 {
		return "", ErrEmptyAudio
	}

	// The socket is declared pcm_s16le, so container bytes must not reach
	// the wire. Strip the RIFF header when the caller hands us WAV.
	if config.Format == FormatWAV {
		pcm = audio.UnwrapWAV(pcm)
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	model := config.Model
	if model == "" {
		model = CartesiaModelInkWhisper
	}

	wsURL := fmt.Sprintf(
		"%s?api_key=%s&cartesia_version=%s&model=%s&language=%s&encoding=pcm_s16le&sample_rate=%d",
		s.wsURL,
		url.QueryEscape(s.apiKey),
		cartesiaAPIVersion,
		url.QueryEscape(model),
		url.QueryEscape(shortLanguage(config.Language)),
		sampleRate,
	)

	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, _, err := s.dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return "", NewTranscriptionError("cartesia", "", "websocket dial failed", err, true)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	// Upload audio then signal end of stream.
	for offset := 0; offset < len(pcm); offset += sttChunkSize {
		end := offset + sttChunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[offset:end]); err != nil {
			return "", NewTranscriptionError("cartesia", "", "audio upload failed", err, true)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sttDoneMessage)); err != nil {
		return "", NewTranscriptionError("cartesia", "", "audio upload failed", err, true)
	}

	// Collect final transcripts until the done message.
	var words []string
	for {
		if ctx.Err() != nil {
			return "", NewTranscriptionError("cartesia", "", "transcription cancelled", ctx.Err(), false)
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return "", NewTranscriptionError("cartesia", "", "websocket read failed", err, true)
		}

		var msg cartesiaSTTMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			for _, w := range msg.Words {
				words = append(words, w.Word)
			}
		case "done":
			return strings.TrimSpace(strings.Join(words, " ")), nil
		case "error":
			return "", NewTranscriptionError("cartesia", "", msg.Message, nil, false)
		}
	}
}

// shortLanguage maps a BCP-47 tag to Cartesia's 2-letter language code.
func shortLanguage(language string) string {
	if language == "" {
		return "hi"
	}
	if idx := strings.IndexByte(language, '-'); idx > 0 {
		return language[:idx]
	}
	return language
}
