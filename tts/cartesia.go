package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	cartesiaBaseURL    = "https://api.cartesia.ai"
	cartesiaWSURL      = "wss://api.cartesia.ai/tts/websocket"
	cartesiaRESTPath   = "/tts/bytes"
	cartesiaAPIVersion = "2025-04-16"

	// CartesiaModelSonic3 is the Sonic 3 low-latency TTS model.
	CartesiaModelSonic3 = "sonic-3"

	// CartesiaVoiceIndianLady is the default Hindi female voice.
	CartesiaVoiceIndianLady = "3b554273-4299-48b9-9aaf-eefd438e3941"

	// Default timeout for Cartesia requests.
	defaultCartesiaTimeout = 30 * time.Second

	// streamChannelBuffer is the buffer size for streaming audio chunks.
	streamChannelBuffer = 64

	// HTTP status code threshold for server errors.
	serverErrorThreshold = 500
)

// CartesiaService implements TTS using Cartesia's ultra-low latency API.
// Streaming synthesis outputs raw µ-law 8 kHz chunks that can be forwarded
// to the telephony wire without transcoding.
type CartesiaService struct {
	apiKey  string
	baseURL string
	wsURL   string
	client  *http.Client
	dialer  *websocket.Dialer
	model   string
	voice   string
}

// CartesiaOption configures the Cartesia TTS service.
type CartesiaOption func(*CartesiaService)

// WithCartesiaBaseURL sets a custom base URL.
func WithCartesiaBaseURL(url string) CartesiaOption {
	return func(s *CartesiaService) {
		s.baseURL = url
	}
}

// WithCartesiaWSURL sets a custom WebSocket URL.
func WithCartesiaWSURL(url string) CartesiaOption {
	return func(s *CartesiaService) {
		s.wsURL = url
	}
}

// WithCartesiaClient sets a custom HTTP client.
func WithCartesiaClient(client *http.Client) CartesiaOption {
	return func(s *CartesiaService) {
		s.client = client
	}
}

// WithCartesiaModel sets the TTS model.
func WithCartesiaModel(model string) CartesiaOption {
	return func(s *CartesiaService) {
		s.model = model
	}
}

// WithCartesiaVoice sets the default voice ID.
func WithCartesiaVoice(voice string) CartesiaOption {
	return func(s *CartesiaService) {
		s.voice = voice
	}
}

// NewCartesia creates a Cartesia TTS service.
func NewCartesia(apiKey string, opts ...CartesiaOption) *CartesiaService {
	s := &CartesiaService{
		apiKey:  apiKey,
		baseURL: cartesiaBaseURL,
		wsURL:   cartesiaWSURL,
		client:  &http.Client{Timeout: defaultCartesiaTimeout},
		dialer:  websocket.DefaultDialer,
		model:   CartesiaModelSonic3,
		voice:   CartesiaVoiceIndianLady,
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

// cartesiaRequest is the request body for both REST and WebSocket synthesis.
type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoiceConfig  `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
	ContextID    string               `json:"context_id,omitempty"`
	Continue     bool                 `json:"continue"`
}

type cartesiaVoiceConfig struct {
	Mode string `json:"mode"`
	ID   string `json:"id,omitempty"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// buildRequest assembles a synthesis request from the config and defaults.
func (s *CartesiaService) buildRequest(text string, config SynthesisConfig) cartesiaRequest {
	voice := config.Voice
	if voice == "" {
		voice = s.voice
	}
	model := config.Model
	if model == "" {
		model = s.model
	}
	return cartesiaRequest{
		ModelID:      model,
		Transcript:   text,
		Voice:        cartesiaVoiceConfig{Mode: "id", ID: voice},
		OutputFormat: mapFormat(config.Format),
		Language:     shortLanguage(config.Language),
	}
}

// Synthesize converts text to audio using Cartesia's REST API.
// For streaming output, use SynthesizeStream instead.
func (s *CartesiaService) Synthesize(
	ctx context.Context, text string, config SynthesisConfig,
) (io.ReadCloser, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	bodyBytes, err := json.Marshal(s.buildRequest(text, config))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.baseURL+cartesiaRESTPath,
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-API-Key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cartesia-Version", cartesiaAPIVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, NewSynthesisError("cartesia", "", "request failed", err, true)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, s.handleError(resp)
	}

	return resp.Body, nil
}

// cartesiaWSResponse represents a WebSocket response from Cartesia.
type cartesiaWSResponse struct {
	StatusCode int    `json:"status_code"`
	Done       bool   `json:"done"`
	Type       string `json:"type"`
	Data       string `json:"data"` // Base64-encoded audio
	Error      string `json:"error,omitempty"`
}

// SynthesizeStream converts text to audio over the streaming WebSocket API.
// The returned channel receives chunks as synthesis progresses and closes
// when the provider signals completion, fails, or ctx is cancelled.
func (s *CartesiaService) SynthesizeStream(
	ctx context.Context, text string, config SynthesisConfig,
) (<-chan AudioChunk, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	wsURL := fmt.Sprintf(
		"%s?api_key=%s&cartesia_version=%s",
		s.wsURL, url.QueryEscape(s.apiKey), cartesiaAPIVersion,
	)

	conn, _, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, NewSynthesisError("cartesia", "", "websocket dial failed", err, true)
	}

	req := s.buildRequest(text, config)
	req.ContextID = uuid.NewString()

	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, NewSynthesisError("cartesia", "", "request write failed", err, true)
	}

	chunks := make(chan AudioChunk, streamChannelBuffer)
	go s.readStream(ctx, conn, chunks)
	return chunks, nil
}

// readStream forwards decoded audio chunks until done, error, or cancellation.
func (s *CartesiaService) readStream(ctx context.Context, conn *websocket.Conn, chunks chan<- AudioChunk) {
	defer close(chunks)
	defer conn.Close()

	// Unblock ReadMessage when the caller cancels.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	index := 0
	for {
		var resp cartesiaWSResponse
		if err := conn.ReadJSON(&resp); err != nil {
			if ctx.Err() == nil {
				s.sendChunk(ctx, chunks, AudioChunk{
					Error: NewSynthesisError("cartesia", "", "websocket read failed", err, true),
				})
			}
			return
		}

		if resp.Error != "" {
			s.sendChunk(ctx, chunks, AudioChunk{
				Error: NewSynthesisError("cartesia", "", resp.Error, nil, false),
			})
			return
		}

		if resp.Type == "chunk" && resp.Data != "" {
			audioData, err := base64.StdEncoding.DecodeString(resp.Data)
			if err != nil {
				s.sendChunk(ctx, chunks, AudioChunk{
					Error: NewSynthesisError("cartesia", "", "invalid audio payload", err, false),
				})
				return
			}
			if !s.sendChunk(ctx, chunks, AudioChunk{Data: audioData, Index: index, Final: resp.Done}) {
				return
			}
			index++
		}

		if resp.Done {
			return
		}
	}
}

// sendChunk delivers a chunk unless the context is cancelled.
func (s *CartesiaService) sendChunk(ctx context.Context, chunks chan<- AudioChunk, chunk AudioChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// mapFormat converts AudioFormat to Cartesia format config.
func mapFormat(format AudioFormat) cartesiaOutputFormat {
	switch format.Name {
	case "wav":
		return cartesiaOutputFormat{
			Container:  "wav",
			Encoding:   "pcm_s16le",
			SampleRate: format.SampleRate,
		}
	case "pcm":
		return cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: format.SampleRate,
		}
	default:
		// Default to telephony µ-law (also handles "mulaw" explicitly).
		return cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_mulaw",
			SampleRate: 8000,
		}
	}
}

// shortLanguage maps a BCP-47 tag to Cartesia's 2-letter language code.
func shortLanguage(language string) string {
	if language == "" {
		return ""
	}
	if idx := strings.IndexByte(language, '-'); idx > 0 {
		return language[:idx]
	}
	return language
}

// cartesiaErrorResponse represents an error response from Cartesia.
type cartesiaErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleError processes an error response from Cartesia.
func (s *CartesiaService) handleError(resp *http.Response) error {
	var errResp cartesiaErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return NewSynthesisError(
			"cartesia",
			fmt.Sprintf("%d", resp.StatusCode),
			"unknown error",
			err,
			resp.StatusCode >= serverErrorThreshold,
		)
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= serverErrorThreshold

	var cause error
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		cause = ErrRateLimited
	case http.StatusNotFound:
		cause = ErrInvalidVoice
	}

	message := errResp.Message
	if message == "" {
		message = errResp.Error
	}

	return NewSynthesisError(
		"cartesia",
		errResp.Error,
		message,
		cause,
		retryable,
	)
}

// SupportedFormats returns audio formats supported by Cartesia.
func (s *CartesiaService) SupportedFormats() []AudioFormat {
	return []AudioFormat{FormatMuLaw8k, FormatPCM22k, FormatWAV22k}
}
