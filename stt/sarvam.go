package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/karmalabs/karma/audio"
)

const (
	sarvamBaseURL = "https://api.sarvam.ai"
	sarvamSTTPath = "/speech-to-text"

	// SarvamModelSaaras is Sarvam's speech-to-text model.
	SarvamModelSaaras = "saaras:v3"

	sarvamMaxRetries = 3
	sarvamRetryDelay = time.Second
)

// SarvamService implements Service using Sarvam's REST transcription API.
// Sarvam takes a WAV upload, so raw PCM input is wrapped in a container
// before the request goes out.
type SarvamService struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	retryDelay time.Duration
}

// SarvamOption configures the Sarvam STT service.
type SarvamOption func(*SarvamService)

// WithSarvamBaseURL sets a custom base URL.
func WithSarvamBaseURL(url string) SarvamOption {
	return func(s *SarvamService) {
		s.baseURL = url
	}
}

// WithSarvamClient sets a custom HTTP client.
func WithSarvamClient(client *http.Client) SarvamOption {
	return func(s *SarvamService) {
		s.client = client
	}
}

// WithSarvamRetryDelay sets the base delay between retries.
func WithSarvamRetryDelay(delay time.Duration) SarvamOption {
	return func(s *SarvamService) {
		s.retryDelay = delay
	}
}

// NewSarvam creates a Sarvam STT service.
func NewSarvam(apiKey string, opts ...SarvamOption) *SarvamService {
	s := &SarvamService{
		apiKey:     apiKey,
		baseURL:    sarvamBaseURL,
		client:     &http.Client{Timeout: defaultCartesiaSTTTimeout},
		retryDelay: sarvamRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider identifier.
func (s *SarvamService) Name() string {
	return "sarvam"
}

// sarvamSTTResponse is the transcription response body.
type sarvamSTTResponse struct {
	Transcript string `json:"transcript"`
}

// Transcribe uploads the audio as a multipart WAV and returns the
// transcript. Server errors are retried with a linear backoff before the
// last response is surfaced.
func (s *SarvamService) Transcribe(ctx context.Context, pcm []byte, config TranscriptionConfig) (string, error) {
	if len(pcm) == 0 {
		return "", ErrEmptyAudio
	}

	wav := pcm
	if config.Format != FormatWAV {
		sampleRate := config.SampleRate
		if sampleRate == 0 {
			sampleRate = DefaultSampleRate
		}
		wav = audio.WrapWAV(pcm, sampleRate)
	}

	model := config.Model
	if model == "" {
		model = SarvamModelSaaras
	}
	language := config.Language
	if language == "" {
		language = "hi-IN"
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", NewTranscriptionError("sarvam", "", "building upload form", err, false)
	}
	if _, err := part.Write(wav); err != nil {
		return "", NewTranscriptionError("sarvam", "", "building upload form", err, false)
	}
	_ = form.WriteField("model", model)
	_ = form.WriteField("language_code", language)
	if err := form.Close(); err != nil {
		return "", NewTranscriptionError("sarvam", "", "building upload form", err, false)
	}

	resp, err := s.post(ctx, s.baseURL+sarvamSTTPath, form.FormDataContentType(), body.Bytes())
	if err != nil {
		return "", NewTranscriptionError("sarvam", "", "request failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.statusError(resp)
	}

	var result sarvamSTTResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", NewTranscriptionError("sarvam", "", "decoding response", err, false)
	}
	return strings.TrimSpace(result.Transcript), nil
}

// post sends the request, retrying 5xx responses with linear backoff. The
// last response is returned for the caller to inspect.
func (s *SarvamService) post(ctx context.Context, url, contentType string, payload []byte) (*http.Response, error) {
	var resp *http.Response
	for attempt := 1; attempt <= sarvamMaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("api-subscription-key", s.apiKey)
		req.Header.Set("Content-Type", contentType)

		resp, err = s.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < http.StatusInternalServerError || attempt == sarvamMaxRetries {
			return resp, nil
		}
		resp.Body.Close()

		select {
		case <-time.After(s.retryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp, nil
}

func (s *SarvamService) statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	code := fmt.Sprintf("%d", resp.StatusCode)

	var cause error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		cause = ErrRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		cause = ErrServiceUnavailable
	}

	return NewTranscriptionError(
		"sarvam",
		code,
		strings.TrimSpace(string(detail)),
		cause,
		cause != nil,
	)
}
