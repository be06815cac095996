package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/karmalabs/karma/audio"
)

const (
	sarvamBaseURL = "https://api.sarvam.ai"
	sarvamTTSPath = "/text-to-speech"

	// SarvamModelBulbul is Sarvam's text-to-speech model.
	SarvamModelBulbul = "bulbul:v3"

	// SarvamSpeakerKavya is the default Hindi female voice.
	SarvamSpeakerKavya = "kavya"

	sarvamMaxRetries = 3
	sarvamRetryDelay = time.Second

	// sarvamStreamChunkSize slices the synthesized audio into chunks for
	// the streaming interface.
	sarvamStreamChunkSize = 4096
)

// SarvamService implements TTS using Sarvam's REST API. Sarvam returns a
// complete WAV per request rather than a stream, so SynthesizeStream
// synthesizes the whole utterance and then chunks it out. When the
// requested format is telephony µ-law, the WAV payload is unwrapped and
// companded before emission.
type SarvamService struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	model      string
	speaker    string
	retryDelay time.Duration
}

// SarvamOption configures the Sarvam TTS service.
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

// WithSarvamModel sets the TTS model.
func WithSarvamModel(model string) SarvamOption {
	return func(s *SarvamService) {
		s.model = model
	}
}

// WithSarvamSpeaker sets the voice name.
func WithSarvamSpeaker(speaker string) SarvamOption {
	return func(s *SarvamService) {
		s.speaker = speaker
	}
}

// WithSarvamRetryDelay sets the base delay between retries.
func WithSarvamRetryDelay(delay time.Duration) SarvamOption {
	return func(s *SarvamService) {
		s.retryDelay = delay
	}
}

// NewSarvam creates a Sarvam TTS service.
func NewSarvam(apiKey string, opts ...SarvamOption) *SarvamService {
	s := &SarvamService{
		apiKey:     apiKey,
		baseURL:    sarvamBaseURL,
		client:     &http.Client{Timeout: defaultCartesiaTimeout},
		model:      SarvamModelBulbul,
		speaker:    SarvamSpeakerKavya,
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

// SupportedFormats returns supported audio output formats.
func (s *SarvamService) SupportedFormats() []AudioFormat {
	return []AudioFormat{FormatMuLaw8k, FormatPCM22k, FormatWAV22k}
}

// sarvamTTSRequest is the synthesis request body.
type sarvamTTSRequest struct {
	Text             string  `json:"text"`
	TargetLanguage   string  `json:"target_language_code"`
	Model            string  `json:"model"`
	Speaker          string  `json:"speaker"`
	SpeechSampleRate string  `json:"speech_sample_rate"`
	Pace             float64 `json:"pace"`
}

// sarvamTTSResponse carries base64 WAV payloads, one per input text.
type sarvamTTSResponse struct {
	Audios []string `json:"audios"`
}

// Synthesize converts text to audio and returns a reader over the full
// result in the requested format.
func (s *SarvamService) Synthesize(ctx context.Context, text string, config SynthesisConfig) (io.ReadCloser, error) {
	data, err := s.synthesize(ctx, text, config)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// SynthesizeStream synthesizes the whole utterance, then emits it as
// ordered chunks. Latency is a full round trip, the cost of a REST-only
// provider behind the streaming interface.
func (s *SarvamService) SynthesizeStream(ctx context.Context, text string, config SynthesisConfig) (<-chan AudioChunk, error) {
	data, err := s.synthesize(ctx, text, config)
	if err != nil {
		return nil, err
	}

	chunks := make(chan AudioChunk, streamChannelBuffer)
	go func() {
		defer close(chunks)
		index := 0
		for offset := 0; offset < len(data); offset += sarvamStreamChunkSize {
			end := offset + sarvamStreamChunkSize
			if end > len(data) {
				end = len(data)
			}
			chunk := AudioChunk{
				Data:  data[offset:end],
				Index: index,
				Final: end == len(data),
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
			index++
		}
	}()
	return chunks, nil
}

func (s *SarvamService) synthesize(ctx context.Context, text string, config SynthesisConfig) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	format := config.Format
	if format.Name == "" {
		format = FormatMuLaw8k
	}
	language := config.Language
	if language == "" {
		language = "hi-IN"
	}
	model := config.Model
	if model == "" {
		model = s.model
	}
	speaker := config.Voice
	if speaker == "" {
		speaker = s.speaker
	}

	payload, err := json.Marshal(sarvamTTSRequest{
		Text:             text,
		TargetLanguage:   language,
		Model:            model,
		Speaker:          speaker,
		SpeechSampleRate: strconv.Itoa(format.SampleRate),
		Pace:             1.0,
	})
	if err != nil {
		return nil, NewSynthesisError("sarvam", "", "encoding request", err, false)
	}

	resp, err := s.post(ctx, s.baseURL+sarvamTTSPath, payload)
	if err != nil {
		return nil, NewSynthesisError("sarvam", "", "request failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.statusError(resp)
	}

	var result sarvamTTSResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewSynthesisError("sarvam", "", "decoding response", err, false)
	}
	if len(result.Audios) == 0 {
		return nil, NewSynthesisError("sarvam", "", "empty synthesis response", nil, false)
	}

	wav, err := base64.StdEncoding.DecodeString(result.Audios[0])
	if err != nil {
		return nil, NewSynthesisError("sarvam", "", "invalid audio payload", err, false)
	}

	return convertWAV(wav, format)
}

// convertWAV reshapes Sarvam's WAV payload into the requested format.
func convertWAV(wav []byte, format AudioFormat) ([]byte, error) {
	switch format.Name {
	case FormatMuLaw8k.Name:
		mulaw, err := audio.EncodeMuLaw(audio.UnwrapWAV(wav))
		if err != nil {
			return nil, NewSynthesisError("sarvam", "", "companding audio", err, false)
		}
		return mulaw, nil
	case "pcm":
		return audio.UnwrapWAV(wav), nil
	default:
		return wav, nil
	}
}

// post sends the request, retrying 5xx responses with linear backoff. The
// last response is returned for the caller to inspect.
func (s *SarvamService) post(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	var resp *http.Response
	for attempt := 1; attempt <= sarvamMaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("api-subscription-key", s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err = s.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < serverErrorThreshold || attempt == sarvamMaxRetries {
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

	var cause error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		cause = ErrRateLimited
	case resp.StatusCode >= serverErrorThreshold:
		cause = ErrServiceUnavailable
	}

	return NewSynthesisError(
		"sarvam",
		fmt.Sprintf("%d", resp.StatusCode),
		strings.TrimSpace(string(detail)),
		cause,
		cause != nil,
	)
}
