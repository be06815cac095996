package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	openRouterBaseURL  = "https://openrouter.ai/api/v1"
	openRouterChatPath = "/chat/completions"

	// OpenRouterModelDefault is the default chat model.
	OpenRouterModelDefault = "openai/gpt-oss-120b"

	// Default tuning for persona generation.
	defaultTemperature = 0.8
	defaultMaxTokens   = 2000

	// defaultOpenRouterTimeout bounds a full streamed completion.
	defaultOpenRouterTimeout = 60 * time.Second

	// chunkChannelBuffer is the buffer size for streamed chunks.
	chunkChannelBuffer = 64

	// HTTP status code threshold for server errors.
	serverErrorThreshold = 500

	sseDoneMarker = "[DONE]"
)

// OpenRouterService implements Provider using OpenRouter's chat completions
// API with SSE streaming. Provider routing prefers Groq for low first-token
// latency, falling back to other upstreams.
type OpenRouterService struct {
	apiKey      string
	baseURL     string
	client      *http.Client
	model       string
	temperature float64
	maxTokens   int
}

// OpenRouterOption configures the OpenRouter service.
type OpenRouterOption func(*OpenRouterService)

// WithOpenRouterBaseURL sets a custom base URL.
func WithOpenRouterBaseURL(url string) OpenRouterOption {
	return func(s *OpenRouterService) {
		s.baseURL = url
	}
}

// WithOpenRouterClient sets a custom HTTP client.
func WithOpenRouterClient(client *http.Client) OpenRouterOption {
	return func(s *OpenRouterService) {
		s.client = client
	}
}

// WithOpenRouterModel sets the chat model.
func WithOpenRouterModel(model string) OpenRouterOption {
	return func(s *OpenRouterService) {
		s.model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) OpenRouterOption {
	return func(s *OpenRouterService) {
		s.temperature = temperature
	}
}

// NewOpenRouter creates an OpenRouter generation service.
func NewOpenRouter(apiKey string, opts ...OpenRouterOption) *OpenRouterService {
	s := &OpenRouterService{
		apiKey:      apiKey,
		baseURL:     openRouterBaseURL,
		client:      &http.Client{Timeout: defaultOpenRouterTimeout},
		model:       OpenRouterModelDefault,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider identifier.
func (s *OpenRouterService) Name() string {
	return "openrouter"
}

// openRouterRequest is the request body for the chat completions API.
type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []Message           `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
	Stream      bool                `json:"stream"`
	Provider    *providerPreference `json:"provider,omitempty"`
}

// providerPreference routes requests to preferred upstream providers.
type providerPreference struct {
	Order          []string `json:"order"`
	AllowFallbacks bool     `json:"allow_fallbacks"`
}

// openRouterStreamEvent is one SSE payload from a streamed completion.
type openRouterStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// GenerateStream starts a streaming completion and returns the chunk channel.
func (s *OpenRouterService) GenerateStream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyPrompt
	}

	reqBody := openRouterRequest{
		Model:       s.model,
		Messages:    messages,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		Stream:      true,
		Provider: &providerPreference{
			Order:          []string{"Groq"},
			AllowFallbacks: true,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.baseURL+openRouterChatPath,
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, NewGenerationError("openrouter", "", "request failed", err, true)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, s.handleError(resp)
	}

	chunks := make(chan Chunk, chunkChannelBuffer)
	go s.readStream(ctx, resp, chunks)
	return chunks, nil
}

// readStream consumes the SSE response body and forwards deltas until the
// done marker, an error, or context cancellation.
func (s *OpenRouterService) readStream(ctx context.Context, resp *http.Response, chunks chan<- Chunk) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := NewSSEScanner(resp.Body)
	for scanner.Scan() {
		data := scanner.Data()
		if data == sseDoneMarker {
			return
		}

		var event openRouterStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip malformed keep-alives
		}
		if len(event.Choices) == 0 {
			continue
		}
		delta := event.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		select {
		case chunks <- Chunk{Delta: delta}:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		chunks <- Chunk{Err: NewGenerationError("openrouter", "", "stream read failed", err, true)}
	}
}

// openRouterErrorResponse represents an error response body.
type openRouterErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// handleError processes a non-200 response.
func (s *OpenRouterService) handleError(resp *http.Response) error {
	retryable := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= serverErrorThreshold

	var cause error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		cause = ErrRateLimited
	case resp.StatusCode >= serverErrorThreshold:
		cause = ErrServiceUnavailable
	}

	var errResp openRouterErrorResponse
	message := "unknown error"
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return NewGenerationError(
		"openrouter",
		fmt.Sprintf("%d", resp.StatusCode),
		message,
		cause,
		retryable,
	)
}
