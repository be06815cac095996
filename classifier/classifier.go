// Package classifier provides a client for the voice classifier service,
// which labels a recorded audio sample as spoken by a human or generated
// by a machine.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/karmalabs/karma/logger"
)

// Label identifies the speaker class of an audio sample.
type Label string

const (
	// LabelHuman indicates the sample is likely a human speaker.
	LabelHuman Label = "human"

	// LabelAI indicates the sample is likely machine-generated speech.
	LabelAI Label = "ai"
)

// Result is a classification outcome.
type Result struct {
	Label      Label   `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// failOpen is returned whenever the classifier cannot produce a verdict.
// Misclassifying a human as a machine ends the call, so all failures
// resolve to human.
func failOpen() Result {
	return Result{Label: LabelHuman, Confidence: 0}
}

const (
	defaultClassifierURL     = "http://localhost:8000"
	defaultClassifierTimeout = 10 * time.Second
	healthTimeout            = 5 * time.Second
)

// Client calls the voice classifier HTTP service.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures the classifier client.
type Option func(*Client)

// WithBaseURL sets a custom classifier service URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// New creates a classifier client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultClassifierURL,
		client:  &http.Client{Timeout: defaultClassifierTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify sends a WAV sample to the classifier and returns its verdict.
// Any failure, including transport errors, non-200 responses, and malformed
// bodies, resolves to the human label so a service outage never ends calls.
func (c *Client) Classify(ctx context.Context, wav []byte) Result {
	log := logger.For("classifier")

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		log.Warn("failed to build classify request", "error", err)
		return failOpen()
	}
	if _, err := part.Write(wav); err != nil {
		log.Warn("failed to build classify request", "error", err)
		return failOpen()
	}
	if err := writer.Close(); err != nil {
		log.Warn("failed to build classify request", "error", err)
		return failOpen()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", &body)
	if err != nil {
		log.Warn("failed to build classify request", "error", err)
		return failOpen()
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		log.Warn("voice classification failed, defaulting to human", "error", err)
		return failOpen()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("voice classification failed, defaulting to human",
			"status", resp.StatusCode)
		return failOpen()
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Warn("voice classification failed, defaulting to human", "error", err)
		return failOpen()
	}

	if result.Label != LabelAI && result.Label != LabelHuman {
		log.Warn("voice classification returned unknown label, defaulting to human",
			"label", string(result.Label))
		return failOpen()
	}

	log.Info("voice classification complete",
		"label", string(result.Label),
		"confidence", fmt.Sprintf("%.2f", result.Confidence))
	return result
}

// Healthy reports whether the classifier service is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
