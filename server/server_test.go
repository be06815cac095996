package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/karmalabs/karma/events"
	"github.com/karmalabs/karma/llm"
	"github.com/karmalabs/karma/pipeline"
	"github.com/karmalabs/karma/registry"
	"github.com/karmalabs/karma/store"
	"github.com/karmalabs/karma/stt"
	"github.com/karmalabs/karma/tts"
)

type stubSTT struct{}

func (stubSTT) Name() string { return "stub-stt" }

func (stubSTT) Transcribe(ctx context.Context, audio []byte, config stt.TranscriptionConfig) (string, error) {
	return "hello", nil
}

type stubLLM struct{}

func (stubLLM) Name() string { return "stub-llm" }

func (stubLLM) GenerateStream(ctx context.Context, messages []llm.Message) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{Delta: "Haan beta bolo."}
	close(ch)
	return ch, nil
}

type stubTTS struct {
	mu       sync.Mutex
	requests []string
}

func (s *stubTTS) Name() string { return "stub-tts" }

func (s *stubTTS) Synthesize(ctx context.Context, text string, config tts.SynthesisConfig) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(text)), nil
}

func (s *stubTTS) SupportedFormats() []tts.AudioFormat {
	return []tts.AudioFormat{tts.FormatMuLaw8k}
}

func (s *stubTTS) SynthesizeStream(
	ctx context.Context, text string, config tts.SynthesisConfig,
) (<-chan tts.AudioChunk, error) {
	s.mu.Lock()
	s.requests = append(s.requests, text)
	s.mu.Unlock()

	ch := make(chan tts.AudioChunk, 1)
	ch <- tts.AudioChunk{Data: []byte(text), Final: true}
	close(ch)
	return ch, nil
}

type testEnv struct {
	server   *Server
	registry *registry.Registry
	store    *store.MemoryStore
	bus      *events.Bus
	http     *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := registry.New()
	memStore := store.NewMemoryStore()
	bus := events.NewBus()

	s := New(Options{
		Addr:     ":0",
		Registry: reg,
		Store:    memStore,
		Bus:      bus,
		Deps: pipeline.Deps{
			STT:       stubSTT{},
			Generator: stubLLM{},
			TTS:       &stubTTS{},
			Bus:       bus,
		},
	})

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		reg.DestroyAll("test over")
		ts.Close()
	})

	return &testEnv{server: s, registry: reg, store: memStore, bus: bus, http: ts}
}

func (e *testEnv) wsURL(path string) string {
	u, _ := url.Parse(e.http.URL)
	u.Scheme = "ws"
	u.Path = path
	return u.String()
}

func TestVoiceWebhookReturnsTwiML(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{"CallSid": {"CA500"}, "From": {"+911234567890"}}
	resp, err := http.PostForm(env.http.URL+"/voice", form)
	if err != nil {
		t.Fatalf("POST /voice failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	twiml := string(body)
	if !strings.Contains(twiml, "<Connect>") || !strings.Contains(twiml, "/media-stream") {
		t.Errorf("TwiML missing stream connect: %s", twiml)
	}
	if !strings.Contains(twiml, "+911234567890") {
		t.Errorf("TwiML missing caller parameter: %s", twiml)
	}
}

func TestMediaStreamSession(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/media-stream"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	writeEvent := func(msg twilioMessage) {
		t.Helper()
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	writeEvent(twilioMessage{Event: "connected"})
	writeEvent(twilioMessage{Event: "start", Start: &twilioStart{
		StreamSid:        "MZ001",
		CallSid:          "CA501",
		CustomParameters: map[string]string{"caller": "+911111111111"},
	}})

	// The greeting should come back as a media message carrying base64
	// audio tagged with our stream sid.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg twilioMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if msg.Event != "media" {
			continue
		}
		if msg.StreamSid != "MZ001" {
			t.Errorf("StreamSid = %q", msg.StreamSid)
		}
		if msg.Media == nil || msg.Media.Payload == "" {
			t.Error("media message without payload")
		}
		break
	}

	// Caller audio in non-frame-aligned payloads is accepted.
	silent := base64.StdEncoding.EncodeToString(make([]byte, 100))
	writeEvent(twilioMessage{Event: "media", Media: &twilioMedia{Payload: silent}})

	if env.registry.Count() != 1 {
		t.Errorf("registry count = %d, want 1", env.registry.Count())
	}

	writeEvent(twilioMessage{Event: "stop"})

	deadline := time.Now().Add(2 * time.Second)
	for env.registry.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not destroyed after stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBrowserCallSession(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/call"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(browserMessage{Type: "start"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var started browserMessage
	if err := conn.ReadJSON(&started); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if started.Type != "started" || !strings.HasPrefix(started.CallID, "web-") {
		t.Fatalf("unexpected first message: %+v", started)
	}

	// Greeting audio follows.
	for {
		var msg browserMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if msg.Type == "audio" {
			if msg.Payload == "" {
				t.Error("audio message without payload")
			}
			break
		}
	}

	if err := conn.WriteJSON(browserMessage{Type: "stop"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.registry.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not destroyed after stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	ctx := context.Background()
	env.store.CreateCall(ctx, &store.CallRecord{
		CallID: "CA510", Transport: "telephone", StartedAt: time.Now().Add(-time.Minute),
	})
	env.store.EndCall(ctx, "CA510", "hangup", time.Now())

	resp, err := http.Get(env.http.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats failed: %v", err)
	}
	defer resp.Body.Close()

	var stats store.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if stats.TotalCalls != 1 {
		t.Errorf("TotalCalls = %d", stats.TotalCalls)
	}
	if stats.ActiveCalls != 0 {
		t.Errorf("ActiveCalls = %d", stats.ActiveCalls)
	}
}

func TestCallHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	ctx := context.Background()
	env.store.CreateCall(ctx, &store.CallRecord{
		CallID: "CA511", Transport: "telephone", StartedAt: time.Now(),
	})

	resp, err := http.Get(env.http.URL + "/api/calls?limit=10")
	if err != nil {
		t.Fatalf("GET /api/calls failed: %v", err)
	}
	defer resp.Body.Close()
	var listing struct {
		Calls []store.CallRecord `json:"calls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(listing.Calls) != 1 || listing.Calls[0].CallID != "CA511" {
		t.Errorf("calls = %+v", listing.Calls)
	}

	single, err := http.Get(env.http.URL + "/api/calls/CA511")
	if err != nil {
		t.Fatalf("GET call failed: %v", err)
	}
	single.Body.Close()
	if single.StatusCode != http.StatusOK {
		t.Errorf("status = %d", single.StatusCode)
	}

	missing, err := http.Get(env.http.URL + "/api/calls/CA999")
	if err != nil {
		t.Fatalf("GET missing call failed: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing call status = %d", missing.StatusCode)
	}

	for _, path := range []string{"/api/calls/CA511/transcript", "/api/calls/CA511/intel"} {
		sub, err := http.Get(env.http.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		sub.Body.Close()
		if sub.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, sub.StatusCode)
		}
	}
}

func TestMuteEndpoint(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.registry.Create(context.Background(), pipeline.Config{
		CallID: "CA512", Transport: pipeline.TransportTelephone,
	}, env.server.opts.Deps)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	go func() {
		for range p.Output() {
		}
	}()

	body := bytes.NewBufferString(`{"muted": true}`)
	resp, err := http.Post(env.http.URL+"/api/calls/CA512/mute", "application/json", body)
	if err != nil {
		t.Fatalf("POST mute failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if !p.Muted() {
		t.Error("pipeline not muted")
	}

	missing, err := http.Post(env.http.URL+"/api/calls/CA999/mute",
		"application/json", bytes.NewBufferString(`{"muted": true}`))
	if err != nil {
		t.Fatalf("POST mute missing failed: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing call status = %d", missing.StatusCode)
	}
}

func TestDropEndpoint(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.registry.Create(context.Background(), pipeline.Config{
		CallID: "CA513", Transport: pipeline.TransportBrowser,
	}, env.server.opts.Deps)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	go func() {
		for range p.Output() {
		}
	}()

	req, _ := http.NewRequest(http.MethodDelete, env.http.URL+"/api/calls/CA513", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline not ended by drop")
	}
}

func TestCallStatusWebhookDestroysSession(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.registry.Create(context.Background(), pipeline.Config{
		CallID: "CA514", Transport: pipeline.TransportTelephone,
	}, env.server.opts.Deps)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	go func() {
		for range p.Output() {
		}
	}()

	form := url.Values{"CallSid": {"CA514"}, "CallStatus": {"completed"}}
	resp, err := http.PostForm(env.http.URL+"/call-status", form)
	if err != nil {
		t.Fatalf("POST /call-status failed: %v", err)
	}
	resp.Body.Close()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline not ended by status callback")
	}
}

func TestDashboardEventStream(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/dashboard"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Give the subscription a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)
	env.bus.Publish(events.SessionStarted("CA515", "telephone"))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event events.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if event.Type != events.TypeSessionStarted || event.CallID != "CA515" {
		t.Errorf("event = %+v", event)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.http.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}

	metricsResp, err := http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	metricsBody, _ := io.ReadAll(metricsResp.Body)
	metricsResp.Body.Close()
	if !strings.Contains(string(metricsBody), "karma_calls_active") {
		t.Error("metrics output missing karma_calls_active")
	}
}
