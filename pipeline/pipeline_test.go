package pipeline

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/karmalabs/karma/audio"
	"github.com/karmalabs/karma/classifier"
	"github.com/karmalabs/karma/convo"
	"github.com/karmalabs/karma/events"
	"github.com/karmalabs/karma/llm"
	"github.com/karmalabs/karma/stt"
	"github.com/karmalabs/karma/tts"
)

// ---- stub collaborators ----

type stubSTT struct {
	mu         sync.Mutex
	transcript string
	err        error
	calls      int
}

func (s *stubSTT) Name() string { return "stub-stt" }

func (s *stubSTT) Transcribe(ctx context.Context, audio []byte, config stt.TranscriptionConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.transcript, s.err
}

type stubLLM struct {
	mu     sync.Mutex
	chunks []string
	err    error
	calls  int
}

func (s *stubLLM) Name() string { return "stub-llm" }

func (s *stubLLM) GenerateStream(ctx context.Context, messages []llm.Message) (<-chan llm.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan llm.Chunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- llm.Chunk{Delta: c}
	}
	close(ch)
	return ch, nil
}

type stubTTS struct {
	mu       sync.Mutex
	requests []string
	delays   map[string]time.Duration
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
	delay := s.delays[text]
	s.mu.Unlock()

	out := make(chan tts.AudioChunk, 1)
	go func() {
		defer close(out)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- tts.AudioChunk{Data: []byte(text), Final: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (s *stubTTS) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// ---- frame helpers ----

func silentFrame() []byte {
	return make([]byte, audio.FrameSizePCM16)
}

func loudFrame() []byte {
	frame := make([]byte, audio.FrameSizePCM16)
	for i := 0; i < len(frame); i += 2 {
		binary.LittleEndian.PutUint16(frame[i:], 8000)
	}
	return frame
}

func feedFrames(p *Pipeline, frame []byte, n int) {
	for i := 0; i < n; i++ {
		p.FeedFrame(frame)
	}
}

// ---- event helpers ----

func waitForStatus(t *testing.T, sub *events.Subscription, want events.Status) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event := <-sub.C:
			if event.Type == events.TypeStatusChanged && event.Status == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func waitForEvent(t *testing.T, sub *events.Subscription, want events.Type) events.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event := <-sub.C:
			if event.Type == want {
				return event
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event %s", want)
			return events.Event{}
		}
	}
}

func drainOutput(p *Pipeline) {
	go func() {
		for range p.Output() {
		}
	}()
}

func testConfig() Config {
	persona := convo.DefaultPersona()
	return Config{
		CallID:       "CA001",
		Transport:    TransportTelephone,
		Persona:      persona,
		EchoCooldown: time.Second,
	}
}

// ---- tests ----

func TestPipelineEndToEndTurn(t *testing.T) {
	sttStub := &stubSTT{transcript: "hello are you there"}
	llmStub := &stubLLM{chunks: []string{"Haan", " beta,", " bolo."}}
	ttsStub := &stubTTS{}
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	p, err := New(testConfig(), Deps{
		STT: sttStub, Generator: llmStub, TTS: ttsStub, Bus: bus,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start(context.Background())
	defer p.End("test over")

	// Wait for the greeting to finish and listening to begin; the first
	// second of frames goes to echo cooldown.
	waitForStatus(t, sub, events.StatusListening)

	feedFrames(p, silentFrame(), 50)
	feedFrames(p, loudFrame(), 40)
	feedFrames(p, silentFrame(), 60)

	var audioTexts []string
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case chunk := <-p.Output():
			if chunk.Mark == "response_end" {
				break loop
			}
			if len(chunk.Audio) > 0 {
				audioTexts = append(audioTexts, string(chunk.Audio))
			}
		case <-timeout:
			t.Fatal("timed out waiting for response to drain")
		}
	}

	requests := ttsStub.recorded()
	if len(requests) != 3 {
		t.Fatalf("expected greeting + 2 reply dispatches, got %d: %q", len(requests), requests)
	}
	if requests[1] != "Haan beta," || requests[2] != " bolo." {
		t.Errorf("reply dispatches = %q, %q", requests[1], requests[2])
	}

	// Wire audio after the greeting arrives in dispatch order.
	greeting := convo.DefaultPersona().Greeting
	var reply []string
	for _, text := range audioTexts {
		if text != greeting {
			reply = append(reply, text)
		}
	}
	if len(reply) != 2 || reply[0] != "Haan beta," || reply[1] != " bolo." {
		t.Errorf("wire order = %q", reply)
	}

	turns := p.History().Turns()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != convo.RoleRemote || turns[0].Text != "hello are you there" {
		t.Errorf("remote turn = %+v", turns[0])
	}
	if turns[1].Role != convo.RolePersona || turns[1].Text != "Haan beta, bolo." {
		t.Errorf("persona turn = %+v", turns[1])
	}
}

func TestPipelineEmptyTranscriptIsNotATurn(t *testing.T) {
	sttStub := &stubSTT{transcript: "   "}
	llmStub := &stubLLM{chunks: []string{"ignored"}}
	ttsStub := &stubTTS{}
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	p, err := New(testConfig(), Deps{
		STT: sttStub, Generator: llmStub, TTS: ttsStub, Bus: bus,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start(context.Background())
	defer p.End("test over")
	drainOutput(p)

	waitForStatus(t, sub, events.StatusListening)
	feedFrames(p, silentFrame(), 50)
	feedFrames(p, loudFrame(), 40)
	feedFrames(p, silentFrame(), 60)

	// The pipeline returns to listening without generating.
	waitForStatus(t, sub, events.StatusListening)

	if llmStub.calls != 0 {
		t.Errorf("generation should not run on an empty transcript, got %d calls", llmStub.calls)
	}
	if p.TurnCount() != 0 {
		t.Errorf("expected 0 turns, got %d", p.TurnCount())
	}
}

func TestPipelineMuteRecordsTurnWithoutAudio(t *testing.T) {
	sttStub := &stubSTT{transcript: "send me the otp"}
	llmStub := &stubLLM{chunks: []string{"Haan beta, abhi dekhti hoon."}}
	ttsStub := &stubTTS{}
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	p, err := New(testConfig(), Deps{
		STT: sttStub, Generator: llmStub, TTS: ttsStub, Bus: bus,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start(context.Background())
	defer p.End("test over")
	drainOutput(p)

	waitForStatus(t, sub, events.StatusListening)
	greetingDispatches := len(ttsStub.recorded())

	p.SetMute(true)
	feedFrames(p, silentFrame(), 50)
	feedFrames(p, loudFrame(), 40)
	feedFrames(p, silentFrame(), 60)

	// Persona turn is recorded even though nothing is voiced.
	for {
		event := waitForEvent(t, sub, events.TypeTurnRecorded)
		if event.Role == string(convo.RolePersona) {
			if event.Text != "Haan beta, abhi dekhti hoon." {
				t.Errorf("persona turn text = %q", event.Text)
			}
			break
		}
	}

	if got := len(ttsStub.recorded()); got != greetingDispatches {
		t.Errorf("expected no synthesis after mute, got %d extra dispatches",
			got-greetingDispatches)
	}
}

func TestPipelineFailureEscalation(t *testing.T) {
	sttStub := &stubSTT{transcript: "hello"}
	llmStub := &stubLLM{err: llm.NewGenerationError("stub-llm", "500", "boom", nil, true)}
	ttsStub := &stubTTS{}
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	cfg := testConfig()
	cfg.EchoCooldown = 20 * time.Millisecond

	p, err := New(cfg, Deps{
		STT: sttStub, Generator: llmStub, TTS: ttsStub, Bus: bus,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start(context.Background())
	drainOutput(p)

	waitForStatus(t, sub, events.StatusListening)

	sessionEnded := 0
	endedCh := make(chan events.Event, 4)
	go func() {
		for event := range sub.C {
			if event.Type == events.TypeSessionEnded {
				endedCh <- event
			}
		}
	}()

	for i := 0; i < 3; i++ {
		feedFrames(p, silentFrame(), 2)
		feedFrames(p, loudFrame(), 40)
		feedFrames(p, silentFrame(), 60)
		// Each failed turn plays the fallback line and re-arms, except
		// the third which ends the call.
		if i < 2 {
			deadline := time.Now().Add(5 * time.Second)
			for p.State() != StateListening {
				if time.Now().After(deadline) {
					t.Fatal("pipeline did not recover after failure")
				}
				time.Sleep(5 * time.Millisecond)
			}
		}
	}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not end after three consecutive failures")
	}

	if p.State() != StateEnded {
		t.Errorf("state = %s, want %s", p.State(), StateEnded)
	}

	timeout := time.After(time.Second)
drain:
	for {
		select {
		case <-endedCh:
			sessionEnded++
		case <-timeout:
			break drain
		}
	}
	if sessionEnded != 1 {
		t.Errorf("expected exactly one session-ended event, got %d", sessionEnded)
	}
}

func TestPipelineBargeInCancelsReply(t *testing.T) {
	sttStub := &stubSTT{transcript: "who is this"}
	reply1 := "Pehli baat toh sun lo beta."
	reply2 := " Dusri baat bhi zaroori hai."
	llmStub := &stubLLM{chunks: []string{reply1, reply2}}
	ttsStub := &stubTTS{delays: map[string]time.Duration{reply2: 2 * time.Second}}
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	cfg := testConfig()
	cfg.BargeInEnabled = true
	cfg.RecordFullReplyOnBargeIn = true
	cfg.EchoCooldown = 20 * time.Millisecond

	p, err := New(cfg, Deps{
		STT: sttStub, Generator: llmStub, TTS: ttsStub, Bus: bus,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start(context.Background())
	defer p.End("test over")

	waitForStatus(t, sub, events.StatusListening)

	feedFrames(p, silentFrame(), 2)
	feedFrames(p, loudFrame(), 40)
	feedFrames(p, silentFrame(), 60)

	// Wait for the first reply sentence to hit the wire, then talk over
	// the second one while it is still synthesizing.
	sawClear := false
	timeout := time.After(5 * time.Second)
	for !sawClear {
		select {
		case chunk := <-p.Output():
			if string(chunk.Audio) == reply1 {
				feedFrames(p, loudFrame(), 3)
			}
			if chunk.Clear {
				sawClear = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for barge-in clear")
		}
	}

	if p.State() != StateListening {
		t.Errorf("state after barge-in = %s, want %s", p.State(), StateListening)
	}

	turns := p.History().Turns()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[1].Text != reply1+reply2 {
		t.Errorf("interrupted reply recorded as %q, want full text", turns[1].Text)
	}
}

func TestPipelineClassificationEndsAICall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prediction": "ai", "confidence": 0.95}`))
	}))
	defer server.Close()

	sttStub := &stubSTT{transcript: "hello"}
	llmStub := &stubLLM{chunks: []string{"ignored"}}
	ttsStub := &stubTTS{}
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	cfg := testConfig()
	cfg.EchoCooldown = 20 * time.Millisecond
	cfg.ClassifyWindow = 50 * time.Millisecond

	p, err := New(cfg, Deps{
		STT: sttStub, Generator: llmStub, TTS: ttsStub, Bus: bus,
		Classifier: classifier.New(classifier.WithBaseURL(server.URL)),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start(context.Background())
	drainOutput(p)

	waitForStatus(t, sub, events.StatusClassifying)

	// Burn cooldown, then provide voiced caller audio across the window.
	feedFrames(p, silentFrame(), 2)
	feedFrames(p, loudFrame(), 10)
	time.Sleep(80 * time.Millisecond)
	feedFrames(p, loudFrame(), 1)

	event := waitForEvent(t, sub, events.TypeSessionEnded)
	if event.Reason != "ai caller detected" {
		t.Errorf("end reason = %q", event.Reason)
	}

	requests := ttsStub.recorded()
	found := false
	for _, r := range requests {
		if r == convo.DefaultPersona().AIDetectedLine {
			found = true
		}
	}
	if !found {
		t.Errorf("AI announcement was not voiced: %q", requests)
	}
	if llmStub.calls != 0 {
		t.Error("generation should never run for an AI caller")
	}
}

func TestPipelineClassificationTooLittleSpeechDefaultsHuman(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("classifier should not be consulted without speech")
	}))
	defer server.Close()

	sttStub := &stubSTT{transcript: "hello"}
	llmStub := &stubLLM{chunks: []string{"ignored"}}
	ttsStub := &stubTTS{}
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	cfg := testConfig()
	cfg.EchoCooldown = 20 * time.Millisecond
	cfg.ClassifyWindow = 50 * time.Millisecond

	p, err := New(cfg, Deps{
		STT: sttStub, Generator: llmStub, TTS: ttsStub, Bus: bus,
		Classifier: classifier.New(classifier.WithBaseURL(server.URL)),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start(context.Background())
	defer p.End("test over")
	drainOutput(p)

	waitForStatus(t, sub, events.StatusClassifying)

	feedFrames(p, silentFrame(), 2)
	time.Sleep(80 * time.Millisecond)
	feedFrames(p, silentFrame(), 1)

	// Human verdict: conversation proceeds to listening.
	waitForStatus(t, sub, events.StatusListening)
	if p.State() != StateListening {
		t.Errorf("state = %s, want %s", p.State(), StateListening)
	}
}

func TestPipelineEndIsIdempotent(t *testing.T) {
	sttStub := &stubSTT{transcript: "hello"}
	llmStub := &stubLLM{chunks: []string{"Haan."}}
	ttsStub := &stubTTS{}
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	p, err := New(testConfig(), Deps{
		STT: sttStub, Generator: llmStub, TTS: ttsStub, Bus: bus,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start(context.Background())
	drainOutput(p)

	waitForStatus(t, sub, events.StatusListening)

	p.End("hangup")
	p.End("drop")
	p.End("hangup")

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}

	event := waitForEvent(t, sub, events.TypeSessionEnded)
	if event.Reason != "hangup" {
		t.Errorf("first end reason should win, got %q", event.Reason)
	}

	// No second session-ended event.
	select {
	case extra, ok := <-sub.C:
		if ok && extra.Type == events.TypeSessionEnded {
			t.Error("duplicate session-ended event")
		}
	case <-time.After(200 * time.Millisecond):
	}
}
