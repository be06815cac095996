// Package pipeline runs the per-call conversation loop: segmenting remote
// speech, transcribing it, streaming a generated reply through sentence-level
// synthesis, and pushing wire audio back out, all under one small state
// machine per call session.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/karmalabs/karma/audio"
	"github.com/karmalabs/karma/classifier"
	"github.com/karmalabs/karma/convo"
	"github.com/karmalabs/karma/events"
	"github.com/karmalabs/karma/intel"
	"github.com/karmalabs/karma/llm"
	"github.com/karmalabs/karma/logger"
	"github.com/karmalabs/karma/metrics/prometheus"
	"github.com/karmalabs/karma/stt"
	"github.com/karmalabs/karma/synth"
	"github.com/karmalabs/karma/tts"
)

// State is the pipeline's position in the turn cycle.
type State string

const (
	// StateIdle covers session setup, the greeting, and the
	// voice-authenticity check before the first turn.
	StateIdle State = "idle"
	// StateListening means the endpointer is segmenting inbound audio.
	StateListening State = "listening"
	// StateTranscribing means an utterance closed and STT is running.
	StateTranscribing State = "transcribing"
	// StateGenerating means generation is streaming into synthesis.
	StateGenerating State = "generating"
	// StateSpeaking means reply audio is draining to the wire.
	StateSpeaking State = "speaking"
	// StateEnded is terminal.
	StateEnded State = "ended"
)

// WireChunk is one outbound item for the transport: audio bytes in the
// call's wire encoding, a named playback marker, or a request to clear
// queued audio after a barge-in.
type WireChunk struct {
	Audio []byte
	Mark  string
	Clear bool
}

// Deps are the collaborators a pipeline drives. Classifier may be nil, in
// which case the voice-authenticity phase is skipped entirely.
type Deps struct {
	STT        stt.Service
	Generator  llm.Provider
	TTS        tts.StreamingService
	Classifier *classifier.Client
	Bus        *events.Bus

	// Detector overrides the endpointer's frame classifier; nil selects
	// the energy-threshold fallback.
	Detector audio.Detector
}

const (
	outputBuffer    = 256
	utteranceBuffer = 2
)

// Pipeline is one call's orchestrator. Frames go in through FeedFrame,
// wire audio comes out through Output, and everything observable is
// published to the event bus.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	history    *convo.History
	endpointer *audio.Endpointer
	synth      *synth.Synthesizer

	// voiceCheck classifies individual frames during the classification
	// window and for barge-in detection, independent of the endpointer's
	// detector state.
	voiceCheck audio.Detector

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	out        chan WireChunk
	utterances chan audio.Utterance
	classifyCh chan classifyJob

	mu              sync.Mutex
	state           State
	muted           bool
	barged          bool
	turnCancel      context.CancelFunc
	cooldownFrames  int
	classifying     bool
	classifyStarted time.Time
	classifyBuf     []byte
	classifySpeech  int
	failures        int
	createdAt       time.Time
	endReason       string
}

type classifyJob struct {
	pcm          []byte
	speechFrames int
}

// New builds a pipeline for one call. Start must be called before frames
// are fed.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	cfg.applyDefaults()

	if cfg.Endpointer == (audio.EndpointerParams{}) {
		cfg.Endpointer = audio.DefaultEndpointerParams()
	}
	endpointer, err := audio.NewEndpointer(cfg.Endpointer, deps.Detector)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:        cfg,
		deps:       deps,
		log:        logger.For("pipeline").With("call_id", cfg.CallID),
		history:    convo.NewHistory(),
		endpointer: endpointer,
		synth:      synth.New(deps.TTS, tts.DefaultSynthesisConfig()),
		voiceCheck: audio.NewEnergyDetector(0),
		done:       make(chan struct{}),
		out:        make(chan WireChunk, outputBuffer),
		utterances: make(chan audio.Utterance, utteranceBuffer),
		classifyCh: make(chan classifyJob, 1),
		state:      StateIdle,
		createdAt:  time.Now(),
	}

	p.endpointer.OnUtterance(func(u audio.Utterance) {
		select {
		case p.utterances <- u:
		default:
			p.log.Warn("utterance dropped, worker busy")
		}
	})
	return p, nil
}

// Start launches the call loop: greeting, optional classification phase,
// then the listen/transcribe/generate/speak cycle until the context is
// cancelled or the call ends.
func (p *Pipeline) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	prometheus.RecordCallStart()
	p.deps.Bus.Publish(events.SessionStarted(p.cfg.CallID, string(p.cfg.Transport)))
	go p.run()
}

// Output is the stream of wire chunks for the transport. Closed when the
// session ends.
func (p *Pipeline) Output() <-chan WireChunk {
	return p.out
}

// Done is closed once the pipeline has fully stopped and released its
// buffers.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// State reports the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetMute toggles the mute flag. While muted the pipeline still
// transcribes, records turns, and extracts intelligence, but no audio
// reaches the wire.
func (p *Pipeline) SetMute(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

// Muted reports the mute flag.
func (p *Pipeline) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// TurnCount reports recorded conversation turns.
func (p *Pipeline) TurnCount() int {
	return p.history.Len()
}

// History returns the session's conversation history.
func (p *Pipeline) History() *convo.History {
	return p.history
}

// CallID returns the session's call identity.
func (p *Pipeline) CallID() string {
	return p.cfg.CallID
}

// Transport returns the session's transport kind.
func (p *Pipeline) Transport() Transport {
	return p.cfg.Transport
}

// CreatedAt returns the session creation time.
func (p *Pipeline) CreatedAt() time.Time {
	return p.createdAt
}

// End requests call teardown. Idempotent; the first reason wins. All
// buffered audio and in-flight synthesis are released promptly.
func (p *Pipeline) End(reason string) {
	p.mu.Lock()
	if p.endReason == "" {
		p.endReason = reason
	}
	turnCancel := p.turnCancel
	p.mu.Unlock()

	if turnCancel != nil {
		turnCancel()
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// FeedFrame accepts one PCM16 8 kHz frame of inbound wire audio. It never
// blocks: frames are dropped during echo cooldown, while the pipeline is
// busy with a turn, or after the call has ended.
func (p *Pipeline) FeedFrame(frame []byte) {
	p.mu.Lock()
	switch {
	case p.state == StateEnded:
		p.mu.Unlock()
		return

	case p.cooldownFrames > 0:
		p.cooldownFrames--
		if p.cooldownFrames == 0 && p.classifying {
			// Greeting echo burned off; the classification window
			// starts with the caller's first clean frame.
			p.classifyStarted = time.Now()
		}
		p.mu.Unlock()
		return

	case p.classifying:
		p.classifyBuf = append(p.classifyBuf, frame...)
		if p.voiceCheck.Voiced(frame) {
			p.classifySpeech++
		}
		if time.Since(p.classifyStarted) >= p.cfg.ClassifyWindow {
			p.classifying = false
			job := classifyJob{pcm: p.classifyBuf, speechFrames: p.classifySpeech}
			p.classifyBuf = nil
			p.mu.Unlock()
			select {
			case p.classifyCh <- job:
			default:
			}
			return
		}
		p.mu.Unlock()
		return

	case p.state == StateSpeaking && p.cfg.BargeInEnabled:
		if !p.voiceCheck.Voiced(frame) {
			p.mu.Unlock()
			return
		}
		// Remote party talked over the reply: cancel synthesis and
		// start listening to them immediately.
		p.barged = true
		p.state = StateListening
		turnCancel := p.turnCancel
		p.mu.Unlock()
		if turnCancel != nil {
			turnCancel()
		}
		p.endpointer.Feed(frame)
		return

	case p.state != StateListening:
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.endpointer.Feed(frame)
}

// run is the per-call worker. All wire output is produced here, so the
// output channel has a single closer and sends stay ordered.
func (p *Pipeline) run() {
	defer p.finish()

	p.greetAndArm()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.classifyCh:
			p.runClassification(job)
		case u := <-p.utterances:
			p.handleUtterance(u)
		}
		p.mu.Lock()
		ended := p.state == StateEnded || p.endReason != ""
		p.mu.Unlock()
		if ended {
			return
		}
	}
}

// greetAndArm speaks the opening line and either arms the classification
// window or goes straight to listening.
func (p *Pipeline) greetAndArm() {
	p.speakLine(p.cfg.Persona.Greeting)

	p.mu.Lock()
	p.cooldownFrames = p.cooldownFrameCount()
	if p.deps.Classifier != nil {
		p.classifying = true
		p.classifyStarted = time.Now()
		p.mu.Unlock()
		p.setStatus(events.StatusClassifying)
		return
	}
	p.state = StateListening
	p.mu.Unlock()
	p.setStatus(events.StatusListening)
}

// runClassification consults the voice-authenticity classifier once, before
// the first turn. Any trouble resolves to human.
func (p *Pipeline) runClassification(job classifyJob) {
	label := classifier.LabelHuman

	if job.speechFrames >= p.cfg.MinClassifySpeechFrames {
		wav := audio.WrapWAV(job.pcm, audio.SampleRate8kHz)
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.ClassifyTimeout)
		result := p.deps.Classifier.Classify(ctx, wav)
		cancel()
		label = result.Label
		p.log.Info("caller classified",
			"label", string(label), "confidence", result.Confidence)
	} else {
		p.log.Info("too little speech for classification, defaulting to human",
			"speech_frames", job.speechFrames)
	}

	prometheus.RecordClassification(string(label))

	if label == classifier.LabelAI {
		p.speakLine(p.cfg.Persona.AIDetectedLine)
		p.End("ai caller detected")
		return
	}

	// Human caller: greet again (the first greeting was consumed by the
	// classification window) and start the conversation proper.
	p.speakLine(p.cfg.Persona.Greeting)
	p.mu.Lock()
	p.state = StateListening
	p.cooldownFrames = p.cooldownFrameCount()
	p.mu.Unlock()
	p.setStatus(events.StatusListening)
}

// handleUtterance runs one full turn: STT, intelligence extraction, then
// generation streamed through synthesis.
func (p *Pipeline) handleUtterance(u audio.Utterance) {
	p.setState(StateTranscribing)
	if u.Overflow {
		prometheus.RecordUtterance("overflow")
	}

	transcript, err := p.transcribe(u.PCM)
	if err != nil {
		p.failTurn("stt", err)
		return
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		// Segmentation false positive; not a turn and not a failure.
		prometheus.RecordUtterance("empty")
		p.backToListening()
		return
	}
	prometheus.RecordUtterance("transcribed")

	p.log.Info("remote turn", "text", transcript)
	p.history.Append(convo.RoleRemote, transcript)
	p.deps.Bus.Publish(events.TurnRecorded(p.cfg.CallID, string(convo.RoleRemote), transcript))

	for _, item := range intel.Extract(transcript) {
		p.deps.Bus.Publish(events.IntelFound(p.cfg.CallID, item))
	}

	if p.Muted() {
		p.setStatus(events.StatusMuted)
		if p.cfg.MutedSkipGeneration {
			p.backToListening()
			return
		}
	}

	if err := p.respond(); err != nil {
		p.failTurn("generation", err)
		return
	}

	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()
}

// transcribe resamples the utterance to 16 kHz, wraps it in WAV, and runs
// the STT collaborator under its deadline.
func (p *Pipeline) transcribe(pcm8k []byte) (string, error) {
	pcm16k, err := audio.Resample8kTo16k(pcm8k)
	if err != nil {
		return "", err
	}
	wav := audio.WrapWAV(pcm16k, audio.SampleRate16kHz)

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.TranscribeTimeout)
	defer cancel()

	start := time.Now()
	cfg := stt.DefaultTranscriptionConfig()
	cfg.Format = "wav"
	cfg.Language = p.cfg.Persona.Language
	transcript, err := p.deps.STT.Transcribe(ctx, wav, cfg)

	status := "success"
	if err != nil {
		status = "error"
	}
	prometheus.RecordCollaboratorRequest("stt", p.deps.STT.Name(), status, time.Since(start).Seconds())
	return transcript, err
}

// respond streams one generated reply through sentence-level synthesis.
// While muted the reply is generated and recorded but never dispatched.
func (p *Pipeline) respond() error {
	p.setState(StateGenerating)
	p.setStatus(events.StatusGenerating)

	turnCtx, turnCancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	p.barged = false
	p.turnCancel = turnCancel
	p.mu.Unlock()
	defer func() {
		turnCancel()
		p.mu.Lock()
		p.turnCancel = nil
		p.mu.Unlock()
	}()

	genCtx, genCancel := context.WithTimeout(turnCtx, p.cfg.GenerateTimeout)
	defer genCancel()

	start := time.Now()
	prompt := p.history.Prompt(p.cfg.Persona.SystemPrompt, p.cfg.HistoryTurns)
	chunks, err := p.deps.Generator.GenerateStream(genCtx, prompt)
	if err != nil {
		prometheus.RecordCollaboratorRequest("llm", p.deps.Generator.Name(), "error", time.Since(start).Seconds())
		return err
	}

	if p.Muted() {
		return p.respondMuted(chunks, start)
	}

	reply := p.synth.Begin(turnCtx)

	genErrCh := make(chan error, 1)
	go func() {
		for chunk := range chunks {
			if chunk.Err != nil {
				genErrCh <- chunk.Err
				reply.Cancel()
				return
			}
			reply.OnTextChunk(chunk.Delta)
		}
		reply.Flush()
		genErrCh <- nil
	}()

	var synthErr error
	spoke := false
	for chunk := range reply.Chunks() {
		if chunk.Err != nil {
			synthErr = chunk.Err
			reply.Cancel()
			continue
		}
		if !spoke {
			spoke = true
			p.setState(StateSpeaking)
			p.setStatus(events.StatusSpeaking)
		}
		p.send(WireChunk{Audio: chunk.Data})
	}

	genErr := <-genErrCh
	genStatus := "success"
	if genErr != nil {
		genStatus = "error"
	}
	prometheus.RecordCollaboratorRequest("llm", p.deps.Generator.Name(), genStatus, time.Since(start).Seconds())

	p.mu.Lock()
	barged := p.barged
	p.mu.Unlock()

	// A barge-in cancels the turn context, so provider errors seen after
	// the interruption are cancellation fallout, not failures.
	if barged {
		p.send(WireChunk{Clear: true})
		text := reply.SpokenText()
		if p.cfg.RecordFullReplyOnBargeIn {
			text = reply.Text()
		}
		if strings.TrimSpace(text) != "" {
			p.recordPersonaTurn(text)
		}
		// No cooldown: the remote party is already talking.
		p.setStatus(events.StatusListening)
		return nil
	}

	if genErr != nil {
		return genErr
	}
	if synthErr != nil {
		return synthErr
	}

	p.recordPersonaTurn(reply.Text())
	p.send(WireChunk{Mark: "response_end"})
	p.backToListening()
	return nil
}

// respondMuted drains the generation stream without synthesis so the reply
// is recorded but never voiced.
func (p *Pipeline) respondMuted(chunks <-chan llm.Chunk, start time.Time) error {
	var text strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			prometheus.RecordCollaboratorRequest("llm", p.deps.Generator.Name(), "error", time.Since(start).Seconds())
			return chunk.Err
		}
		text.WriteString(chunk.Delta)
	}
	prometheus.RecordCollaboratorRequest("llm", p.deps.Generator.Name(), "success", time.Since(start).Seconds())

	if strings.TrimSpace(text.String()) != "" {
		p.recordPersonaTurn(text.String())
	}
	p.backToListening()
	return nil
}

func (p *Pipeline) recordPersonaTurn(text string) {
	p.log.Info("persona turn", "text", text)
	p.history.Append(convo.RolePersona, text)
	p.deps.Bus.Publish(events.TurnRecorded(p.cfg.CallID, string(convo.RolePersona), text))
}

// failTurn resolves a collaborator failure: play the fallback line and keep
// going, or end the call after too many consecutive failures.
func (p *Pipeline) failTurn(stage string, err error) {
	p.mu.Lock()
	p.failures++
	failures := p.failures
	p.mu.Unlock()

	prometheus.RecordTurnFailure()
	p.log.Error("turn failed", "stage", stage, "failures", failures, "error", err)
	p.setStatus(events.StatusFailed)

	if failures >= p.cfg.MaxConsecutiveFailures {
		p.log.Warn("consecutive failure limit reached, ending call")
		p.speakLine(p.cfg.Persona.ClosingLine)
		p.End("failure cascade")
		return
	}

	if !p.Muted() {
		p.speakLine(p.cfg.Persona.FallbackLine)
	}
	p.backToListening()
}

// speakLine voices one canned line synchronously, outside the normal
// generation path. Synthesis trouble here is logged, not escalated.
func (p *Pipeline) speakLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	reply := p.synth.Begin(p.ctx)
	reply.OnTextChunk(line)
	reply.Flush()
	for chunk := range reply.Chunks() {
		if chunk.Err != nil {
			p.log.Warn("canned line synthesis failed", "error", chunk.Err)
			reply.Cancel()
			break
		}
		p.send(WireChunk{Audio: chunk.Data})
	}
}

// backToListening re-arms the endpointer behind an echo cooldown.
func (p *Pipeline) backToListening() {
	p.mu.Lock()
	if p.state != StateEnded {
		p.state = StateListening
		p.cooldownFrames = p.cooldownFrameCount()
	}
	p.mu.Unlock()
	p.setStatus(events.StatusListening)
}

func (p *Pipeline) cooldownFrameCount() int {
	return int(p.cfg.EchoCooldown / (audio.FrameDuration * time.Millisecond))
}

func (p *Pipeline) setState(state State) {
	p.mu.Lock()
	if p.state != StateEnded {
		p.state = state
	}
	p.mu.Unlock()
}

func (p *Pipeline) setStatus(status events.Status) {
	p.deps.Bus.Publish(events.StatusChanged(p.cfg.CallID, status))
}

// send delivers one wire chunk unless the call is over. Only the run
// goroutine calls this, so the output channel needs no close guard.
func (p *Pipeline) send(chunk WireChunk) {
	select {
	case p.out <- chunk:
	case <-p.ctx.Done():
	}
}

// finish tears the session down exactly once: terminal state, suppressed
// endpointer, final events, closed output.
func (p *Pipeline) finish() {
	p.mu.Lock()
	p.state = StateEnded
	reason := p.endReason
	if reason == "" {
		reason = "hangup"
	}
	p.mu.Unlock()

	p.cancel()
	p.endpointer.Suppress(true)

	p.setStatus(events.StatusEnded)
	p.deps.Bus.Publish(events.SessionEnded(p.cfg.CallID, reason))
	prometheus.RecordCallEnd(string(p.cfg.Transport), reason, time.Since(p.createdAt).Seconds())

	close(p.out)
	close(p.done)
}
