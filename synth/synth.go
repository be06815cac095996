// Package synth converts a streaming text reply into streaming speech.
// Text chunks arrive token by token from the generation provider; the
// synthesizer detects sentence boundaries as they complete, dispatches
// each finished span to TTS immediately, and re-sequences the resulting
// audio so the wire always hears sentences in the order they were written,
// even when a later sentence synthesizes faster than an earlier one.
package synth

import (
	"context"
	"strings"
	"sync"

	"github.com/karmalabs/karma/tts"
)

const (
	// minSentenceRunes is the shortest span split on terminal punctuation.
	// Very short fragments sound clipped when voiced in isolation.
	minSentenceRunes = 15

	// minClauseRunes is the shortest span split on the one-per-reply comma
	// boundary used to minimize time-to-first-audio.
	minClauseRunes = 8

	// maxSpanRunes force-splits punctuation-free output so a single span
	// never delays synthesis indefinitely.
	maxSpanRunes = 240

	// jobResultBuffer is the per-sentence audio chunk buffer.
	jobResultBuffer = 64

	// outputBuffer is the downstream audio chunk buffer.
	outputBuffer = 64
)

// sentenceEnders are the terminal punctuation marks, including the
// Devanagari danda.
const sentenceEnders = ".!?।"

// Chunk is one piece of synthesized audio delivered downstream.
// Sentence is the zero-based dispatch index of the span it belongs to.
type Chunk struct {
	Sentence int
	Data     []byte
	Err      error
}

// Synthesizer holds the TTS collaborator and synthesis settings for one
// call session. It creates one Reply per persona turn.
type Synthesizer struct {
	service tts.StreamingService
	config  tts.SynthesisConfig
}

// New creates a synthesizer bound to a streaming TTS service.
func New(service tts.StreamingService, config tts.SynthesisConfig) *Synthesizer {
	return &Synthesizer{service: service, config: config}
}

// Begin opens a new pending reply. The returned Reply accepts text chunks
// until Flush or Cancel; its audio is read from Chunks.
func (s *Synthesizer) Begin(ctx context.Context) *Reply {
	ctx, cancel := context.WithCancel(ctx)
	r := &Reply{
		service: s.service,
		config:  s.config,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		out:     make(chan Chunk, outputBuffer),
	}
	go r.emit()
	return r
}

// job is one dispatched sentence span awaiting synthesis. Its results
// channel is closed when the provider stream ends or the reply is
// cancelled.
type job struct {
	index   int
	text    string
	results chan tts.AudioChunk
}

// Reply accumulates one persona turn's generated text and streams its
// synthesized audio in dispatch order.
type Reply struct {
	service tts.StreamingService
	config  tts.SynthesisConfig
	ctx     context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	full        strings.Builder
	pending     string
	spans       []string
	clauseSplit bool
	emitted     int
	done        bool

	queue []*job
	wake  chan struct{}
	out   chan Chunk
}

// Chunks returns the ordered audio stream for this reply. The channel
// closes once the reply has been flushed and fully voiced, or cancelled.
func (r *Reply) Chunks() <-chan Chunk {
	return r.out
}

// OnTextChunk appends generated text and dispatches any newly completed
// sentence spans. It never blocks on synthesis.
func (r *Reply) OnTextChunk(chunk string) {
	if chunk == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.full.WriteString(chunk)
	r.pending += chunk
	for {
		span, rest, ok := r.splitBoundary(r.pending)
		if !ok {
			break
		}
		r.pending = rest
		r.dispatchLocked(span)
	}
}

// Flush dispatches any trailing partial span and marks the reply complete.
// The Chunks channel closes after the last dispatched span has been voiced.
func (r *Reply) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	if strings.TrimSpace(r.pending) != "" {
		r.dispatchLocked(r.pending)
	}
	r.pending = ""
	r.done = true
	r.notifyLocked()
}

// Cancel aborts all in-flight and queued synthesis for this reply.
// Provider calls already underway may still complete; their output is
// discarded, never awaited.
func (r *Reply) Cancel() {
	r.mu.Lock()
	r.done = true
	r.queue = nil
	r.mu.Unlock()
	r.cancel()
}

// Text returns the full generated text accumulated so far.
func (r *Reply) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.full.String()
}

// SpokenText returns the concatenation of spans whose audio has fully
// reached the output, used to record an interrupted reply as spoken-so-far.
func (r *Reply) SpokenText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.spans[:r.emitted], "")
}

// splitBoundary finds the earliest boundary in text and returns the
// completed span and the remainder. Boundaries, in priority of position:
//   - terminal punctuation once the span reaches the minimum length,
//     skipping "." that is immediately followed by another "." so
//     ellipses do not split mid-sentence;
//   - a single comma per reply, so the first clause reaches the wire
//     without waiting for a full sentence;
//   - a hard length cap for punctuation-free output.
func (r *Reply) splitBoundary(text string) (span, rest string, ok bool) {
	runes := []rune(text)
	for i, ch := range runes {
		prefixLen := trimmedLen(runes[:i+1])
		switch {
		case strings.ContainsRune(sentenceEnders, ch):
			if ch == '.' && i+1 < len(runes) && runes[i+1] == '.' {
				continue
			}
			if prefixLen >= minSentenceRunes {
				return string(runes[:i+1]), string(runes[i+1:]), true
			}
		case ch == ',' && !r.clauseSplit:
			if prefixLen >= minClauseRunes {
				r.clauseSplit = true
				return string(runes[:i+1]), string(runes[i+1:]), true
			}
		}
		if i+1 >= maxSpanRunes {
			return string(runes[:i+1]), string(runes[i+1:]), true
		}
	}
	return "", "", false
}

func trimmedLen(runes []rune) int {
	return len([]rune(strings.TrimSpace(string(runes))))
}

// dispatchLocked queues a span for synthesis and starts its provider call.
// Caller holds r.mu.
func (r *Reply) dispatchLocked(span string) {
	j := &job{
		index:   len(r.spans),
		text:    span,
		results: make(chan tts.AudioChunk, jobResultBuffer),
	}
	r.spans = append(r.spans, span)
	r.queue = append(r.queue, j)
	r.notifyLocked()
	go r.synthesize(j)
}

func (r *Reply) notifyLocked() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// synthesize runs one provider call and forwards its chunks to the job's
// results channel.
func (r *Reply) synthesize(j *job) {
	defer close(j.results)

	chunks, err := r.service.SynthesizeStream(r.ctx, j.text, r.config)
	if err != nil {
		select {
		case j.results <- tts.AudioChunk{Error: err}:
		case <-r.ctx.Done():
		}
		return
	}
	for chunk := range chunks {
		select {
		case j.results <- chunk:
		case <-r.ctx.Done():
			return
		}
	}
}

// emit drains jobs in dispatch order, forwarding each span's audio fully
// before starting the next. This is what turns out-of-order synthesis
// completion into in-order wire delivery.
func (r *Reply) emit() {
	defer close(r.out)
	for {
		j, ok := r.next()
		if !ok {
			return
		}
		for chunk := range j.results {
			out := Chunk{Sentence: j.index, Data: chunk.Data, Err: chunk.Error}
			select {
			case r.out <- out:
			case <-r.ctx.Done():
				return
			}
		}
		r.mu.Lock()
		r.emitted = j.index + 1
		r.mu.Unlock()
	}
}

// next blocks until a job is available, the reply completes, or the
// context is cancelled.
func (r *Reply) next() (*job, bool) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			j := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return j, true
		}
		done := r.done
		r.mu.Unlock()
		if done {
			return nil, false
		}
		select {
		case <-r.wake:
		case <-r.ctx.Done():
			return nil, false
		}
	}
}
