// Package registry tracks the live call sessions of a single process.
//
// Each entry owns a running pipeline. Sessions enter through Create when a
// transport accepts a call and leave either through Destroy or on their own
// when the pipeline ends (hangup, failure cascade, AI caller). A reaper
// goroutine per session keeps the map consistent with pipeline lifetime.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/karmalabs/karma/logger"
	"github.com/karmalabs/karma/pipeline"
)

var (
	// ErrConflict is returned when a session with the same call ID is
	// already active.
	ErrConflict = errors.New("call session already exists")

	// ErrNotFound is returned when no active session has the given call ID.
	ErrNotFound = errors.New("call session not found")
)

// DefaultDrainTimeout bounds how long Destroy waits for a pipeline to
// finish tearing down before giving up on it.
const DefaultDrainTimeout = 5 * time.Second

// Snapshot is a point-in-time view of one active session.
type Snapshot struct {
	CallID    string             `json:"call_id"`
	Transport pipeline.Transport `json:"transport"`
	State     pipeline.State     `json:"state"`
	Muted     bool               `json:"muted"`
	Turns     int                `json:"turns"`
	CreatedAt time.Time          `json:"created_at"`
}

// Registry is the set of active call sessions. Safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[string]*pipeline.Pipeline
	drainTimeout time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithDrainTimeout overrides how long Destroy waits for pipeline teardown.
func WithDrainTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.drainTimeout = d
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		sessions:     make(map[string]*pipeline.Pipeline),
		drainTimeout: DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create builds a pipeline for the call, registers it, and starts it.
// Returns ErrConflict if a session with the same call ID is already active.
func (r *Registry) Create(ctx context.Context, cfg pipeline.Config, deps pipeline.Deps) (*pipeline.Pipeline, error) {
	p, err := pipeline.New(cfg, deps)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.sessions[p.CallID()]; exists {
		r.mu.Unlock()
		return nil, ErrConflict
	}
	r.sessions[p.CallID()] = p
	r.mu.Unlock()

	p.Start(ctx)
	go r.reap(p)

	logger.For("registry").Info("session registered",
		"call_id", p.CallID(), "transport", string(p.Transport()))
	return p, nil
}

// reap removes the session once its pipeline has ended, however it ended.
func (r *Registry) reap(p *pipeline.Pipeline) {
	<-p.Done()
	r.mu.Lock()
	if current, ok := r.sessions[p.CallID()]; ok && current == p {
		delete(r.sessions, p.CallID())
	}
	r.mu.Unlock()
	logger.For("registry").Info("session reaped", "call_id", p.CallID())
}

// Get returns the active session for the call ID.
func (r *Registry) Get(callID string) (*pipeline.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.sessions[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Destroy ends the session and waits for its teardown, bounded by the
// drain timeout. Destroying an unknown or already-ended session is not an
// error, so transports can report hangups without checking first.
func (r *Registry) Destroy(callID, reason string) {
	r.mu.RLock()
	p, ok := r.sessions[callID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	p.End(reason)
	select {
	case <-p.Done():
	case <-time.After(r.drainTimeout):
		logger.For("registry").Warn("session teardown timed out",
			"call_id", callID, "timeout", r.drainTimeout)
	}
}

// SetMute toggles silent observation for the session.
func (r *Registry) SetMute(callID string, muted bool) error {
	p, err := r.Get(callID)
	if err != nil {
		return err
	}
	p.SetMute(muted)
	return nil
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ListActive returns a snapshot of every active session, oldest first.
func (r *Registry) ListActive() []Snapshot {
	r.mu.RLock()
	snapshots := make([]Snapshot, 0, len(r.sessions))
	for _, p := range r.sessions {
		snapshots = append(snapshots, Snapshot{
			CallID:    p.CallID(),
			Transport: p.Transport(),
			State:     p.State(),
			Muted:     p.Muted(),
			Turns:     p.TurnCount(),
			CreatedAt: p.CreatedAt(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots
}

// DestroyAll ends every active session, used during process shutdown.
func (r *Registry) DestroyAll(reason string) {
	for _, snap := range r.ListActive() {
		r.Destroy(snap.CallID, reason)
	}
}
