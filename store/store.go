// Package store persists call records: who called, what was said, what
// intelligence was extracted, and how the call ended. Records outlive the
// in-memory session so the dashboard can browse finished calls.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/karmalabs/karma/convo"
	"github.com/karmalabs/karma/intel"
)

var (
	// ErrNotFound is returned when no record exists for the call ID.
	ErrNotFound = errors.New("call record not found")

	// ErrInvalidID is returned when a call ID is empty.
	ErrInvalidID = errors.New("call ID cannot be empty")
)

// CallRecord is the persisted trace of one call.
type CallRecord struct {
	CallID    string       `json:"call_id"`
	Transport string       `json:"transport"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at,omitempty"`
	EndReason string       `json:"end_reason,omitempty"`
	Turns     []convo.Turn `json:"turns,omitempty"`
	Intel     []intel.Item `json:"intel,omitempty"`
}

// Active reports whether the call has not ended yet.
func (r *CallRecord) Active() bool {
	return r.EndedAt.IsZero()
}

// Duration returns the call length, or the time elapsed so far for an
// active call.
func (r *CallRecord) Duration() time.Duration {
	if r.Active() {
		return time.Since(r.StartedAt)
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// ListOptions paginates call listings. Calls are always returned newest
// first.
type ListOptions struct {
	Limit  int
	Offset int
}

// Stats aggregates the stored corpus for the dashboard.
type Stats struct {
	TotalCalls           int     `json:"total_calls"`
	ActiveCalls          int     `json:"active_calls"`
	TotalTurns           int     `json:"total_turns"`
	TotalIntelItems      int     `json:"total_intel_items"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
}

// Store is the persistence interface for call records.
type Store interface {
	// CreateCall records the start of a call. Overwrites any previous
	// record with the same ID, which only happens when a provider
	// recycles call IDs.
	CreateCall(ctx context.Context, record *CallRecord) error

	// LoadCall retrieves the record for a call ID.
	// Returns ErrNotFound if the call was never recorded.
	LoadCall(ctx context.Context, callID string) (*CallRecord, error)

	// AppendTurn adds a conversation turn to the call's transcript.
	AppendTurn(ctx context.Context, callID string, turn convo.Turn) error

	// AppendIntel adds an extracted intelligence item to the call.
	AppendIntel(ctx context.Context, callID string, item intel.Item) error

	// EndCall marks the call finished with its end reason.
	EndCall(ctx context.Context, callID, reason string, endedAt time.Time) error

	// ListCalls returns stored calls newest first.
	ListCalls(ctx context.Context, opts ListOptions) ([]*CallRecord, error)

	// Stats aggregates across all stored calls.
	Stats(ctx context.Context) (Stats, error)
}

const defaultListLimit = 100

func normalizeList(opts ListOptions) ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}
