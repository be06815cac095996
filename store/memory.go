package store

import (
	"context"
	"sync"
	"time"

	"github.com/karmalabs/karma/convo"
	"github.com/karmalabs/karma/intel"
)

// MemoryStore keeps call records in process memory. It is thread-safe and
// suitable for development, testing, and single-instance deployments. For
// records that must survive a restart, use RedisStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*CallRecord
	order   []string // call IDs in creation order
}

// NewMemoryStore creates an empty in-memory call store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*CallRecord),
	}
}

// CreateCall records the start of a call.
func (s *MemoryStore) CreateCall(ctx context.Context, record *CallRecord) error {
	if record == nil || record.CallID == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.CallID]; !exists {
		s.order = append(s.order, record.CallID)
	}
	s.records[record.CallID] = copyRecord(record)
	return nil
}

// LoadCall retrieves a call record by ID.
func (s *MemoryStore) LoadCall(ctx context.Context, callID string) (*CallRecord, error) {
	if callID == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(record), nil
}

// AppendTurn adds a turn to the call's transcript.
func (s *MemoryStore) AppendTurn(ctx context.Context, callID string, turn convo.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[callID]
	if !ok {
		return ErrNotFound
	}
	record.Turns = append(record.Turns, turn)
	return nil
}

// AppendIntel adds an intelligence item to the call.
func (s *MemoryStore) AppendIntel(ctx context.Context, callID string, item intel.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[callID]
	if !ok {
		return ErrNotFound
	}
	record.Intel = append(record.Intel, item)
	return nil
}

// EndCall marks the call finished.
func (s *MemoryStore) EndCall(ctx context.Context, callID, reason string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[callID]
	if !ok {
		return ErrNotFound
	}
	record.EndedAt = endedAt
	record.EndReason = reason
	return nil
}

// ListCalls returns stored calls newest first.
func (s *MemoryStore) ListCalls(ctx context.Context, opts ListOptions) ([]*CallRecord, error) {
	opts = normalizeList(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*CallRecord
	for i := len(s.order) - 1 - opts.Offset; i >= 0 && len(out) < opts.Limit; i-- {
		out = append(out, copyRecord(s.records[s.order[i]]))
	}
	return out, nil
}

// Stats aggregates across all stored calls.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	for _, record := range s.records {
		stats.TotalCalls++
		if record.Active() {
			stats.ActiveCalls++
		} else {
			stats.TotalDurationSeconds += record.EndedAt.Sub(record.StartedAt).Seconds()
		}
		stats.TotalTurns += len(record.Turns)
		stats.TotalIntelItems += len(record.Intel)
	}
	return stats, nil
}

// copyRecord returns a copy with its own slices so callers cannot mutate
// stored state.
func copyRecord(record *CallRecord) *CallRecord {
	out := *record
	out.Turns = append([]convo.Turn(nil), record.Turns...)
	out.Intel = append([]intel.Item(nil), record.Intel...)
	return &out
}
