package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/karmalabs/karma/convo"
	"github.com/karmalabs/karma/intel"
)

const defaultRedisTTL = 7 * 24 * time.Hour

// RedisStore persists call records in Redis as JSON blobs with a sorted
// set index ordered by call start time. Suitable for deployments where
// records must survive process restarts or be shared across instances.
//
// Append operations are read-modify-write. Each call has a single writer
// (the recorder goroutine), so no optimistic locking is needed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets how long finished call records are kept.
// Default is 7 days. Set to 0 to keep records forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys. Default is "karma".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed call store.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(30 * 24 * time.Hour),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		ttl:    defaultRedisTTL,
		prefix: "karma",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) callKey(callID string) string {
	return s.prefix + ":call:" + callID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":calls"
}

// CreateCall records the start of a call.
func (s *RedisStore) CreateCall(ctx context.Context, record *CallRecord) error {
	if record == nil || record.CallID == "" {
		return ErrInvalidID
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	// Batch the SET and index update into one round-trip.
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.callKey(record.CallID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(record.StartedAt.UnixMilli()),
		Member: record.CallID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis create failed: %w", err)
	}
	return nil
}

// LoadCall retrieves a call record by ID.
func (s *RedisStore) LoadCall(ctx context.Context, callID string) (*CallRecord, error) {
	if callID == "" {
		return nil, ErrInvalidID
	}

	data, err := s.client.Get(ctx, s.callKey(callID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var record CallRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call record: %w", err)
	}
	return &record, nil
}

// AppendTurn adds a turn to the call's transcript.
func (s *RedisStore) AppendTurn(ctx context.Context, callID string, turn convo.Turn) error {
	return s.update(ctx, callID, func(record *CallRecord) {
		record.Turns = append(record.Turns, turn)
	})
}

// AppendIntel adds an intelligence item to the call.
func (s *RedisStore) AppendIntel(ctx context.Context, callID string, item intel.Item) error {
	return s.update(ctx, callID, func(record *CallRecord) {
		record.Intel = append(record.Intel, item)
	})
}

// EndCall marks the call finished.
func (s *RedisStore) EndCall(ctx context.Context, callID, reason string, endedAt time.Time) error {
	return s.update(ctx, callID, func(record *CallRecord) {
		record.EndedAt = endedAt
		record.EndReason = reason
	})
}

func (s *RedisStore) update(ctx context.Context, callID string, mutate func(*CallRecord)) error {
	record, err := s.LoadCall(ctx, callID)
	if err != nil {
		return err
	}
	mutate(record)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}
	if err := s.client.Set(ctx, s.callKey(callID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// ListCalls returns stored calls newest first, skipping index entries
// whose records have expired.
func (s *RedisStore) ListCalls(ctx context.Context, opts ListOptions) ([]*CallRecord, error) {
	opts = normalizeList(opts)

	ids, err := s.client.ZRevRange(ctx, s.indexKey(),
		int64(opts.Offset), int64(opts.Offset+opts.Limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index read failed: %w", err)
	}

	var out []*CallRecord
	for _, id := range ids {
		record, err := s.LoadCall(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Expired record, drop the stale index entry.
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// Stats aggregates across all stored calls.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("redis index read failed: %w", err)
	}

	var stats Stats
	for _, id := range ids {
		record, err := s.LoadCall(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Stats{}, err
		}
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
