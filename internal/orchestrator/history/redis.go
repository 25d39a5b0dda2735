package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	entriesKey = "cardscan:history:entries"
	countsKey  = "cardscan:history:counts"
)

// RedisStore implements Store on a Redis list so several instances share one
// history and totals survive restarts.
type RedisStore struct {
	client  *redis.Client
	maxSize int64
	prefix  string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces the keys, e.g. per camera station.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a Redis-backed history keeping maxEntries attempts.
func NewRedisStore(client *redis.Client, maxEntries int, opts ...RedisOption) *RedisStore {
	if maxEntries <= 0 {
		maxEntries = 50
	}
	s := &RedisStore{client: client, maxSize: int64(maxEntries)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

// Add pushes the entry and trims the list in one transaction.
func (s *RedisStore) Add(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key(entriesKey), data)
		pipe.LTrim(ctx, s.key(entriesKey), 0, s.maxSize-1)
		pipe.HIncrBy(ctx, s.key(countsKey), e.Outcome, 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	raw, err := s.client.LRange(ctx, s.key(entriesKey), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Counts returns the per-outcome totals.
func (s *RedisStore) Counts(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.key(countsKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("read history counts: %w", err)
	}
	counts := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		counts[k] = n
	}
	return counts, nil
}
