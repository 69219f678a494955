// Package kv wraps Redis with the small set of TTL'd key, set,
// sorted-set, list, hash, and pub/sub primitives the crawl orchestrator
// and admission controller need, so callers share one typed store
// instead of issuing ad hoc Redis commands.
package kv

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a thin, typed wrapper around redis.Cmdable. Using the
// interface rather than *redis.Client lets tests substitute a fake.
type Store struct {
	rdb redis.Cmdable
}

func New(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

// SetJSON marshals v and stores it under key with the given TTL. ttl
// of zero means no expiry.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, data, ttl).Err()
}

// GetJSON unmarshals the value stored at key into dest. Returns
// ok=false if the key does not exist.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dest)
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, key, ttl).Err()
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Incr increments key and, on the first hit in a fresh window (count
// becomes 1), applies ttl. This is the fixed-window counter behind
// both rate-limit gates.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 && ttl > 0 {
		_ = s.rdb.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

// SetNX sets key to value only if absent, returning whether this call
// won the race. Used for the crawl finish-election lock.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

// --- Sets ---

// SAdd adds members to a set and returns how many were newly added —
// used directly as the crawl frontier's dedup admission signal: admit
// iff the set cardinality actually increased.
func (s *Store) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	anyMembers := make([]any, len(members))
	for i, m := range members {
		anyMembers[i] = m
	}
	return s.rdb.SAdd(ctx, key, anyMembers...).Result()
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.SCard(ctx, key).Result()
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.SMembers(ctx, key).Result()
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return s.rdb.SIsMember(ctx, key, member).Result()
}

// SRem removes members from a set, used to clear a crawl's pending
// child-job tracking set as each child finishes.
func (s *Store) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	anyMembers := make([]any, len(members))
	for i, m := range members {
		anyMembers[i] = m
	}
	return s.rdb.SRem(ctx, key, anyMembers...).Result()
}

// --- Lists ---

func (s *Store) LPush(ctx context.Context, key string, values ...string) error {
	anyValues := make([]any, len(values))
	for i, v := range values {
		anyValues[i] = v
	}
	return s.rdb.LPush(ctx, key, anyValues...).Err()
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.rdb.LRange(ctx, key, start, stop).Result()
}

func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	return s.rdb.LLen(ctx, key).Result()
}

// --- Sorted sets ---

// ZAdd adds/updates a member with the given score. Used both for the
// active-jobs register (score = expiry timestamp) and the
// concurrency-limit-queue (score = enqueue time).
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *Store) ZRem(ctx context.Context, key string, member string) error {
	return s.rdb.ZRem(ctx, key, member).Err()
}

// ZCountFrom returns the count of members with score in [min, +inf) —
// the self-pruning concurrency estimate: entries whose expiry score
// has passed simply stop counting.
func (s *Store) ZCountFrom(ctx context.Context, key string, min float64) (int64, error) {
	return s.rdb.ZCount(ctx, key, formatScore(min), "+inf").Result()
}

func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: formatScore(min), Max: formatScore(max)}).Result()
}

// ZPopMinN pops up to n of the lowest-scored members, used by the
// admission Promoter to move deferred jobs back to the main queue in
// enqueue-time order.
func (s *Store) ZPopMinN(ctx context.Context, key string, n int64) ([]redis.Z, error) {
	return s.rdb.ZPopMin(ctx, key, n).Result()
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, key).Result()
}

// --- Hashes ---

func (s *Store) HSet(ctx context.Context, key string, values map[string]any) error {
	return s.rdb.HSet(ctx, key, values).Err()
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

// --- Pub/Sub ---

func (s *Store) Publish(ctx context.Context, channel string, payload string) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
