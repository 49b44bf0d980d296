package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowScript evicts, counts and conditionally records in one round trip.
// Returns {allowed, count, oldestScore}.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local ceiling = tonumber(ARGV[4])
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local count = redis.call('ZCARD', key)
local allowed = 0
if count < ceiling then
  redis.call('ZADD', key, ARGV[1], ARGV[5])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, ARGV[3])
local oldest = 0
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// peekScript counts live window entries without evicting or recording. Returns {count, oldestScore}.
var peekScript = redis.NewScript(`
local count = redis.call('ZCOUNT', KEYS[1], ARGV[1], '+inf')
local oldest = 0
local first = redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[1], '+inf', 'WITHSCORES', 'LIMIT', 0, 1)
if first[2] then
  oldest = tonumber(first[2])
end
return {count, oldest}
`)

// resetScript advances the cycle only while the stored start matches the caller's snapshot.
// Increments landing between the snapshot read and this script carry into the new cycle.
var resetScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false then
  current = ''
end
if current ~= ARGV[1] then
  return 0
end
local requests = redis.call('DECRBY', KEYS[2], ARGV[3])
if requests < 0 then
  redis.call('SET', KEYS[2], '0')
end
local tokens = tonumber(redis.call('INCRBYFLOAT', KEYS[3], '-' .. ARGV[4]))
if tokens <= 0 then
  redis.call('SET', KEYS[3], '0')
end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

// RedisStore implements Store on go-redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps a redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying redis client.
func (s *RedisStore) Client() redis.UniversalClient { return s.client }

func (s *RedisStore) WindowAdmit(ctx context.Context, key string, nowMs, windowMs, ceiling int64, member string) (WindowResult, error) {
	args := []any{
		strconv.FormatInt(nowMs, 10),
		"(" + strconv.FormatInt(nowMs-windowMs, 10),
		strconv.FormatInt(windowMs, 10),
		strconv.FormatInt(ceiling, 10),
		member,
	}
	raw, err := windowScript.Run(ctx, s.client, []string{key}, args...).Int64Slice()
	if err != nil {
		return WindowResult{}, fmt.Errorf("counter: window admit: %w", err)
	}
	if len(raw) != 3 {
		return WindowResult{}, fmt.Errorf("counter: window admit: unexpected reply length %d", len(raw))
	}
	return WindowResult{Allowed: raw[0] == 1, Count: raw[1], OldestMs: raw[2]}, nil
}

func (s *RedisStore) WindowPeek(ctx context.Context, key string, nowMs, windowMs int64) (WindowResult, error) {
	minScore := "(" + strconv.FormatInt(nowMs-windowMs, 10)
	raw, err := peekScript.Run(ctx, s.client, []string{key}, minScore).Int64Slice()
	if err != nil {
		return WindowResult{}, fmt.Errorf("counter: window peek: %w", err)
	}
	if len(raw) != 2 {
		return WindowResult{}, fmt.Errorf("counter: window peek: unexpected reply length %d", len(raw))
	}
	return WindowResult{Count: raw[0], OldestMs: raw[1]}, nil
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	v, err := s.client.IncrBy(ctx, key, n).Result()
	if err != nil {
		return 0, fmt.Errorf("counter: incrby %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) IncrByFloat(ctx context.Context, key string, n float64) (float64, error) {
	v, err := s.client.IncrByFloat(ctx, key, n).Result()
	if err != nil {
		return 0, fmt.Errorf("counter: incrbyfloat %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("counter: setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) ReadCycle(ctx context.Context, appID string) (Cycle, error) {
	vals, err := s.client.MGet(ctx, RequestsKey(appID), TokensKey(appID), CycleStartKey(appID)).Result()
	if err != nil {
		return Cycle{}, fmt.Errorf("counter: read cycle %s: %w", appID, err)
	}
	var cycle Cycle
	if str, ok := vals[0].(string); ok {
		if cycle.Requests, err = strconv.ParseInt(str, 10, 64); err != nil {
			return Cycle{}, fmt.Errorf("counter: parse requests: %w", err)
		}
	}
	if str, ok := vals[1].(string); ok {
		if cycle.Tokens, err = strconv.ParseFloat(str, 64); err != nil {
			return Cycle{}, fmt.Errorf("counter: parse tokens: %w", err)
		}
	}
	if str, ok := vals[2].(string); ok {
		ms, errParse := strconv.ParseInt(str, 10, 64)
		if errParse != nil {
			return Cycle{}, fmt.Errorf("counter: parse cycle start: %w", errParse)
		}
		cycle.Start = time.UnixMilli(ms).UTC()
		cycle.Started = true
	}
	return cycle, nil
}

func (s *RedisStore) InitCycle(ctx context.Context, appID string, start time.Time) (time.Time, error) {
	key := CycleStartKey(appID)
	if _, err := s.client.SetNX(ctx, key, start.UnixMilli(), 0).Result(); err != nil {
		return time.Time{}, fmt.Errorf("counter: init cycle %s: %w", appID, err)
	}
	ms, err := s.client.Get(ctx, key).Int64()
	if err != nil {
		return time.Time{}, fmt.Errorf("counter: init cycle %s: %w", appID, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (s *RedisStore) ResetCycle(ctx context.Context, appID string, expected, next time.Time, requests int64, tokens float64) (bool, error) {
	expectedArg := ""
	if !expected.IsZero() {
		expectedArg = strconv.FormatInt(expected.UnixMilli(), 10)
	}
	keys := []string{CycleStartKey(appID), RequestsKey(appID), TokensKey(appID)}
	done, err := resetScript.Run(ctx, s.client, keys,
		expectedArg,
		strconv.FormatInt(next.UnixMilli(), 10),
		strconv.FormatInt(requests, 10),
		strconv.FormatFloat(tokens, 'f', -1, 64),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("counter: reset cycle %s: %w", appID, err)
	}
	return done == 1, nil
}

func (s *RedisStore) ClearFlags(ctx context.Context, appID string) error {
	iter := s.client.Scan(ctx, 0, flagPattern(appID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("counter: scan flags %s: %w", appID, err)
	}
	return s.Delete(ctx, keys...)
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("counter: delete: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
