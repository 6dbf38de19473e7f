package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "scribe:rate:"

// incrScript resets an expired window, then increments only when below limit.
// KEYS[1]=window key, ARGV = limit, window ms, now ms.
// Returns {allowed, count, expires_at_ms}.
var incrScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local exp = tonumber(redis.call('HGET', KEYS[1], 'exp') or '0')
local count = 0
if exp > now then
  count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
else
  exp = now + window
  redis.call('HSET', KEYS[1], 'count', 0, 'exp', exp)
  redis.call('PEXPIREAT', KEYS[1], exp)
end
if count >= limit then
  return {0, count, exp}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, exp}
`)

// decrScript decrements only the window that expires at ARGV[1].
var decrScript = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'exp')
if exp and tonumber(exp) == tonumber(ARGV[1]) then
  local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
  if count > 0 then
    return redis.call('HINCRBY', KEYS[1], 'count', -1)
  end
end
return -1
`)

// RedisStore keeps rate windows in Redis so several replicas share one quota.
// Expired keys are evicted by Redis TTLs.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis parses a redis:// URL and verifies the connection.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, bool, error) {
	res, err := incrScript.Run(ctx, s.client, []string{keyPrefix + key},
		limit, window.Milliseconds(), now.UnixMilli()).Int64Slice()
	if err != nil {
		return Window{}, false, fmt.Errorf("rate incr: %w", err)
	}
	if len(res) != 3 {
		return Window{}, false, fmt.Errorf("rate incr: unexpected reply %v", res)
	}
	return Window{Count: int(res[1]), ExpiresAt: time.UnixMilli(res[2])}, res[0] == 1, nil
}

func (s *RedisStore) Decr(ctx context.Context, key string, expiresAt time.Time) error {
	if err := decrScript.Run(ctx, s.client, []string{keyPrefix + key}, expiresAt.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("rate decr: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string, now time.Time) (Window, error) {
	vals, err := s.client.HMGet(ctx, keyPrefix+key, "count", "exp").Result()
	if err != nil {
		return Window{}, fmt.Errorf("rate get: %w", err)
	}
	count, exp := parseInt(vals[0]), parseInt(vals[1])
	if exp <= now.UnixMilli() {
		return Window{}, nil
	}
	return Window{Count: int(count), ExpiresAt: time.UnixMilli(exp)}, nil
}

// Sweep is a no-op; Redis expires window keys itself.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func parseInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
