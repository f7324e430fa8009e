package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"link-redirect-service/models"

	"github.com/redis/go-redis/v9"
)

const (
	linkKeyPrefix  = "url:"
	fenceKeyPrefix = "fence:url:"
)

// LinkCacheKey returns the application cache key for a short code.
func LinkCacheKey(shortCode string) string {
	return linkKeyPrefix + shortCode
}

func fenceKey(shortCode string) string {
	return fenceKeyPrefix + shortCode
}

// setUnlessFenced writes KEYS[1] unless the fence KEYS[2] exists.
var setUnlessFenced = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// incrWindow counts into KEYS[1] and makes sure the counter expires, also
// repairing a counter that lost its TTL.
var incrWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

type RedisDB struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

// OpenRedisDB builds the client without contacting the server, so the service
// can start while Redis is down. redisURL may be a full redis:// URL or a bare
// host:port.
func OpenRedisDB(redisURL string, ttl, timeout time.Duration) *RedisDB {
	var opt *redis.Options

	raw := redisURL
	if !strings.Contains(raw, "://") {
		raw = "redis://" + raw
	}
	if parsed, err := redis.ParseURL(raw); err == nil {
		opt = parsed
	} else {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 5

	return NewRedisDBFromClient(redis.NewClient(opt), ttl, timeout)
}

// NewRedisDBFromClient wraps an existing client.
func NewRedisDBFromClient(client *redis.Client, ttl, timeout time.Duration) *RedisDB {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	return &RedisDB{client: client, ttl: ttl, timeout: timeout}
}

func (r *RedisDB) Close() error {
	return r.client.Close()
}

func (r *RedisDB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

// GetLink returns the cached entry for shortCode. A missing key yields
// models.ErrCacheMiss; connection errors and timeouts wrap
// models.ErrCacheUnavailable. An entry that cannot be decoded is removed and
// reported as unavailable.
func (r *RedisDB) GetLink(ctx context.Context, shortCode string) (*models.CacheEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := LinkCacheKey(shortCode)
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", models.ErrCacheUnavailable, key, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(val, &entry); err != nil || entry.ShortCode != shortCode {
		r.client.Del(ctx, key)
		return nil, fmt.Errorf("%w: undecodable entry for %s", models.ErrCacheUnavailable, key)
	}
	return &entry, nil
}

// SetLink writes the entry with the configured TTL, replacing any previous
// value. While the key is fenced by a recent DeleteLink the write is skipped
// and nil is returned.
func (r *RedisDB) SetLink(ctx context.Context, entry *models.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	keys := []string{LinkCacheKey(entry.ShortCode), fenceKey(entry.ShortCode)}
	if err := setUnlessFenced.Run(ctx, r.client, keys, data, r.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

// DeleteLink removes the entry and fences the key for
// models.InvalidationFence so a lookup that read the store before the change
// cannot write the old row back. Deleting an absent key is not an error.
func (r *RedisDB) DeleteLink(ctx context.Context, shortCode string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, fenceKey(shortCode), 1, models.InvalidationFence)
		pipe.Del(ctx, LinkCacheKey(shortCode))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

// IncrWindow increments a fixed-window counter and sets its expiry in the same
// round trip, so a counter cannot outlive its window.
func (r *RedisDB) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	val, err := incrWindow.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment key: %w", err)
	}
	return val, nil
}
