// Package cache is an optional, non-authoritative read-through cache for
// GET /upload/{id}/status. It never backs a write path and the MetaStore
// remains the source of truth: a cache miss, an expired entry, or Redis
// being entirely absent must never change the answer a client gets, only
// how fast it arrives.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/securestor/securestor/internal/logger"
	"github.com/securestor/securestor/internal/models"
)

// StatusEntry is the cached shape of a GET /status response body.
type StatusEntry struct {
	Session  *models.Session `json:"session"`
	Progress models.Progress `json:"progress"`
}

// StatusCache wraps a redis client. A nil *StatusCache is valid and
// behaves as a total cache miss on every call, so callers that construct
// one only when RedisURL is configured need no separate nil-checking at
// every call site beyond the receiver itself.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// New connects to redisURL. A parse or connection failure is logged and
// nil is returned: status caching degrades to "disabled" rather than
// failing startup, since it is never on the authoritative path.
func New(redisURL string, ttl time.Duration, log *logger.Logger) *StatusCache {
	if redisURL == "" {
		return nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Error("invalid REDIS_URL, status cache disabled", err)
		return nil
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Error("redis unreachable, status cache disabled", err)
		client.Close()
		return nil
	}
	return &StatusCache{client: client, ttl: ttl, logger: log}
}

func (c *StatusCache) Get(ctx context.Context, sessionID uuid.UUID) (*StatusEntry, bool) {
	if c == nil {
		return nil, false
	}
	val, err := c.client.Get(ctx, cacheKey(sessionID)).Result()
	if err != nil {
		return nil, false
	}
	var entry StatusEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

func (c *StatusCache) Set(ctx context.Context, sessionID uuid.UUID, entry StatusEntry) {
	if c == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(sessionID), data, c.ttl).Err(); err != nil {
		c.logger.Debug("status cache write failed", err)
	}
}

// Invalidate drops the cached entry for a session. Called whenever a
// chunk commit or finalize call changes session state, so a cached
// terminal-state read never trails behind the MetaStore by more than the
// cache's own short TTL in the worst case anyway.
func (c *StatusCache) Invalidate(ctx context.Context, sessionID uuid.UUID) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, cacheKey(sessionID)).Err(); err != nil {
		c.logger.Debug("status cache invalidate failed", err)
	}
}

func cacheKey(sessionID uuid.UUID) string {
	return "upload:status:" + sessionID.String()
}
