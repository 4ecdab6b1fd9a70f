package providers

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenCache caches short-lived provider OAuth tokens in Redis with a TTL,
// falling back to an in-process map when Redis is unavailable. Daraja and
// Pesapal both rate limit their token endpoints, so every adapter call must
// not fetch a fresh token.
type TokenCache struct {
	redis *redis.Client

	mu    sync.Mutex
	local map[string]localToken
}

type localToken struct {
	value     string
	expiresAt time.Time
}

func NewTokenCache(rdb *redis.Client) *TokenCache {
	return &TokenCache{
		redis: rdb,
		local: make(map[string]localToken),
	}
}

// Get returns the cached token for key, calling fetch to obtain and cache a
// new one when absent or expired.
func (c *TokenCache) Get(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (string, error)) (string, error) {
	if c.redis != nil {
		val, err := c.redis.Get(ctx, key).Result()
		if err == nil && val != "" {
			return val, nil
		}
		if err != nil && err != redis.Nil {
			log.Printf("[TOKENS] Redis read failed for %s, using local cache: %v", key, err)
		}
	}

	c.mu.Lock()
	if tok, ok := c.local[key]; ok && time.Now().Before(tok.expiresAt) {
		c.mu.Unlock()
		return tok.value, nil
	}
	c.mu.Unlock()

	token, err := fetch(ctx)
	if err != nil {
		return "", err
	}

	if c.redis != nil {
		if err := c.redis.Set(ctx, key, token, ttl).Err(); err != nil {
			log.Printf("[TOKENS] Redis write failed for %s: %v", key, err)
		}
	}

	c.mu.Lock()
	c.local[key] = localToken{value: token, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()

	return token, nil
}
