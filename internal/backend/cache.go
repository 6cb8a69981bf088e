package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores profiles by user id.
type Cache interface {
	Get(ctx context.Context, userID string) (*Profile, bool)
	Set(ctx context.Context, userID string, p *Profile)
}

type memoryEntry struct {
	profile *Profile
	expires time.Time
}

// MemoryCache is a process-local TTL cache.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates a cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, userID string) (*Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, userID)
		return nil, false
	}
	return e.profile, true
}

func (c *MemoryCache) Set(_ context.Context, userID string, p *Profile) {
	c.mu.Lock()
	c.entries[userID] = memoryEntry{profile: p, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// RedisCache shares profiles between daemons through Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "golaco:profile:"}, nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, userID string) (*Profile, bool) {
	data, err := c.client.Get(ctx, c.prefix+userID).Bytes()
	if err != nil {
		return nil, false
	}
	var p Profile
	if json.Unmarshal(data, &p) != nil {
		return nil, false
	}
	return &p, true
}

func (c *RedisCache) Set(ctx context.Context, userID string, p *Profile) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.prefix+userID, data, c.ttl).Err()
}

// ProfileCache wraps a Backend so repeated profile lookups hit the cache.
type ProfileCache struct {
	Backend
	cache Cache
}

// WithProfileCache decorates b with cache.
func WithProfileCache(b Backend, cache Cache) *ProfileCache {
	return &ProfileCache{Backend: b, cache: cache}
}

func (p *ProfileCache) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if prof, ok := p.cache.Get(ctx, userID); ok {
		return prof, nil
	}
	prof, err := p.Backend.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.cache.Set(ctx, userID, prof)
	return prof, nil
}

// IsNotFound reports whether err means the profile does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound)
}
