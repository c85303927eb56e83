package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rawblock/mule-engine/internal/heuristics"
	"github.com/rawblock/mule-engine/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Entry is what gets cached for one uploaded file.
type Entry struct {
	SessionID string                 `json:"sessionId,omitempty"`
	Result    *models.AnalysisResult `json:"result"`
	Graph     *models.GraphView      `json:"graph,omitempty"`
	CachedAt  time.Time              `json:"cachedAt"`
}

// ResultCache stores analysis results in Redis keyed by a digest of the
// uploaded bytes and the engine thresholds, so re-uploading the same file
// under the same configuration skips the engine.
type ResultCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewResultCache wraps an existing client.
func NewResultCache(client redis.UniversalClient, ttl time.Duration) *ResultCache {
	return &ResultCache{client: client, ttl: ttl}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string, ttl time.Duration) (*ResultCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewResultCache(client, ttl), nil
}

// Close releases the client.
func (c *ResultCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Key derives the cache key for a payload analyzed under cfg.
func Key(payload []byte, cfg heuristics.Config) string {
	h := sha256.New()
	h.Write(payload)
	// Thresholds change results, so they are part of the identity.
	if b, err := json.Marshal(cfg); err == nil {
		h.Write(b)
	}
	return "mule:result:" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached entry, or nil on a miss.
func (c *ResultCache) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cached result: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding cached result: %w", err)
	}
	return &entry, nil
}

// Put stores an entry with the configured TTL.
func (c *ResultCache) Put(ctx context.Context, key string, entry *Entry) error {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing cached result: %w", err)
	}
	return nil
}

// Invalidate drops every cached entry that points at sessionID.
func (c *ResultCache) Invalidate(ctx context.Context, sessionID string) error {
	iter := c.client.Scan(ctx, 0, "mule:result:*", 100).Iterator()
	for iter.Next(ctx) {
		entry, err := c.Get(ctx, iter.Val())
		if err != nil || entry == nil {
			continue
		}
		if entry.SessionID == sessionID {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("deleting cached result: %w", err)
			}
		}
	}
	return iter.Err()
}
