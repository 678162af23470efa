// Package respcache caches fully assembled answers keyed by question,
// answer mode, and corpus generation. A stale generation in the key can
// never be served because the generation participates in the key itself;
// the stored envelope carries it again as a belt-and-braces check.
package respcache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"factnews/internal/common/database"
	"factnews/internal/common/logger"
	"factnews/internal/common/metrics"
)

const (
	keyPrefix  = "resp:"
	defaultTTL = time.Hour
)

type envelope struct {
	Generation string          `json:"generation"`
	StoredAt   time.Time       `json:"stored_at"`
	Payload    json.RawMessage `json:"payload"`
}

type memEntry struct {
	data    []byte
	expires time.Time
}

// Cache is a two-level response cache: Redis when configured, plus a
// bounded in-process map that keeps hits working when Redis is down.
// Values are gzip-compressed JSON envelopes.
type Cache struct {
	redis *database.RedisClient
	ttl   time.Duration
	max   int
	log   logger.Logger

	group singleflight.Group

	mu     sync.Mutex
	memory map[string]memEntry
	order  []string
}

func New(redis *database.RedisClient, ttl time.Duration, memoryMax int, log logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if memoryMax <= 0 {
		memoryMax = 256
	}
	return &Cache{
		redis:  redis,
		ttl:    ttl,
		max:    memoryMax,
		log:    log.With(map[string]interface{}{"component": "respcache"}),
		memory: make(map[string]memEntry),
	}
}

// Key derives the cache key. The question is normalized so trivial
// whitespace and case differences collapse to one entry.
func Key(question, mode, generation string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	sum := sha256.Sum256([]byte(normalized + "|" + mode + "|" + generation))
	return keyPrefix + hex.EncodeToString(sum[:])[:32]
}

// Get returns the cached payload for the key, or (nil, false) on miss.
// Entries stored under a different corpus generation are treated as
// misses and evicted.
func (c *Cache) Get(ctx context.Context, key, generation string) (json.RawMessage, bool) {
	if data, err := c.redis.GetBytes(ctx, key); err != nil {
		c.log.WithError(err).Warn("response cache read failed, trying memory", nil)
	} else if data != nil {
		if payload, ok := c.open(data, generation); ok {
			metrics.ResponseCacheHits.WithLabelValues("hit_redis").Inc()
			return payload, true
		}
		_ = c.redis.Del(ctx, key)
	}

	c.mu.Lock()
	entry, ok := c.memory[key]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		if payload, valid := c.open(entry.data, generation); valid {
			metrics.ResponseCacheHits.WithLabelValues("hit_memory").Inc()
			return payload, true
		}
	}

	metrics.ResponseCacheHits.WithLabelValues("miss").Inc()
	return nil, false
}

// Set stores the payload under the key for the configured TTL. Write
// failures are logged and swallowed; caching is never load-bearing.
func (c *Cache) Set(ctx context.Context, key, generation string, payload json.RawMessage) {
	data, err := c.seal(generation, payload)
	if err != nil {
		c.log.WithError(err).Warn("response cache encode failed", nil)
		return
	}

	if err := c.redis.SetBytes(ctx, key, data, c.ttl); err != nil {
		c.log.WithError(err).Warn("response cache write failed", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.memory[key]; !exists {
		c.order = append(c.order, key)
		for len(c.order) > c.max {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.memory, oldest)
		}
	}
	c.memory[key] = memEntry{data: data, expires: time.Now().Add(c.ttl)}
}

// GetOrCompute returns the cached payload or runs fill exactly once per
// key across concurrent callers, caching its result.
func (c *Cache) GetOrCompute(ctx context.Context, question, mode, generation string, fill func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, bool, error) {
	key := Key(question, mode, generation)
	if payload, ok := c.Get(ctx, key, generation); ok {
		return payload, true, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if payload, ok := c.Get(ctx, key, generation); ok {
			return payload, nil
		}
		payload, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, generation, payload)
		return payload, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(json.RawMessage), false, nil
}

// Clear drops every cached response. Called after a corpus refresh so no
// answer assembled from the previous generation survives.
func (c *Cache) Clear(ctx context.Context) {
	if n, err := c.redis.DelPattern(ctx, keyPrefix+"*"); err != nil {
		c.log.WithError(err).Warn("response cache clear failed", nil)
	} else if n > 0 {
		c.log.Info("response cache cleared", map[string]interface{}{"entries": n})
	}

	c.mu.Lock()
	c.memory = make(map[string]memEntry)
	c.order = nil
	c.mu.Unlock()
}

func (c *Cache) seal(generation string, payload json.RawMessage) ([]byte, error) {
	raw, err := json.Marshal(envelope{
		Generation: generation,
		StoredAt:   time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// open decompresses and validates an envelope. A generation mismatch or
// any decode failure reads as a miss.
func (c *Cache) open(data []byte, generation string) (json.RawMessage, bool) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.Generation != generation {
		return nil, false
	}
	return env.Payload, true
}
