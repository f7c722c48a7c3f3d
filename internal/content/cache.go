// Package content caches AI-generated narrative blocks keyed by patient and
// content type, invalidated by a hash of the source clinical data. Entries
// are shared across report instances; lifetime is governed by TTL and
// explicit invalidation only.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/clinical-report-engine/internal/domain"
)

const redisKeyPrefix = "report:content:"

// CacheConfig defines content cache behaviour
type CacheConfig struct {
	// RedisClient enables the distributed tier; nil runs memory-only.
	RedisClient *redis.Client
	// TTL for generated entries
	TTL time.Duration
	// MemoryEntries bounds the in-process LRU tier
	MemoryEntries int
	// LockWait bounds how long a caller blocks on another caller's in-flight
	// generation of the same key before falling back to stale content.
	LockWait time.Duration
}

// CacheStats tracks cache performance counters
type CacheStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Generations int64 `json:"generations"`
	StaleServes int64 `json:"stale_serves"`
}

// Cache is the tiered content cache: in-process LRU in front of optional
// Redis. Implements domain.ContentProvider.
type Cache struct {
	config CacheConfig
	logger *logrus.Logger

	memory *lru.Cache

	// locks holds one single-slot semaphore per content key so the
	// generator runs exactly once per key under concurrent callers.
	locksMu sync.Mutex
	locks   map[string]chan struct{}

	statsMu sync.Mutex
	stats   CacheStats
}

// NewCache creates a content cache
func NewCache(config CacheConfig, logger *logrus.Logger) (*Cache, error) {
	if config.TTL <= 0 {
		config.TTL = 7 * 24 * time.Hour
	}
	if config.MemoryEntries <= 0 {
		config.MemoryEntries = 512
	}
	if config.LockWait <= 0 {
		config.LockWait = 15 * time.Second
	}

	memory, err := lru.New(config.MemoryEntries)
	if err != nil {
		return nil, err
	}

	return &Cache{
		config: config,
		logger: logger,
		memory: memory,
		locks:  make(map[string]chan struct{}),
	}, nil
}

// HashInputs computes the source data hash over the clinical inputs used
// for generation. A changed hash forces regeneration on the next call.
func HashInputs(inputs *domain.ClinicalInputs) string {
	payload, _ := json.Marshal(inputs)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// GetOrGenerate returns cached content for the key when it is valid,
// unexpired, and generated from the same source data; otherwise it runs the
// generator exactly once per key and writes through with a fresh TTL.
// Generator failures and lock timeouts serve the prior entry with Stale=true
// when one exists.
func (c *Cache) GetOrGenerate(ctx context.Context, key domain.ContentKey, inputs *domain.ClinicalInputs, generate domain.GeneratorFunc, force bool) (*domain.GeneratedContent, error) {
	hash := HashInputs(inputs)
	cacheKey := c.cacheKey(key)

	if !force {
		if entry, ok := c.lookup(ctx, cacheKey); ok && c.usable(entry, hash) {
			c.recordUsage(ctx, cacheKey, entry)
			c.bumpStats(func(s *CacheStats) { s.Hits++ })
			return &domain.GeneratedContent{
				Content:        entry.Content,
				SourceDataHash: entry.SourceDataHash,
				GeneratedAt:    entry.GeneratedAt,
			}, nil
		}
		c.bumpStats(func(s *CacheStats) { s.Misses++ })
	}

	release, ok := c.acquireKeyLock(ctx, cacheKey)
	if !ok {
		// Another caller holds the generation lock past our bounded wait.
		// Serving stale beats deadlocking a clinician mid-report.
		if entry, found := c.lookup(ctx, cacheKey); found {
			c.bumpStats(func(s *CacheStats) { s.StaleServes++ })
			return &domain.GeneratedContent{
				Content:        entry.Content,
				SourceDataHash: entry.SourceDataHash,
				GeneratedAt:    entry.GeneratedAt,
				Stale:          true,
			}, nil
		}
		return nil, &domain.CacheRaceTimeoutError{Key: key, Wait: c.config.LockWait}
	}
	defer release()

	// Re-check under the lock: the racing caller we waited on has usually
	// just written a fresh entry.
	if !force {
		if entry, ok := c.lookup(ctx, cacheKey); ok && c.usable(entry, hash) {
			c.recordUsage(ctx, cacheKey, entry)
			c.bumpStats(func(s *CacheStats) { s.Hits++ })
			return &domain.GeneratedContent{
				Content:        entry.Content,
				SourceDataHash: entry.SourceDataHash,
				GeneratedAt:    entry.GeneratedAt,
			}, nil
		}
	}

	text, err := generate(ctx, inputs)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"patient_id":   key.PatientID,
			"content_type": key.ContentType,
			"error":        err,
		}).Warn("Content generation failed")

		// The failed attempt never overwrites the prior entry.
		if entry, found := c.lookup(ctx, cacheKey); found {
			c.bumpStats(func(s *CacheStats) { s.StaleServes++ })
			return &domain.GeneratedContent{
				Content:        entry.Content,
				SourceDataHash: entry.SourceDataHash,
				GeneratedAt:    entry.GeneratedAt,
				Stale:          true,
			}, nil
		}
		return nil, &domain.ContentGenerationError{Key: key, Cause: err}
	}

	now := time.Now().UTC()
	entry := &domain.ContentCacheEntry{
		Key:            key,
		Content:        text,
		SourceDataHash: hash,
		GeneratedAt:    now,
		ExpiresAt:      now.Add(c.config.TTL),
		UsageCount:     1,
		IsValid:        true,
	}
	c.store(ctx, cacheKey, entry)
	c.bumpStats(func(s *CacheStats) { s.Generations++ })

	c.logger.WithFields(logrus.Fields{
		"patient_id":   key.PatientID,
		"content_type": key.ContentType,
		"hash":         hash[:12],
		"expires_at":   entry.ExpiresAt,
	}).Info("Generated and cached content")

	return &domain.GeneratedContent{
		Content:        entry.Content,
		SourceDataHash: entry.SourceDataHash,
		GeneratedAt:    entry.GeneratedAt,
	}, nil
}

// Invalidate marks matching entries invalid. The next GetOrGenerate for an
// invalidated key regenerates regardless of hash or TTL. Content already
// handed to callers is unaffected: returned values are copies.
func (c *Cache) Invalidate(ctx context.Context, patientID string, contentType *domain.ContentType) error {
	prefix := redisKeyPrefix + patientID + ":"
	if contentType != nil {
		prefix += string(*contentType)
	}

	for _, raw := range c.memory.Keys() {
		keyStr, _ := raw.(string)
		if !strings.HasPrefix(keyStr, prefix) {
			continue
		}
		if cached, ok := c.memory.Get(keyStr); ok {
			entry := cached.(domain.ContentCacheEntry)
			entry.IsValid = false
			c.memory.Add(keyStr, entry)
		}
	}

	if c.config.RedisClient != nil {
		keys, err := c.config.RedisClient.Keys(ctx, prefix+"*").Result()
		if err != nil {
			return err
		}
		for _, keyStr := range keys {
			data, err := c.config.RedisClient.Get(ctx, keyStr).Bytes()
			if err != nil {
				continue
			}
			var entry domain.ContentCacheEntry
			if json.Unmarshal(data, &entry) != nil {
				continue
			}
			entry.IsValid = false
			ttl := time.Until(entry.ExpiresAt)
			if ttl <= 0 {
				c.config.RedisClient.Del(ctx, keyStr)
				continue
			}
			if payload, err := json.Marshal(entry); err == nil {
				c.config.RedisClient.Set(ctx, keyStr, payload, ttl)
			}
		}
	}

	c.logger.WithFields(logrus.Fields{
		"patient_id":   patientID,
		"content_type": contentType,
	}).Info("Invalidated cached content")
	return nil
}

// Stats returns a snapshot of the cache counters
func (c *Cache) Stats() CacheStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Cache) bumpStats(update func(*CacheStats)) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	update(&c.stats)
}

// usable reports whether an entry can satisfy a fresh read
func (c *Cache) usable(entry *domain.ContentCacheEntry, hash string) bool {
	return entry.IsValid && entry.SourceDataHash == hash && time.Now().Before(entry.ExpiresAt)
}

// lookup returns a copy of the entry from memory, falling back to Redis and
// promoting hits into the memory tier.
func (c *Cache) lookup(ctx context.Context, cacheKey string) (*domain.ContentCacheEntry, bool) {
	if cached, ok := c.memory.Get(cacheKey); ok {
		entry := cached.(domain.ContentCacheEntry)
		return &entry, true
	}

	if c.config.RedisClient != nil {
		data, err := c.config.RedisClient.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var entry domain.ContentCacheEntry
			if json.Unmarshal(data, &entry) == nil {
				c.memory.Add(cacheKey, entry)
				return &entry, true
			}
		}
	}
	return nil, false
}

// store writes an entry to both tiers
func (c *Cache) store(ctx context.Context, cacheKey string, entry *domain.ContentCacheEntry) {
	c.memory.Add(cacheKey, *entry)

	if c.config.RedisClient != nil {
		if payload, err := json.Marshal(entry); err == nil {
			if err := c.config.RedisClient.Set(ctx, cacheKey, payload, c.config.TTL).Err(); err != nil {
				c.logger.WithError(err).Warn("Failed to write content entry to Redis")
			}
		}
	}
}

// recordUsage increments the usage counter on a cache hit
func (c *Cache) recordUsage(ctx context.Context, cacheKey string, entry *domain.ContentCacheEntry) {
	c.locksMu.Lock()
	if cached, ok := c.memory.Get(cacheKey); ok {
		stored := cached.(domain.ContentCacheEntry)
		stored.UsageCount++
		entry.UsageCount = stored.UsageCount
		c.memory.Add(cacheKey, stored)
	}
	c.locksMu.Unlock()

	if c.config.RedisClient != nil {
		if entryCopy, ok := c.memory.Get(cacheKey); ok {
			stored := entryCopy.(domain.ContentCacheEntry)
			ttl := time.Until(stored.ExpiresAt)
			if ttl > 0 {
				if payload, err := json.Marshal(stored); err == nil {
					c.config.RedisClient.Set(ctx, cacheKey, payload, ttl)
				}
			}
		}
	}
}

// UsageCount reports the stored usage counter for a key, zero when absent
func (c *Cache) UsageCount(key domain.ContentKey) int64 {
	if cached, ok := c.memory.Get(c.cacheKey(key)); ok {
		return cached.(domain.ContentCacheEntry).UsageCount
	}
	return 0
}

// acquireKeyLock takes the per-key generation lock with a bounded wait
func (c *Cache) acquireKeyLock(ctx context.Context, cacheKey string) (func(), bool) {
	c.locksMu.Lock()
	sem, ok := c.locks[cacheKey]
	if !ok {
		sem = make(chan struct{}, 1)
		c.locks[cacheKey] = sem
	}
	c.locksMu.Unlock()

	timer := time.NewTimer(c.config.LockWait)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (c *Cache) cacheKey(key domain.ContentKey) string {
	k := redisKeyPrefix + key.PatientID + ":" + string(key.ContentType)
	if key.Discipline != "" {
		k += ":" + key.Discipline
	}
	return k
}
