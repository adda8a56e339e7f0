// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/ella/services/relay/datatypes"
	"github.com/AleutianAI/ella/services/relay/observability"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "ella:retrieval:"

// Cache stores serialized retrieval results.
type Cache interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// =============================================================================
// RedisCache
// =============================================================================

// RedisCache is a Cache backed by redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects using a redis:// URL and pings the server.
func NewRedisCache(ctx context.Context, rawURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)

// =============================================================================
// CachedRetriever
// =============================================================================

// CachedRetriever memoizes successful searches of an inner Retriever.
//
// # Description
//
// Keys are the backend name plus the SHA-256 of the query, so raw user text
// never becomes a redis key. Cache failures are logged and bypassed; failed
// searches are never cached.
type CachedRetriever struct {
	inner Retriever
	cache Cache
	ttl   time.Duration
}

// NewCachedRetriever wraps inner.
func NewCachedRetriever(inner Retriever, cache Cache, ttl time.Duration) *CachedRetriever {
	return &CachedRetriever{inner: inner, cache: cache, ttl: ttl}
}

// Name implements Retriever.
func (r *CachedRetriever) Name() string { return r.inner.Name() }

// Search implements Retriever.
func (r *CachedRetriever) Search(ctx context.Context, query string) (datatypes.RetrievalResult, error) {
	key := cacheKey(r.inner.Name(), query)

	if raw, ok, err := r.cache.Get(ctx, key); err != nil {
		slog.Warn("Retrieval cache read failed", "error", err)
	} else if ok {
		var cached datatypes.RetrievalResult
		if err := json.Unmarshal(raw, &cached); err == nil {
			if cached.Sources == nil {
				cached.Sources = []string{}
			}
			recordCacheLookup(true)
			return cached, nil
		}
	}
	recordCacheLookup(false)

	result, err := r.inner.Search(ctx, query)
	if err != nil {
		return result, err
	}
	if raw, err := json.Marshal(result); err == nil {
		if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
			slog.Warn("Retrieval cache write failed", "error", err)
		}
	}
	return result, nil
}

func cacheKey(backend, query string) string {
	sum := sha256.Sum256([]byte(query))
	return cacheKeyPrefix + backend + ":" + hex.EncodeToString(sum[:])
}

func recordCacheLookup(hit bool) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordCacheLookup(hit)
	}
}

var _ Retriever = (*CachedRetriever)(nil)
