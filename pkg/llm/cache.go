package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachingProvider wraps a Provider with a Redis-backed response cache keyed by
// a hash of the full request. Deliberation semantics are unchanged: a cache
// hit returns the same response the inner provider once produced, a miss goes
// through. Cache errors degrade to the inner provider rather than failing the
// call.
type CachingProvider struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewCaching creates a caching middleware in front of inner.
func NewCaching(inner Provider, client *redis.Client, ttl time.Duration) *CachingProvider {
	return &CachingProvider{
		inner:  inner,
		client: client,
		ttl:    ttl,
		prefix: "firecircle:llm:",
	}
}

// Chat serves the response from cache when an identical request was seen
// before, otherwise delegates to the inner provider and stores the result.
func (c *CachingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	key, err := c.cacheKey(req)
	if err == nil {
		if cached, cerr := c.client.Get(ctx, key).Bytes(); cerr == nil {
			var resp ChatResponse
			if jerr := json.Unmarshal(cached, &resp); jerr == nil {
				return &resp, nil
			}
		}
	}

	resp, err := c.inner.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	if payload, merr := json.Marshal(resp); merr == nil {
		key, kerr := c.cacheKey(req)
		if kerr == nil {
			// Best effort; a failed SET must not fail the call.
			_ = c.client.Set(ctx, key, payload, c.ttl).Err()
		}
	}
	return resp, nil
}

func (c *CachingProvider) cacheKey(req ChatRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache key: %w", err)
	}
	sum := sha256.Sum256(payload)
	return c.prefix + hex.EncodeToString(sum[:]), nil
}
