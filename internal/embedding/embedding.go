// Package embedding implements EmbeddingService: a thin per-query-hash
// cache in front of LLMClient.Embed.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"macroferro-bot/internal/cache"
)

const cacheTTL = 24 * time.Hour

// Embedder is the subset of LLMClient this service depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service caches embeddings by a hash of the query text.
type Service struct {
	llm   Embedder
	redis *cache.Redis
}

// New wraps an LLMClient with a Redis-backed cache.
func New(llm Embedder, redis *cache.Redis) *Service {
	return &Service{llm: llm, redis: redis}
}

// Embed returns a cached embedding when available, otherwise computes
// and caches one.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	var vector []float32
	found, err := s.redis.GetJSON(ctx, key, &vector)
	if err == nil && found {
		return vector, nil
	}

	vector, err = s.llm.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	_ = s.redis.SetJSON(ctx, key, vector, cacheTTL)
	return vector, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embed:%s", hex.EncodeToString(sum[:]))
}
