package rag

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "voicerag:embed:"

// EmbeddingCache keeps query embeddings in Redis so repeated retrievals for
// the same utterance embed it once.
type EmbeddingCache struct {
	client *redis.Client
	model  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewEmbeddingCache connects to the Redis instance at url (redis://...).
func NewEmbeddingCache(ctx context.Context, url, model string, ttl time.Duration, logger *slog.Logger) (*EmbeddingCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &EmbeddingCache{client: client, model: model, ttl: ttl, logger: logger}, nil
}

func (c *EmbeddingCache) Close() error {
	return c.client.Close()
}

func (c *EmbeddingCache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cacheKeyPrefix + c.model + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached embedding for text. Redis errors count as misses.
func (c *EmbeddingCache) Get(ctx context.Context, text string) ([]float64, bool) {
	b, err := c.client.Get(ctx, c.key(text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("embedding cache read failed", "error", err)
		}
		return nil, false
	}
	v, err := decodeVector(b)
	if err != nil {
		c.logger.Warn("embedding cache entry corrupt", "error", err)
		return nil, false
	}
	return v, true
}

// Set stores an embedding. Failures are logged and dropped.
func (c *EmbeddingCache) Set(ctx context.Context, text string, v []float64) {
	if err := c.client.Set(ctx, c.key(text), encodeVector(v), c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache write failed", "error", err)
	}
}

func encodeVector(v []float64) []byte {
	b := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("invalid vector length %d", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
