package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Cache stores vectors by an opaque key. Misses and backend failures look the same.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
}

// CachedEmbedder consults a Cache before calling the wrapped embedder,
// so re-ingesting an unchanged course only embeds new chunks.
type CachedEmbedder struct {
	inner Embedder
	cache Cache
}

var _ Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(inner Embedder, c Cache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: c}
}

func (e *CachedEmbedder) Name() string    { return e.inner.Name() }
func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing   []string
		missingAt []int
	)
	for i, text := range texts {
		if vec, ok := e.cache.Get(ctx, e.key(text)); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := e.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedder %s returned %d vectors for %d texts", e.inner.Name(), len(vecs), len(missing))
	}
	for j, vec := range vecs {
		out[missingAt[j]] = vec
		e.cache.Set(ctx, e.key(missing[j]), vec)
	}
	return out, nil
}

// key scopes entries by model so switching models never returns stale vectors.
func (e *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + e.inner.Name() + ":" + hex.EncodeToString(sum[:])
}

// MemoryCache keeps vectors in process.
type MemoryCache struct {
	c *cache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: cache.New(ttl, 10*time.Minute)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]float32, bool) {
	if x, found := m.c.Get(key); found {
		return x.([]float32), true
	}
	return nil, false
}

func (m *MemoryCache) Set(_ context.Context, key string, vec []float32) {
	m.c.Set(key, vec, cache.DefaultExpiration)
}

// RedisCache shares vectors across ingest runs and server instances.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	vec, ok := decodeVector(raw)
	return vec, ok
}

func (r *RedisCache) Set(ctx context.Context, key string, vec []float32) {
	r.rdb.Set(ctx, key, encodeVector(vec), r.ttl)
}

// Vectors are stored as little-endian float32s.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, bool) {
	if len(buf)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, true
}
