package services

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// EmbeddingCache stores vectors by key. Get returns a nil entry for a miss.
type EmbeddingCache interface {
	GetMany(ctx context.Context, keys []string) ([][]float32, error)
	SetMany(ctx context.Context, entries map[string][]float32) error
}

// CachedEmbedder serves repeated texts from a cache. Cache failures are
// logged and fall through to the wrapped embedder.
type CachedEmbedder struct {
	next  Embedder
	cache EmbeddingCache
	model string
}

var _ Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(next Embedder, cache EmbeddingCache, model string) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model}
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out, err := c.cache.GetMany(ctx, keys)
	if err != nil || len(out) != len(texts) {
		if err != nil {
			logrus.WithError(err).Warn("embedding cache read failed")
		}
		out = make([][]float32, len(texts))
	}

	var missing []int
	for i, v := range out {
		if v == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	fresh, err := c.next.EmbedDocuments(ctx, pending)
	if err != nil {
		return nil, err
	}

	entries := make(map[string][]float32, len(missing))
	for j, i := range missing {
		out[i] = fresh[j]
		entries[keys[i]] = fresh[j]
	}
	if err := c.cache.SetMany(ctx, entries); err != nil {
		logrus.WithError(err).Warn("embedding cache write failed")
	}
	return out, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "pdfqa:emb:" + c.model + ":" + hex.EncodeToString(sum[:])
}

// RedisEmbeddingCache keeps vectors as little-endian float32 bytes.
type RedisEmbeddingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient accepts either a redis:// URL or a bare host:port and
// checks the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	var rdb *redis.Client
	if opt, err := redis.ParseURL(url); err == nil {
		rdb = redis.NewClient(opt)
	} else {
		rdb = redis.NewClient(&redis.Options{Addr: url})
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}

func NewRedisEmbeddingCache(rdb *redis.Client, ttl time.Duration) *RedisEmbeddingCache {
	return &RedisEmbeddingCache{rdb: rdb, ttl: ttl}
}

func (r *RedisEmbeddingCache) GetMany(ctx context.Context, keys []string) ([][]float32, error) {
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		vec, err := decodeVector([]byte(s))
		if err != nil {
			continue
		}
		out[i] = vec
	}
	return out, nil
}

func (r *RedisEmbeddingCache) SetMany(ctx context.Context, entries map[string][]float32) error {
	pipe := r.rdb.Pipeline()
	for k, v := range entries {
		pipe.Set(ctx, k, encodeVector(v), r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: cached vector of %d bytes", ErrMalformedResponse, len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
