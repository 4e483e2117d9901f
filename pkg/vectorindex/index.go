// Package vectorindex stores embedded course chunks in named collections and
// answers nearest-neighbour queries over them.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"vita-be/pkg/embedding"
	"vita-be/pkg/store"
)

// Metric is fixed per collection at creation time.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
)

// MaxBatchSize bounds how many chunks are embedded per embedder call.
const MaxBatchSize = 100

var (
	ErrConfigMismatch    = errors.New("collection exists with a different metric or dimension")
	ErrDimensionMismatch = errors.New("embedding dimension does not match collection")
	ErrUnavailable       = errors.New("vector index unavailable")
	ErrInvalidMetric     = errors.New("unknown distance metric")
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricL2:
		return MetricL2, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMetric, s)
}

// Index opens collections. Queries embed their text with the embedder the
// index was built with.
type Index interface {
	OpenOrCreate(ctx context.Context, name string, metric Metric, dim int) (Collection, error)
	Close() error
}

type Collection interface {
	Name() string
	Metric() Metric
	Dimensions() int
	// Add embeds chunks in batches and stores them; an existing key is overwritten.
	Add(ctx context.Context, chunks []store.Chunk, embedder embedding.Embedder) error
	// Query returns at most k chunks ordered by ascending distance.
	Query(ctx context.Context, text string, k int) ([]store.ScoredChunk, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Delete(ctx context.Context) error
}

// embedInBatches embeds chunks at most MaxBatchSize at a time and checks
// every vector against the collection dimension before anything is stored.
func embedInBatches(ctx context.Context, chunks []store.Chunk, embedder embedding.Embedder, dim int, fn func([]store.EmbeddedChunk) error) error {
	for start := 0; start < len(chunks); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vecs, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embedder %s returned %d vectors for %d chunks", embedder.Name(), len(vecs), len(batch))
		}

		embedded := make([]store.EmbeddedChunk, len(batch))
		for i, c := range batch {
			if len(vecs[i]) != dim {
				return fmt.Errorf("%w: chunk %s has %d, collection has %d", ErrDimensionMismatch, c.Key(), len(vecs[i]), dim)
			}
			embedded[i] = store.EmbeddedChunk{Chunk: c, Embedding: vecs[i]}
		}
		if err := fn(embedded); err != nil {
			return err
		}
	}
	return nil
}

func embedQuery(ctx context.Context, embedder embedding.Embedder, text string, dim int) ([]float32, error) {
	vec, err := embedding.Embed(ctx, embedder, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", ErrDimensionMismatch, len(vec), dim)
	}
	return vec, nil
}

// distanceFromSimilarity converts cosine similarity of unit vectors into the
// collection's distance.
func distanceFromSimilarity(metric Metric, sim float32) float32 {
	if metric == MetricL2 {
		d := 2 - 2*float64(sim)
		if d < 0 {
			d = 0
		}
		return float32(math.Sqrt(d))
	}
	return 1 - sim
}
