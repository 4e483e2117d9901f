package rag

import (
	"context"
	"fmt"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/embedding"
	"vita-be/pkg/extract"
	"vita-be/pkg/store"
	"vita-be/pkg/vectorindex"
)

const FallbackCollectionName = "fallback_qa"

// Retriever returns the chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]store.ScoredChunk, error)
}

// FallbackRetriever queries the course collection and, when it is empty or
// failing, a curated in-memory Q&A collection instead.
type FallbackRetriever struct {
	primary  vectorindex.Collection
	fallback vectorindex.Collection
	logger   logger.ILogger
}

var _ Retriever = (*FallbackRetriever)(nil)

// NewFallbackRetriever accepts nil for either collection.
func NewFallbackRetriever(primary, fallback vectorindex.Collection, log logger.ILogger) *FallbackRetriever {
	return &FallbackRetriever{primary: primary, fallback: fallback, logger: log}
}

func (r *FallbackRetriever) Retrieve(ctx context.Context, query string, k int) ([]store.ScoredChunk, error) {
	chunks, err := r.fromPrimary(ctx, query, k)
	if err == nil && len(chunks) > 0 {
		return chunks, nil
	}
	if err != nil {
		r.logger.Warn("Retriever", "Primary collection unavailable, using fallback", map[string]interface{}{"error": err.Error()})
	}

	if r.fallback == nil {
		return nil, err
	}
	fallbackChunks, fbErr := r.fallback.Query(ctx, query, k)
	if fbErr != nil {
		return nil, fmt.Errorf("fallback collection: %w", fbErr)
	}
	return fallbackChunks, nil
}

func (r *FallbackRetriever) fromPrimary(ctx context.Context, query string, k int) ([]store.ScoredChunk, error) {
	if r.primary == nil {
		return nil, nil
	}
	n, err := r.primary.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return r.primary.Query(ctx, query, k)
}

// LoadFallbackCollection builds the curated collection from a Q&A dataset
// file. A missing dataset yields an empty collection, not an error.
func LoadFallbackCollection(ctx context.Context, idx vectorindex.Index, ex *extract.Extractor, embedder embedding.Embedder, datasetPath string, log logger.ILogger) (vectorindex.Collection, error) {
	col, err := idx.OpenOrCreate(ctx, FallbackCollectionName, vectorindex.MetricCosine, embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	if datasetPath == "" {
		return col, nil
	}

	chunks, err := ex.ExtractFile(datasetPath)
	if err != nil {
		log.Warn("Retriever", "Fallback dataset unreadable", map[string]interface{}{
			"path":  datasetPath,
			"error": err.Error(),
		})
		return col, nil
	}
	if err := col.Add(ctx, chunks, embedder); err != nil {
		return nil, fmt.Errorf("seed fallback collection: %w", err)
	}
	log.Info("Retriever", "Fallback collection ready", map[string]interface{}{
		"path":   datasetPath,
		"chunks": len(chunks),
	})
	return col, nil
}
