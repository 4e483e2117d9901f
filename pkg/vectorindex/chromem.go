package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/embedding"
	"vita-be/pkg/store"
)

const (
	manifestFile = "collections.json"
	metaPrefix   = "meta."

	metaSourcePath = "source_path"
	metaType       = "type"
	metaChunkID    = "chunk_id"
)

type collectionSpec struct {
	Metric     Metric `json:"metric"`
	Dimensions int    `json:"dimensions"`
}

// ChromemIndex keeps collections in a chromem-go database. With a data
// directory the database and its manifest persist across restarts;
// without one everything lives in memory.
type ChromemIndex struct {
	mu       sync.Mutex
	db       *chromem.DB
	dir      string
	embedder embedding.Embedder
	logger   logger.ILogger
	specs    map[string]collectionSpec
	open     map[string]*chromemCollection
}

var _ Index = (*ChromemIndex)(nil)

// NewChromemIndex opens (or creates) a persistent index under dir.
func NewChromemIndex(dir string, embedder embedding.Embedder, log logger.ILogger) (*ChromemIndex, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("%w: open chromem db: %v", ErrUnavailable, err)
	}

	idx := &ChromemIndex{
		db:       db,
		dir:      dir,
		embedder: embedder,
		logger:   log,
		specs:    map[string]collectionSpec{},
		open:     map[string]*chromemCollection{},
	}
	if err := idx.loadManifest(); err != nil {
		return nil, err
	}
	return idx, nil
}

// NewMemoryIndex returns a non-persistent index.
func NewMemoryIndex(embedder embedding.Embedder, log logger.ILogger) *ChromemIndex {
	return &ChromemIndex{
		db:       chromem.NewDB(),
		embedder: embedder,
		logger:   log,
		specs:    map[string]collectionSpec{},
		open:     map[string]*chromemCollection{},
	}
}

func (i *ChromemIndex) OpenOrCreate(ctx context.Context, name string, metric Metric, dim int) (Collection, error) {
	if name == "" {
		return nil, errors.New("collection name is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	want := collectionSpec{Metric: metric, Dimensions: dim}
	if have, ok := i.specs[name]; ok {
		if have != want {
			return nil, fmt.Errorf("%w: %s is %s/%d, requested %s/%d",
				ErrConfigMismatch, name, have.Metric, have.Dimensions, metric, dim)
		}
		if c, ok := i.open[name]; ok {
			return c, nil
		}
	}

	col, err := i.db.GetOrCreateCollection(name, nil, i.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("%w: open collection %s: %v", ErrUnavailable, name, err)
	}

	if _, ok := i.specs[name]; !ok {
		i.specs[name] = want
		if err := i.saveManifest(); err != nil {
			return nil, err
		}
		i.logger.Info("VectorIndex", "Collection created", map[string]interface{}{
			"collection": name,
			"metric":     metric,
			"dimensions": dim,
		})
	}

	c := &chromemCollection{index: i, name: name, spec: want, col: col}
	i.open[name] = c
	return c, nil
}

func (i *ChromemIndex) Close() error {
	return nil
}

// embeddingFunc is only reached if chromem is asked to embed on its own,
// which the collection never does; vectors are always supplied.
func (i *ChromemIndex) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedding.Embed(ctx, i.embedder, text)
	}
}

func (i *ChromemIndex) loadManifest() error {
	data, err := os.ReadFile(filepath.Join(i.dir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read collection manifest: %w", err)
	}
	if err := json.Unmarshal(data, &i.specs); err != nil {
		return fmt.Errorf("parse collection manifest: %w", err)
	}
	return nil
}

func (i *ChromemIndex) saveManifest() error {
	if i.dir == "" {
		return nil
	}
	data, err := json.MarshalIndent(i.specs, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(i.dir, manifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write collection manifest: %w", err)
	}
	return os.Rename(tmp, filepath.Join(i.dir, manifestFile))
}

func (i *ChromemIndex) forget(name string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.specs, name)
	delete(i.open, name)
	return i.saveManifest()
}

type chromemCollection struct {
	mu      sync.RWMutex
	index   *ChromemIndex
	name    string
	spec    collectionSpec
	col     *chromem.Collection
	deleted bool
}

func (c *chromemCollection) Name() string    { return c.name }
func (c *chromemCollection) Metric() Metric  { return c.spec.Metric }
func (c *chromemCollection) Dimensions() int { return c.spec.Dimensions }

func (c *chromemCollection) Add(ctx context.Context, chunks []store.Chunk, embedder embedding.Embedder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return fmt.Errorf("%w: collection %s was deleted", ErrUnavailable, c.name)
	}

	return embedInBatches(ctx, chunks, embedder, c.spec.Dimensions, func(batch []store.EmbeddedChunk) error {
		docs := make([]chromem.Document, len(batch))
		for i, ec := range batch {
			docs[i] = chromem.Document{
				ID:        ec.Key(),
				Content:   ec.Content,
				Metadata:  chunkMetadata(ec.Chunk),
				Embedding: embedding.NormalizeVector(ec.Embedding),
			}
		}
		if err := c.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("store documents: %w", err)
		}
		return nil
	})
}

func (c *chromemCollection) Query(ctx context.Context, text string, k int) ([]store.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.deleted {
		return nil, fmt.Errorf("%w: collection %s was deleted", ErrUnavailable, c.name)
	}

	n := c.col.Count()
	if n == 0 {
		return nil, nil
	}
	k = min(k, n)

	vec, err := embedQuery(ctx, c.index.embedder, text, c.spec.Dimensions)
	if err != nil {
		return nil, err
	}
	results, err := c.col.QueryEmbedding(ctx, embedding.NormalizeVector(vec), k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}

	out := make([]store.ScoredChunk, len(results))
	for i, r := range results {
		out[i] = store.ScoredChunk{
			Chunk:    chunkFromDocument(r.ID, r.Content, r.Metadata),
			Distance: distanceFromSimilarity(c.spec.Metric, r.Similarity),
		}
	}
	return out, nil
}

func (c *chromemCollection) Count(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.deleted {
		return 0, fmt.Errorf("%w: collection %s was deleted", ErrUnavailable, c.name)
	}
	return c.col.Count(), nil
}

// Clear drops every chunk but keeps the collection and its configuration.
func (c *chromemCollection) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return fmt.Errorf("%w: collection %s was deleted", ErrUnavailable, c.name)
	}

	db := c.index.db
	if err := db.DeleteCollection(c.name); err != nil {
		return fmt.Errorf("clear %s: %w", c.name, err)
	}
	col, err := db.CreateCollection(c.name, nil, c.index.embeddingFunc())
	if err != nil {
		return fmt.Errorf("recreate %s: %w", c.name, err)
	}
	c.col = col
	return nil
}

func (c *chromemCollection) Delete(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return nil
	}
	if err := c.index.db.DeleteCollection(c.name); err != nil {
		return fmt.Errorf("delete %s: %w", c.name, err)
	}
	c.deleted = true
	return c.index.forget(c.name)
}

func chunkMetadata(c store.Chunk) map[string]string {
	md := make(map[string]string, len(c.Metadata)+3)
	for k, v := range c.Metadata {
		md[metaPrefix+k] = v
	}
	md[metaSourcePath] = c.SourcePath
	md[metaType] = string(c.Type)
	md[metaChunkID] = c.ChunkID
	return md
}

func chunkFromDocument(id, content string, md map[string]string) store.Chunk {
	c := store.Chunk{
		Content:    content,
		SourcePath: md[metaSourcePath],
		Type:       store.ChunkType(md[metaType]),
		ChunkID:    md[metaChunkID],
	}
	if c.SourcePath == "" && c.ChunkID == "" {
		c.SourcePath, c.ChunkID, _ = strings.Cut(id, "#")
	}
	for k, v := range md {
		if rest, ok := strings.CutPrefix(k, metaPrefix); ok {
			if c.Metadata == nil {
				c.Metadata = map[string]string{}
			}
			c.Metadata[rest] = v
		}
	}
	return c
}
