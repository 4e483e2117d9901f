package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/embedding"
	"vita-be/pkg/store"
)

type vectorCollectionModel struct {
	Name       string    `gorm:"type:text;primaryKey"`
	Metric     string    `gorm:"type:text;not null"`
	Dimensions int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (vectorCollectionModel) TableName() string {
	return "vector_collections"
}

type vectorChunkModel struct {
	Collection string            `gorm:"type:text;primaryKey"`
	Key        string            `gorm:"type:text;primaryKey"`
	SourcePath string            `gorm:"type:text;index"`
	ChunkType  string            `gorm:"type:text"`
	ChunkID    string            `gorm:"type:text"`
	Content    string            `gorm:"type:text"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	Embedding  pgvector.Vector   `gorm:"type:vector"`
	UpdatedAt  time.Time         `gorm:"autoUpdateTime"`
}

func (vectorChunkModel) TableName() string {
	return "vector_chunks"
}

type scoredChunkRow struct {
	SourcePath string
	ChunkType  string
	ChunkID    string
	Content    string
	Metadata   datatypes.JSONMap
	Distance   float32
}

// PgvectorIndex stores collections in PostgreSQL with the pgvector extension.
type PgvectorIndex struct {
	db       *gorm.DB
	embedder embedding.Embedder
	logger   logger.ILogger
}

var _ Index = (*PgvectorIndex)(nil)

// NewPgvectorIndex makes sure the extension and tables exist.
func NewPgvectorIndex(db *gorm.DB, embedder embedding.Embedder, log logger.ILogger) (*PgvectorIndex, error) {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("%w: enable pgvector: %v", ErrUnavailable, err)
	}
	if err := db.AutoMigrate(&vectorCollectionModel{}, &vectorChunkModel{}); err != nil {
		return nil, fmt.Errorf("%w: migrate vector tables: %v", ErrUnavailable, err)
	}
	return &PgvectorIndex{db: db, embedder: embedder, logger: log}, nil
}

func (i *PgvectorIndex) OpenOrCreate(ctx context.Context, name string, metric Metric, dim int) (Collection, error) {
	if name == "" {
		return nil, errors.New("collection name is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}

	want := vectorCollectionModel{Name: name, Metric: string(metric), Dimensions: dim}
	res := i.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&want)
	if res.Error != nil {
		return nil, fmt.Errorf("%w: create collection %s: %v", ErrUnavailable, name, res.Error)
	}

	var have vectorCollectionModel
	if err := i.db.WithContext(ctx).Where("name = ?", name).First(&have).Error; err != nil {
		return nil, fmt.Errorf("%w: load collection %s: %v", ErrUnavailable, name, err)
	}
	if have.Metric != string(metric) || have.Dimensions != dim {
		return nil, fmt.Errorf("%w: %s is %s/%d, requested %s/%d",
			ErrConfigMismatch, name, have.Metric, have.Dimensions, metric, dim)
	}
	if res.RowsAffected > 0 {
		i.logger.Info("VectorIndex", "Collection created", map[string]interface{}{
			"collection": name,
			"metric":     metric,
			"dimensions": dim,
			"backend":    "pgvector",
		})
	}

	return &pgvectorCollection{index: i, name: name, metric: metric, dim: dim}, nil
}

func (i *PgvectorIndex) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type pgvectorCollection struct {
	mu     sync.RWMutex
	index  *PgvectorIndex
	name   string
	metric Metric
	dim    int
}

func (c *pgvectorCollection) Name() string    { return c.name }
func (c *pgvectorCollection) Metric() Metric  { return c.metric }
func (c *pgvectorCollection) Dimensions() int { return c.dim }

func (c *pgvectorCollection) Add(ctx context.Context, chunks []store.Chunk, embedder embedding.Embedder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return embedInBatches(ctx, chunks, embedder, c.dim, func(batch []store.EmbeddedChunk) error {
		rows := make([]vectorChunkModel, len(batch))
		for i, ec := range batch {
			md := datatypes.JSONMap{}
			for k, v := range ec.Metadata {
				md[k] = v
			}
			rows[i] = vectorChunkModel{
				Collection: c.name,
				Key:        ec.Key(),
				SourcePath: ec.SourcePath,
				ChunkType:  string(ec.Type),
				ChunkID:    ec.ChunkID,
				Content:    ec.Content,
				Metadata:   md,
				Embedding:  pgvector.NewVector(embedding.NormalizeVector(ec.Embedding)),
			}
		}
		err := c.index.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"source_path", "chunk_type", "chunk_id", "content", "metadata", "embedding", "updated_at"}),
		}).Create(&rows).Error
		if err != nil {
			return fmt.Errorf("upsert chunks: %w", err)
		}
		return nil
	})
}

func (c *pgvectorCollection) Query(ctx context.Context, text string, k int) ([]store.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	vec, err := embedQuery(ctx, c.index.embedder, text, c.dim)
	if err != nil {
		return nil, err
	}

	op := "<=>"
	if c.metric == MetricL2 {
		op = "<->"
	}

	var rows []scoredChunkRow
	err = c.index.db.WithContext(ctx).
		Model(&vectorChunkModel{}).
		Select("source_path, chunk_type, chunk_id, content, metadata, embedding "+op+" ? AS distance", pgvector.NewVector(embedding.NormalizeVector(vec))).
		Where("collection = ?", c.name).
		Order("distance").
		Limit(k).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}

	out := make([]store.ScoredChunk, len(rows))
	for i, r := range rows {
		chunk := store.Chunk{
			Content:    r.Content,
			SourcePath: r.SourcePath,
			Type:       store.ChunkType(r.ChunkType),
			ChunkID:    r.ChunkID,
		}
		if len(r.Metadata) > 0 {
			chunk.Metadata = make(map[string]string, len(r.Metadata))
			for k, v := range r.Metadata {
				chunk.Metadata[k] = strings.TrimSpace(fmt.Sprint(v))
			}
		}
		out[i] = store.ScoredChunk{Chunk: chunk, Distance: r.Distance}
	}
	return out, nil
}

func (c *pgvectorCollection) Count(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int64
	if err := c.index.db.WithContext(ctx).Model(&vectorChunkModel{}).Where("collection = ?", c.name).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", ErrUnavailable, c.name, err)
	}
	return int(n), nil
}

func (c *pgvectorCollection) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.db.WithContext(ctx).Where("collection = ?", c.name).Delete(&vectorChunkModel{}).Error
}

func (c *pgvectorCollection) Delete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ?", c.name).Delete(&vectorChunkModel{}).Error; err != nil {
			return err
		}
		return tx.Where("name = ?", c.name).Delete(&vectorCollectionModel{}).Error
	})
}
