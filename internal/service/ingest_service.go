package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vita-be/internal/dto"
	"vita-be/internal/pkg/logger"
	"vita-be/pkg/embedding"
	"vita-be/pkg/events"
	"vita-be/pkg/extract"
	"vita-be/pkg/store"
	"vita-be/pkg/vectorindex"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

var (
	ErrIngestBusy  = errors.New("too many ingestion jobs queued")
	ErrJobNotFound = errors.New("ingest job not found")
)

const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"

	maxQueuedJobs = 8
)

type IngestConfig struct {
	Topic string
	// BaseDir bounds queued jobs; direct Ingest calls may read anywhere.
	BaseDir    string
	Collection string
	Metric     vectorindex.Metric
}

type IIngestService interface {
	// Enqueue validates the request and queues it for the consumer.
	Enqueue(ctx context.Context, req dto.IngestRequest) (*dto.IngestJobResponse, error)
	Consume(ctx context.Context) error
	// Ingest extracts req.Root and adds every chunk to the collection.
	Ingest(ctx context.Context, req dto.IngestRequest) (*dto.IngestJobResponse, error)
	Job(id string) (*dto.IngestJobResponse, error)
}

type ingestService struct {
	pubSub    *gochannel.GoChannel
	index     vectorindex.Index
	extractor *extract.Extractor
	embedder  embedding.Embedder
	publisher events.Publisher
	jobs      *cache.Cache
	cfg       IngestConfig
	logger    logger.ILogger

	// One writer per process; queries keep running alongside.
	writeMu sync.Mutex
	mu      sync.Mutex
	pending int
}

func NewIngestService(
	pubSub *gochannel.GoChannel,
	index vectorindex.Index,
	extractor *extract.Extractor,
	embedder embedding.Embedder,
	publisher events.Publisher,
	cfg IngestConfig,
	log logger.ILogger,
) IIngestService {
	if cfg.Metric == "" {
		cfg.Metric = vectorindex.MetricCosine
	}
	return &ingestService{
		pubSub:    pubSub,
		index:     index,
		extractor: extractor,
		embedder:  embedder,
		publisher: publisher,
		jobs:      cache.New(24*time.Hour, time.Hour),
		cfg:       cfg,
		logger:    log,
	}
}

func (s *ingestService) Enqueue(ctx context.Context, req dto.IngestRequest) (*dto.IngestJobResponse, error) {
	root, err := s.resolveRoot(req.Root)
	if err != nil {
		return nil, err
	}
	req.Root = root

	s.mu.Lock()
	if s.pending >= maxQueuedJobs {
		s.mu.Unlock()
		return nil, ErrIngestBusy
	}
	s.pending++
	s.mu.Unlock()

	job := &dto.IngestJobResponse{
		JobId:      uuid.NewString(),
		Status:     JobQueued,
		Root:       root,
		Collection: s.collectionName(req),
		QueuedAt:   time.Now(),
	}
	s.saveJob(job)

	payload, err := json.Marshal(dto.PublishIngestMessage{JobId: job.JobId, Req: req})
	if err != nil {
		s.release()
		return nil, err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := s.pubSub.Publish(s.cfg.Topic, msg); err != nil {
		s.release()
		return nil, fmt.Errorf("queue ingestion: %w", err)
	}

	s.logger.Info("Ingest", "Ingestion queued", map[string]interface{}{"job_id": job.JobId, "root": root})
	return job, nil
}

func (s *ingestService) Consume(ctx context.Context) error {
	messages, err := s.pubSub.Subscribe(ctx, s.cfg.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			s.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (s *ingestService) processMessage(ctx context.Context, msg *message.Message) {
	defer s.release()

	var payload dto.PublishIngestMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.logger.Error("Ingest", "Failed to unmarshal message", map[string]interface{}{"error": err.Error()})
		// Redelivering a malformed payload cannot help.
		msg.Ack()
		return
	}

	job, err := s.run(ctx, payload.JobId, payload.Req)
	if err != nil {
		s.logger.Error("Ingest", "Ingestion failed", map[string]interface{}{
			"job_id": payload.JobId,
			"error":  err.Error(),
		})
	} else {
		s.logger.Info("Ingest", "Ingestion finished", map[string]interface{}{
			"job_id": job.JobId,
			"chunks": job.Chunks,
			"total":  job.Total,
		})
	}
	// Failed jobs are recorded, not retried: a retry would re-embed the same broken tree.
	msg.Ack()
}

func (s *ingestService) Ingest(ctx context.Context, req dto.IngestRequest) (*dto.IngestJobResponse, error) {
	return s.run(ctx, uuid.NewString(), req)
}

func (s *ingestService) run(ctx context.Context, jobID string, req dto.IngestRequest) (*dto.IngestJobResponse, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	job := &dto.IngestJobResponse{
		JobId:      jobID,
		Status:     JobRunning,
		Root:       req.Root,
		Collection: s.collectionName(req),
		QueuedAt:   time.Now(),
	}
	if prev, ok := s.jobs.Get(jobID); ok {
		job.QueuedAt = prev.(*dto.IngestJobResponse).QueuedAt
	}
	s.saveJob(job)

	err := s.ingest(ctx, req, job)

	finished := time.Now()
	job.FinishedAt = &finished
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		s.saveJob(job)
		s.publish(ctx, events.New(events.IngestFailed, map[string]interface{}{
			"job_id":     job.JobId,
			"collection": job.Collection,
			"error":      job.Error,
		}))
		return job, err
	}
	job.Status = JobCompleted
	s.saveJob(job)
	s.publish(ctx, events.New(events.IngestCompleted, map[string]interface{}{
		"job_id":     job.JobId,
		"collection": job.Collection,
		"chunks":     job.Chunks,
		"total":      job.Total,
	}))
	return job, nil
}

// ingest streams chunks into the collection in embedding-sized batches.
func (s *ingestService) ingest(ctx context.Context, req dto.IngestRequest, job *dto.IngestJobResponse) error {
	if s.index == nil {
		return fmt.Errorf("%w: no vector index is open", vectorindex.ErrUnavailable)
	}
	col, err := s.index.OpenOrCreate(ctx, job.Collection, s.cfg.Metric, s.embedder.Dimensions())
	if err != nil {
		return err
	}
	if req.Reset {
		if err := col.Clear(ctx); err != nil {
			return fmt.Errorf("reset collection: %w", err)
		}
	}

	batch := make([]store.Chunk, 0, vectorindex.MaxBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := col.Add(ctx, batch, s.embedder); err != nil {
			return err
		}
		job.Chunks += len(batch)
		batch = batch[:0]
		return nil
	}

	err = s.extractor.Walk(ctx, req.Root, func(c store.Chunk) error {
		batch = append(batch, c)
		if len(batch) == vectorindex.MaxBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	job.Total, err = col.Count(ctx)
	return err
}

func (s *ingestService) Job(id string) (*dto.IngestJobResponse, error) {
	x, ok := s.jobs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job := *x.(*dto.IngestJobResponse)
	return &job, nil
}

func (s *ingestService) resolveRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("%w: root is required", ErrInvalidRequest)
	}
	base, err := filepath.Abs(s.cfg.BaseDir)
	if err != nil {
		return "", err
	}
	p := root
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: root must be inside %s", ErrInvalidRequest, s.cfg.BaseDir)
	}
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidRequest, root)
	}
	return p, nil
}

func (s *ingestService) collectionName(req dto.IngestRequest) string {
	if req.Collection != "" {
		return req.Collection
	}
	return s.cfg.Collection
}

func (s *ingestService) saveJob(job *dto.IngestJobResponse) {
	cp := *job
	s.jobs.Set(job.JobId, &cp, cache.DefaultExpiration)
}

func (s *ingestService) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		s.pending--
	}
}

func (s *ingestService) publish(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("Ingest", "Failed to publish event", map[string]interface{}{
			"event": ev.EventType(),
			"error": err.Error(),
		})
	}
}
