package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"vita-be/internal/config"
	"vita-be/internal/controller"
	"vita-be/internal/handler"
	"vita-be/internal/pkg/logger"
	"vita-be/internal/service"
	"vita-be/internal/websocket"
	"vita-be/pkg/council"
	"vita-be/pkg/database"
	"vita-be/pkg/embedding"
	"vita-be/pkg/events"
	"vita-be/pkg/extract"
	"vita-be/pkg/llm"
	"vita-be/pkg/llm/factory"
	pktNats "vita-be/pkg/nats"
	"vita-be/pkg/persona"
	"vita-be/pkg/rag"
	"vita-be/pkg/rag/prompt"
	"vita-be/pkg/vectorindex"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	embeddingCacheTTL = 24 * time.Hour
	defaultModelID    = "default"
)

type Container struct {
	// Controllers
	SessionController controller.ISessionController
	IngestController  controller.IIngestController
	CatalogController controller.ICatalogController

	// Background Services (Exposed for main.go to run)
	SessionService      service.ISessionService
	IngestService       service.IIngestService
	NotificationService *service.NotificationService

	// WebSockets
	SessionStreamHandler *handler.SessionStreamHandler
	WebSocketHub         *websocket.Hub

	Logger logger.ILogger

	closers []func()
}

// Core is what both the server and the ingestion CLI need: a logger, the
// embedder and the vector index.
type Core struct {
	Logger    *logger.ZapLogger
	Redis     *redis.Client
	Embedder  embedding.Embedder
	Index     vectorindex.Index
	Extractor *extract.Extractor
	Metric    vectorindex.Metric
}

// NewCore fails when the vector index cannot be opened.
func NewCore(cfg *config.Config) (*Core, error) {
	return openCore(cfg, true)
}

// openCore leaves Index nil on failure unless requireIndex is set.
func openCore(cfg *config.Config, requireIndex bool) (*Core, error) {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	metric, err := vectorindex.ParseMetric(cfg.Vector.Metric)
	if err != nil {
		return nil, err
	}

	rdb := newRedis(cfg.Infra.RedisURL, sysLogger)

	inner, err := NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	var embedCache embedding.Cache = embedding.NewMemoryCache(embeddingCacheTTL)
	if rdb != nil {
		embedCache = embedding.NewRedisCache(rdb, embeddingCacheTTL)
	}
	embedder := embedding.NewCachedEmbedder(inner, embedCache)
	sysLogger.Info("Bootstrap", "Embedding provider ready", map[string]interface{}{
		"provider":  cfg.Embedding.Provider,
		"model":     cfg.Embedding.Model,
		"dimension": embedder.Dimensions(),
	})

	index, err := newIndex(cfg, embedder, sysLogger)
	if err != nil {
		if requireIndex {
			return nil, err
		}
		sysLogger.Warn("Bootstrap", "Vector index unavailable, answers use the fallback dataset", map[string]interface{}{
			"backend": cfg.Vector.Backend,
			"error":   err.Error(),
		})
		index = nil
	}

	return &Core{
		Logger:    sysLogger,
		Redis:     rdb,
		Embedder:  embedder,
		Index:     index,
		Extractor: extract.New(sysLogger),
		Metric:    metric,
	}, nil
}

func (c *Core) Close() {
	if c.Index != nil {
		if err := c.Index.Close(); err != nil {
			c.Logger.Warn("Bootstrap", "Failed to close vector index", map[string]interface{}{"error": err.Error()})
		}
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	_ = c.Logger.Sync()
}

func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	// 1. Core Facades
	core, err := openCore(cfg, false)
	if err != nil {
		return nil, err
	}
	sysLogger := core.Logger
	c := &Container{Logger: sysLogger}
	c.closers = append(c.closers, core.Close)

	// 2. Retrieval
	var primary vectorindex.Collection
	if core.Index != nil {
		primary, err = core.Index.OpenOrCreate(ctx, cfg.Vector.CollectionName, core.Metric, core.Embedder.Dimensions())
		if err != nil {
			sysLogger.Warn("Bootstrap", "Course collection unavailable, answers use the fallback dataset", map[string]interface{}{
				"collection": cfg.Vector.CollectionName,
				"error":      err.Error(),
			})
			primary = nil
		}
	}
	fallback, err := rag.LoadFallbackCollection(ctx, vectorindex.NewMemoryIndex(core.Embedder, sysLogger), core.Extractor, core.Embedder, cfg.Vector.FallbackDataset, sysLogger)
	if err != nil {
		sysLogger.Warn("Bootstrap", "Fallback dataset not loaded", map[string]interface{}{"error": err.Error()})
		fallback = nil
	}
	augmenter := prompt.NewAugmenter(rag.NewFallbackRetriever(primary, fallback, sysLogger), cfg.Council.RetrievalTopK, sysLogger)

	// 3. Personas & Models
	models, err := loadModels(cfg)
	if err != nil {
		return nil, err
	}
	registry, err := persona.Load(cfg.Council.PersonaDir, models, sysLogger)
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}
	gateway := factory.NewGateway(cfg.Backend.Timeout, sysLogger)

	// 4. Event Bus
	var publisher events.Publisher
	var natsSub *pktNats.Subscriber
	if cfg.Infra.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.Infra.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("Bootstrap", "Failed to connect to NATS Publisher", map[string]interface{}{"error": err.Error()})
		} else {
			publisher = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
		natsSub, err = pktNats.NewSubscriber(cfg.Infra.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("Bootstrap", "Failed to connect to NATS Subscriber", map[string]interface{}{"error": err.Error()})
			natsSub = nil
		} else {
			c.closers = append(c.closers, natsSub.Close)
		}
	}

	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	// 5. WebSocket Hub
	wsLogger := logger.NewIsolatedLogger(cfg.App.StreamLogFilePath)
	wsHub := websocket.NewHub(core.Redis, uuid.NewString(), wsLogger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go wsHub.Run(hubCtx)
	c.closers = append(c.closers, stopHub)

	// 6. Services
	sessionService := service.NewSessionService(
		registry,
		gateway,
		augmenter,
		publisher,
		wsHub, // Hub implements SessionEventSink
		service.SessionConfig{
			DefaultPersona: cfg.Council.DefaultPersona,
			MaxTurns:       cfg.Council.MaxTurns,
			SpeakerPolicy:  cfg.Council.SpeakerPolicy,
			StudentInput:   council.HumanInputMode(strings.ToUpper(cfg.Council.StudentInput)),
			SessionTTL:     cfg.Council.SessionTTL,
		},
		sysLogger,
	)
	c.closers = append(c.closers, sessionService.Shutdown)

	ingestService := service.NewIngestService(
		pubSub,
		core.Index,
		core.Extractor,
		core.Embedder,
		publisher,
		service.IngestConfig{
			Topic:      cfg.Infra.IngestTopic,
			BaseDir:    cfg.Infra.IngestBaseDir,
			Collection: cfg.Vector.CollectionName,
			Metric:     core.Metric,
		},
		sysLogger,
	)

	if natsSub != nil {
		c.NotificationService = service.NewNotificationService(natsSub, wsHub, wsLogger) // Hub implements NotificationDelivery
	}

	// 7. Controllers
	c.SessionService = sessionService
	c.IngestService = ingestService
	c.WebSocketHub = wsHub
	c.SessionStreamHandler = handler.NewSessionStreamHandler(sessionService, wsHub, cfg.App.JwtSecret, wsLogger)
	c.SessionController = controller.NewSessionController(sessionService, cfg.App.JwtSecret)
	c.IngestController = controller.NewIngestController(ingestService, cfg.App.JwtSecret)
	c.CatalogController = controller.NewCatalogController(registry)

	return c, nil
}

// Close releases everything in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func newRedis(url string, log logger.ILogger) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("Bootstrap", "Failed to parse Redis URL, using direct Addr", map[string]interface{}{"error": err.Error()})
		opt = &redis.Options{
			Addr: url,
		}
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Warn("Bootstrap", "Failed to connect to Redis, caching in memory", map[string]interface{}{"error": err.Error()})
		_ = rdb.Close()
		return nil
	}
	return rdb
}

// NewEmbedder builds the configured provider without caching.
func NewEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		return embedding.NewOllamaProvider(cfg.URL, cfg.Model, cfg.Dimension), nil
	case "openai_compat", "openai":
		return embedding.NewOpenAICompatProvider(cfg.URL, cfg.APIKey, cfg.Model, cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func newIndex(cfg *config.Config, embedder embedding.Embedder, log logger.ILogger) (vectorindex.Index, error) {
	switch strings.ToLower(cfg.Vector.Backend) {
	case "chromem":
		return vectorindex.NewChromemIndex(filepath.Join(cfg.Vector.DataDir, "chromem"), embedder, log)
	case "pgvector":
		db, err := database.NewGormDBFromDSN(cfg.Infra.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect pgvector database: %w", err)
		}
		return vectorindex.NewPgvectorIndex(db, embedder, log)
	case "memory":
		return vectorindex.NewMemoryIndex(embedder, log), nil
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.Vector.Backend)
	}
}

// loadModels describes the configured backend as the "default" model,
// followed by the entries of MODELS_FILE. A file entry with id "default"
// replaces the configured one.
func loadModels(cfg *config.Config) ([]llm.ModelConfig, error) {
	kind, err := factory.ParseProviderKind(cfg.Backend.Kind)
	if err != nil {
		return nil, err
	}
	models := []llm.ModelConfig{{
		ID:           defaultModelID,
		Name:         cfg.Backend.Model,
		EndpointURL:  cfg.Backend.URL,
		APIKey:       cfg.Backend.APIKey,
		ProviderKind: kind,
	}}
	if cfg.Council.ModelsFile == "" {
		return models, nil
	}

	fromFile, err := persona.LoadModelsFile(cfg.Council.ModelsFile)
	if err != nil {
		return nil, err
	}
	for _, m := range fromFile {
		if m.ID == defaultModelID {
			models[0] = m
			continue
		}
		models = append(models, m)
	}
	return models, nil
}
