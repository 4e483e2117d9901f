package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Backend   BackendConfig
	Council   CouncilConfig
	Vector    VectorConfig
	Embedding EmbeddingConfig
	Infra     InfraConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	StreamLogFilePath  string
	CorsAllowedOrigins string
	JwtSecret          string
}

// BackendConfig selects the default chat-completion backend.
type BackendConfig struct {
	Kind    string // "openai_compat", "ollama", "huggingface"
	URL     string
	Model   string
	APIKey  string
	Timeout time.Duration
}

type CouncilConfig struct {
	PersonaDir     string
	ModelsFile     string
	DefaultPersona string
	MaxTurns       int
	SpeakerPolicy  string // "round_robin" | "auto"
	// StudentInput is the human input mode of the student proxy: ALWAYS, TERMINATE or NEVER.
	StudentInput  string
	RetrievalTopK int
	SessionTTL    time.Duration
}

type VectorConfig struct {
	Backend         string // "chromem", "pgvector", "memory"
	DataDir         string
	CollectionName  string
	Metric          string // "cosine" | "l2"
	FallbackDataset string
}

type EmbeddingConfig struct {
	Provider  string // "ollama" | "openai_compat"
	URL       string
	Model     string
	APIKey    string
	Dimension int
}

type InfraConfig struct {
	DatabaseURL string
	RedisURL    string
	NatsURL     string
	IngestTopic string
	// IngestBaseDir bounds the directories the HTTP ingest endpoint may read.
	IngestBaseDir string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/vita.log"),
			StreamLogFilePath:  getEnv("STREAM_LOG_FILE_PATH", "logs/council_stream.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			JwtSecret:          getEnv("JWT_SECRET", ""),
		},
		Backend: BackendConfig{
			Kind:    getEnv("BACKEND_KIND", "ollama"),
			URL:     getEnv("BACKEND_URL", "http://localhost:11434"),
			Model:   getEnv("BACKEND_MODEL", "llama3"),
			APIKey:  getEnv("BACKEND_API_KEY", ""),
			Timeout: time.Duration(getEnvAsInt("BACKEND_TIMEOUT_SECONDS", 120)) * time.Second,
		},
		Council: CouncilConfig{
			PersonaDir:     getEnv("PERSONA_DIR", "personas"),
			ModelsFile:     getEnv("MODELS_FILE", ""),
			DefaultPersona: getEnv("DEFAULT_PERSONA", "vita"),
			MaxTurns:       getEnvAsInt("COUNCIL_MAX_TURNS", 12),
			SpeakerPolicy:  getEnv("COUNCIL_SPEAKER_POLICY", "round_robin"),
			StudentInput:   getEnv("COUNCIL_STUDENT_INPUT", "ALWAYS"),
			RetrievalTopK:  getEnvAsInt("RETRIEVAL_TOP_K", 3),
			SessionTTL:     time.Duration(getEnvAsInt("SESSION_TTL_MINUTES", 60)) * time.Minute,
		},
		Vector: VectorConfig{
			Backend:         getEnv("VECTOR_BACKEND", "chromem"),
			DataDir:         getEnv("VECTOR_DATA_DIR", "data"),
			CollectionName:  getEnv("COLLECTION_NAME", "course_materials"),
			Metric:          getEnv("COLLECTION_METRIC", "cosine"),
			FallbackDataset: getEnv("FALLBACK_DATASET", "data/fallback_qa.json"),
		},
		Embedding: EmbeddingConfig{
			Provider:  getEnv("EMBEDDING_PROVIDER", "ollama"),
			URL:       getEnv("EMBEDDING_URL", "http://localhost:11434"),
			Model:     getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			APIKey:    getEnv("EMBEDDING_API_KEY", ""),
			Dimension: getEnvAsInt("EMBEDDING_DIM", 768),
		},
		Infra: InfraConfig{
			DatabaseURL:   getEnv("DB_CONNECTION_STRING", ""),
			RedisURL:      getEnv("REDIS_URL", ""),
			NatsURL:       getEnv("NATS_URL", ""),
			IngestTopic:   getEnv("INGEST_TOPIC_NAME", "INGEST_DIRECTORY"),
			IngestBaseDir: getEnv("INGEST_BASE_DIR", "course_materials"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
