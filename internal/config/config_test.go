package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		key := key
		if prev, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, prev) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	unsetEnv(t, "BACKEND_KIND", "BACKEND_URL", "BACKEND_MODEL", "BACKEND_TIMEOUT_SECONDS",
		"COUNCIL_MAX_TURNS", "VECTOR_BACKEND", "COLLECTION_METRIC", "RETRIEVAL_TOP_K",
		"COUNCIL_STUDENT_INPUT", "SESSION_TTL_MINUTES", "INGEST_BASE_DIR")

	cfg := Load()

	assert.Equal(t, "ollama", cfg.Backend.Kind)
	assert.Equal(t, "http://localhost:11434", cfg.Backend.URL)
	assert.Equal(t, "llama3", cfg.Backend.Model)
	assert.Equal(t, 120*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 12, cfg.Council.MaxTurns)
	assert.Equal(t, "chromem", cfg.Vector.Backend)
	assert.Equal(t, "cosine", cfg.Vector.Metric)
	assert.Equal(t, 3, cfg.Council.RetrievalTopK)
	assert.Equal(t, "ALWAYS", cfg.Council.StudentInput)
	assert.Equal(t, time.Hour, cfg.Council.SessionTTL)
	assert.Equal(t, "course_materials", cfg.Infra.IngestBaseDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BACKEND_KIND", "openai_compat")
	t.Setenv("BACKEND_URL", "https://api.example.com/v1")
	t.Setenv("BACKEND_MODEL", "gpt-4o-mini")
	t.Setenv("BACKEND_API_KEY", "sk-test")
	t.Setenv("BACKEND_TIMEOUT_SECONDS", "30")
	t.Setenv("COUNCIL_MAX_TURNS", "20")
	t.Setenv("COUNCIL_SPEAKER_POLICY", "auto")

	cfg := Load()

	assert.Equal(t, "openai_compat", cfg.Backend.Kind)
	assert.Equal(t, "https://api.example.com/v1", cfg.Backend.URL)
	assert.Equal(t, "gpt-4o-mini", cfg.Backend.Model)
	assert.Equal(t, "sk-test", cfg.Backend.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 20, cfg.Council.MaxTurns)
	assert.Equal(t, "auto", cfg.Council.SpeakerPolicy)
}

func TestGetEnvAsInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("VITA_TEST_INT", "not-a-number")
	assert.Equal(t, 7, getEnvAsInt("VITA_TEST_INT", 7))
}
