package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/config"
	"docqa/internal/models"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 4, cfg.RAG.TopK)
	assert.InDelta(t, 0.3, cfg.RAG.Temperature, 1e-9)
	assert.Equal(t, config.ProviderGoogleAI, cfg.EmbedLLM.Provider)
	assert.Equal(t, "models/embedding-001", cfg.EmbedLLM.Model)
	assert.Equal(t, config.BackendChromem, cfg.VectorDB.Backend)
	assert.True(t, cfg.VectorDB.InMemory)
	assert.Equal(t, "GOOGLE_API_KEY", cfg.Credential.Env)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
embed_llm:
  provider: ollama
  base_url: http://localhost:11434
inference_llm:
  provider: openai
  base_url: https://openrouter.ai/api/v1
  model: meta-llama/llama-3-8b-instruct
rag:
  chunk_size: 500
  chunk_overlap: 50
  top_k: 6
  request_timeout: 30s
vector_db:
  in_memory: false
  path: /tmp/vectors
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "nomic-embed-text", cfg.EmbedLLM.Model)
	assert.Equal(t, "meta-llama/llama-3-8b-instruct", cfg.InferenceLLM.Model)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 6, cfg.RAG.TopK)
	assert.Equal(t, 30*time.Second, cfg.RAG.RequestTimeout)
	assert.False(t, cfg.VectorDB.InMemory)
	assert.Equal(t, "/tmp/vectors", cfg.VectorDB.Path)
	assert.True(t, cfg.NeedsCredential())
}

func TestLoadConfig_ExplicitZeros(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
rag:
  chunk_overlap: 0
  temperature: 0
vector_db:
  in_memory: false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.RAG.ChunkOverlap)
	assert.Zero(t, cfg.RAG.Temperature)
	assert.False(t, cfg.VectorDB.InMemory)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 4, cfg.RAG.TopK)
}

func TestLoadConfig_OmittedKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rag:\n  top_k: 2\n"), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.InDelta(t, 0.3, cfg.RAG.Temperature, 1e-9)
	assert.Equal(t, 2, cfg.RAG.TopK)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *config.Config) {}},
		{name: "overlap equals size", mutate: func(c *config.Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize }, wantErr: true},
		{name: "negative top k", mutate: func(c *config.Config) { c.RAG.TopK = -1 }, wantErr: true},
		{name: "temperature too high", mutate: func(c *config.Config) { c.RAG.Temperature = 3 }, wantErr: true},
		{name: "unknown provider", mutate: func(c *config.Config) { c.EmbedLLM.Provider = "bard" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *config.Config) { c.VectorDB.Backend = config.BackendPostgres }, wantErr: true},
		{name: "postgres with dsn", mutate: func(c *config.Config) {
			c.VectorDB.Backend = config.BackendPostgres
			c.Database.DSN = "postgres://localhost/docqa"
		}},
		{name: "short encryption key", mutate: func(c *config.Config) { c.VectorDB.EncryptionKey = "secret" }, wantErr: true},
		{name: "unknown driver", mutate: func(c *config.Config) { c.Database.Driver = "mysql" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveCredential_Order(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("DOCQA_TEST_KEY=from-dotenv\n"), 0o600))
	t.Setenv("DOCQA_TEST_KEY", "from-env")

	cfg := config.Default()
	cfg.Credential = config.CredentialConfig{Env: "DOCQA_TEST_KEY", Dotenv: dotenv}

	key, err := config.ResolveCredential(cfg.DefaultSources()...)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", key)

	cfg.InferenceLLM.Key = "from-config"
	key, err = config.ResolveCredential(cfg.DefaultSources()...)
	require.NoError(t, err)
	assert.Equal(t, "from-config", key)

	cfg.InferenceLLM.Key = ""
	cfg.Credential.Dotenv = filepath.Join(dir, "missing.env")
	key, err = config.ResolveCredential(cfg.DefaultSources()...)
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)
}

func TestResolveCredential_Missing(t *testing.T) {
	_, err := config.ResolveCredential(
		config.StaticSource{Label: "config"},
		config.EnvSource{Key: "DOCQA_DEFINITELY_UNSET_KEY"},
	)
	assert.ErrorIs(t, err, models.ErrMissingCredential)
}

func TestApplyCredential_KeepsExplicitKeys(t *testing.T) {
	cfg := config.Default()
	cfg.EmbedLLM.Key = "embed-only"
	cfg.ApplyCredential("shared")

	assert.Equal(t, "embed-only", cfg.EmbedLLM.Key)
	assert.Equal(t, "shared", cfg.InferenceLLM.Key)
}
