package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"docqa/internal/models"
)

const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"

	BackendChromem  = "chromem"
	BackendPostgres = "postgres"

	DriverPgdriver = "pgdriver"
	DriverPq       = "pq"
)

type Config struct {
	EmbedLLM     LLMConfig        `yaml:"embed_llm"`
	InferenceLLM LLMConfig        `yaml:"inference_llm"`
	RAG          RAGConfig        `yaml:"rag"`
	VectorDB     VectorDBConfig   `yaml:"vector_db"`
	Database     DatabaseConfig   `yaml:"database"`
	Credential   CredentialConfig `yaml:"credential"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type RAGConfig struct {
	ChunkSize              int           `yaml:"chunk_size"`
	ChunkOverlap           int           `yaml:"chunk_overlap"`
	TopK                   int           `yaml:"top_k"`
	Temperature            float64       `yaml:"temperature"`
	EmbedBatchSize         int           `yaml:"embed_batch_size"`
	EmbedConcurrency       int           `yaml:"embed_concurrency"`
	EmbedRequestsPerSecond float64       `yaml:"embed_requests_per_second"`
	RequestTimeout         time.Duration `yaml:"request_timeout"`
}

type VectorDBConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// CredentialConfig names where the API key may come from besides the llm sections.
type CredentialConfig struct {
	Env    string `yaml:"env"`
	Dotenv string `yaml:"dotenv"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := seeded()
	cfg.ApplyDefaults()
	return cfg
}

// seeded presets the fields for which zero is a valid setting, so a yaml
// value of 0 or false overrides the default instead of meaning unset.
func seeded() *Config {
	return &Config{
		RAG: RAGConfig{
			ChunkOverlap: models.DefaultChunkOverlap,
			Temperature:  models.DefaultTemperature,
		},
		VectorDB: VectorDBConfig{InMemory: true},
	}
}

// LoadConfig reads a yaml config. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}

	cfg := seeded()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", models.ErrInvalidConfig, path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = ProviderGoogleAI
	}
	if c.EmbedLLM.Model == "" {
		c.EmbedLLM.Model = defaultEmbedModel(c.EmbedLLM.Provider)
	}
	if c.InferenceLLM.Provider == "" {
		c.InferenceLLM.Provider = ProviderGoogleAI
	}
	if c.InferenceLLM.Model == "" {
		c.InferenceLLM.Model = defaultInferenceModel(c.InferenceLLM.Provider)
	}

	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = models.DefaultChunkSize
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = models.DefaultTopK
	}
	if c.RAG.EmbedBatchSize == 0 {
		c.RAG.EmbedBatchSize = models.DefaultEmbedBatch
	}
	if c.RAG.EmbedConcurrency == 0 {
		c.RAG.EmbedConcurrency = models.DefaultEmbedWorkers
	}

	if c.VectorDB.Backend == "" {
		c.VectorDB.Backend = BackendChromem
	}
	if c.VectorDB.Path == "" {
		c.VectorDB.Path = "./chromemdb"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPgdriver
	}
	if c.Credential.Env == "" {
		c.Credential.Env = "GOOGLE_API_KEY"
	}
}

func (c *Config) Validate() error {
	switch {
	case c.RAG.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk_size must be positive, got %d", models.ErrInvalidConfig, c.RAG.ChunkSize)
	case c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize:
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d", models.ErrInvalidConfig, c.RAG.ChunkOverlap)
	case c.RAG.TopK < 0:
		return fmt.Errorf("%w: top_k must not be negative, got %d", models.ErrInvalidConfig, c.RAG.TopK)
	case c.RAG.Temperature < 0 || c.RAG.Temperature > 2:
		return fmt.Errorf("%w: temperature must be in [0, 2], got %v", models.ErrInvalidConfig, c.RAG.Temperature)
	case c.RAG.EmbedBatchSize < 0 || c.RAG.EmbedConcurrency < 0 || c.RAG.EmbedRequestsPerSecond < 0:
		return fmt.Errorf("%w: embedding batch settings must not be negative", models.ErrInvalidConfig)
	}

	for _, p := range []string{c.EmbedLLM.Provider, c.InferenceLLM.Provider} {
		switch p {
		case ProviderGoogleAI, ProviderOpenAI, ProviderOllama:
		default:
			return fmt.Errorf("%w: unknown llm provider %q", models.ErrInvalidConfig, p)
		}
	}

	switch c.VectorDB.Backend {
	case BackendChromem:
		// chromem encrypts exports with AES-256
		if k := c.VectorDB.EncryptionKey; k != "" && len(k) != 32 {
			return fmt.Errorf("%w: encryption_key must be 32 bytes, got %d", models.ErrInvalidConfig, len(k))
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for the postgres backend", models.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown vector_db backend %q", models.ErrInvalidConfig, c.VectorDB.Backend)
	}

	switch c.Database.Driver {
	case DriverPgdriver, DriverPq:
	default:
		return fmt.Errorf("%w: unknown database driver %q", models.ErrInvalidConfig, c.Database.Driver)
	}
	return nil
}

// NeedsCredential reports whether any configured provider calls a keyed service.
func (c *Config) NeedsCredential() bool {
	return c.EmbedLLM.Provider != ProviderOllama || c.InferenceLLM.Provider != ProviderOllama
}

// ApplyCredential fills the key of every llm section that has none.
func (c *Config) ApplyCredential(key string) {
	if c.EmbedLLM.Key == "" {
		c.EmbedLLM.Key = key
	}
	if c.InferenceLLM.Key == "" {
		c.InferenceLLM.Key = key
	}
}

func defaultEmbedModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "text-embedding-3-small"
	case ProviderOllama:
		return "nomic-embed-text"
	default:
		return "models/embedding-001"
	}
}

func defaultInferenceModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderOllama:
		return "llama3.2"
	default:
		return "gemini-2.0-flash"
	}
}
