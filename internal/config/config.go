package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"ragctx/internal/apperr"
)

var ErrMissingRequired = errors.New("missing required configuration")

const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"

	BackendWeaviate = "weaviate"
	BackendMemory   = "memory"

	ManifestFile     = "file"
	ManifestPostgres = "postgres"
)

type Config struct {
	// Corpus
	CorpusRoot      string `envconfig:"CORPUS_ROOT" default:"html_downloads"`
	URLMappingPath  string `envconfig:"URL_MAPPING_PATH"`
	MarkupExtension string `envconfig:"MARKUP_EXTENSION" default:".html"`

	// Pipeline
	MaxChunkChars         int     `envconfig:"MAX_CHUNK_CHARS" default:"500"`
	BatchSize             int     `envconfig:"BATCH_SIZE" default:"10"`
	DefaultK              int     `envconfig:"DEFAULT_K" default:"5"`
	ConvertTimeoutSeconds int     `envconfig:"CONVERT_TIMEOUT_SECONDS" default:"30"`
	EmbedTimeoutSeconds   int     `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`
	IndexTimeoutSeconds   int     `envconfig:"INDEX_TIMEOUT_SECONDS" default:"30"`
	EmbedMaxRetries       int     `envconfig:"EMBED_MAX_RETRIES" default:"2"`
	EmbedRateLimit        float64 `envconfig:"EMBED_RATE_LIMIT" default:"0"`
	ResumeRuns            bool    `envconfig:"RESUME_RUNS" default:"false"`

	// Embeddings
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER" default:"ollama"`
	EmbeddingModel    string `envconfig:"EMBEDDING_MODEL"`
	OllamaURL         string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY"`

	// Index
	IndexBackend    string `envconfig:"INDEX_BACKEND" default:"weaviate"`
	WeaviateHost    string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme  string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	Collection      string `envconfig:"COLLECTION" default:"HtmlDocument"`
	MemoryIndexPath string `envconfig:"MEMORY_INDEX_PATH"`

	// Manifest
	ManifestBackend string `envconfig:"MANIFEST_BACKEND" default:"file"`
	ManifestDir     string `envconfig:"MANIFEST_DIR" default:"data/manifest"`
	DBHost          string `envconfig:"DB_HOST" default:"postgres"`
	DBPort          int    `envconfig:"DB_PORT" default:"5432"`
	DBUser          string `envconfig:"DB_USER" default:"ragctx"`
	DBPass          string `envconfig:"DB_PASS" default:"password"`
	DBName          string `envconfig:"DB_NAME" default:"ragctx"`
	MigrationPath   string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Messaging
	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI          bool `envconfig:"ENABLE_API" default:"true"`
	EnableIngestWorker bool `envconfig:"ENABLE_INGEST_WORKER" default:"false"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogDebug     bool   `envconfig:"LOG_DEBUG" default:"false"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.MaxChunkChars <= 0 {
		return fmt.Errorf("%w: MAX_CHUNK_CHARS must be positive, got %d", apperr.ErrInvalidConfiguration, c.MaxChunkChars)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: BATCH_SIZE must be positive, got %d", apperr.ErrInvalidConfiguration, c.BatchSize)
	}
	if c.DefaultK <= 0 {
		return fmt.Errorf("%w: DEFAULT_K must be positive, got %d", apperr.ErrInvalidConfiguration, c.DefaultK)
	}

	switch c.EmbeddingProvider {
	case ProviderOllama:
		if c.OllamaURL == "" {
			return fmt.Errorf("%w: %w: OLLAMA_URL", apperr.ErrInvalidConfiguration, ErrMissingRequired)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: %w: GEMINI_API_KEY", apperr.ErrInvalidConfiguration, ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown EMBEDDING_PROVIDER %q", apperr.ErrInvalidConfiguration, c.EmbeddingProvider)
	}

	switch c.IndexBackend {
	case BackendMemory:
	case BackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: %w: WEAVIATE_HOST", apperr.ErrInvalidConfiguration, ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown INDEX_BACKEND %q", apperr.ErrInvalidConfiguration, c.IndexBackend)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: %w: COLLECTION", apperr.ErrInvalidConfiguration, ErrMissingRequired)
	}

	switch c.ManifestBackend {
	case ManifestFile:
		if c.ManifestDir == "" {
			return fmt.Errorf("%w: %w: MANIFEST_DIR", apperr.ErrInvalidConfiguration, ErrMissingRequired)
		}
	case ManifestPostgres:
		if c.DBHost == "" {
			return fmt.Errorf("%w: %w: DB_HOST", apperr.ErrInvalidConfiguration, ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: %w: DB_USER", apperr.ErrInvalidConfiguration, ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: %w: DB_NAME", apperr.ErrInvalidConfiguration, ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown MANIFEST_BACKEND %q", apperr.ErrInvalidConfiguration, c.ManifestBackend)
	}

	return nil
}

// Model returns the configured embedding model, falling back to the
// provider default.
func (c *Config) Model() string {
	if c.EmbeddingModel != "" {
		return c.EmbeddingModel
	}
	if c.EmbeddingProvider == ProviderGemini {
		return "gemini-embedding-001"
	}
	return "nomic-embed-text"
}

// ModelID identifies the embedding space an index is built in.
func (c *Config) ModelID() string {
	return c.EmbeddingProvider + "/" + c.Model()
}

func (c *Config) ConvertTimeout() time.Duration {
	return time.Duration(c.ConvertTimeoutSeconds) * time.Second
}

func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSeconds) * time.Second
}

func (c *Config) IndexTimeout() time.Duration {
	return time.Duration(c.IndexTimeoutSeconds) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.BootstrapRetryDelaySeconds) * time.Second
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
