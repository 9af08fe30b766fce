package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"ragctx/internal/adapter/gemini"
	"ragctx/internal/adapter/memory"
	"ragctx/internal/adapter/ollama"
	wstore "ragctx/internal/adapter/weaviate"
	"ragctx/internal/config"
	"ragctx/internal/index"
	"ragctx/internal/manifest"
	"ragctx/internal/worker"
)

// SchemaEnsurer is satisfied by index backends that manage a remote schema.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

type Dependencies struct {
	DB          *sql.DB
	Manifest    manifest.Store
	Index       index.Store
	Embedder    worker.Embedder
	NSQProducer *nsq.Producer

	closers []func() error
}

type BootstrapOptions struct {
	// Messaging connects the NSQ producer and pre-creates topics.
	Messaging bool
}

func Bootstrap(ctx context.Context, cfg *config.Config, opts BootstrapOptions) (*Dependencies, error) {
	deps := &Dependencies{}

	if err := deps.openManifest(ctx, cfg); err != nil {
		deps.Close()
		return nil, err
	}

	store, err := openIndex(ctx, cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Index = store

	embedder, closeEmbedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Embedder = embedder
	if closeEmbedder != nil {
		deps.closers = append(deps.closers, closeEmbedder)
	}

	if opts.Messaging {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.NSQProducer = producer
		deps.closers = append(deps.closers, func() error {
			producer.Stop()
			return nil
		})
		createTopics(cfg.NSQDHTTP)
	}

	return deps, nil
}

// Close releases everything Bootstrap opened, in reverse order.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func (d *Dependencies) openManifest(ctx context.Context, cfg *config.Config) error {
	if cfg.ManifestBackend != config.ManifestPostgres {
		store, err := manifest.NewFileStore(cfg.ManifestDir)
		if err != nil {
			return fmt.Errorf("manifest store error: %w", err)
		}
		d.Manifest = store
		return nil
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	d.DB = db
	d.closers = append(d.closers, db.Close)

	if err := PingWithRetry(ctx, db, cfg.BootstrapRetryAttempts, cfg.RetryDelay()); err != nil {
		return fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied successfully")

	d.Manifest = manifest.NewPostgresRepo(db)
	return nil
}

func openIndex(ctx context.Context, cfg *config.Config) (index.Store, error) {
	if cfg.IndexBackend == config.BackendMemory {
		store, err := memory.NewStore(cfg.MemoryIndexPath)
		if err != nil {
			return nil, fmt.Errorf("memory index error: %w", err)
		}
		return store, nil
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
	if err != nil {
		return nil, fmt.Errorf("weaviate client error: %w", err)
	}
	store := wstore.NewStore(client, cfg.Collection)

	if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, cfg.RetryDelay()); err != nil {
		return nil, fmt.Errorf("weaviate schema error: %w", err)
	}
	slog.Info("weaviate schema ensured", "class", store.Class())
	return store, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (worker.Embedder, func() error, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.Model())
		if err != nil {
			return nil, nil, fmt.Errorf("gemini embedder error: %w", err)
		}
		return e, e.Close, nil
	default:
		return ollama.NewEmbedder(ollama.Config{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.Model(),
			Timeout: cfg.EmbedTimeout(),
		}), nil, nil
	}
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestRun)
		create(config.TopicIngestResult)
	}()
}

func retryPolicy(ctx context.Context, attempts int, delay time.Duration) backoff.BackOff {
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)), ctx)
}

// EnsureSchemaWithRetry makes up to attempts schema checks, delay apart.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := store.EnsureSchema(ctx)
		if err != nil {
			slog.Warn("failed to ensure weaviate schema, retrying...", "attempt", attempt, "error", err)
		}
		return err
	}, retryPolicy(ctx, attempts, delay))
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

func PingWithRetry(ctx context.Context, db Pinger, attempts int, delay time.Duration) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := db.PingContext(ctx)
		if err != nil {
			slog.Warn("failed to ping db, retrying...", "attempt", attempt)
		}
		return err
	}, retryPolicy(ctx, attempts, delay))
}
