package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragctx/internal/app"
	"ragctx/internal/config"
)

type statefulMockStore struct {
	callCount int
	failUntil int
}

func (m *statefulMockStore) EnsureSchema(ctx context.Context) error {
	m.callCount++
	if m.callCount <= m.failUntil {
		return errors.New("schema error")
	}
	return nil
}

func TestEnsureSchemaWithRetry_Success(t *testing.T) {
	mock := &statefulMockStore{}
	err := app.EnsureSchemaWithRetry(context.Background(), mock, 1, 1*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 1, mock.callCount)
}

func TestEnsureSchemaWithRetry_Retries(t *testing.T) {
	mock := &statefulMockStore{failUntil: 2}
	err := app.EnsureSchemaWithRetry(context.Background(), mock, 5, 1*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 3, mock.callCount)
}

func TestEnsureSchemaWithRetry_Fail(t *testing.T) {
	mock := &statefulMockStore{failUntil: 100}
	err := app.EnsureSchemaWithRetry(context.Background(), mock, 3, 1*time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 3, mock.callCount)
}

func TestPingWithRetry(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing()

	err = app.PingWithRetry(context.Background(), db, 3, time.Millisecond)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBootstrap_MemoryBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		EmbeddingProvider: config.ProviderOllama,
		OllamaURL:         "http://localhost:11434",
		IndexBackend:      config.BackendMemory,
		MemoryIndexPath:   filepath.Join(dir, "index.json"),
		Collection:        "HtmlDocument",
		ManifestBackend:   config.ManifestFile,
		ManifestDir:       filepath.Join(dir, "manifest"),
	}

	deps, err := app.Bootstrap(context.Background(), cfg, app.BootstrapOptions{})
	require.NoError(t, err)
	defer deps.Close()

	assert.Nil(t, deps.DB)
	assert.Nil(t, deps.NSQProducer)
	assert.NotNil(t, deps.Manifest)
	assert.NotNil(t, deps.Index)
	assert.NotNil(t, deps.Embedder)
}

func TestBootstrap_Resilience_DBDown(t *testing.T) {
	cfg := &config.Config{
		ManifestBackend:            config.ManifestPostgres,
		DBHost:                     "localhost",
		DBPort:                     54322, // Random port likely closed
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "test",
		BootstrapRetryAttempts:     1,
		BootstrapRetryDelaySeconds: 0,
	}

	start := time.Now()
	deps, err := app.Bootstrap(context.Background(), cfg, app.BootstrapOptions{})
	duration := time.Since(start)

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "failed to ping db")
	assert.Less(t, duration, 2*time.Second)
}

func TestBootstrap_Resilience_WeaviateDown(t *testing.T) {
	cfg := &config.Config{
		IndexBackend:               config.BackendWeaviate,
		WeaviateHost:               "localhost:18080",
		WeaviateScheme:             "http",
		Collection:                 "HtmlDocument",
		ManifestBackend:            config.ManifestFile,
		ManifestDir:                t.TempDir(),
		BootstrapRetryAttempts:     2,
		BootstrapRetryDelaySeconds: 0,
	}

	deps, err := app.Bootstrap(context.Background(), cfg, app.BootstrapOptions{})

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "weaviate schema error")
}
