// Package testutils starts the backing services integration tests run against.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"ragctx/internal/config"
)

type Service int

const (
	Postgres Service = iota
	Weaviate
	NSQ
)

type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer
	NSQDAddr string

	services map[Service]bool

	dbHost       string
	dbPort       int
	weaviateHost string
	nsqdHTTP     string

	// Containers
	pgContainer       *postgres.PostgresContainer
	weaviateContainer testcontainers.Container
	nsqContainer      testcontainers.Container
}

// NewIntegrationSuite prepares a suite for the given services; with none
// given, all of them are started.
func NewIntegrationSuite(t *testing.T, services ...Service) *IntegrationSuite {
	if len(services) == 0 {
		services = []Service{Postgres, Weaviate, NSQ}
	}
	s := &IntegrationSuite{T: t, services: make(map[Service]bool)}
	for _, svc := range services {
		s.services[svc] = true
	}
	return s
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()
	if s.services[Postgres] {
		s.setupPostgres(ctx)
	}
	if s.services[Weaviate] {
		s.setupWeaviate(ctx)
	}
	if s.services[NSQ] {
		s.setupNSQ(ctx)
	}
}

func (s *IntegrationSuite) setupPostgres(ctx context.Context) {
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ragctx_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	s.dbHost, err = pgContainer.Host(ctx)
	require.NoError(s.T, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(s.T, err)
	s.dbPort = pgPort.Int()

	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)
	migrationPath := fmt.Sprintf("file://%s/../../migrations", basepath)

	m, err := migrate.New(migrationPath, connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

func (s *IntegrationSuite) setupWeaviate(ctx context.Context) {
	req := testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:1.33.6",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":               "none",
			"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
	}
	weaviateC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.weaviateContainer = weaviateC

	host, err := weaviateC.Host(ctx)
	require.NoError(s.T, err)
	port, err := weaviateC.MappedPort(ctx, "8080")
	require.NoError(s.T, err)

	s.weaviateHost = fmt.Sprintf("%s:%s", host, port.Port())
	cfg := weaviate.Config{
		Host:   s.weaviateHost,
		Scheme: "http",
	}
	s.Weaviate, err = weaviate.NewClient(cfg)
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) setupNSQ(ctx context.Context) {
	nsqReq := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: nsqReq,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = nsqC

	nsqHost, err := nsqC.Host(ctx)
	require.NoError(s.T, err)
	nsqPort, err := nsqC.MappedPort(ctx, "4150")
	require.NoError(s.T, err)

	s.NSQDAddr = fmt.Sprintf("%s:%s", nsqHost, nsqPort.Port())
	httpPort, err := nsqC.MappedPort(ctx, "4151")
	require.NoError(s.T, err)
	s.nsqdHTTP = fmt.Sprintf("%s:%s", nsqHost, httpPort.Port())
	s.NSQ, err = nsq.NewProducer(s.NSQDAddr, nsq.NewConfig())
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	if s.weaviateContainer != nil {
		s.weaviateContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
}

// AppConfig returns a configuration pointing at the started services.
// Backends whose service was not started fall back to the in-process ones.
func (s *IntegrationSuite) AppConfig() *config.Config {
	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)

	cfg := &config.Config{
		MarkupExtension:            ".html",
		MaxChunkChars:              500,
		BatchSize:                  10,
		DefaultK:                   5,
		EmbedTimeoutSeconds:        5,
		IndexTimeoutSeconds:        10,
		ConvertTimeoutSeconds:      5,
		EmbeddingProvider:          config.ProviderOllama,
		OllamaURL:                  "http://localhost:11434",
		IndexBackend:               config.BackendMemory,
		Collection:                 "HtmlDocument",
		ManifestBackend:            config.ManifestFile,
		ManifestDir:                s.T.TempDir(),
		MigrationPath:              fmt.Sprintf("file://%s/../../migrations", basepath),
		QueryLogPath:               filepath.Join(s.T.TempDir(), "query.log"),
		ServerPort:                 8081,
		EnableAPI:                  true,
		BootstrapRetryAttempts:     5,
		BootstrapRetryDelaySeconds: 1,
	}
	if s.DB != nil {
		cfg.ManifestBackend = config.ManifestPostgres
		cfg.DBHost = s.dbHost
		cfg.DBPort = s.dbPort
		cfg.DBUser = "test"
		cfg.DBPass = "test"
		cfg.DBName = "ragctx_test"
	}
	if s.Weaviate != nil {
		cfg.IndexBackend = config.BackendWeaviate
		cfg.WeaviateHost = s.weaviateHost
		cfg.WeaviateScheme = "http"
	}
	if s.NSQ != nil {
		cfg.NSQDHost = s.NSQDAddr
		cfg.NSQDHTTP = s.nsqdHTTP
	}
	return cfg
}
