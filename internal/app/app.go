package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/nsqio/go-nsq"
	"golang.org/x/sync/errgroup"

	"ragctx/features/mcp"
	"ragctx/features/query"
	"ragctx/features/run"
	"ragctx/features/stats"
	"ragctx/internal/adapter/markup"
	"ragctx/internal/config"
	"ragctx/internal/index"
	"ragctx/internal/ingest"
	"ragctx/internal/middleware"
	"ragctx/internal/retrieval"
	"ragctx/internal/worker"
)

// IngestChannel is the NSQ channel ingestion workers share.
const IngestChannel = "ragctx"

type App struct {
	Handler        http.Handler
	Pipeline       *ingest.Pipeline
	Retrieval      *retrieval.Service
	IngestConsumer *worker.IngestConsumer

	cfg *config.Config
}

func New(cfg *config.Config, deps *Dependencies) (*App, error) {
	if deps == nil || deps.Manifest == nil || deps.Index == nil || deps.Embedder == nil {
		return nil, errors.New("app: incomplete dependencies")
	}

	// A nil *nsq.Producer must not end up inside a non-nil interface.
	var publisher worker.EventPublisher
	if deps.NSQProducer != nil {
		publisher = deps.NSQProducer
	}

	// Ingestion
	batchEmbedder := worker.NewBatchEmbedder(deps.Embedder, worker.BatchOptions{
		BatchSize:  cfg.BatchSize,
		Timeout:    cfg.EmbedTimeout(),
		MaxRetries: cfg.EmbedMaxRetries,
		RateLimit:  cfg.EmbedRateLimit,
	})
	writer := index.NewWriter(deps.Index, deps.Manifest, cfg.Collection, cfg.ModelID(), cfg.IndexTimeout())
	pipeline := ingest.NewPipeline(markup.NewHTMLConverter(), batchEmbedder, writer, deps.Manifest, ingest.Options{
		Collection:     cfg.Collection,
		Extension:      cfg.MarkupExtension,
		MaxChunkChars:  cfg.MaxChunkChars,
		ConvertTimeout: cfg.ConvertTimeout(),
	})
	consumer := worker.NewIngestConsumer(pipeline, publisher, worker.RunRequest{
		Root:        cfg.CorpusRoot,
		MappingPath: cfg.URLMappingPath,
		Resume:      cfg.ResumeRuns,
	})

	// Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	deps.closers = append(deps.closers, queryLogger.Close)
	retrievalService := retrieval.NewService(deps.Embedder, deps.Index, deps.Manifest, retrieval.Config{
		Collection: cfg.Collection,
		Model:      cfg.ModelID(),
		DefaultK:   cfg.DefaultK,
		Timeout:    cfg.EmbedTimeout(),
	}, queryLogger)

	// Features
	runService := run.NewService(deps.Manifest, publisher)
	runHandler := run.NewHandler(runService)
	queryHandler := query.NewHandler(retrievalService)
	statsHandler := stats.NewHandler(deps.Index, deps.Manifest)
	mcpHandler := mcp.NewHandler(retrievalService, runService)

	cors := middleware.CORS

	mux := http.NewServeMux()

	mux.Handle("POST /query", middleware.CorrelationID(cors(queryHandler.Query)))

	mux.Handle("GET /runs", middleware.CorrelationID(cors(runHandler.List)))
	mux.Handle("GET /runs/{id}", middleware.CorrelationID(cors(runHandler.Get)))
	mux.Handle("POST /runs", middleware.CorrelationID(cors(runHandler.Trigger)))

	mux.Handle("GET /stats", middleware.CorrelationID(cors(statsHandler.GetStats)))

	mux.Handle("/mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(cors(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(cors(mcpHandler.HandleMessage)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:        mux,
		Pipeline:       pipeline,
		Retrieval:      retrievalService,
		IngestConsumer: consumer,
		cfg:            cfg,
	}, nil
}

// Run serves the API and, when enabled, consumes ingestion triggers until ctx
// is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.EnableIngestWorker {
		g.Go(func() error { return a.consume(ctx) })
	}

	if a.cfg.EnableAPI {
		g.Go(func() error { return a.serve(ctx) })
	}

	return g.Wait()
}

func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) consume(ctx context.Context) error {
	nsqCfg := nsq.NewConfig()
	// one run at a time; the pipeline rejects overlapping runs anyway
	nsqCfg.MaxInFlight = 1

	consumer, err := nsq.NewConsumer(config.TopicIngestRun, IngestChannel, nsqCfg)
	if err != nil {
		return fmt.Errorf("failed to create NSQ consumer: %w", err)
	}
	consumer.AddHandler(a.IngestConsumer)

	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		return fmt.Errorf("failed to connect to NSQLookupd: %w", err)
	}
	slog.Info("NSQ ingest consumer connected", "topic", config.TopicIngestRun)

	<-ctx.Done()
	consumer.Stop()
	<-consumer.StopChan
	return nil
}
