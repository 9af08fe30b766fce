// Package ingest runs ingestion: corpus documents are normalized, chunked,
// embedded batch by batch and written to the index, with every outcome
// recorded in the manifest.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragctx/internal/index"
	"ragctx/internal/manifest"
	"ragctx/internal/middleware"
	"ragctx/internal/source"
	"ragctx/internal/text"
	"ragctx/internal/worker"
)

// ErrRunInProgress is returned when a run is requested while another one holds the collection.
var ErrRunInProgress = errors.New("an ingestion run is already in progress")

// BatchEmbedder embeds one batch of chunks, returning a result per chunk in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, batch []text.Chunk) []worker.Embedded
	BatchSize() int
}

type Options struct {
	Collection     string
	Extension      string
	MaxChunkChars  int
	ConvertTimeout time.Duration
}

type Pipeline struct {
	converter source.Converter
	embedder  BatchEmbedder
	writer    *index.Writer
	manifest  manifest.Store
	opts      Options

	running sync.Mutex
}

func NewPipeline(conv source.Converter, embedder BatchEmbedder, writer *index.Writer, m manifest.Store, opts Options) *Pipeline {
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = text.DefaultMaxChunkChars
	}
	return &Pipeline{converter: conv, embedder: embedder, writer: writer, manifest: m, opts: opts}
}

// Run ingests the corpus at req.Root. Per-document and per-chunk failures are
// counted in the run summary; the returned error is set only when the run
// was cancelled or hit a fatal error, and the run is still returned then.
func (p *Pipeline) Run(ctx context.Context, req worker.RunRequest) (*manifest.Run, error) {
	return p.run(ctx, req, false)
}

// Reindex empties the collection and its stamp, then ingests from scratch.
func (p *Pipeline) Reindex(ctx context.Context, req worker.RunRequest) (*manifest.Run, error) {
	req.Resume = false
	return p.run(ctx, req, true)
}

func (p *Pipeline) run(ctx context.Context, req worker.RunRequest, rebuild bool) (*manifest.Run, error) {
	if !p.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.running.Unlock()

	corpus, err := source.Load(req.Root, req.MappingPath, source.WithExtension(p.opts.Extension))
	if err != nil {
		return nil, err
	}

	run := &manifest.Run{ID: uuid.New().String(), Collection: p.opts.Collection, Rebuild: rebuild}
	if err := p.manifest.BeginRun(ctx, run); err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}

	ctx = middleware.WithRunID(ctx, run.ID)
	if middleware.GetCorrelationID(ctx) == "unknown" {
		ctx = middleware.WithCorrelationID(ctx, run.ID)
	}
	slog.InfoContext(ctx, "ingestion run started", "root", corpus.Root(), "collection", run.Collection, "rebuild", rebuild, "resume", req.Resume)

	runErr := p.ingest(ctx, run, corpus, req.Resume)
	return run, p.finish(ctx, run, runErr)
}

func (p *Pipeline) ingest(ctx context.Context, run *manifest.Run, corpus *source.Corpus, resume bool) error {
	if run.Rebuild {
		if err := p.writer.Reset(ctx); err != nil {
			return err
		}
	}

	var done map[string]struct{}
	if resume {
		var err error
		done, err = p.manifest.IndexedChunkIDs(ctx, run.Collection)
		if err != nil {
			return fmt.Errorf("load indexed chunks: %w", err)
		}
		slog.InfoContext(ctx, "resuming", "already_indexed", len(done))
	}

	size := p.embedder.BatchSize()
	pending := make([]text.Chunk, 0, size)

	for raw, err := range corpus.Documents(ctx) {
		if err != nil {
			return err
		}

		doc, err := source.Normalize(ctx, p.converter, raw, p.opts.ConvertTimeout)
		if err != nil {
			run.Summary.DocumentsFailed++
			slog.WarnContext(ctx, "document conversion failed", "path", raw.SourcePath, "error", err)
			continue
		}
		run.Summary.Documents++
		if doc.Text == "" {
			run.Summary.DocumentsEmpty++
			slog.InfoContext(ctx, "document has no text", "path", raw.SourcePath)
			continue
		}

		chunks := text.ChunkDocument(doc, p.opts.MaxChunkChars)
		run.Summary.Chunks += len(chunks)
		for _, c := range chunks {
			if _, ok := done[c.ID]; ok {
				run.Summary.Resumed++
				continue
			}
			pending = append(pending, c)
			if len(pending) == size {
				if err := p.flush(ctx, run, pending); err != nil {
					return err
				}
				pending = pending[:0]
			}
		}
	}

	if len(pending) > 0 {
		return p.flush(ctx, run, pending)
	}
	return nil
}

// flush embeds and writes one batch. A batch whose embedding was interrupted
// by cancellation is dropped; a batch that reaches the writer is written in full.
func (p *Pipeline) flush(ctx context.Context, run *manifest.Run, batch []text.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	embedded := p.embedder.EmbedBatch(ctx, batch)
	if err := ctx.Err(); err != nil {
		slog.InfoContext(ctx, "dropping interrupted batch", "chunks", len(batch))
		return err
	}

	report, err := p.writer.Write(context.WithoutCancel(ctx), run.ID, embedded)
	if err != nil {
		return err
	}

	run.Summary.Indexed += len(report.Succeeded)
	for _, f := range report.Failed {
		if f.Status() == manifest.StatusSkipped {
			run.Summary.Skipped++
		} else {
			run.Summary.Failed++
		}
	}
	return nil
}

func (p *Pipeline) finish(ctx context.Context, run *manifest.Run, runErr error) error {
	switch {
	case runErr == nil:
		run.State = manifest.RunCompleted
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		run.State = manifest.RunCancelled
		run.Error = runErr.Error()
	default:
		run.State = manifest.RunFailed
		run.Error = runErr.Error()
	}
	now := time.Now().UTC()
	run.FinishedAt = &now

	if err := p.manifest.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		slog.ErrorContext(ctx, "failed to record run outcome", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("finish run: %w", err)
		}
	}

	s := run.Summary
	attrs := []any{
		"state", run.State,
		"documents", s.Documents,
		"documents_empty", s.DocumentsEmpty,
		"documents_failed", s.DocumentsFailed,
		"chunks", s.Chunks,
		"indexed", s.Indexed,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"resumed", s.Resumed,
	}
	if runErr != nil {
		slog.ErrorContext(ctx, "ingestion run stopped", append(attrs, "error", runErr)...)
	} else {
		slog.InfoContext(ctx, "ingestion run finished", attrs...)
	}
	return runErr
}
