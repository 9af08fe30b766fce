package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ragctx/internal/apperr"
	"ragctx/internal/text"
)

const (
	DefaultBatchSize     = 10
	DefaultEmbedTimeout  = 60 * time.Second
	DefaultRetryInterval = 500 * time.Millisecond
)

type BatchOptions struct {
	BatchSize     int
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
	// RateLimit caps embedding calls per second; zero means unlimited.
	RateLimit float64
}

// BatchEmbedder embeds chunks in fixed-size batches. Calls within a batch run
// concurrently, bounded by the batch size, and each has its own timeout.
type BatchEmbedder struct {
	embedder Embedder
	opts     BatchOptions
	limiter  *rate.Limiter
}

func NewBatchEmbedder(e Embedder, opts BatchOptions) *BatchEmbedder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultEmbedTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	b := &BatchEmbedder{embedder: e, opts: opts}
	if opts.RateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return b
}

func (b *BatchEmbedder) BatchSize() int {
	return b.opts.BatchSize
}

// Partition splits chunks into consecutive batches of at most size elements.
func Partition(chunks []text.Chunk, size int) [][]text.Chunk {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches [][]text.Chunk
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		batches = append(batches, chunks[start:end])
	}
	return batches
}

// EmbedAll embeds chunks batch by batch and returns one result per chunk, in input order.
func (b *BatchEmbedder) EmbedAll(ctx context.Context, chunks []text.Chunk) []Embedded {
	batches := Partition(chunks, b.opts.BatchSize)
	out := make([]Embedded, 0, len(chunks))
	for i, batch := range batches {
		results := b.EmbedBatch(ctx, batch)
		slog.InfoContext(ctx, "embedded batch", "batch", i+1, "of", len(batches), "failed", countFailed(results))
		out = append(out, results...)
	}
	return out
}

// EmbedBatch embeds one batch. A failing chunk never affects its siblings.
func (b *BatchEmbedder) EmbedBatch(ctx context.Context, batch []text.Chunk) []Embedded {
	results := make([]Embedded, len(batch))

	g := new(errgroup.Group)
	g.SetLimit(b.opts.BatchSize)
	for i, chunk := range batch {
		g.Go(func() error {
			results[i] = Embedded{Chunk: chunk}
			if strings.TrimSpace(chunk.Text) == "" {
				// the index writer rejects these as empty passages
				return nil
			}
			vec, err := b.embedOne(ctx, chunk)
			if err != nil {
				slog.WarnContext(ctx, "chunk embedding failed", "chunk_id", chunk.ID, "error", err)
				results[i].Err = err
				return nil
			}
			results[i].Vector = vec
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (b *BatchEmbedder) embedOne(ctx context.Context, chunk text.Chunk) ([]float32, error) {
	var vec []float32
	op := func() error {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()

		v, err := b.embedder.Embed(callCtx, chunk.Text)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := validateVector(v); err != nil {
			return backoff.Permanent(err)
		}
		vec = v
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.opts.RetryInterval
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(b.opts.MaxRetries)), ctx)

	err := backoff.RetryNotify(op, retry, func(err error, wait time.Duration) {
		slog.DebugContext(ctx, "retrying embedding", "chunk_id", chunk.ID, "wait", wait, "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrEmbeddingFailed, chunk.ID, err)
	}
	return vec, nil
}

var errEmptyVector = errors.New("empty embedding vector")

func validateVector(v []float32) error {
	if len(v) == 0 {
		return errEmptyVector
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("non-finite embedding value at position %d", i)
		}
	}
	return nil
}

func countFailed(results []Embedded) int {
	n := 0
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return n
}
