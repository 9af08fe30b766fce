// Package retrieval answers queries against the passage index.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"ragctx/internal/apperr"
	"ragctx/internal/index"
	"ragctx/internal/manifest"
	"ragctx/internal/middleware"
)

const DefaultK = 5

type Passage struct {
	ChunkID  string                `json:"chunk_id"`
	Text     string                `json:"text"`
	Score    float32               `json:"score"`
	Metadata index.PassageMetadata `json:"metadata"`
}

// RetrievalResult holds at most k passages ordered by descending score, ties broken by chunk id.
type RetrievalResult struct {
	QueryText   string    `json:"query_text"`
	Passages    []Passage `json:"passages"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

type QueryOptions struct {
	Limit *int
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	Collection string
	// Model identifies the embedding model queries are encoded with. It must
	// match the model the collection was stamped with.
	Model    string
	DefaultK int
	Timeout  time.Duration
}

type Service struct {
	embedder Embedder
	store    index.Store
	manifest manifest.Store
	cfg      Config
	logger   *QueryLogger
}

func NewService(e Embedder, store index.Store, m manifest.Store, cfg Config, l *QueryLogger) *Service {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = DefaultK
	}
	return &Service{embedder: e, store: store, manifest: m, cfg: cfg, logger: l}
}

func (s *Service) DefaultK() int { return s.cfg.DefaultK }

// Query embeds query and returns the k most similar passages. An empty
// index, a missing stamp or an unreachable backend fail with
// ErrIndexUnavailable; an embedding-space mismatch fails with
// ErrInvalidConfiguration.
func (s *Service) Query(ctx context.Context, query string, opts *QueryOptions) (*RetrievalResult, error) {
	start := time.Now()

	k := s.cfg.DefaultK
	if opts != nil && opts.Limit != nil {
		k = *opts.Limit
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be a positive integer, got %d", apperr.ErrInvalidConfiguration, k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query text is empty", apperr.ErrInvalidQuery)
	}

	stamp, err := s.checkIndex(ctx)
	if err != nil {
		return nil, err
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(vec) != stamp.Dimension {
		return nil, fmt.Errorf("%w: query embedding has dimension %d, collection %s has %d", apperr.ErrInvalidConfiguration, len(vec), s.cfg.Collection, stamp.Dimension)
	}

	hits, err := s.search(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	result := &RetrievalResult{
		QueryText:   query,
		Passages:    rank(hits, k),
		RetrievedAt: time.Now().UTC(),
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			Query:         query,
			K:             k,
			NumResults:    len(result.Passages),
			Results:       chunkIDs(result.Passages),
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
		})
	}
	slog.DebugContext(ctx, "query answered", "k", k, "results", len(result.Passages))
	return result, nil
}

func (s *Service) checkIndex(ctx context.Context) (*manifest.Stamp, error) {
	stamp, err := s.manifest.Stamp(ctx, s.cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("%w: read stamp of %s: %v", apperr.ErrIndexUnavailable, s.cfg.Collection, err)
	}
	if stamp == nil {
		return nil, fmt.Errorf("%w: collection %s has not been built", apperr.ErrIndexUnavailable, s.cfg.Collection)
	}
	if stamp.Model != s.cfg.Model {
		return nil, fmt.Errorf("%w: collection %s was built with model %s, queries use %s", apperr.ErrInvalidConfiguration, s.cfg.Collection, stamp.Model, s.cfg.Model)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrIndexUnavailable, s.cfg.Collection, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: collection %s is empty", apperr.ErrIndexUnavailable, s.cfg.Collection)
	}
	return stamp, nil
}

func (s *Service) embed(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", apperr.ErrEmbeddingFailed, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: query: empty embedding", apperr.ErrEmbeddingFailed)
	}
	return vec, nil
}

func (s *Service) search(ctx context.Context, vec []float32, k int) ([]index.Hit, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	hits, err := s.store.Search(ctx, vec, k)
	if err != nil {
		if errors.Is(err, apperr.ErrIndexUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: search %s: %v", apperr.ErrIndexUnavailable, s.cfg.Collection, err)
	}
	return hits, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// rank orders hits by score, ties by chunk id, and keeps the first k.
func rank(hits []index.Hit, k int) []Passage {
	sorted := make([]index.Hit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ChunkID < sorted[j].ChunkID
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}

	passages := make([]Passage, len(sorted))
	for i, h := range sorted {
		passages[i] = Passage{ChunkID: h.ChunkID, Text: h.Text, Score: h.Score, Metadata: h.Metadata}
	}
	return passages
}

func chunkIDs(passages []Passage) []string {
	ids := make([]string, len(passages))
	for i, p := range passages {
		ids[i] = p.ChunkID
	}
	return ids
}
