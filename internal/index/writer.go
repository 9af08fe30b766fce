package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ragctx/internal/apperr"
	"ragctx/internal/manifest"
	"ragctx/internal/worker"
)

type Failure struct {
	ChunkID string
	Reason  string
	Err     error
}

// Status is how the manifest records this failure.
func (f Failure) Status() manifest.Status {
	if errors.Is(f.Err, apperr.ErrEmptyPassage) {
		return manifest.StatusSkipped
	}
	return manifest.StatusFailed
}

type WriteReport struct {
	Succeeded []string
	Failed    []Failure
}

// Writer is the single writer of a collection. Writes are serialized, and a
// batch is recorded in the manifest before Write returns.
type Writer struct {
	mu         sync.Mutex
	store      Store
	manifest   manifest.Store
	collection string
	model      string
	timeout    time.Duration

	dimension int
}

func NewWriter(store Store, m manifest.Store, collection, model string, timeout time.Duration) *Writer {
	return &Writer{store: store, manifest: m, collection: collection, model: model, timeout: timeout}
}

// Write stores the successfully embedded items of batch and records every
// item in the manifest under runID. Per-item problems are reported in the
// WriteReport; the returned error is fatal for the run.
func (w *Writer) Write(ctx context.Context, runID string, batch []worker.Embedded) (WriteReport, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var report WriteReport
	batch = lastWins(batch)
	passages := make([]Passage, 0, len(batch))

	for _, item := range batch {
		id := item.Chunk.ID
		switch {
		case item.Err != nil:
			report.Failed = append(report.Failed, Failure{ChunkID: id, Reason: item.Err.Error(), Err: item.Err})
			continue
		case strings.TrimSpace(item.Chunk.Text) == "":
			err := fmt.Errorf("%w: %s", apperr.ErrEmptyPassage, id)
			report.Failed = append(report.Failed, Failure{ChunkID: id, Reason: apperr.ErrEmptyPassage.Error(), Err: err})
			continue
		}

		if err := w.checkDimension(ctx, len(item.Vector)); err != nil {
			return WriteReport{}, err
		}

		passages = append(passages, FromChunk(item.Chunk, item.Vector))
	}

	if len(passages) > 0 {
		rejected, err := w.upsert(ctx, passages)
		if err != nil {
			return WriteReport{}, err
		}
		for _, p := range passages {
			if reason, ok := rejected[p.ChunkID]; ok {
				report.Failed = append(report.Failed, Failure{ChunkID: p.ChunkID, Reason: reason, Err: errors.New(reason)})
				continue
			}
			report.Succeeded = append(report.Succeeded, p.ChunkID)
		}
	}

	if err := w.record(ctx, runID, report); err != nil {
		return WriteReport{}, fmt.Errorf("record manifest: %w", err)
	}

	slog.InfoContext(ctx, "batch written", "collection", w.collection, "succeeded", len(report.Succeeded), "failed", len(report.Failed))
	return report, nil
}

// lastWins collapses items sharing a chunk id into the last occurrence, kept
// at the position of the first.
func lastWins(batch []worker.Embedded) []worker.Embedded {
	position := make(map[string]int, len(batch))
	out := make([]worker.Embedded, 0, len(batch))
	for _, item := range batch {
		if i, dup := position[item.Chunk.ID]; dup {
			out[i] = item
			continue
		}
		position[item.Chunk.ID] = len(out)
		out = append(out, item)
	}
	return out
}

func (w *Writer) upsert(ctx context.Context, passages []Passage) (map[string]string, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	rejected, err := w.store.Upsert(ctx, passages)
	if err != nil {
		if errors.Is(err, apperr.ErrIndexConnectivity) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrIndexConnectivity, err)
	}
	return rejected, nil
}

// checkDimension stamps the collection on first use and rejects vectors that
// do not match the stamped model or dimension.
func (w *Writer) checkDimension(ctx context.Context, dim int) error {
	if w.dimension == 0 {
		stamp, err := w.manifest.Stamp(ctx, w.collection)
		if err != nil {
			return fmt.Errorf("read index stamp: %w", err)
		}
		if stamp == nil {
			stamp = &manifest.Stamp{Collection: w.collection, Model: w.model, Dimension: dim}
			if err := w.manifest.SaveStamp(ctx, *stamp); err != nil {
				return fmt.Errorf("save index stamp: %w", err)
			}
			slog.InfoContext(ctx, "index stamped", "collection", w.collection, "model", w.model, "dimension", dim)
		}
		if stamp.Model != w.model {
			return fmt.Errorf("%w: collection %s was built with model %s, not %s", apperr.ErrInvalidConfiguration, w.collection, stamp.Model, w.model)
		}
		w.dimension = stamp.Dimension
	}

	if dim != w.dimension {
		return fmt.Errorf("%w: embedding dimension %d does not match collection dimension %d", apperr.ErrInvalidConfiguration, dim, w.dimension)
	}
	return nil
}

func (w *Writer) record(ctx context.Context, runID string, report WriteReport) error {
	entries := make([]manifest.Entry, 0, len(report.Succeeded)+len(report.Failed))
	for _, id := range report.Succeeded {
		entries = append(entries, manifest.Entry{ChunkID: id, Status: manifest.StatusIndexed})
	}
	for _, f := range report.Failed {
		entries = append(entries, manifest.Entry{ChunkID: f.ChunkID, Status: f.Status(), Reason: f.Reason})
	}
	if len(entries) == 0 {
		return nil
	}
	return w.manifest.Append(ctx, runID, entries)
}

// Reset empties the collection and clears its stamp.
func (w *Writer) Reset(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.store.Reset(ctx); err != nil {
		return fmt.Errorf("%w: reset %s: %v", apperr.ErrIndexConnectivity, w.collection, err)
	}
	if err := w.manifest.DeleteStamp(ctx, w.collection); err != nil {
		return err
	}
	w.dimension = 0
	return nil
}
