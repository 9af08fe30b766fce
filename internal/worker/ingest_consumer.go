package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"ragctx/internal/apperr"
	"ragctx/internal/config"
	"ragctx/internal/manifest"
	"ragctx/internal/middleware"
)

// DefaultTouchInterval keeps a message leased well inside nsqd's default
// 60s msg timeout.
const DefaultTouchInterval = 30 * time.Second

// IngestConsumer runs the ingestion pipeline for every ingest.run message and
// announces the outcome on ingest.result.
type IngestConsumer struct {
	runner     Runner
	pub        EventPublisher
	defaults   RunRequest
	touchEvery time.Duration
}

func NewIngestConsumer(r Runner, pub EventPublisher, defaults RunRequest) *IngestConsumer {
	return &IngestConsumer{runner: r, pub: pub, defaults: defaults, touchEvery: DefaultTouchInterval}
}

// WithTouchInterval sets how often an in-flight message is touched while its
// run is in progress. Zero disables touching.
func (h *IngestConsumer) WithTouchInterval(d time.Duration) *IngestConsumer {
	h.touchEvery = d
	return h
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	var payload IngestRunPayload
	if len(m.Body) > 0 {
		if err := json.Unmarshal(m.Body, &payload); err != nil {
			// Poison Pill: Invalid JSON, don't retry
			slog.Error("poison pill: invalid json", "error", err)
			return nil
		}
	}

	if payload.CorrelationID == "" {
		payload.CorrelationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), payload.CorrelationID)

	req := h.defaults
	if payload.Root != "" {
		req.Root = payload.Root
		req.MappingPath = ""
	}
	if payload.MappingPath != "" {
		req.MappingPath = payload.MappingPath
	}
	req.Resume = req.Resume || payload.Resume

	slog.InfoContext(ctx, "ingestion run requested", "root", req.Root, "resume", req.Resume)

	stop := h.keepAlive(m)
	run, err := h.runner.Run(ctx, req)
	stop()
	h.publishResult(ctx, payload.CorrelationID, run, err)

	if err != nil {
		// A fatal error other than lost connectivity needs operator action;
		// redelivering the message would only repeat it.
		if errors.Is(err, apperr.ErrIndexConnectivity) || !apperr.IsFatal(err) {
			slog.WarnContext(ctx, "ingestion run failed, requeueing", "error", err)
			return err // Retry
		}
		slog.ErrorContext(ctx, "ingestion run failed", "error", err)
	}
	return nil
}

// keepAlive touches m on every tick until the returned stop func is called,
// so nsqd does not time the message out and redeliver it mid-run.
func (h *IngestConsumer) keepAlive(m *nsq.Message) (stop func()) {
	if h.touchEvery <= 0 || m.Delegate == nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(h.touchEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.Touch()
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (h *IngestConsumer) publishResult(ctx context.Context, correlationID string, run *manifest.Run, runErr error) {
	if h.pub == nil {
		return
	}

	result := IngestResultPayload{
		State:         string(manifest.RunFailed),
		CorrelationID: correlationID,
	}
	if run != nil {
		result.RunID = run.ID
		result.State = string(run.State)
		result.Documents = run.Summary.Documents
		result.Chunks = run.Summary.Chunks
		result.Indexed = run.Summary.Indexed
		result.Skipped = run.Summary.Skipped
		result.Failed = run.Summary.Failed
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	body, err := json.Marshal(result)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal ingest result", "error", err)
		return
	}
	if err := h.pub.Publish(config.TopicIngestResult, body); err != nil {
		slog.ErrorContext(ctx, "failed to publish ingest result", "error", err)
	}
}
