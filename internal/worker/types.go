package worker

import (
	"context"

	"ragctx/internal/manifest"
	"ragctx/internal/text"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedded pairs a chunk with its vector, or with the reason it has none.
type Embedded struct {
	Chunk  text.Chunk
	Vector []float32
	Err    error
}

func (e Embedded) Failed() bool {
	return e.Err != nil
}

// RunRequest describes one ingestion run requested over the queue.
type RunRequest struct {
	Root        string
	MappingPath string
	Resume      bool
}

type Runner interface {
	Run(ctx context.Context, req RunRequest) (*manifest.Run, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}
