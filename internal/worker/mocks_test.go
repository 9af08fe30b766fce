package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"ragctx/internal/manifest"
	"ragctx/internal/worker"
)

// Mocks

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockRunner struct{ mock.Mock }

func (m *MockRunner) Run(ctx context.Context, req worker.RunRequest) (*manifest.Run, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*manifest.Run), args.Error(1)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}
