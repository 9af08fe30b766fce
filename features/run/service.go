// Package run exposes ingestion runs: their history, their manifests, and
// requests for new runs.
package run

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"ragctx/internal/config"
	"ragctx/internal/manifest"
	"ragctx/internal/middleware"
	"ragctx/internal/worker"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Detail is a run together with its manifest.
type Detail struct {
	manifest.Run
	Entries []manifest.Entry `json:"entries"`
}

type TriggerRequest struct {
	Root        string `json:"root,omitempty"`
	MappingPath string `json:"mapping_path,omitempty"`
	Resume      bool   `json:"resume,omitempty"`
}

type Service struct {
	store manifest.Store
	pub   EventPublisher
}

func NewService(store manifest.Store, pub EventPublisher) *Service {
	return &Service{store: store, pub: pub}
}

func (s *Service) List(ctx context.Context) ([]manifest.Run, error) {
	return s.store.ListRuns(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	r, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.Entries(ctx, id)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []manifest.Entry{}
	}
	return &Detail{Run: *r, Entries: entries}, nil
}

// Trigger enqueues an ingestion run and returns the correlation id it will run under.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (string, error) {
	if s.pub == nil {
		return "", fmt.Errorf("ingestion queue is not configured")
	}

	payload := worker.IngestRunPayload{
		Root:          req.Root,
		MappingPath:   req.MappingPath,
		Resume:        req.Resume,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	if payload.CorrelationID == "unknown" {
		payload.CorrelationID = uuid.New().String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	if err := s.pub.Publish(config.TopicIngestRun, body); err != nil {
		return "", fmt.Errorf("publish %s: %w", config.TopicIngestRun, err)
	}
	return payload.CorrelationID, nil
}
