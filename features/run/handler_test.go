package run_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ragctx/features/run"
	"ragctx/internal/config"
	"ragctx/internal/manifest"
	"ragctx/internal/middleware"
	"ragctx/internal/worker"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

func newStore(t *testing.T) *manifest.FileStore {
	t.Helper()
	s, err := manifest.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestHandler_List(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.BeginRun(context.Background(), &manifest.Run{ID: "r1", Collection: "HtmlDocument"}))
	handler := run.NewHandler(run.NewService(store, nil))

	req := httptest.NewRequest("GET", "/runs", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []manifest.Run `json:"data"`
		Meta map[string]int `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 1, body.Meta["count"])
	assert.Equal(t, "r1", body.Data[0].ID)
}

func TestHandler_List_Empty(t *testing.T) {
	handler := run.NewHandler(run.NewService(newStore(t), nil))

	req := httptest.NewRequest("GET", "/runs", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestHandler_Get(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.BeginRun(ctx, &manifest.Run{ID: "r1", Collection: "HtmlDocument"}))
	require.NoError(t, store.Append(ctx, "r1", []manifest.Entry{
		{ChunkID: "a_chunk_0", Status: manifest.StatusIndexed},
		{ChunkID: "a_chunk_1", Status: manifest.StatusFailed, Reason: "timeout"},
	}))
	handler := run.NewHandler(run.NewService(store, nil))

	req := httptest.NewRequest("GET", "/runs/r1", nil)
	req.SetPathValue("id", "r1")
	w := httptest.NewRecorder()
	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data run.Detail `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "r1", body.Data.ID)
	require.Len(t, body.Data.Entries, 2)
	assert.Equal(t, "timeout", body.Data.Entries[1].Reason)
}

func TestHandler_Get_NotFound(t *testing.T) {
	handler := run.NewHandler(run.NewService(newStore(t), nil))

	req := httptest.NewRequest("GET", "/runs/missing", nil)
	req.SetPathValue("id", "missing")
	w := httptest.NewRecorder()
	handler.Get(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestHandler_Trigger(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", config.TopicIngestRun, mock.MatchedBy(func(body []byte) bool {
		var p worker.IngestRunPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return false
		}
		return p.Root == "/data/crawl" && p.Resume && p.CorrelationID == "corr-1"
	})).Return(nil)
	handler := run.NewHandler(run.NewService(newStore(t), pub))

	req := httptest.NewRequest("POST", "/runs", strings.NewReader(`{"root":"/data/crawl","resume":true}`))
	req = req.WithContext(middleware.WithCorrelationID(req.Context(), "corr-1"))
	w := httptest.NewRecorder()
	handler.Trigger(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "corr-1")
	pub.AssertExpectations(t)
}

func TestHandler_Trigger_EmptyBody(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", config.TopicIngestRun, mock.Anything).Return(nil)
	handler := run.NewHandler(run.NewService(newStore(t), pub))

	req := httptest.NewRequest("POST", "/runs", nil)
	w := httptest.NewRecorder()
	handler.Trigger(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	pub.AssertExpectations(t)
}

func TestHandler_Trigger_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		pub        func() run.EventPublisher
		wantStatus int
	}{
		{
			name:       "Invalid JSON",
			body:       `{`,
			pub:        func() run.EventPublisher { return new(MockPublisher) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "Publish Failure",
			body: `{}`,
			pub: func() run.EventPublisher {
				p := new(MockPublisher)
				p.On("Publish", config.TopicIngestRun, mock.Anything).Return(errors.New("nsqd down"))
				return p
			},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "No Queue",
			body:       `{}`,
			pub:        func() run.EventPublisher { return nil },
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := run.NewHandler(run.NewService(newStore(t), tt.pub()))
			req := httptest.NewRequest("POST", "/runs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.Trigger(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
