package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ragctx/internal/manifest"
)

type MockCounter struct{ mock.Mock }

func (m *MockCounter) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockRunStore struct{ mock.Mock }

func (m *MockRunStore) ListRuns(ctx context.Context) ([]manifest.Run, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]manifest.Run), args.Error(1)
}

func (m *MockRunStore) Entries(ctx context.Context, runID string) ([]manifest.Entry, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]manifest.Entry), args.Error(1)
}

func TestHandler_GetStats_Table(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*MockCounter, *MockRunStore)
		wantStatus int
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name: "Success",
			setupMocks: func(c *MockCounter, r *MockRunStore) {
				c.On("Count", mock.Anything).Return(100, nil)
				r.On("ListRuns", mock.Anything).Return([]manifest.Run{
					{ID: "new", State: manifest.RunCompleted},
					{ID: "old", State: manifest.RunFailed},
				}, nil)
				r.On("Entries", mock.Anything, "new").Return([]manifest.Entry{
					{ChunkID: "a_chunk_0", Status: manifest.StatusIndexed},
					{ChunkID: "a_chunk_1", Status: manifest.StatusFailed},
					{ChunkID: "a_chunk_2", Status: manifest.StatusSkipped},
				}, nil)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 100, data["passages"])
				assert.EqualValues(t, 2, data["runs"])
				assert.Equal(t, "new", data["last_run_id"])
				assert.Equal(t, "completed", data["last_run_state"])
				assert.Equal(t, []interface{}{"a_chunk_1"}, data["failed_chunks"])
			},
		},
		{
			name: "No Runs Yet",
			setupMocks: func(c *MockCounter, r *MockRunStore) {
				c.On("Count", mock.Anything).Return(0, nil)
				r.On("ListRuns", mock.Anything).Return([]manifest.Run{}, nil)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 0, data["runs"])
				assert.NotContains(t, data, "last_run_id")
				assert.Equal(t, []interface{}{}, data["failed_chunks"])
			},
		},
		{
			name: "Index Error",
			setupMocks: func(c *MockCounter, r *MockRunStore) {
				c.On("Count", mock.Anything).Return(0, errors.New("weaviate down"))
			},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name: "Manifest Error",
			setupMocks: func(c *MockCounter, r *MockRunStore) {
				c.On("Count", mock.Anything).Return(3, nil)
				r.On("ListRuns", mock.Anything).Return(nil, errors.New("disk"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := new(MockCounter)
			r := new(MockRunStore)
			tt.setupMocks(c, r)

			h := NewHandler(c, r)
			req := httptest.NewRequest("GET", "/stats", nil)
			w := httptest.NewRecorder()
			h.GetStats(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.checkBody != nil {
				var body map[string]interface{}
				assert.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				tt.checkBody(t, body)
			}
			c.AssertExpectations(t)
			r.AssertExpectations(t)
		})
	}
}
