package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"ragctx/internal/apperr"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connectivity", fmt.Errorf("upsert: %w", apperr.ErrIndexConnectivity), true},
		{"dimension mismatch", fmt.Errorf("%w: dimension 3 != 4", apperr.ErrInvalidConfiguration), true},
		{"source", apperr.ErrSourceUnavailable, true},
		{"mapping", apperr.ErrMappingCorrupt, true},
		{"embedding", fmt.Errorf("chunk a_chunk_0: %w", apperr.ErrEmbeddingFailed), false},
		{"conversion", apperr.ErrConversion, false},
		{"empty passage", apperr.ErrEmptyPassage, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.IsFatal(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err        error
		wantCode   string
		wantStatus int
	}{
		{fmt.Errorf("empty: %w", apperr.ErrInvalidQuery), "BAD_REQUEST", 400},
		{fmt.Errorf("model: %w", apperr.ErrInvalidConfiguration), "BAD_REQUEST", 400},
		{apperr.ErrIndexUnavailable, "INDEX_UNAVAILABLE", 503},
		{fmt.Errorf("search: %w", apperr.ErrIndexConnectivity), "INDEX_UNAVAILABLE", 503},
		{fmt.Errorf("query: %w", apperr.ErrEmbeddingFailed), "EMBEDDING_FAILED", 502},
		{errors.New("boom"), "INTERNAL_ERROR", 500},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			code, status := apperr.HTTPStatus(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}
