package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragctx/internal/adapter/ollama"
)

func TestEmbedder_Embed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nomic-embed-text", body["model"])
		assert.Equal(t, "hello", body["prompt"])

		json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float64{0.5, -0.25}})
	}))
	defer ts.Close()

	e := ollama.NewEmbedder(ollama.Config{BaseURL: ts.URL + "/"})
	assert.Equal(t, ollama.DefaultModel, e.Model())

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25}, vec)
}

func TestEmbedder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		errMsg  string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not found", http.StatusNotFound)
			},
			errMsg: "status 404",
		},
		{
			name: "empty embedding",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"embedding":[]}`))
			},
			errMsg: "empty embedding",
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"embedding":`))
			},
			errMsg: "decode response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			e := ollama.NewEmbedder(ollama.Config{BaseURL: ts.URL, Model: "all-minilm"})
			vec, err := e.Embed(context.Background(), "x")
			assert.Nil(t, vec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
