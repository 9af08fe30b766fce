package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	adapter "ragctx/internal/adapter/weaviate"
	"ragctx/internal/index"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) (*weaviate.Client, *httptest.Server) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		handler(w, r)
	}))
	cfg := weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"}
	client, err := weaviate.NewClient(cfg)
	assert.NoError(t, err)
	return client, ts
}

func testPassage(id string) index.Passage {
	return index.Passage{
		ChunkID: id,
		Text:    "content of " + id,
		Vector:  []float32{0.1, 0.2},
		Metadata: index.PassageMetadata{
			DocumentID:    "doc",
			Title:         "Title",
			URL:           "https://example.com",
			CapturedAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			ContentLength: 1234,
			Extra:         map[string]string{"lang": "en"},
		},
	}
}

func TestObjectID_Deterministic(t *testing.T) {
	assert.Equal(t, adapter.ObjectID("doc_chunk_0"), adapter.ObjectID("doc_chunk_0"))
	assert.NotEqual(t, adapter.ObjectID("doc_chunk_0"), adapter.ObjectID("doc_chunk_1"))
}

func TestStore_Upsert(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, "POST", r.Method)

		var body struct {
			Objects []map[string]interface{} `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Objects, 2)

		props := body.Objects[0]["properties"].(map[string]interface{})
		assert.Equal(t, "content of a", props["content"])
		assert.Equal(t, "a", props["chunkId"])
		assert.Equal(t, "2024-01-02T03:04:05Z", props["capturedAt"])
		assert.Equal(t, `{"lang":"en"}`, props["extra"])
		assert.EqualValues(t, 1234, props["contentLength"])
		assert.Equal(t, "Passages", body.Objects[0]["class"])
		assert.Equal(t, string(adapter.ObjectID("a")), body.Objects[0]["id"])

		resp := []map[string]interface{}{
			{"id": string(adapter.ObjectID("a")), "result": map[string]interface{}{}},
			{"id": string(adapter.ObjectID("b")), "result": map[string]interface{}{
				"errors": map[string]interface{}{
					"error": []interface{}{map[string]interface{}{"message": "invalid vector"}},
				},
			}},
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	store := adapter.NewStore(client, "Passages")
	rejected, err := store.Upsert(context.Background(), []index.Passage{testPassage("a"), testPassage("b")})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "invalid vector"}, rejected)
}

func TestStore_UpsertServerError(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer ts.Close()

	store := adapter.NewStore(client, "Passages")
	_, err := store.Upsert(context.Background(), []index.Passage{testPassage("a")})
	assert.Error(t, err)
}

func TestStore_Search(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		query := body["query"].(string)
		assert.Contains(t, query, "nearVector")
		// k=3 plus slack for ties at the cut-off
		assert.Contains(t, query, "limit: 11")
		assert.Contains(t, query, "distance")
		assert.Contains(t, query, "contentLength")

		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"HtmlDocument": []interface{}{
						map[string]interface{}{
							"content":       "found content",
							"chunkId":       "doc_chunk_2",
							"title":         "Doc",
							"chunkIndex":    2.0,
							"contentLength": 5120.0,
							"capturedAt":    "2024-01-02T03:04:05Z",
							"extra":         `{"lang":"en"}`,
							"_additional": map[string]interface{}{
								"distance": 0.25,
							},
						},
					},
				},
			},
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	store := adapter.NewStore(client, "")
	hits, err := store.Search(context.Background(), []float32{0.1, 0.2}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc_chunk_2", hits[0].ChunkID)
	assert.Equal(t, "found content", hits[0].Text)
	assert.InDelta(t, 0.75, hits[0].Score, 1e-6)
	assert.Equal(t, 2, hits[0].Metadata.Ordinal)
	assert.Equal(t, 5120, hits[0].Metadata.ContentLength)
	assert.Equal(t, "en", hits[0].Metadata.Extra["lang"])
	assert.Equal(t, 2024, hits[0].Metadata.CapturedAt.Year())
}

func TestStore_SearchGraphQLError(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []interface{}{map[string]interface{}{"message": "class not found"}},
		})
	})
	defer ts.Close()

	store := adapter.NewStore(client, "")
	_, err := store.Search(context.Background(), []float32{0.1}, 3)
	assert.ErrorContains(t, err, "class not found")
}

func TestStore_Count(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"Aggregate": map[string]interface{}{
					"HtmlDocument": []interface{}{
						map[string]interface{}{
							"meta": map[string]interface{}{
								"count": 42.0,
							},
						},
					},
				},
			},
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	store := adapter.NewStore(client, "")
	count, err := store.Count(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 42, count)
}

func TestStore_Reset(t *testing.T) {
	var deleted, created bool
	exists := true
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/v1/schema/HtmlDocument":
			if !exists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]interface{}{"class": "HtmlDocument"})
		case r.Method == "DELETE" && r.URL.Path == "/v1/schema/HtmlDocument":
			deleted = true
			exists = false
			w.WriteHeader(http.StatusOK)
		case r.Method == "POST" && r.URL.Path == "/v1/schema":
			created = true
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	defer ts.Close()

	store := adapter.NewStore(client, "")
	require.NoError(t, store.Reset(context.Background()))
	assert.True(t, deleted)
	assert.True(t, created)
}
