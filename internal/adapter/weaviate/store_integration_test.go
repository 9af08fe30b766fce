package weaviate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragctx/internal/adapter/weaviate"
	"ragctx/internal/index"
	"ragctx/internal/testutils"
)

func TestWeaviateStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t, testutils.Weaviate)
	s.Setup()
	defer s.Teardown()

	store := weaviate.NewStore(s.Weaviate, "IntegrationPassages")
	ctx := context.Background()

	require.NoError(t, store.EnsureSchema(ctx))

	a := testPassage("doc_chunk_0")
	a.Vector = []float32{1, 0, 0}
	b := testPassage("doc_chunk_1")
	b.Vector = []float32{0, 1, 0}

	rejected, err := store.Upsert(ctx, []index.Passage{a, b})
	require.NoError(t, err)
	assert.Empty(t, rejected)

	// same ids again replace rather than duplicate
	_, err = store.Upsert(ctx, []index.Passage{a, b})
	require.NoError(t, err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	hits, err := store.Search(ctx, []float32{0.9, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc_chunk_0", hits[0].ChunkID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "Title", hits[0].Metadata.Title)

	require.NoError(t, store.Reset(ctx))
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
