package memory_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragctx/internal/adapter/memory"
	"ragctx/internal/index"
)

func passage(id string, vec ...float32) index.Passage {
	return index.Passage{ChunkID: id, Text: "text of " + id, Vector: vec, Metadata: index.PassageMetadata{Title: id}}
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := memory.NewStore("")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, []index.Passage{passage("a", 1, 0), passage("b", 0, 1)})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, []index.Passage{passage("a", 1, 0), passage("b", 0, 1)})
	require.NoError(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s, _ := memory.NewStore("")

	_, _ = s.Upsert(ctx, []index.Passage{passage("a", 1, 0)})
	updated := passage("a", 0, 1)
	updated.Text = "new text"
	_, _ = s.Upsert(ctx, []index.Passage{updated})

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "new text", got.Text)
}

func TestStore_RejectsZeroVector(t *testing.T) {
	s, _ := memory.NewStore("")

	rejected, err := s.Upsert(context.Background(), []index.Passage{passage("z", 0, 0), passage("ok", 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"z": "zero vector"}, rejected)
}

func TestStore_SearchOrdering(t *testing.T) {
	ctx := context.Background()
	s, _ := memory.NewStore("")

	_, _ = s.Upsert(ctx, []index.Passage{
		passage("far", 0, 1),
		passage("near", 1, 0.1),
		passage("tie-b", 1, 0),
		passage("tie-a", 2, 0),
	})

	hits, err := s.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "tie-a", hits[0].ChunkID)
	assert.Equal(t, "tie-b", hits[1].ChunkID)
	assert.Equal(t, "near", hits[2].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.GreaterOrEqual(t, hits[1].Score, hits[2].Score)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index", "snapshot.json")

	s, err := memory.NewStore(path)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, []index.Passage{passage("a", 1, 0)})
	require.NoError(t, err)

	reloaded, err := memory.NewStore(path)
	require.NoError(t, err)
	n, _ := reloaded.Count(ctx)
	assert.Equal(t, 1, n)

	require.NoError(t, reloaded.Reset(ctx))
	again, err := memory.NewStore(path)
	require.NoError(t, err)
	n, _ = again.Count(ctx)
	assert.Equal(t, 0, n)
}
