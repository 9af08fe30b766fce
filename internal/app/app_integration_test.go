package app_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wstore "ragctx/internal/adapter/weaviate"
	"ragctx/internal/app"
	"ragctx/internal/config"
	"ragctx/internal/manifest"
	"ragctx/internal/retrieval"
	"ragctx/internal/testutils"
	"ragctx/internal/worker"
)

type keywordEmbedder struct{}

func (keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{
		float32(strings.Count(text, "postgres")) + 0.1,
		float32(strings.Count(text, "weaviate")) + 0.1,
		1,
	}, nil
}

func TestApp_Integration_PostgresWeaviate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t, testutils.Postgres, testutils.Weaviate)
	suite.Setup()
	defer suite.Teardown()

	ctx := context.Background()
	store := wstore.NewStore(suite.Weaviate, "IntegrationDocument")
	require.NoError(t, app.EnsureSchemaWithRetry(ctx, store, 5, 0))

	dir := t.TempDir()
	root := filepath.Join(dir, "corpus")
	pages := map[string]string{
		"db.example.com/pg.html":   "postgres keeps the manifest of every postgres run",
		"db.example.com/vec.html":  "weaviate keeps the vectors",
		"db.example.com/none.html": "<script>ignored()</script>",
	}
	for rel, body := range pages {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("<html><body>"+body+"</body></html>"), 0o644))
	}

	cfg := &config.Config{
		CorpusRoot:        root,
		MarkupExtension:   ".html",
		MaxChunkChars:     500,
		BatchSize:         10,
		DefaultK:          5,
		EmbeddingProvider: config.ProviderOllama,
		EmbeddingModel:    "keyword",
		Collection:        "IntegrationDocument",
		QueryLogPath:      filepath.Join(dir, "query.log"),
	}
	deps := &app.Dependencies{
		DB:       suite.DB,
		Manifest: manifest.NewPostgresRepo(suite.DB),
		Index:    store,
		Embedder: keywordEmbedder{},
	}

	a, err := app.New(cfg, deps)
	require.NoError(t, err)

	run, err := a.Pipeline.Run(ctx, worker.RunRequest{Root: root})
	require.NoError(t, err)
	assert.Equal(t, manifest.RunCompleted, run.State)
	assert.Equal(t, 2, run.Summary.Indexed)
	assert.Equal(t, 1, run.Summary.DocumentsEmpty)

	k := 1
	result, err := a.Retrieval.Query(ctx, "where do postgres runs live", &retrieval.QueryOptions{Limit: &k})
	require.NoError(t, err)
	require.Len(t, result.Passages, 1)
	assert.Contains(t, result.Passages[0].Text, "manifest")

	// Same corpus again: same passages, nothing duplicated.
	_, err = a.Pipeline.Run(ctx, worker.RunRequest{Root: root})
	require.NoError(t, err)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
