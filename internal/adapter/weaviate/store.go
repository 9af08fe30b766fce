package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"ragctx/internal/index"
	"ragctx/internal/vector"
)

type Store struct {
	client *weaviate.Client
	schema vector.SchemaClient
	class  string
}

func NewStore(client *weaviate.Client, class string) *Store {
	if class == "" {
		class = vector.DefaultClass
	}
	return &Store{client: client, schema: vector.NewWeaviateClientAdapter(client), class: class}
}

func (s *Store) Class() string { return s.class }

// EnsureSchema creates the collection if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, s.schema, s.class)
}

// ObjectID is the object UUID a chunk id is stored under.
func ObjectID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String())
}

func (s *Store) Upsert(ctx context.Context, passages []index.Passage) (map[string]string, error) {
	objects := make([]*models.Object, 0, len(passages))
	byObject := make(map[strfmt.UUID]string, len(passages))

	for _, p := range passages {
		props, err := properties(p)
		if err != nil {
			return nil, err
		}
		id := ObjectID(p.ChunkID)
		byObject[id] = p.ChunkID
		objects = append(objects, &models.Object{
			Class:      s.class,
			ID:         id,
			Properties: props,
			Vector:     p.Vector,
		})
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return nil, err
	}

	rejected := make(map[string]string)
	for _, r := range res {
		if r.Result == nil || r.Result.Errors == nil || len(r.Result.Errors.Error) == 0 {
			continue
		}
		chunkID, ok := byObject[r.ID]
		if !ok {
			continue
		}
		rejected[chunkID] = r.Result.Errors.Error[0].Message
	}
	return rejected, nil
}

func properties(p index.Passage) (map[string]interface{}, error) {
	m := p.Metadata
	props := map[string]interface{}{
		"content":       p.Text,
		"chunkId":       p.ChunkID,
		"documentId":    m.DocumentID,
		"title":         m.Title,
		"url":           m.URL,
		"domain":        m.Domain,
		"filePath":      m.FilePath,
		"filename":      m.Filename,
		"sizeBytes":     m.SizeBytes,
		"contentLength": m.ContentLength,
		"chunkIndex":    m.Ordinal,
		"totalChunks":   m.TotalChunks,
		"chunkSize":     m.ChunkSize,
	}
	if !m.CapturedAt.IsZero() {
		props["capturedAt"] = m.CapturedAt.UTC().Format(time.RFC3339Nano)
	}
	if len(m.Extra) > 0 {
		extra, err := json.Marshal(m.Extra)
		if err != nil {
			return nil, fmt.Errorf("encode extra metadata for %s: %w", p.ChunkID, err)
		}
		props["extra"] = string(extra)
	}
	return props, nil
}

var passageFields = []graphql.Field{
	{Name: "content"},
	{Name: "chunkId"},
	{Name: "documentId"},
	{Name: "title"},
	{Name: "url"},
	{Name: "domain"},
	{Name: "filePath"},
	{Name: "filename"},
	{Name: "sizeBytes"},
	{Name: "capturedAt"},
	{Name: "contentLength"},
	{Name: "chunkIndex"},
	{Name: "totalChunks"},
	{Name: "chunkSize"},
	{Name: "extra"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
}

// searchSlack extra neighbours are fetched past k so passages tied with the
// k-th result can be re-ordered by chunk id before truncation.
const searchSlack = 8

// Search returns up to k+searchSlack nearest passages; callers rank and
// truncate to k.
func (s *Store) Search(ctx context.Context, vec []float32, k int) ([]index.Hit, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithLimit(k + searchSlack).
		WithFields(passageFields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var hits []index.Hit
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return hits, nil
	}
	rows, ok := data[s.class].([]interface{})
	if !ok {
		return hits, nil
	}
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		hits = append(hits, toHit(props))
	}
	return hits, nil
}

func toHit(props map[string]interface{}) index.Hit {
	hit := index.Hit{
		ChunkID: str(props["chunkId"]),
		Text:    str(props["content"]),
		Metadata: index.PassageMetadata{
			DocumentID:    str(props["documentId"]),
			Title:         str(props["title"]),
			URL:           str(props["url"]),
			Domain:        str(props["domain"]),
			FilePath:      str(props["filePath"]),
			Filename:      str(props["filename"]),
			SizeBytes:     int64(num(props["sizeBytes"])),
			ContentLength: int(num(props["contentLength"])),
			Ordinal:       int(num(props["chunkIndex"])),
			TotalChunks:   int(num(props["totalChunks"])),
			ChunkSize:     int(num(props["chunkSize"])),
		},
	}
	if ts, err := time.Parse(time.RFC3339Nano, str(props["capturedAt"])); err == nil {
		hit.Metadata.CapturedAt = ts
	}
	if raw := str(props["extra"]); raw != "" {
		var extra map[string]string
		if err := json.Unmarshal([]byte(raw), &extra); err == nil {
			hit.Metadata.Extra = extra
		}
	}

	if additional, ok := props["_additional"].(map[string]interface{}); ok {
		// cosine distance is in [0, 2]
		hit.Score = float32(1 - num(additional["distance"]))
	}
	return hit
}

func (s *Store) Count(ctx context.Context) (int, error) {
	meta := graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}

	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(meta).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	data, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := data[s.class].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, ok := rows[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	m, ok := row["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	return int(num(m["count"])), nil
}

// Reset drops the collection and recreates it empty.
func (s *Store) Reset(ctx context.Context) error {
	return vector.ResetClass(ctx, s.schema, s.class)
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func num(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		var f float64
		_, _ = fmt.Sscanf(n, "%f", &f)
		return f
	}
	return 0
}
