package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"ragctx/internal/index"
)

type entry struct {
	Passage index.Passage `json:"passage"`
	Norm    float64       `json:"norm"`
}

// Store is an in-process vector index using brute-force cosine similarity.
// When a snapshot path is set, every write is persisted there and reloaded
// by NewStore.
type Store struct {
	mu       sync.RWMutex
	path     string
	passages map[string]entry
}

func NewStore(snapshotPath string) (*Store, error) {
	s := &Store{path: snapshotPath, passages: make(map[string]entry)}
	if snapshotPath == "" {
		return s, nil
	}

	data, err := os.ReadFile(filepath.Clean(snapshotPath)) // #nosec G304 -- path comes from configuration
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s.passages); err != nil {
		return nil, fmt.Errorf("load index snapshot %s: %w", snapshotPath, err)
	}
	return s, nil
}

func (s *Store) Upsert(ctx context.Context, passages []index.Passage) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rejected := make(map[string]string)
	for _, p := range passages {
		norm := l2(p.Vector)
		if norm == 0 {
			rejected[p.ChunkID] = "zero vector"
			continue
		}
		s.passages[p.ChunkID] = entry{Passage: p, Norm: norm}
	}
	return rejected, s.persist()
}

func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qn := l2(vector)
	hits := make([]index.Hit, 0, len(s.passages))
	for id, e := range s.passages {
		if len(e.Passage.Vector) != len(vector) || qn == 0 {
			continue
		}
		score := dot(e.Passage.Vector, vector) / (e.Norm * qn)
		hits = append(hits, index.Hit{ChunkID: id, Text: e.Passage.Text, Score: float32(score), Metadata: e.Passage.Metadata})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.passages), nil
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passages = make(map[string]entry)
	return s.persist()
}

// Get returns a stored passage by chunk id.
func (s *Store) Get(chunkID string) (index.Passage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.passages[chunkID]
	return e.Passage, ok
}

func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return err
	}
	data, err := json.Marshal(s.passages)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func dot(a, b []float32) float64 {
	sum := 0.0
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func l2(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
