package manifest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileStore keeps the manifest on local disk: runs/<id>.json holds the run
// record, runs/<id>.jsonl the entries, stamps/<collection>.json the stamp.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	for _, sub := range []string{"runs", "stamps"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create manifest dir: %w", err)
		}
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) BeginRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validName(run.ID); err != nil {
		return err
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.State == "" {
		run.State = RunRunning
	}
	if err := s.writeRun(run); err != nil {
		return err
	}
	f, err := os.OpenFile(s.entriesPath(run.ID), os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

func (s *FileStore) Append(ctx context.Context, runID string, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validName(runID); err != nil {
		return err
	}
	f, err := os.OpenFile(s.entriesPath(runID), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	now := time.Now().UTC()
	for _, e := range entries {
		if e.RecordedAt.IsZero() {
			e.RecordedAt = now
		}
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func (s *FileStore) FinishRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validName(run.ID); err != nil {
		return err
	}
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	return s.writeRun(run)
}

func (s *FileStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if err := validName(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return s.readRun(filepath.Join(s.dir, "runs", id+".json"))
}

func (s *FileStore) ListRuns(ctx context.Context) ([]Run, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "runs", "*.json"))
	if err != nil {
		return nil, err
	}

	runs := make([]Run, 0, len(paths))
	for _, p := range paths {
		run, err := s.readRun(p)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

func (s *FileStore) Entries(ctx context.Context, runID string) ([]Entry, error) {
	if err := validName(runID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	f, err := os.Open(s.entriesPath(runID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", runID, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func (s *FileStore) IndexedChunkIDs(ctx context.Context, collection string) (map[string]struct{}, error) {
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	// ListRuns is newest first; stop after the latest rebuild.
	ids := make(map[string]struct{})
	for _, run := range runs {
		if run.Collection != collection {
			continue
		}
		entries, err := s.Entries(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Status == StatusIndexed {
				ids[e.ChunkID] = struct{}{}
			}
		}
		if run.Rebuild {
			break
		}
	}
	return ids, nil
}

func (s *FileStore) Stamp(ctx context.Context, collection string) (*Stamp, error) {
	if err := validName(collection); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.stampPath(collection))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var st Stamp
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("stamp %s: %w", collection, err)
	}
	return &st, nil
}

func (s *FileStore) SaveStamp(ctx context.Context, stamp Stamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validName(stamp.Collection); err != nil {
		return err
	}
	if stamp.CreatedAt.IsZero() {
		stamp.CreatedAt = time.Now().UTC()
	}
	return writeJSON(s.stampPath(stamp.Collection), stamp)
}

func (s *FileStore) DeleteStamp(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validName(collection); err != nil {
		return err
	}
	err := os.Remove(s.stampPath(collection))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) entriesPath(runID string) string {
	return filepath.Join(s.dir, "runs", runID+".jsonl")
}

func (s *FileStore) stampPath(collection string) string {
	return filepath.Join(s.dir, "stamps", collection+".json")
}

func (s *FileStore) writeRun(run *Run) error {
	return writeJSON(filepath.Join(s.dir, "runs", run.ID+".json"), run)
}

func (s *FileStore) readRun(path string) (*Run, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path is built from a validated run id
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, filepath.Base(path))
		}
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("run record %s: %w", path, err)
	}
	return &run, nil
}

// writeJSON replaces path atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid manifest name %q", name)
	}
	return nil
}
