// Package manifest records what each ingestion run did to the index: one
// append-only entry per chunk, a run record with its summary, and the
// embedding stamp of every collection.
package manifest

import (
	"context"
	"errors"
	"time"
)

var ErrRunNotFound = errors.New("run not found")

type Status string

const (
	StatusIndexed Status = "indexed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunCancelled RunState = "cancelled"
	RunFailed    RunState = "failed"
)

type Entry struct {
	ChunkID    string    `json:"chunk_id"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type Summary struct {
	Documents       int `json:"documents"`
	DocumentsEmpty  int `json:"documents_empty"`
	DocumentsFailed int `json:"documents_failed"`
	Chunks          int `json:"chunks"`
	Indexed         int `json:"indexed"`
	Skipped         int `json:"skipped"`
	Failed          int `json:"failed"`
	Resumed         int `json:"resumed"`
}

type Run struct {
	ID         string     `json:"id"`
	Collection string     `json:"collection"`
	State      RunState   `json:"state"`
	Rebuild    bool       `json:"rebuild"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Summary    Summary    `json:"summary"`
}

// Stamp pins a collection to the embedding space it was built in.
type Stamp struct {
	Collection string    `json:"collection"`
	Model      string    `json:"model"`
	Dimension  int       `json:"dimension"`
	CreatedAt  time.Time `json:"created_at"`
}

type Store interface {
	BeginRun(ctx context.Context, run *Run) error
	Append(ctx context.Context, runID string, entries []Entry) error
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	Entries(ctx context.Context, runID string) ([]Entry, error)
	// IndexedChunkIDs returns chunks indexed since the collection was last rebuilt.
	IndexedChunkIDs(ctx context.Context, collection string) (map[string]struct{}, error)
	// Stamp returns nil when the collection has never been written.
	Stamp(ctx context.Context, collection string) (*Stamp, error)
	SaveStamp(ctx context.Context, stamp Stamp) error
	DeleteStamp(ctx context.Context, collection string) error
}

// Tally counts entries by status.
func Tally(entries []Entry) (indexed, skipped, failed int) {
	for _, e := range entries {
		switch e.Status {
		case StatusIndexed:
			indexed++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	return indexed, skipped, failed
}
