package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) BeginRun(ctx context.Context, run *Run) error {
	if run.State == "" {
		run.State = RunRunning
	}
	query := `INSERT INTO ingestion_runs (id, collection, state, rebuild) VALUES ($1, $2, $3, $4) RETURNING started_at`
	return r.db.QueryRowContext(ctx, query, run.ID, run.Collection, run.State, run.Rebuild).Scan(&run.StartedAt)
}

func (r *PostgresRepo) Append(ctx context.Context, runID string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO manifest_entries (run_id, chunk_id, status, reason) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, runID, e.ChunkID, e.Status, e.Reason); err != nil {
			return fmt.Errorf("append %s: %w", e.ChunkID, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepo) FinishRun(ctx context.Context, run *Run) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return err
	}
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	query := `UPDATE ingestion_runs SET state = $1, finished_at = $2, error = $3, summary = $4 WHERE id = $5`
	res, err := r.db.ExecContext(ctx, query, run.State, *run.FinishedAt, run.Error, summary, run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

const runColumns = `id, collection, state, rebuild, started_at, finished_at, error, summary`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run      Run
		finished sql.NullTime
		summary  []byte
	)
	if err := row.Scan(&run.ID, &run.Collection, &run.State, &run.Rebuild, &run.StartedAt, &finished, &run.Error, &summary); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return nil, fmt.Errorf("run %s summary: %w", run.ID, err)
		}
	}
	return &run, nil
}

func (r *PostgresRepo) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM ingestion_runs WHERE id = $1`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

func (r *PostgresRepo) ListRuns(ctx context.Context) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM ingestion_runs ORDER BY started_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (r *PostgresRepo) Entries(ctx context.Context, runID string) ([]Entry, error) {
	query := `SELECT chunk_id, status, reason, recorded_at FROM manifest_entries WHERE run_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ChunkID, &e.Status, &e.Reason, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *PostgresRepo) IndexedChunkIDs(ctx context.Context, collection string) (map[string]struct{}, error) {
	query := `SELECT DISTINCT e.chunk_id FROM manifest_entries e
		JOIN ingestion_runs r ON r.id = e.run_id
		WHERE r.collection = $1 AND e.status = 'indexed'
		AND r.started_at >= COALESCE((SELECT MAX(started_at) FROM ingestion_runs WHERE collection = $1 AND rebuild), '-infinity'::timestamptz)`
	rows, err := r.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (r *PostgresRepo) Stamp(ctx context.Context, collection string) (*Stamp, error) {
	st := &Stamp{}
	query := `SELECT collection, model, dimension, created_at FROM index_stamps WHERE collection = $1`
	err := r.db.QueryRowContext(ctx, query, collection).Scan(&st.Collection, &st.Model, &st.Dimension, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (r *PostgresRepo) SaveStamp(ctx context.Context, stamp Stamp) error {
	query := `INSERT INTO index_stamps (collection, model, dimension) VALUES ($1, $2, $3)
		ON CONFLICT (collection) DO UPDATE SET model = EXCLUDED.model, dimension = EXCLUDED.dimension`
	_, err := r.db.ExecContext(ctx, query, stamp.Collection, stamp.Model, stamp.Dimension)
	return err
}

func (r *PostgresRepo) DeleteStamp(ctx context.Context, collection string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM index_stamps WHERE collection = $1`, collection)
	return err
}
