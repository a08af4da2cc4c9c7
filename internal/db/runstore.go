package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cbp-data/monocbp/internal/pipeline"
	"github.com/cbp-data/monocbp/internal/transit"
)

// RunStore persists pipeline run lifecycle state and detected events. It
// satisfies pipeline.RunRecorder.
type RunStore struct {
	db *DB
}

func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Start records a new run in the running state.
func (s *RunStore) Start(ctx context.Context, rec pipeline.RunRecord) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("failed to encode run parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, catalogue_path, data_dir, output_dir, params, status)
		VALUES (?, ?, ?, ?, ?, 'running')`,
		rec.RunID, rec.CataloguePath, rec.DataDir, rec.OutputDir, string(params))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rec.RunID, err)
	}
	return nil
}

// Finish marks a run completed or failed.
func (s *RunStore) Finish(ctx context.Context, runID, status, note string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, note = ?, finished_at = CURRENT_TIMESTAMP
		WHERE run_id = ?`,
		status, note, runID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// RecordEvents stores the events of a transit search under the run.
func (s *RunStore) RecordEvents(ctx context.Context, runID string, table *transit.EventTable) error {
	for _, ev := range table.Events {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO transit_events (run_id, tic, sector, time, duration, depth, snr, phase, n_points)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, ev.TIC, ev.Sector, ev.Time, ev.Duration, ev.Depth, ev.SNR, ev.Phase, ev.NPoints)
		if err != nil {
			return fmt.Errorf("failed to record event for TIC %d: %w", ev.TIC, err)
		}
	}
	return nil
}

// RunSummary describes one persisted run.
type RunSummary struct {
	RunID     string
	Status    string
	Note      string
	StartedAt string
	EventRows int
}

// Runs lists persisted runs, most recent first.
func (s *RunStore) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.status, COALESCE(r.note, ''), r.started_at,
		       (SELECT COUNT(*) FROM transit_events e WHERE e.run_id = r.run_id)
		FROM runs r ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Status, &r.Note, &r.StartedAt, &r.EventRows); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}
