package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/runner"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("store: run not found")

// ListRuns returns up to limit runs, newest first. A limit below 1 returns
// every run.
//
// Returns an empty slice (not nil) if no runs are recorded.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, notebooks, passed, failed, errored
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns the run with the given id.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, notebooks, passed, failed, errored
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ReadCellResults returns the cell results of a run ordered by notebook and
// cell index.
//
// Returns an empty slice (not nil) if the run has no cell results.
func (s *Store) ReadCellResults(ctx context.Context, runID string) ([]CellResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, notebook, cell_index, outcome, duration_ms, report
		FROM cell_results
		WHERE run_id = ?
		ORDER BY notebook COLLATE BINARY ASC, cell_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query cell results: %w", err)
	}
	defer rows.Close()

	cells := []CellResult{}
	for rows.Next() {
		var (
			c          CellResult
			outcome    string
			durationMS int64
		)
		if err := rows.Scan(&c.RunID, &c.Notebook, &c.CellIndex, &outcome, &durationMS, &c.Report); err != nil {
			return nil, fmt.Errorf("scan cell result: %w", err)
		}
		c.Outcome = runner.Outcome(outcome)
		c.Duration = time.Duration(durationMS) * time.Millisecond
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cell results: %w", err)
	}
	return cells, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run               Run
		started, finished string
	)
	err := row.Scan(&run.ID, &started, &finished, &run.Notebooks,
		&run.Counts.Passed, &run.Counts.Failed, &run.Counts.Errored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if run.StartedAt, err = time.Parse(timeFormat, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at of run %s: %w", run.ID, err)
	}
	if run.FinishedAt, err = time.Parse(timeFormat, finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at of run %s: %w", run.ID, err)
	}
	return run, nil
}
