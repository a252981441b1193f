package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/runner"
)

// NotebookCellIndex is the cell index recorded for a notebook that failed
// before any of its cells ran.
const NotebookCellIndex = -1

// Run is one recorded invocation.
type Run struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Notebooks  int           `json:"notebooks"`
	Counts     runner.Counts `json:"counts"`
}

// CellResult is one recorded cell verdict.
type CellResult struct {
	RunID     string         `json:"run_id"`
	Notebook  string         `json:"notebook"`
	CellIndex int            `json:"cell_index"`
	Outcome   runner.Outcome `json:"outcome"`
	Duration  time.Duration  `json:"duration"`
	Report    string         `json:"report,omitempty"`
}

// NewRunID returns a fresh time-ordered run id.
func NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

// ReportFunc renders the stored report for a non-passing item.
type ReportFunc func(runner.ItemResult) string

// FromSummary converts a run summary into the rows WriteRun stores.
// A notebook with an error and no items becomes one errored row at
// NotebookCellIndex carrying the error text.
func FromSummary(id string, s runner.Summary, report ReportFunc) (Run, []CellResult) {
	run := Run{
		ID:         id,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Notebooks:  len(s.Notebooks),
		Counts:     s.Counts(),
	}
	var cells []CellResult
	for _, nb := range s.Notebooks {
		if nb.Err != nil && len(nb.Items) == 0 {
			cells = append(cells, CellResult{
				RunID:     id,
				Notebook:  nb.Path,
				CellIndex: NotebookCellIndex,
				Outcome:   runner.Errored,
				Report:    nb.Err.Error(),
			})
			continue
		}
		for _, it := range nb.Items {
			c := CellResult{
				RunID:     id,
				Notebook:  nb.Path,
				CellIndex: it.Item.Cell.Index,
				Outcome:   it.Outcome,
				Duration:  it.Duration,
			}
			if it.Outcome != runner.Passed && report != nil {
				c.Report = report(it)
			}
			cells = append(cells, c)
		}
	}
	return run, cells
}

// WriteRun stores a run and its cell results in one transaction.
// Writing a run id twice is an error.
func (s *Store) WriteRun(ctx context.Context, run Run, cells []CellResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, notebooks, passed, failed, errored)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.Notebooks,
		run.Counts.Passed,
		run.Counts.Failed,
		run.Counts.Errored,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cell_results (run_id, notebook, cell_index, outcome, duration_ms, report)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write run: prepare cell results: %w", err)
	}
	defer stmt.Close()

	for _, c := range cells {
		if _, err := stmt.ExecContext(ctx,
			run.ID,
			c.Notebook,
			c.CellIndex,
			string(c.Outcome),
			c.Duration.Milliseconds(),
			c.Report,
		); err != nil {
			return fmt.Errorf("write cell result %s[%d]: %w", c.Notebook, c.CellIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}

// DeleteRun removes a run and its cell results. Deleting an unknown run is
// not an error.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// timeFormat has a fixed-width fraction so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}
