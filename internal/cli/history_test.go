package cli

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/notebook"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/runner"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/store"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/testutil"
)

// seedHistory records two runs and returns the database path and the id
// of the newer run.
func seedHistory(t *testing.T) (string, string) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "history.db")
	s, err := store.Open(db)
	require.NoError(t, err)
	defer s.Close()

	var last string
	for i, outcome := range []runner.Outcome{runner.Passed, runner.Failed} {
		start := testutil.Epoch.Add(time.Duration(i) * time.Hour)
		summary := runner.Summary{
			StartedAt:  start,
			FinishedAt: start.Add(1500 * time.Millisecond),
			Notebooks: []runner.NotebookResult{{
				Path: "demo.ipynb",
				Items: []runner.ItemResult{{
					Item:    runner.Item{Notebook: "demo.ipynb", Name: "cell 0", Cell: notebook.CodeCell{Index: 0}},
					Outcome: outcome,
					Err:     errorFor(outcome),
				}},
			}},
		}
		last, err = store.NewRunID()
		require.NoError(t, err)
		run, cells := store.FromSummary(last, summary, func(it runner.ItemResult) string { return "changed output" })
		require.NoError(t, s.WriteRun(context.Background(), run, cells))
	}
	return db, last
}

func errorFor(o runner.Outcome) error {
	if o == runner.Passed {
		return nil
	}
	return errors.New("output changed")
}

func TestHistory_List(t *testing.T) {
	db, newest := seedHistory(t)

	code, stdout, stderr := execute(t, "history", "--db", db)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, newest)
	assert.Contains(t, stdout, "0 passed, 1 failed, 0 errors")
	assert.Contains(t, stdout, "1 passed, 0 failed, 0 errors")
	assert.Contains(t, stdout, "1.5s")

	code, stdout, _ = execute(t, "history", "--db", db, "--limit", "1")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, newest)
	assert.NotContains(t, stdout, "1 passed, 0 failed")
}

func TestHistory_ListJSON(t *testing.T) {
	db, newest := seedHistory(t)

	code, stdout, _ := execute(t, "--format", "json", "history", "--db", db)
	require.Equal(t, ExitSuccess, code)

	var resp struct {
		Status string      `json:"status"`
		Data   []store.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, newest, resp.Data[0].ID)
}

func TestHistory_Empty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")

	code, stdout, _ := execute(t, "history", "--db", db)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "No runs recorded.\n", stdout)
}

func TestHistory_NoDatabase(t *testing.T) {
	code, _, stderr := execute(t, "--config", writeConfig(t, "jobs: 1\n"), "history")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "no history database")
}

func TestHistory_DatabaseFromConfig(t *testing.T) {
	db, newest := seedHistory(t)

	code, stdout, _ := execute(t, "--config", writeConfig(t, "history_db: "+db+"\n"), "history")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, newest)
}

func TestHistory_Show(t *testing.T) {
	db, newest := seedHistory(t)

	code, stdout, stderr := execute(t, "history", "show", newest, "--db", db)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "failed demo.ipynb::cell 0")
	assert.Contains(t, stdout, "changed output")
}

func TestHistory_ShowUnknownRun(t *testing.T) {
	db, _ := seedHistory(t)

	code, _, stderr := execute(t, "history", "show", "nope", "--db", db)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "run not found")
}
