package runner

import (
	"context"
	"errors"
	"time"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/notebook"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/verify"
)

// Outcome is the verdict of one item.
type Outcome string

const (
	// Passed means the cell reproduced its stored output.
	Passed Outcome = "passed"
	// Failed means the cell's output changed.
	Failed Outcome = "failed"
	// Errored means the tool or the kernel failed before a verdict.
	Errored Outcome = "error"
)

// Classify maps the error returned for an item to its outcome.
// Only a cell execution failure counts as Failed.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Passed
	case verify.IsCellExecutionError(err):
		return Failed
	default:
		return Errored
	}
}

// Item is one verifiable cell of a notebook.
type Item struct {
	// Notebook is the path the item was collected from.
	Notebook string
	// Name describes the item, "cell N".
	Name string
	Cell notebook.CodeCell
}

// ItemResult is the outcome of running one item.
type ItemResult struct {
	Item     Item
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// NotebookResult collects the item results of one notebook.
type NotebookResult struct {
	Path       string
	Items      []ItemResult
	StartedAt  time.Time
	FinishedAt time.Time

	// Err is a collect, setup or teardown failure. Setup failures also mark
	// every item Errored.
	Err error
}

// Counts tallies item outcomes.
type Counts struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
}

// Total returns the number of items counted.
func (c Counts) Total() int {
	return c.Passed + c.Failed + c.Errored
}

func (c *Counts) add(o Outcome) {
	switch o {
	case Passed:
		c.Passed++
	case Failed:
		c.Failed++
	default:
		c.Errored++
	}
}

// Counts tallies the notebook's item outcomes. A notebook-level error with
// no item results counts as one error.
func (r NotebookResult) Counts() Counts {
	var c Counts
	for _, it := range r.Items {
		c.add(it.Outcome)
	}
	if r.Err != nil && len(r.Items) == 0 {
		c.Errored++
	}
	return c
}

// Summary is the result of a Run.
type Summary struct {
	Notebooks  []NotebookResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Counts tallies outcomes across every notebook.
func (s Summary) Counts() Counts {
	var c Counts
	for _, nb := range s.Notebooks {
		n := nb.Counts()
		c.Passed += n.Passed
		c.Failed += n.Failed
		c.Errored += n.Errored
	}
	return c
}

// OK reports whether every item passed and no notebook failed to run.
func (s Summary) OK() bool {
	c := s.Counts()
	if c.Failed > 0 || c.Errored > 0 {
		return false
	}
	for _, nb := range s.Notebooks {
		if nb.Err != nil {
			return false
		}
	}
	return true
}

// Scope is the per-notebook state created by SetupFile.
type Scope any

// Hooks are the callbacks a Runner drives for each notebook:
// Collect, then SetupFile, then RunItem per item in order, then TeardownFile.
type Hooks interface {
	Collect(ctx context.Context, path string) ([]Item, error)
	SetupFile(ctx context.Context, path string) (Scope, error)
	RunItem(ctx context.Context, scope Scope, item Item) error
	TeardownFile(ctx context.Context, scope Scope) error
}

// Reporter observes a run. A Runner never calls a Reporter concurrently.
type Reporter interface {
	NotebookStarted(path string, items int)
	ItemFinished(result ItemResult)
	NotebookFinished(result NotebookResult)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ErrNoNotebooks is returned when the given paths contain no notebooks.
var ErrNoNotebooks = errors.New("runner: no notebooks found")
