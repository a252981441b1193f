// Package runner drives notebook verification the way a test framework
// drives test files: each notebook is collected into items, set up once,
// has its items run strictly in order, and is torn down.
//
// Notebooks are independent of each other and may run concurrently, each
// with its own scope. Items of one notebook never run concurrently because
// they share kernel state.
package runner

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// NotebookExt is the file extension collected from directories.
const NotebookExt = ".ipynb"

// Runner runs notebooks through a set of Hooks.
type Runner struct {
	hooks    Hooks
	reporter Reporter
	jobs     int
	clock    Clock
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithJobs bounds the number of notebooks run at once. Values below 1 mean 1.
func WithJobs(n int) Option {
	return func(r *Runner) {
		r.jobs = n
	}
}

// WithReporter sets the run observer.
func WithReporter(rep Reporter) Option {
	return func(r *Runner) {
		r.reporter = rep
	}
}

// WithClock replaces the wall clock used for timestamps and durations.
func WithClock(c Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a Runner.
func New(hooks Hooks, opts ...Option) *Runner {
	r := &Runner{hooks: hooks, jobs: 1, clock: systemClock{}}
	for _, opt := range opts {
		opt(r)
	}
	if r.jobs < 1 {
		r.jobs = 1
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.reporter == nil {
		r.reporter = nopReporter{}
	}
	r.reporter = &lockedReporter{next: r.reporter}
	return r
}

// Run verifies every notebook found under paths. Notebook results are
// returned in discovery order regardless of completion order.
//
// The error is non-nil only when discovery fails or ctx ends; cell failures
// are reported through the Summary.
func (r *Runner) Run(ctx context.Context, paths []string) (Summary, error) {
	notebooks, err := Discover(paths)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Notebooks: make([]NotebookResult, len(notebooks)),
		StartedAt: r.clock.Now(),
	}

	var g errgroup.Group
	g.SetLimit(r.jobs)
	for i, path := range notebooks {
		g.Go(func() error {
			summary.Notebooks[i] = r.runNotebook(ctx, path)
			return nil
		})
	}
	_ = g.Wait()
	summary.FinishedAt = r.clock.Now()

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (r *Runner) runNotebook(ctx context.Context, path string) NotebookResult {
	result := NotebookResult{Path: path, StartedAt: r.clock.Now()}
	logger := r.logger.With("notebook", path)

	items, err := r.hooks.Collect(ctx, path)
	if err != nil {
		result.Err = fmt.Errorf("collect %s: %w", path, err)
		r.reporter.NotebookStarted(path, 0)
		return r.finish(logger, result)
	}
	r.reporter.NotebookStarted(path, len(items))
	logger.Info("notebook started", "items", len(items))
	if len(items) == 0 {
		return r.finish(logger, result)
	}

	scope, err := r.hooks.SetupFile(ctx, path)
	if err != nil {
		result.Err = fmt.Errorf("setup %s: %w", path, err)
		for _, item := range items {
			r.record(&result, ItemResult{Item: item, Outcome: Errored, Err: result.Err})
		}
		return r.finish(logger, result)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			r.record(&result, ItemResult{Item: item, Outcome: Errored, Err: err})
			continue
		}
		start := r.clock.Now()
		err := r.hooks.RunItem(ctx, scope, item)
		r.record(&result, ItemResult{
			Item:     item,
			Outcome:  Classify(err),
			Err:      err,
			Duration: r.clock.Now().Sub(start),
		})
	}

	// Teardown always runs, even after cancellation.
	if err := r.hooks.TeardownFile(context.WithoutCancel(ctx), scope); err != nil {
		result.Err = fmt.Errorf("teardown %s: %w", path, err)
	}
	return r.finish(logger, result)
}

func (r *Runner) record(result *NotebookResult, item ItemResult) {
	result.Items = append(result.Items, item)
	r.reporter.ItemFinished(item)
	if item.Outcome == Errored {
		r.logger.Debug("item errored", "notebook", item.Item.Notebook, "item", item.Item.Name, "error", item.Err)
	}
}

func (r *Runner) finish(logger *slog.Logger, result NotebookResult) NotebookResult {
	result.FinishedAt = r.clock.Now()
	c := result.Counts()
	if result.Err != nil {
		logger.Error("notebook did not complete", "error", result.Err)
	}
	logger.Info("notebook finished", "passed", c.Passed, "failed", c.Failed, "errored", c.Errored)
	r.reporter.NotebookFinished(result)
	return result
}

// Discover expands paths into notebook files. Directories are walked for
// *.ipynb files, skipping hidden directories such as .ipynb_checkpoints.
// Files named explicitly are kept whatever their extension. The result is
// deduplicated and, within each directory walk, sorted.
func Discover(paths []string) ([]string, error) {
	var found []string
	seen := make(map[string]bool)
	add := func(p string) {
		clean := filepath.Clean(p)
		if !seen[clean] {
			seen[clean] = true
			found = append(found, clean)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("notebook path: %w", err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}

		var walked []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) == NotebookExt {
				walked = append(walked, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", p, err)
		}
		sort.Strings(walked)
		for _, w := range walked {
			add(w)
		}
	}

	if len(found) == 0 {
		return nil, ErrNoNotebooks
	}
	return found, nil
}

type nopReporter struct{}

func (nopReporter) NotebookStarted(string, int) {}

func (nopReporter) ItemFinished(ItemResult) {}

func (nopReporter) NotebookFinished(NotebookResult) {}

// lockedReporter serializes calls from concurrently running notebooks.
type lockedReporter struct {
	mu   sync.Mutex
	next Reporter
}

func (l *lockedReporter) NotebookStarted(path string, items int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next.NotebookStarted(path, items)
}

func (l *lockedReporter) ItemFinished(result ItemResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next.ItemFinished(result)
}

func (l *lockedReporter) NotebookFinished(result NotebookResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next.NotebookFinished(result)
}

// MultiReporter fans every event out to each reporter in order.
func MultiReporter(reporters ...Reporter) Reporter {
	return multiReporter(reporters)
}

type multiReporter []Reporter

func (m multiReporter) NotebookStarted(path string, items int) {
	for _, r := range m {
		r.NotebookStarted(path, items)
	}
}

func (m multiReporter) ItemFinished(result ItemResult) {
	for _, r := range m {
		r.ItemFinished(result)
	}
}

func (m multiReporter) NotebookFinished(result NotebookResult) {
	for _, r := range m {
		r.NotebookFinished(result)
	}
}
