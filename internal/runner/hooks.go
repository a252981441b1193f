package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/compare"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/notebook"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/stream"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/verify"
)

// Session is a kernel session owned by one notebook's scope.
type Session interface {
	verify.Session
	Close(ctx context.Context) error
}

// SessionFactory opens a fresh kernel session for a notebook.
type SessionFactory func(ctx context.Context) (Session, error)

// NotebookHooks verifies notebook cells against kernel sessions.
// A new session is opened for every notebook and closed at teardown.
type NotebookHooks struct {
	// Sessions opens the kernel session for each notebook.
	Sessions SessionFactory

	// Comparator is shared by every notebook. Nil uses default options.
	Comparator *compare.Comparator

	// Drain bounds each cell's output wait.
	Drain stream.Options

	// Logger receives hook events. Nil discards.
	Logger *slog.Logger
}

type notebookScope struct {
	path     string
	session  Session
	verifier *verify.Verifier
}

func (h *NotebookHooks) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return h.Logger
}

// Collect loads the notebook and returns one item per verifiable code cell.
func (h *NotebookHooks) Collect(_ context.Context, path string) ([]Item, error) {
	nb, err := notebook.Load(path)
	if err != nil {
		return nil, err
	}
	cells := nb.CodeCells()
	items := make([]Item, len(cells))
	for i, c := range cells {
		items[i] = Item{Notebook: path, Name: ItemName(c.Index), Cell: c}
	}
	counts := nb.Counts()
	h.logger().Debug("notebook collected", "notebook", path, "code", counts.Code, "skipped", counts.Skipped)
	return items, nil
}

// SetupFile opens the notebook's kernel session.
func (h *NotebookHooks) SetupFile(ctx context.Context, path string) (Scope, error) {
	if h.Sessions == nil {
		return nil, fmt.Errorf("no session factory configured")
	}
	session, err := h.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("open kernel session: %w", err)
	}
	drain := h.Drain
	if drain.Logger == nil {
		drain.Logger = h.logger()
	}
	return &notebookScope{
		path:    path,
		session: session,
		verifier: verify.New(session, verify.Options{
			Comparator: h.Comparator,
			Drain:      drain,
			Logger:     h.logger().With("notebook", path),
		}),
	}, nil
}

// RunItem executes and verifies one cell.
func (h *NotebookHooks) RunItem(ctx context.Context, scope Scope, item Item) error {
	s, ok := scope.(*notebookScope)
	if !ok {
		return fmt.Errorf("unexpected scope %T", scope)
	}
	return s.verifier.Verify(ctx, item.Cell)
}

// TeardownFile closes the notebook's kernel session.
func (h *NotebookHooks) TeardownFile(ctx context.Context, scope Scope) error {
	s, ok := scope.(*notebookScope)
	if !ok {
		return fmt.Errorf("unexpected scope %T", scope)
	}
	if err := s.session.Close(ctx); err != nil {
		return fmt.Errorf("close kernel session: %w", err)
	}
	return nil
}

// ItemName is the description of the item for the cell at index.
func ItemName(index int) string {
	return fmt.Sprintf("cell %d", index)
}
