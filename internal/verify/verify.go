// Package verify runs a single notebook cell against a live kernel session
// and checks that it reproduces the outputs stored with it.
//
// Cells sharing a session must be verified one at a time: a session carries
// kernel state from cell to cell, and output messages are not attributed to
// the request that caused them.
package verify

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/compare"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/notebook"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/output"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/protocol"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/stream"
)

// Session is the kernel connection a Verifier executes cells on.
type Session interface {
	// Submit sends source for execution and returns the request id.
	// It must not block on the cell's completion.
	Submit(ctx context.Context, source string) (string, error)

	// Messages is the channel carrying the kernel's output messages.
	Messages() protocol.Channel
}

// Options configures a Verifier.
type Options struct {
	// Comparator decides output equivalence. Nil uses compare.New with default options.
	Comparator *compare.Comparator

	// Drain bounds the wait for each output message and for the whole cell.
	Drain stream.Options

	// Logger receives cell lifecycle events. Nil discards.
	Logger *slog.Logger
}

// Verifier executes cells on one session and compares their output.
type Verifier struct {
	session    Session
	comparator *compare.Comparator
	drain      stream.Options
	logger     *slog.Logger
}

// New creates a Verifier bound to session.
func New(session Session, opts Options) *Verifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	comparator := opts.Comparator
	if comparator == nil {
		comparator = compare.New(compare.Options{})
	}
	drain := opts.Drain
	if drain.Logger == nil {
		drain.Logger = logger
	}
	return &Verifier{
		session:    session,
		comparator: comparator,
		drain:      drain,
		logger:     logger,
	}
}

// Verify executes cell and compares the live output with cell.Outputs.
//
// It returns nil on a match, a *CellExecutionError on a content mismatch, an
// *InternalError when the session or the records misbehave, and a wrapped
// context error when ctx ends first.
func (v *Verifier) Verify(ctx context.Context, cell notebook.CodeCell) error {
	msgID, err := v.session.Submit(ctx, cell.Source)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &InternalError{Code: ErrCodeSubmitFailed, CellIndex: cell.Index, Message: "failed to submit cell", Err: err}
	}
	v.logger.Debug("cell submitted", "cell", cell.Index, "msg_id", msgID)

	drained, err := stream.Drain(ctx, v.session.Messages(), v.drain)
	if err != nil {
		return v.drainError(ctx, cell, err)
	}
	v.logger.Debug("cell drained",
		"cell", cell.Index,
		"records", len(drained.Records),
		"messages", drained.Messages,
		"stop", string(drained.Stop),
	)

	result, err := v.comparator.Compare(drained.Records, cell.Outputs)
	if err != nil {
		return &InternalError{Code: ErrCodeInvalidRecord, CellIndex: cell.Index, Message: "failed to compare outputs", Err: err}
	}
	if !result.Pass {
		return &CellExecutionError{
			CellIndex:   cell.Index,
			Label:       Label,
			Source:      cell.Source,
			Diagnostics: result.Diagnostics,
		}
	}
	return nil
}

func (v *Verifier) drainError(ctx context.Context, cell notebook.CodeCell, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, stream.ErrCellTimeout):
		return &InternalError{Code: ErrCodeCellTimeout, CellIndex: cell.Index, Message: "cell did not finish in time", Err: err}
	case errors.Is(err, output.ErrUnexpectedKind):
		return &InternalError{Code: ErrCodeUnexpectedKind, CellIndex: cell.Index, Message: "failed to normalize output", Err: err}
	case errors.Is(err, output.ErrMalformedPayload):
		return &InternalError{Code: ErrCodeInvalidRecord, CellIndex: cell.Index, Message: "failed to normalize output", Err: err}
	default:
		return &InternalError{Code: ErrCodeChannelFailed, CellIndex: cell.Index, Message: "failed to read output", Err: err}
	}
}
