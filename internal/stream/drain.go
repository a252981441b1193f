// Package stream drains the output messages produced by one submitted cell.
//
// Draining is a sequence of bounded waits. Each Receive waits at most the
// message timeout for the next message; silence for that long means the
// kernel has nothing more to report. An idle status also ends the cell.
// Both endings are normal completion.
//
// A long-running cell is therefore drained for as long as it keeps producing
// messages (status, stream, display) at least once per message timeout.
// CellTimeout optionally bounds the total drain time; when zero, total time
// is unbounded.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/output"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/protocol"
)

// DefaultMessageTimeout is the per-message wait.
const DefaultMessageTimeout = time.Second

// ErrCellTimeout is returned when Options.CellTimeout elapses before the cell ends.
var ErrCellTimeout = errors.New("stream: cell exceeded total timeout")

// Options configures Drain.
type Options struct {
	// MessageTimeout bounds the wait for each message. Zero means DefaultMessageTimeout.
	MessageTimeout time.Duration

	// CellTimeout bounds the whole drain. Zero means no bound.
	CellTimeout time.Duration

	// Logger receives unhandled-message warnings. Nil discards.
	Logger *slog.Logger
}

// Stop identifies why a drain ended.
type Stop string

const (
	StopIdle    Stop = "idle"
	StopSilence Stop = "silence"
)

// Result is the outcome of a completed drain.
type Result struct {
	Records  []output.Record
	Stop     Stop
	Messages int // messages received, including skipped ones
}

// Drain consumes messages from ch until an idle status or a message timeout,
// converting stream, display_data and execute_result messages to records in
// delivery order.
//
// status (non-idle), execute_input, execute_reply and comm_* messages are
// skipped. Any other kind is logged and skipped.
//
// Errors: ErrCellTimeout if CellTimeout elapses, protocol.ErrClosed if the
// channel goes away, ctx.Err() on cancellation, or a wrapped
// output.ErrMalformedPayload for a message the normalizer cannot read.
// Records collected before an error are returned with it.
func Drain(ctx context.Context, ch protocol.Channel, opts Options) (Result, error) {
	wait := opts.MessageTimeout
	if wait <= 0 {
		wait = DefaultMessageTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	drainCtx := ctx
	if opts.CellTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, opts.CellTimeout)
		defer cancel()
	}

	result := Result{Records: []output.Record{}}

	for {
		msg, err := ch.Receive(drainCtx, wait)
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrTimeout):
				result.Stop = StopSilence
				return result, nil
			case ctx.Err() == nil && drainCtx.Err() != nil:
				return result, fmt.Errorf("%w after %s", ErrCellTimeout, opts.CellTimeout)
			default:
				return result, err
			}
		}
		result.Messages++

		switch {
		case msg.Kind == protocol.KindStatus:
			if msg.ExecutionState() == protocol.StateIdle {
				result.Stop = StopIdle
				return result, nil
			}

		case msg.Kind == protocol.KindExecuteInput,
			msg.Kind == protocol.KindExecuteReply,
			msg.Kind.IsComm():
			// No comparable output.

		case output.Produces(msg.Kind):
			rec, err := output.Normalize(msg)
			if err != nil {
				return result, fmt.Errorf("normalize %s message %s: %w", msg.Kind, msg.ID, err)
			}
			result.Records = append(result.Records, rec)

		default:
			logger.Warn("unhandled iopub message", "kind", string(msg.Kind), "msg_id", msg.ID)
		}
	}
}
