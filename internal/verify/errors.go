package verify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/compare"
)

// Label is the short description attached to every cell failure.
const Label = "Error with cell"

// CellExecutionError reports that a cell's fresh output does not reproduce
// its stored output. It is the only error that represents a notebook defect.
type CellExecutionError struct {
	// CellIndex is the zero-based position among verified code cells.
	CellIndex int

	// Label is a short fixed description.
	Label string

	// Source is the cell's code.
	Source string

	// Diagnostics are the comparator's structured failures, in order.
	Diagnostics []compare.Diagnostic
}

// Error implements the error interface.
func (e *CellExecutionError) Error() string {
	summary := "output mismatch"
	if len(e.Diagnostics) > 0 {
		d := e.Diagnostics[0]
		summary = fmt.Sprintf("%s %q", strings.ReplaceAll(string(d.Kind), "_", " "), d.Field)
		if n := len(e.Diagnostics) - 1; n > 0 {
			summary += fmt.Sprintf(" and %d more", n)
		}
	}
	return fmt.Sprintf("cell %d: %s: %s", e.CellIndex, e.Label, summary)
}

// Report joins the diagnostic lines of every failure with newlines.
func (e *CellExecutionError) Report() string {
	return compare.Result{Diagnostics: e.Diagnostics}.Report()
}

// IsCellExecutionError reports whether err is or wraps a CellExecutionError.
func IsCellExecutionError(err error) bool {
	var ce *CellExecutionError
	return errors.As(err, &ce)
}

// InternalErrorCode categorizes tool failures.
type InternalErrorCode string

const (
	// ErrCodeInvalidRecord indicates a record the comparator could not interpret.
	ErrCodeInvalidRecord InternalErrorCode = "INVALID_RECORD"

	// ErrCodeUnexpectedKind indicates a non-output message reached the normalizer.
	ErrCodeUnexpectedKind InternalErrorCode = "UNEXPECTED_KIND"

	// ErrCodeSubmitFailed indicates the session rejected the cell source.
	ErrCodeSubmitFailed InternalErrorCode = "SUBMIT_FAILED"

	// ErrCodeChannelFailed indicates the message channel broke while draining.
	ErrCodeChannelFailed InternalErrorCode = "CHANNEL_FAILED"

	// ErrCodeCellTimeout indicates the cell ran past its total time bound.
	ErrCodeCellTimeout InternalErrorCode = "CELL_TIMEOUT"
)

// InternalError reports a defect in the tool or its kernel connection, as
// opposed to a change in the notebook.
type InternalError struct {
	Code      InternalErrorCode
	CellIndex int
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: cell %d: %s: %v", e.Code, e.CellIndex, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: cell %d: %s", e.Code, e.CellIndex, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// IsInternal reports whether err is or wraps an InternalError.
func IsInternal(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}

// InternalCode returns the code of the InternalError in err's chain, if any.
func InternalCode(err error) (InternalErrorCode, bool) {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie.Code, true
	}
	return "", false
}
