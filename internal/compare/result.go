package compare

import (
	"fmt"
	"strings"
)

// Kind classifies a diagnostic.
type Kind string

const (
	// MissingKey means a reference field has no live counterpart.
	MissingKey Kind = "missing_key"
	// Mismatch means both sides have the field but the aggregated values differ.
	Mismatch Kind = "mismatch"
)

// Block markers framing a mismatch in plain-text diagnostics.
const (
	ReferenceMarker = "<<<<<<<<<<<< Reference output from ipynb file:"
	LiveMarker      = "============ disagrees with newly computed (test) output:"
	EndMarker       = ">>>>>>>>>>>>"
)

// Diagnostic is one structured comparison failure.
type Diagnostic struct {
	Kind  Kind   `json:"kind"`
	Field string `json:"field"`

	// Set for Mismatch.
	Reference string `json:"reference,omitempty"`
	Live      string `json:"live,omitempty"`

	// Set for MissingKey, sorted.
	ReferenceKeys []string `json:"reference_keys,omitempty"`
	LiveKeys      []string `json:"live_keys,omitempty"`
}

// Lines renders the diagnostic as uncoloured report lines.
func (d Diagnostic) Lines() []string {
	if d.Kind == MissingKey {
		return []string{fmt.Sprintf("missing key %q: TESTING %v != REFERENCE %v", d.Field, d.LiveKeys, d.ReferenceKeys)}
	}
	return []string{
		fmt.Sprintf("mismatch '%s'", d.Field),
		ReferenceMarker,
		d.Reference,
		LiveMarker,
		d.Live,
		EndMarker,
	}
}

// Result is the verdict of one comparison.
type Result struct {
	Pass        bool         `json:"pass"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

func (r *Result) fail(d Diagnostic) {
	r.Pass = false
	r.Diagnostics = append(r.Diagnostics, d)
}

// Lines returns the diagnostic lines of every failure in order.
func (r Result) Lines() []string {
	var lines []string
	for _, d := range r.Diagnostics {
		lines = append(lines, d.Lines()...)
	}
	return lines
}

// Report joins Lines with newlines.
func (r Result) Report() string {
	return strings.Join(r.Lines(), "\n")
}
