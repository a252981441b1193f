// Package compare decides whether freshly produced cell output reproduces the
// output stored in a notebook.
//
// Both sides are folded into field-keyed aggregates: for every record and
// every field not in the ignored set, the sanitized value is appended to the
// aggregate entry of the same name. Output that arrives split across several
// messages (multiple stream writes) therefore compares as one string. On the
// reference side a "data" mapping is flattened one level so its MIME types
// line up with the top-level MIME fields of live records.
//
// Every field of the reference aggregate must be present in the live
// aggregate with an identical value. Fields that only the live side has are
// never inspected.
package compare

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/canonical"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/output"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/sanitize"
)

// DefaultIgnoredKeys excludes bookkeeping, presentation and binary fields,
// scoping comparison to content such as text/plain and stream text.
var DefaultIgnoredKeys = []string{
	"metadata",
	"image/png",
	"traceback",
	"latex",
	"prompt_number",
	"stdout",
	"stream",
	"output_type",
	"name",
	"execution_count",
}

// ErrInvalidRecord marks a record whose shape the comparator cannot fold.
var ErrInvalidRecord = errors.New("compare: invalid record")

// Options configures a Comparator.
type Options struct {
	// IgnoredKeys replaces DefaultIgnoredKeys when non-nil.
	IgnoredKeys []string

	// Sanitizer is applied to every text value on both sides. Nil is the identity.
	Sanitizer *sanitize.Sanitizer

	// Exhaustive checks every reference field instead of stopping at the first failure.
	Exhaustive bool
}

// Comparator compares live records with reference outputs.
// It is immutable and safe for concurrent use.
type Comparator struct {
	ignored    map[string]bool
	sanitizer  *sanitize.Sanitizer
	exhaustive bool
}

// New creates a Comparator.
func New(opts Options) *Comparator {
	keys := opts.IgnoredKeys
	if keys == nil {
		keys = DefaultIgnoredKeys
	}
	ignored := make(map[string]bool, len(keys))
	for _, k := range keys {
		ignored[k] = true
	}
	return &Comparator{
		ignored:    ignored,
		sanitizer:  opts.Sanitizer,
		exhaustive: opts.Exhaustive,
	}
}

// IgnoredKeys returns the ignored field names in lexical order.
func (c *Comparator) IgnoredKeys() []string {
	keys := make([]string, 0, len(c.ignored))
	for k := range c.ignored {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Compare checks live against reference. The returned error is non-nil only
// for records the comparator cannot interpret; content differences are
// reported through Result.
func (c *Comparator) Compare(live []output.Record, reference []map[string]any) (Result, error) {
	liveAgg, err := c.aggregateLive(live)
	if err != nil {
		return Result{}, err
	}
	refAgg, err := c.aggregateReference(reference)
	if err != nil {
		return Result{}, err
	}

	result := Result{Pass: true}
	for _, key := range refAgg.keys {
		liveValue, ok := liveAgg.values[key]
		if !ok {
			result.fail(Diagnostic{
				Kind:          MissingKey,
				Field:         key,
				LiveKeys:      liveAgg.sortedKeys(),
				ReferenceKeys: refAgg.sortedKeys(),
			})
		} else if refValue := refAgg.values[key]; liveValue != refValue {
			result.fail(Diagnostic{
				Kind:      Mismatch,
				Field:     key,
				Reference: refValue,
				Live:      liveValue,
			})
		} else {
			continue
		}
		if !c.exhaustive {
			break
		}
	}
	return result, nil
}

func (c *Comparator) aggregateLive(records []output.Record) (*aggregate, error) {
	agg := newAggregate()
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%w: live record %d: %v", ErrInvalidRecord, i, err)
		}
		for _, key := range sortedKeys(rec) {
			if c.ignored[key] {
				continue
			}
			if err := c.add(agg, key, rec[key]); err != nil {
				return nil, fmt.Errorf("live record %d: %w", i, err)
			}
		}
	}
	return agg, nil
}

func (c *Comparator) aggregateReference(records []map[string]any) (*aggregate, error) {
	agg := newAggregate()
	for i, rec := range records {
		for _, key := range sortedKeys(rec) {
			if c.ignored[key] {
				continue
			}
			if key != output.FieldData {
				if err := c.add(agg, key, rec[key]); err != nil {
					return nil, fmt.Errorf("reference output %d: %w", i, err)
				}
				continue
			}

			data, ok := rec[key].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: reference output %d: data is %T, not a mapping", ErrInvalidRecord, i, rec[key])
			}
			for _, mime := range sortedKeys(data) {
				if c.ignored[mime] {
					continue
				}
				if err := c.add(agg, mime, data[mime]); err != nil {
					return nil, fmt.Errorf("reference output %d: %w", i, err)
				}
			}
		}
	}
	return agg, nil
}

func (c *Comparator) add(agg *aggregate, key string, value any) error {
	text, err := c.render(value)
	if err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	agg.append(key, text)
	return nil
}

// render produces the comparable text of a field value. Strings are
// sanitized; lists of strings are joined first; anything else is encoded as
// canonical JSON.
func (c *Comparator) render(value any) (string, error) {
	if lines, ok := stringList(value); ok {
		value = strings.Join(lines, "")
	}
	value = c.sanitizer.Value(value)
	if s, ok := value.(string); ok {
		return s, nil
	}
	data, err := canonical.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return string(data), nil
}

func stringList(value any) ([]string, bool) {
	items, ok := value.([]any)
	if !ok || len(items) == 0 {
		return nil, false
	}
	lines := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		lines[i] = s
	}
	return lines, true
}

// aggregate concatenates values per field, remembering first-seen order.
type aggregate struct {
	keys   []string
	values map[string]string
}

func newAggregate() *aggregate {
	return &aggregate{values: make(map[string]string)}
}

func (a *aggregate) append(key, text string) {
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] += text
}

func (a *aggregate) sortedKeys() []string {
	keys := append([]string(nil), a.keys...)
	sort.Strings(keys)
	return keys
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
