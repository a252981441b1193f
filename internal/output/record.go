// Package output converts kernel output messages into records shaped like the
// outputs persisted in a notebook file, so the two can be compared field by field.
package output

import (
	"errors"
	"fmt"
	"sort"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/protocol"
)

// Field names used by records. MIME-typed payloads use the MIME type itself
// (text/plain, image/png, ...) as the field name.
const (
	FieldOutputType     = "output_type"
	FieldStream         = "stream"
	FieldName           = "name"
	FieldText           = "text"
	FieldMetadata       = "metadata"
	FieldData           = "data"
	FieldExecutionCount = "execution_count"
)

var (
	// ErrUnexpectedKind is returned when a message kind that produces no
	// output reaches Normalize.
	ErrUnexpectedKind = errors.New("output: message kind has no output record")

	// ErrMalformedPayload is returned when a message lacks the fields its kind requires.
	ErrMalformedPayload = errors.New("output: malformed message payload")

	// ErrInvalidRecord is returned by Validate for a record without an output_type.
	ErrInvalidRecord = errors.New("output: record has no output_type")
)

// Record is one normalized unit of cell output. Every record carries an
// output_type field; the remaining fields depend on the kind.
type Record map[string]any

// OutputType returns the record's output_type tag.
func (r Record) OutputType() string {
	s, _ := r[FieldOutputType].(string)
	return s
}

// Keys returns the record's field names in lexical order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks the record invariant.
func (r Record) Validate() error {
	if r.OutputType() == "" {
		return ErrInvalidRecord
	}
	return nil
}

// Produces reports whether messages of kind k are turned into records.
func Produces(k protocol.Kind) bool {
	switch k {
	case protocol.KindStream, protocol.KindDisplayData, protocol.KindExecuteResult:
		return true
	}
	return false
}

// Normalize converts one stream, display_data or execute_result message into a Record.
//
// Stream messages become {output_type, stream, text}. Display and result
// messages become {output_type, metadata, <mime>...}, one field per entry of
// the message's data mapping; execute_result also carries execution_count.
func Normalize(msg protocol.Message) (Record, error) {
	if !Produces(msg.Kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedKind, msg.Kind)
	}

	rec := Record{FieldOutputType: string(msg.Kind)}

	switch msg.Kind {
	case protocol.KindStream:
		name, ok := msg.Content[FieldName].(string)
		if !ok {
			return nil, fmt.Errorf("%w: stream message without name", ErrMalformedPayload)
		}
		text, ok := msg.Content[FieldText].(string)
		if !ok {
			return nil, fmt.Errorf("%w: stream message without text", ErrMalformedPayload)
		}
		rec[FieldStream] = name
		rec[FieldText] = text

	case protocol.KindDisplayData, protocol.KindExecuteResult:
		metadata, _ := msg.Content[FieldMetadata].(map[string]any)
		if metadata == nil {
			metadata = map[string]any{}
		}
		rec[FieldMetadata] = metadata

		if raw, present := msg.Content[FieldData]; present && raw != nil {
			data, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s data is %T, not a mapping", ErrMalformedPayload, msg.Kind, raw)
			}
			for mime, value := range data {
				rec[mime] = value
			}
		}

		if msg.Kind == protocol.KindExecuteResult {
			if count, ok := msg.Content[FieldExecutionCount]; ok {
				rec[FieldExecutionCount] = count
			}
		}
	}

	return rec, nil
}
