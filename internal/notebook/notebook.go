// Package notebook reads nbformat v4 notebooks and exposes the code cells
// whose stored outputs can be verified.
//
// A document is checked against an embedded CUE schema before it is decoded,
// so structural problems are reported with a path into the document instead
// of surfacing later as a missing reference output.
package notebook

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var schemaSource string

// Cell types.
const (
	TypeCode     = "code"
	TypeMarkdown = "markdown"
	TypeRaw      = "raw"
)

// Load error codes.
const (
	ErrCodeRead   = "READ_FAILED"
	ErrCodeSyntax = "INVALID_JSON"
	ErrCodeSchema = "SCHEMA_VIOLATION"
)

// LoadError reports why a notebook could not be loaded.
type LoadError struct {
	Path    string
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: [%s] %s", e.Path, e.Code, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Notebook is a decoded notebook document. It is not modified after loading.
type Notebook struct {
	Path        string
	Format      int
	FormatMinor int
	Metadata    map[string]any
	Cells       []Cell
}

// Cell is one notebook cell with multi-line fields joined.
type Cell struct {
	// Position is the cell's place in the notebook, counting every cell type.
	Position int
	Type     string
	Source   string

	// Outputs holds the stored reference outputs of a code cell.
	Outputs        []map[string]any
	ExecutionCount *int
}

// Load reads and parses the notebook at path.
func Load(path string) (*Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Code: ErrCodeRead, Message: "failed to read notebook", Err: err}
	}
	nb, err := parse(path, data)
	if err != nil {
		return nil, err
	}
	nb.Path = path
	return nb, nil
}

// Parse decodes a notebook document held in memory.
func Parse(data []byte) (*Notebook, error) {
	return parse("", data)
}

// wire shapes
type document struct {
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
	Metadata      map[string]any `json:"metadata"`
	Cells         []cellDocument `json:"cells"`
}

type cellDocument struct {
	CellType       string           `json:"cell_type"`
	Source         multiline        `json:"source"`
	Outputs        []map[string]any `json:"outputs"`
	ExecutionCount *int             `json:"execution_count"`
}

func parse(path string, data []byte) (*Notebook, error) {
	if !json.Valid(data) {
		return nil, &LoadError{Path: path, Code: ErrCodeSyntax, Message: "notebook is not valid JSON"}
	}
	if err := validate(path, data); err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Path: path, Code: ErrCodeSyntax, Message: "failed to decode notebook", Err: err}
	}

	nb := &Notebook{
		Format:      doc.NBFormat,
		FormatMinor: doc.NBFormatMinor,
		Metadata:    doc.Metadata,
		Cells:       make([]Cell, len(doc.Cells)),
	}
	for i, c := range doc.Cells {
		cell := Cell{
			Position:       i,
			Type:           c.CellType,
			Source:         string(c.Source),
			ExecutionCount: c.ExecutionCount,
		}
		if c.CellType == TypeCode {
			cell.Outputs = make([]map[string]any, len(c.Outputs))
			for j, out := range c.Outputs {
				cell.Outputs[j] = joinOutput(out)
			}
		}
		nb.Cells[i] = cell
	}
	return nb, nil
}

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error

	// cue.Context is not safe for concurrent use.
	schemaMu sync.Mutex
)

func compiledSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile notebook schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Notebook"))
	})
	return schemaCtx, schemaDef, schemaErr
}

func validate(path string, data []byte) error {
	ctx, def, err := compiledSchema()
	if err != nil {
		return err
	}

	name := path
	if name == "" {
		name = "notebook.ipynb"
	}
	expr, err := cuejson.Extract(name, data)
	if err != nil {
		return &LoadError{Path: path, Code: ErrCodeSyntax, Message: "failed to read notebook JSON", Err: err}
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()

	v := ctx.BuildExpr(expr)
	if err := v.Err(); err != nil {
		return &LoadError{Path: path, Code: ErrCodeSyntax, Message: "failed to build notebook value", Err: err}
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return &LoadError{Path: path, Code: ErrCodeSchema, Message: "not an nbformat v4 notebook: " + err.Error(), Err: err}
	}
	if err := requireFields(v); err != nil {
		return &LoadError{Path: path, Code: ErrCodeSchema, Message: "not an nbformat v4 notebook: " + err.Error(), Err: err}
	}
	return nil
}

// requireFields checks presence of the fields an empty default would hide:
// a notebook without cells, or a code cell without outputs, would otherwise
// verify against nothing.
func requireFields(v cue.Value) error {
	cells := v.LookupPath(cue.ParsePath("cells"))
	if !cells.Exists() {
		return errors.New("field \"cells\" is required")
	}
	iter, err := cells.List()
	if err != nil {
		return fmt.Errorf("cells: %w", err)
	}
	for i := 0; iter.Next(); i++ {
		cell := iter.Value()
		kind, _ := cell.LookupPath(cue.ParsePath("cell_type")).String()
		if kind == "code" && !cell.LookupPath(cue.ParsePath("outputs")).Exists() {
			return fmt.Errorf("cells[%d]: field \"outputs\" is required on a code cell", i)
		}
	}
	return nil
}

// multiline decodes nbformat's string-or-list-of-strings fields.
type multiline string

func (m *multiline) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = multiline(s)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*m = multiline(strings.Join(lines, ""))
	return nil
}

// joinOutput joins list-valued text fields of one stored output, leaving
// JSON MIME payloads intact.
func joinOutput(out map[string]any) map[string]any {
	joined := make(map[string]any, len(out))
	for k, v := range out {
		joined[k] = v
	}
	if text, ok := joinLines(out["text"]); ok {
		joined["text"] = text
	}
	if data, ok := out["data"].(map[string]any); ok {
		bundle := make(map[string]any, len(data))
		for mime, v := range data {
			if text, ok := joinLines(v); ok && !isJSONMime(mime) {
				bundle[mime] = text
			} else {
				bundle[mime] = v
			}
		}
		joined["data"] = bundle
	}
	return joined
}

func joinLines(v any) (string, bool) {
	items, ok := v.([]any)
	if !ok {
		return "", false
	}
	var b strings.Builder
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return "", false
		}
		b.WriteString(s)
	}
	return b.String(), true
}

func isJSONMime(mime string) bool {
	return mime == "application/json" || strings.HasSuffix(mime, "+json")
}
