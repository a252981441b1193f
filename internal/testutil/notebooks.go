package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/protocol"
)

// CodeCell builds an nbformat v4 code cell with stored outputs.
func CodeCell(source string, outputs ...map[string]any) map[string]any {
	if outputs == nil {
		outputs = []map[string]any{}
	}
	return map[string]any{
		"cell_type":       "code",
		"execution_count": nil,
		"metadata":        map[string]any{},
		"outputs":         outputs,
		"source":          source,
	}
}

// MarkdownCell builds an nbformat v4 markdown cell.
func MarkdownCell(source string) map[string]any {
	return map[string]any{
		"cell_type": "markdown",
		"metadata":  map[string]any{},
		"source":    source,
	}
}

// StreamOutput builds a stored stream output.
func StreamOutput(name, text string) map[string]any {
	return map[string]any{"output_type": "stream", "name": name, "text": text}
}

// ResultOutput builds a stored execute_result output bundle.
func ResultOutput(count int, data map[string]any) map[string]any {
	return map[string]any{
		"output_type":     "execute_result",
		"execution_count": count,
		"data":            data,
		"metadata":        map[string]any{},
	}
}

// WriteNotebook writes an nbformat v4 notebook with cells to dir/name and
// returns its path.
func WriteNotebook(t testing.TB, dir, name string, cells ...map[string]any) string {
	t.Helper()
	if cells == nil {
		cells = []map[string]any{}
	}
	doc := map[string]any{
		"nbformat":       4,
		"nbformat_minor": 5,
		"metadata":       map[string]any{},
		"cells":          cells,
	}
	data, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		t.Fatalf("encode notebook: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create notebook dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write notebook: %v", err)
	}
	return path
}

// PrintResponder answers print("x") with a stdout stream "x\n" and any other
// source with no output, emulating a Python kernel for simple cells.
func PrintResponder(source string) []protocol.Message {
	var outputs []protocol.Message
	if text, ok := printArgument(source); ok {
		outputs = append(outputs, Stream("stdout", text+"\n"))
	}
	return Execution(source, outputs...)
}

func printArgument(source string) (string, bool) {
	const prefix, suffix = `print("`, `")`
	if len(source) < len(prefix)+len(suffix) ||
		!strings.HasPrefix(source, prefix) || !strings.HasSuffix(source, suffix) {
		return "", false
	}
	return source[len(prefix) : len(source)-len(suffix)], true
}
