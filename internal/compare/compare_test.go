package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/output"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/sanitize"
)

func streamRecord(name, text string) output.Record {
	return output.Record{"output_type": "stream", "stream": name, "text": text}
}

func streamReference(name, text string) map[string]any {
	return map[string]any{"output_type": "stream", "name": name, "text": text}
}

func TestCompare_PrintScenario(t *testing.T) {
	c := New(Options{})

	res, err := c.Compare(
		[]output.Record{streamRecord("stdout", "hi\n")},
		[]map[string]any{streamReference("stdout", "hi\n")},
	)
	require.NoError(t, err)
	assert.True(t, res.Pass)
	assert.Empty(t, res.Diagnostics)
	assert.Empty(t, res.Report())
}

func TestCompare_TrailingBlankLineMismatch(t *testing.T) {
	c := New(Options{})

	res, err := c.Compare(
		[]output.Record{streamRecord("stdout", "hi\n\n")},
		[]map[string]any{streamReference("stdout", "hi\n")},
	)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Diagnostics, 1)

	d := res.Diagnostics[0]
	assert.Equal(t, Mismatch, d.Kind)
	assert.Equal(t, "text", d.Field)
	assert.Equal(t, "hi\n", d.Reference)
	assert.Equal(t, "hi\n\n", d.Live)
}

func TestCompare_IdenticalOutputsPass(t *testing.T) {
	reference := []map[string]any{
		streamReference("stdout", "a\n"),
		{
			"output_type":     "execute_result",
			"execution_count": 4.0,
			"data":            map[string]any{"text/plain": "42"},
			"metadata":        map[string]any{},
		},
	}
	live := []output.Record{
		streamRecord("stdout", "a\n"),
		{
			"output_type":     "execute_result",
			"execution_count": 9,
			"text/plain":      "42",
			"metadata":        map[string]any{"changed": true},
		},
	}

	res, err := New(Options{}).Compare(live, reference)
	require.NoError(t, err)
	assert.True(t, res.Pass, "execution counts and metadata are ignored")
}

func TestCompare_SplitStreamsAggregate(t *testing.T) {
	live := []output.Record{
		streamRecord("stdout", "a"),
		streamRecord("stdout", "b"),
		streamRecord("stdout", "c\n"),
	}
	reference := []map[string]any{streamReference("stdout", "abc\n")}

	res, err := New(Options{}).Compare(live, reference)
	require.NoError(t, err)
	assert.True(t, res.Pass)
}

func TestCompare_StdoutAndStderrShareTextField(t *testing.T) {
	// The stream name is ignored, so interleaved streams concatenate into one value.
	live := []output.Record{streamRecord("stdout", "out\n"), streamRecord("stderr", "err\n")}
	reference := []map[string]any{streamReference("stdout", "out\n"), streamReference("stderr", "err\n")}

	res, err := New(Options{}).Compare(live, reference)
	require.NoError(t, err)
	assert.True(t, res.Pass)

	swapped := []output.Record{streamRecord("stderr", "err\n"), streamRecord("stdout", "out\n")}
	res, err = New(Options{}).Compare(swapped, reference)
	require.NoError(t, err)
	assert.False(t, res.Pass)
}

func TestCompare_ReferenceDataIsFlattened(t *testing.T) {
	reference := []map[string]any{{
		"output_type": "display_data",
		"data": map[string]any{
			"text/plain": "<Figure size 640x480>",
			"image/png":  "iVBORw0KGgo",
		},
		"metadata": map[string]any{},
	}}
	live := []output.Record{{
		"output_type": "display_data",
		"text/plain":  "<Figure size 640x480>",
		"image/png":   "a different rendering",
		"metadata":    map[string]any{},
	}}

	res, err := New(Options{}).Compare(live, reference)
	require.NoError(t, err)
	assert.True(t, res.Pass, "image/png is ignored by default")
}

func TestCompare_MissingKey(t *testing.T) {
	reference := []map[string]any{{
		"output_type": "execute_result",
		"data":        map[string]any{"text/plain": "3"},
	}}
	live := []output.Record{streamRecord("stdout", "3")}

	res, err := New(Options{}).Compare(live, reference)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Diagnostics, 1)

	d := res.Diagnostics[0]
	assert.Equal(t, MissingKey, d.Kind)
	assert.Equal(t, "text/plain", d.Field)
	assert.Equal(t, []string{"text/plain"}, d.ReferenceKeys)
	assert.Equal(t, []string{"text"}, d.LiveKeys)
	assert.Contains(t, res.Report(), "[text] != REFERENCE [text/plain]")
}

func TestCompare_EmptyLiveAgainstReference(t *testing.T) {
	res, err := New(Options{}).Compare(nil, []map[string]any{streamReference("stdout", "x")})
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, MissingKey, res.Diagnostics[0].Kind)
	assert.Empty(t, res.Diagnostics[0].LiveKeys)
}

func TestCompare_EmptyReferencePasses(t *testing.T) {
	res, err := New(Options{}).Compare([]output.Record{streamRecord("stdout", "noise")}, nil)
	require.NoError(t, err)
	assert.True(t, res.Pass)
}

func TestCompare_ExtraLiveFieldsTolerated(t *testing.T) {
	reference := []map[string]any{streamReference("stdout", "x")}
	live := []output.Record{
		streamRecord("stdout", "x"),
		{"output_type": "display_data", "text/html": "<p>new</p>", "metadata": map[string]any{}},
	}

	res, err := New(Options{}).Compare(live, reference)
	require.NoError(t, err)
	assert.True(t, res.Pass)
}

func multiFieldFixture() ([]output.Record, []map[string]any) {
	reference := []map[string]any{
		streamReference("stdout", "a"),
		{
			"output_type": "display_data",
			"data": map[string]any{
				"text/html":  "<b>h</b>",
				"text/plain": "p",
			},
		},
	}
	live := []output.Record{
		streamRecord("stdout", "A"),
		{"output_type": "display_data", "text/plain": "P", "metadata": map[string]any{}},
	}
	return live, reference
}

func TestCompare_FirstFailureWins(t *testing.T) {
	live, reference := multiFieldFixture()

	res, err := New(Options{}).Compare(live, reference)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "text", res.Diagnostics[0].Field)
}

func TestCompare_Exhaustive(t *testing.T) {
	live, reference := multiFieldFixture()

	res, err := New(Options{Exhaustive: true}).Compare(live, reference)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Diagnostics, 3)

	assert.Equal(t, Mismatch, res.Diagnostics[0].Kind)
	assert.Equal(t, "text", res.Diagnostics[0].Field)
	assert.Equal(t, MissingKey, res.Diagnostics[1].Kind)
	assert.Equal(t, "text/html", res.Diagnostics[1].Field)
	assert.Equal(t, Mismatch, res.Diagnostics[2].Kind)
	assert.Equal(t, "text/plain", res.Diagnostics[2].Field)
}

func TestCompare_SanitizerAppliesToBothSides(t *testing.T) {
	rules, err := sanitize.ParseRules("regex: 0x[0-9a-f]+\nreplace: ADDR\n")
	require.NoError(t, err)

	live := []output.Record{streamRecord("stdout", "<obj at 0x7f3a>")}
	reference := []map[string]any{streamReference("stdout", "<obj at 0x10cd>")}

	res, err := New(Options{}).Compare(live, reference)
	require.NoError(t, err)
	assert.False(t, res.Pass)

	res, err = New(Options{Sanitizer: sanitize.New(rules)}).Compare(live, reference)
	require.NoError(t, err)
	assert.True(t, res.Pass)
}

func TestCompare_SanitizedValuesInDiagnostics(t *testing.T) {
	rules, err := sanitize.ParseRules("regex: \\d+\nreplace: N\n")
	require.NoError(t, err)

	live := []output.Record{streamRecord("stdout", "took 12 s")}
	reference := []map[string]any{streamReference("stdout", "took 3 ms")}

	res, err := New(Options{Sanitizer: sanitize.New(rules)}).Compare(live, reference)
	require.NoError(t, err)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "took N ms", res.Diagnostics[0].Reference)
	assert.Equal(t, "took N s", res.Diagnostics[0].Live)
}

func TestCompare_CustomIgnoredKeys(t *testing.T) {
	live := []output.Record{{"output_type": "stream", "stream": "stdout", "text": "x"}}
	reference := []map[string]any{{"output_type": "stream", "name": "stderr", "text": "x"}}

	res, err := New(Options{IgnoredKeys: []string{"output_type"}}).Compare(live, reference)
	require.NoError(t, err)
	assert.False(t, res.Pass, "name is compared once it is no longer ignored")
	assert.Equal(t, MissingKey, res.Diagnostics[0].Kind)
	assert.Equal(t, "name", res.Diagnostics[0].Field)

	res, err = New(Options{IgnoredKeys: []string{}}).Compare(live, reference)
	require.NoError(t, err)
	assert.False(t, res.Pass)
}

func TestCompare_NonStringValuesRenderAsJSON(t *testing.T) {
	reference := []map[string]any{{
		"output_type": "display_data",
		"data": map[string]any{
			"application/json": map[string]any{"b": 1.0, "a": []any{true, nil}},
		},
	}}
	live := []output.Record{{
		"output_type":      "display_data",
		"application/json": map[string]any{"a": []any{true, nil}, "b": 1},
		"metadata":         map[string]any{},
	}}

	res, err := New(Options{}).Compare(live, reference)
	require.NoError(t, err)
	assert.True(t, res.Pass)
}

func TestCompare_JSONDiagnosticKeepsMarkup(t *testing.T) {
	reference := []map[string]any{{
		"output_type": "display_data",
		"data":        map[string]any{"application/json": map[string]any{"html": "<b>&</b>"}},
	}}
	live := []output.Record{{
		"output_type":      "display_data",
		"application/json": map[string]any{"html": "<i>&</i>"},
	}}

	res, err := New(Options{}).Compare(live, reference)
	require.NoError(t, err)
	require.False(t, res.Pass)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, `{"html":"<b>&</b>"}`, res.Diagnostics[0].Reference)
	assert.Equal(t, `{"html":"<i>&</i>"}`, res.Diagnostics[0].Live)
}

func TestCompare_StringListsAreJoined(t *testing.T) {
	reference := []map[string]any{{
		"output_type": "stream",
		"name":        "stdout",
		"text":        []any{"line 1\n", "line 2\n"},
	}}
	live := []output.Record{streamRecord("stdout", "line 1\nline 2\n")}

	res, err := New(Options{}).Compare(live, reference)
	require.NoError(t, err)
	assert.True(t, res.Pass)
}

func TestCompare_InvalidRecords(t *testing.T) {
	c := New(Options{})

	_, err := c.Compare([]output.Record{{"text": "no type"}}, nil)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = c.Compare(nil, []map[string]any{{"output_type": "display_data", "data": "flat"}})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestComparator_IgnoredKeys(t *testing.T) {
	assert.Equal(t, []string{
		"execution_count", "image/png", "latex", "metadata", "name",
		"output_type", "prompt_number", "stdout", "stream", "traceback",
	}, New(Options{}).IgnoredKeys())

	assert.Equal(t, []string{"a"}, New(Options{IgnoredKeys: []string{"a"}}).IgnoredKeys())
}

func TestDiagnostic_Lines(t *testing.T) {
	d := Diagnostic{Kind: Mismatch, Field: "text", Reference: "hi\n", Live: "hi\n\n"}
	assert.Equal(t, []string{
		"mismatch 'text'",
		ReferenceMarker,
		"hi\n",
		LiveMarker,
		"hi\n\n",
		EndMarker,
	}, d.Lines())

	missing := Diagnostic{Kind: MissingKey, Field: "text/plain", ReferenceKeys: []string{"text/plain"}, LiveKeys: []string{"text"}}
	assert.Equal(t, []string{`missing key "text/plain": TESTING [text] != REFERENCE [text/plain]`}, missing.Lines())
}
