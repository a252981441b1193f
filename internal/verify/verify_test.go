package verify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/compare"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/notebook"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/protocol"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/sanitize"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/stream"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/testutil"
)

func printCell(index int, stored string) notebook.CodeCell {
	return notebook.CodeCell{
		Index: index,
		Cell: notebook.Cell{
			Type:   notebook.TypeCode,
			Source: `print("hi")`,
			Outputs: []map[string]any{
				{"output_type": "stream", "name": "stdout", "text": stored},
			},
		},
	}
}

func TestVerify_PrintPasses(t *testing.T) {
	session := testutil.NewFakeSession(testutil.Execution(`print("hi")`, testutil.Stream("stdout", "hi\n")))

	err := New(session, Options{}).Verify(context.Background(), printCell(0, "hi\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{`print("hi")`}, session.Submitted())
}

func TestVerify_TrailingBlankLineFails(t *testing.T) {
	session := testutil.NewFakeSession(testutil.Execution(`print("hi")`, testutil.Stream("stdout", "hi\n\n")))

	err := New(session, Options{}).Verify(context.Background(), printCell(4, "hi\n"))
	require.Error(t, err)
	assert.True(t, IsCellExecutionError(err))
	assert.False(t, IsInternal(err))

	var ce *CellExecutionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 4, ce.CellIndex)
	assert.Equal(t, Label, ce.Label)
	assert.Equal(t, `print("hi")`, ce.Source)
	require.Len(t, ce.Diagnostics, 1)
	assert.Equal(t, "text", ce.Diagnostics[0].Field)
	assert.Equal(t, "hi\n", ce.Diagnostics[0].Reference)
	assert.Equal(t, "hi\n\n", ce.Diagnostics[0].Live)

	report := ce.Report()
	assert.Contains(t, report, "mismatch 'text'")
	assert.Contains(t, report, compare.ReferenceMarker+"\nhi\n\n"+compare.LiveMarker+"\nhi\n\n\n"+compare.EndMarker)
	assert.Equal(t, `cell 4: Error with cell: mismatch "text"`, err.Error())
}

func TestVerify_CellsShareOneSession(t *testing.T) {
	session := testutil.NewFakeSession(
		testutil.Execution("x = 1"),
		testutil.Execution("print(x)", testutil.Stream("stdout", "1\n")),
	)
	v := New(session, Options{})

	first := notebook.CodeCell{Index: 0, Cell: notebook.Cell{Source: "x = 1", Outputs: []map[string]any{}}}
	second := notebook.CodeCell{Index: 1, Cell: notebook.Cell{
		Source:  "print(x)",
		Outputs: []map[string]any{{"output_type": "stream", "name": "stdout", "text": "1\n"}},
	}}

	require.NoError(t, v.Verify(context.Background(), first))
	require.NoError(t, v.Verify(context.Background(), second))
	assert.Equal(t, []string{"x = 1", "print(x)"}, session.Submitted())
	assert.Equal(t, 0, session.Channel().Remaining())
}

func TestVerify_SanitizedComparison(t *testing.T) {
	rules, err := sanitize.ParseRules("regex: \\d{2}:\\d{2}:\\d{2}\nreplace: TIME\n")
	require.NoError(t, err)

	session := testutil.NewFakeSession(testutil.Execution("now()", testutil.Stream("stdout", "The time is: 09:15:02\n")))
	cell := notebook.CodeCell{Index: 0, Cell: notebook.Cell{
		Source:  "now()",
		Outputs: []map[string]any{{"output_type": "stream", "name": "stdout", "text": "The time is: 11:44:21\n"}},
	}}

	comparator := compare.New(compare.Options{Sanitizer: sanitize.New(rules)})
	require.NoError(t, New(session, Options{Comparator: comparator}).Verify(context.Background(), cell))
}

func TestVerify_InternalErrors(t *testing.T) {
	tests := []struct {
		name    string
		session func() *testutil.FakeSession
		code    InternalErrorCode
	}{
		{
			name: "submit rejected",
			session: func() *testutil.FakeSession {
				s := testutil.NewFakeSession()
				s.SubmitErr = errors.New("kernel is dead")
				return s
			},
			code: ErrCodeSubmitFailed,
		},
		{
			name: "malformed stream payload",
			session: func() *testutil.FakeSession {
				return testutil.NewFakeSession([]protocol.Message{
					testutil.Message(protocol.KindStream, map[string]any{"name": "stdout"}),
				})
			},
			code: ErrCodeInvalidRecord,
		},
		{
			name: "channel closed mid-cell",
			session: func() *testutil.FakeSession {
				s := testutil.NewFakeSession([]protocol.Message{testutil.Status(protocol.StateBusy)})
				s.Channel().Close()
				return s
			},
			code: ErrCodeChannelFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.session(), Options{}).Verify(context.Background(), printCell(2, "hi\n"))
			require.Error(t, err)
			assert.True(t, IsInternal(err))
			assert.False(t, IsCellExecutionError(err))

			code, ok := InternalCode(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, err.Error(), "cell 2")
		})
	}
}

func TestVerify_InvalidReferenceIsInternal(t *testing.T) {
	session := testutil.NewFakeSession(testutil.Execution("x", testutil.Stream("stdout", "x")))
	cell := notebook.CodeCell{Cell: notebook.Cell{
		Source:  "x",
		Outputs: []map[string]any{{"output_type": "display_data", "data": []any{"not", "a", "bundle"}}},
	}}

	err := New(session, Options{}).Verify(context.Background(), cell)
	code, ok := InternalCode(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidRecord, code)
	assert.ErrorIs(t, err, compare.ErrInvalidRecord)
}

func TestVerify_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := testutil.NewFakeSession(testutil.Execution(`print("hi")`, testutil.Stream("stdout", "hi\n")))
	err := New(session, Options{}).Verify(ctx, printCell(0, "hi\n"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsInternal(err))
	assert.False(t, IsCellExecutionError(err))
}

// chattySession answers every Receive with more output, so only a total
// bound ends a drain.
type chattySession struct{}

func (chattySession) Submit(context.Context, string) (string, error) { return "chatty", nil }

func (chattySession) Messages() protocol.Channel { return chattyChannel{} }

type chattyChannel struct{}

func (chattyChannel) Receive(ctx context.Context, _ time.Duration) (protocol.Message, error) {
	select {
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case <-time.After(2 * time.Millisecond):
		return testutil.Stream("stdout", "."), nil
	}
}

func TestVerify_CellTimeout(t *testing.T) {
	v := New(chattySession{}, Options{Drain: stream.Options{CellTimeout: 30 * time.Millisecond}})

	err := v.Verify(context.Background(), printCell(0, "hi\n"))
	code, ok := InternalCode(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeCellTimeout, code)
	assert.ErrorIs(t, err, stream.ErrCellTimeout)
}

func TestVerify_LogsLifecycle(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	session := testutil.NewFakeSession(testutil.Execution(`print("hi")`, testutil.Stream("stdout", "hi\n")))
	require.NoError(t, New(session, Options{Logger: logger}).Verify(context.Background(), printCell(0, "hi\n")))

	assert.Contains(t, logs.String(), "cell submitted")
	assert.Contains(t, logs.String(), "msg_id=msg-1")
	assert.Contains(t, logs.String(), "cell drained")
	assert.Contains(t, logs.String(), "stop=idle")
}

func TestCellExecutionError_SummarizesExtraDiagnostics(t *testing.T) {
	err := &CellExecutionError{
		CellIndex: 1,
		Label:     Label,
		Diagnostics: []compare.Diagnostic{
			{Kind: compare.MissingKey, Field: "text/html"},
			{Kind: compare.Mismatch, Field: "text"},
		},
	}
	assert.Equal(t, `cell 1: Error with cell: missing key "text/html" and 1 more`, err.Error())
}
