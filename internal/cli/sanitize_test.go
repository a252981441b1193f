package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "validate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func writeRules(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.txt")
	rules := "[addresses]\nregex: 0x[0-9a-f]+\nreplace: <ADDR>\n\n[times]\nregex: \\d+\\.\\d+s\nreplace: <T>\n"
	require.NoError(t, os.WriteFile(path, []byte(rules), 0o644))
	return path
}

func TestSanitize_File(t *testing.T) {
	rules := writeRules(t)
	input := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(input, []byte("<Obj at 0x7f3a> took 1.25s\n"), 0o644))

	code, stdout, stderr := execute(t, "sanitize", "--with", rules, input)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Equal(t, "<Obj at <ADDR>> took <T>\n", stdout)
}

func TestSanitize_Stdin(t *testing.T) {
	rules := writeRules(t)

	cmd := NewRootCommand()
	var stdout bytes.Buffer
	cmd.SetArgs([]string{"sanitize", "--with", rules})
	cmd.SetIn(strings.NewReader("at 0xdeadbeef"))
	cmd.SetOut(&stdout)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "at <ADDR>", stdout.String())
}

func TestSanitize_JSON(t *testing.T) {
	rules := writeRules(t)
	input := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(input, []byte("0xff"), 0o644))

	code, stdout, _ := execute(t, "--format", "json", "sanitize", "--with", rules, input)
	require.Equal(t, ExitSuccess, code)

	var resp struct {
		Data struct {
			Rules int    `json:"rules"`
			Text  string `json:"text"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, 2, resp.Data.Rules)
	assert.Equal(t, "<ADDR>", resp.Data.Text)
}

func TestSanitize_VerboseLogsToStderr(t *testing.T) {
	rules := writeRules(t)
	input := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))

	code, stdout, stderr := execute(t, "-v", "sanitize", "--with", rules, input)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "x", stdout)
	assert.Contains(t, stderr, "loaded 2 rules from 1 files")
}

func TestSanitize_Errors(t *testing.T) {
	rules := writeRules(t)
	bad := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("regex: (\nreplace: x\n"), 0o644))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing with", []string{"sanitize"}, `required flag(s) "with"`},
		{"missing rules", []string{"sanitize", "--with", filepath.Join(t.TempDir(), "none.txt")}, "load sanitize rules"},
		{"invalid pattern", []string{"sanitize", "--with", bad}, "invalid pattern"},
		{"missing input", []string{"sanitize", "--with", rules, filepath.Join(t.TempDir(), "none.txt")}, "read input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, tt.args...)
			assert.Equal(t, ExitCommandError, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}
