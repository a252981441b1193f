package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/compare"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/output"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, "python3", cfg.KernelName)
	assert.Equal(t, time.Second, cfg.MessageTimeout.Std())
	assert.Zero(t, cfg.CellTimeout)
	assert.Equal(t, 1, cfg.Jobs)
	assert.Empty(t, cfg.HistoryDB)
	require.NoError(t, cfg.Validate())
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server_url: https://hub.example.org/user/me
token: abc
kernel_name: python3.12
message_timeout: 2.5s
cell_timeout: 60
sanitize_with: [rules.txt]
extra_ignore_keys: [text/html]
exhaustive: true
normalize_unicode: true
history_db: history.db
jobs: 4
`))
	require.NoError(t, err)
	assert.Equal(t, "https://hub.example.org/user/me", cfg.ServerURL)
	assert.Equal(t, "abc", cfg.Token)
	assert.Equal(t, "python3.12", cfg.KernelName)
	assert.Equal(t, 2500*time.Millisecond, cfg.MessageTimeout.Std())
	assert.Equal(t, time.Minute, cfg.CellTimeout.Std())
	assert.Equal(t, []string{"rules.txt"}, cfg.SanitizeWith)
	assert.True(t, cfg.Exhaustive)
	assert.True(t, cfg.NormalizeUnicode)
	assert.Equal(t, 4, cfg.Jobs)
	require.NoError(t, cfg.Validate())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "server: http://localhost:8888\n"},
		{"bad duration", "message_timeout: soon\n"},
		{"list duration", "cell_timeout: [1]\n"},
		{"wrong type", "jobs: many\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, DefaultFileName, "sanitize_with: [rules.txt, /abs/rules.txt]\nhistory_db: runs.db\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "rules.txt"), "/abs/rules.txt"}, cfg.SanitizeWith)
	assert.Equal(t, filepath.Join(dir, "runs.db"), cfg.HistoryDB)
}

func TestLoad_ErrorNamesFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "nope: 1\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestLoadOptional_MissingFileIsDefault(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), DefaultFileName))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{TokenEnv: "from-env"}

	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "from-env", cfg.Token)

	cfg.Token = "explicit"
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "explicit", cfg.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"scheme", func(c *Config) { c.ServerURL = "ftp://host" }, "server_url"},
		{"host", func(c *Config) { c.ServerURL = "http://" }, "missing host"},
		{"kernel", func(c *Config) { c.KernelName = "" }, "kernel_name"},
		{"message timeout", func(c *Config) { c.MessageTimeout = -1 }, "message_timeout"},
		{"cell timeout", func(c *Config) { c.CellTimeout = -1 }, "cell_timeout"},
		{"jobs", func(c *Config) { c.Jobs = 0 }, "jobs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIgnored(t *testing.T) {
	cfg := Default()
	assert.Equal(t, compare.DefaultIgnoredKeys, cfg.Ignored())

	cfg.ExtraIgnoreKeys = []string{"text/html"}
	assert.Equal(t, append(append([]string{}, compare.DefaultIgnoredKeys...), "text/html"), cfg.Ignored())

	cfg.IgnoreKeys = []string{}
	assert.Equal(t, []string{"text/html"}, cfg.Ignored())
}

func TestComparator_UsesRulesAndKeys(t *testing.T) {
	dir := t.TempDir()
	rules := writeFile(t, dir, "rules.txt", "[addr]\nregex: 0x[0-9a-f]+\nreplace: ADDR\n")

	cfg := Default()
	cfg.SanitizeWith = []string{rules}
	c, err := cfg.Comparator()
	require.NoError(t, err)

	live := []output.Record{{"output_type": "stream", "stream": "stdout", "text": "at 0xdead\n"}}
	reference := []map[string]any{{"output_type": "stream", "name": "stdout", "text": "at 0xbeef\n"}}
	res, err := c.Compare(live, reference)
	require.NoError(t, err)
	assert.True(t, res.Pass, res.Report())
}

func TestComparator_MissingRulesFile(t *testing.T) {
	cfg := Default()
	cfg.SanitizeWith = []string{filepath.Join(t.TempDir(), "missing.txt")}
	_, err := cfg.Comparator()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDrain(t *testing.T) {
	cfg := Default()
	cfg.CellTimeout = Duration(30 * time.Second)
	opts := cfg.Drain()
	assert.Equal(t, time.Second, opts.MessageTimeout)
	assert.Equal(t, 30*time.Second, opts.CellTimeout)
}
