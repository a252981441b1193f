// Package config loads validate-nb settings from an optional YAML file,
// the environment and defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/compare"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/sanitize"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/stream"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = ".validate-nb.yaml"

// TokenEnv names the environment variable that supplies the server token.
const TokenEnv = "JUPYTER_TOKEN"

// Defaults.
const (
	DefaultServerURL  = "http://127.0.0.1:8888"
	DefaultKernelName = "python3"
	DefaultJobs       = 1
)

// Duration is a time.Duration read from YAML as a Go duration string
// ("1.5s", "250ms") or a number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if parsed, err := time.ParseDuration(value.Value); err == nil {
		*d = Duration(parsed)
		return nil
	}
	seconds, err := strconv.ParseFloat(value.Value, 64)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(seconds * float64(time.Second))
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds every setting of a verification run.
type Config struct {
	// ServerURL is the Jupyter Server base URL.
	ServerURL string `yaml:"server_url"`
	// Token authenticates against the server. Filled from JUPYTER_TOKEN when empty.
	Token string `yaml:"token"`
	// KernelName is the kernelspec started for each notebook.
	KernelName string `yaml:"kernel_name"`

	MessageTimeout Duration `yaml:"message_timeout"`
	// CellTimeout bounds a whole cell. Zero means unbounded.
	CellTimeout Duration `yaml:"cell_timeout"`

	// SanitizeWith lists rule files, applied in order.
	SanitizeWith []string `yaml:"sanitize_with"`
	// IgnoreKeys replaces the default ignored keys when set, even to an empty list.
	IgnoreKeys []string `yaml:"ignore_keys"`
	// ExtraIgnoreKeys are added to the ignored keys.
	ExtraIgnoreKeys  []string `yaml:"extra_ignore_keys"`
	Exhaustive       bool     `yaml:"exhaustive"`
	NormalizeUnicode bool     `yaml:"normalize_unicode"`

	// HistoryDB is the SQLite run history path. Empty disables history.
	HistoryDB string `yaml:"history_db"`
	Jobs      int    `yaml:"jobs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServerURL:      DefaultServerURL,
		KernelName:     DefaultKernelName,
		MessageTimeout: Duration(stream.DefaultMessageTimeout),
		Jobs:           DefaultJobs,
	}
}

// Load reads the YAML file at path over the defaults. Unknown keys are
// rejected. Relative sanitize_with and history_db paths are resolved
// against the file's directory.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// LoadOptional loads path if it exists and returns the defaults otherwise.
func LoadOptional(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse decodes YAML over the defaults. An empty document yields the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths(base string) {
	for i, p := range c.SanitizeWith {
		if !filepath.IsAbs(p) {
			c.SanitizeWith[i] = filepath.Join(base, p)
		}
	}
	if c.HistoryDB != "" && !filepath.IsAbs(c.HistoryDB) {
		c.HistoryDB = filepath.Join(base, c.HistoryDB)
	}
}

// ApplyEnv fills unset values from the environment. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c.Token == "" {
		c.Token = getenv(TokenEnv)
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("server_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server_url: missing host")
	}
	if c.KernelName == "" {
		return fmt.Errorf("kernel_name: must not be empty")
	}
	if c.MessageTimeout < 0 {
		return fmt.Errorf("message_timeout: must not be negative")
	}
	if c.CellTimeout < 0 {
		return fmt.Errorf("cell_timeout: must not be negative")
	}
	if c.Jobs < 1 {
		return fmt.Errorf("jobs: must be at least 1, got %d", c.Jobs)
	}
	return nil
}

// Ignored returns the keys the comparator skips.
func (c Config) Ignored() []string {
	base := c.IgnoreKeys
	if base == nil {
		base = compare.DefaultIgnoredKeys
	}
	keys := make([]string, 0, len(base)+len(c.ExtraIgnoreKeys))
	keys = append(keys, base...)
	return append(keys, c.ExtraIgnoreKeys...)
}

// Sanitizer loads the rule files into a Sanitizer.
func (c Config) Sanitizer() (*sanitize.Sanitizer, error) {
	rules, err := sanitize.LoadFiles(c.SanitizeWith...)
	if err != nil {
		return nil, err
	}
	return sanitize.New(rules, sanitize.WithUnicodeNormalization(c.NormalizeUnicode)), nil
}

// Comparator builds the output comparator.
func (c Config) Comparator() (*compare.Comparator, error) {
	s, err := c.Sanitizer()
	if err != nil {
		return nil, err
	}
	return compare.New(compare.Options{
		IgnoredKeys: c.Ignored(),
		Sanitizer:   s,
		Exhaustive:  c.Exhaustive,
	}), nil
}

// Drain returns the message stream options.
func (c Config) Drain() stream.Options {
	return stream.Options{
		MessageTimeout: c.MessageTimeout.Std(),
		CellTimeout:    c.CellTimeout.Std(),
	}
}
