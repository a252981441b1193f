// Package cli implements the validate-nb command tree.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // see ValidFormats
	ConfigPath string // empty means config.DefaultFileName if present
}

// NewRootCommand creates the root command for the validate-nb CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-nb",
		Short: "validate-nb - notebook output regression checks",
		Long: `Re-execute the code cells of Jupyter notebooks on a live kernel and check
that every cell reproduces the outputs stored in the notebook file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ParseFormat(opts.Format); err != nil {
				return WrapExitError(ExitCommandError, "parse flags", err)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", string(FormatText), "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default "+config.DefaultFileName+" if present)")

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewSanitizeCommand(opts))

	return cmd
}

// Execute runs the command tree with args and returns the process exit code.
// Errors are written to stderr in the selected format.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	f := newFormatter(cmd, opts)
	f.Writer = stderr
	_ = f.Error(err)
	return GetExitCode(err)
}

// loadConfig reads the config file selected by opts and fills unset values
// from the environment.
func loadConfig(opts *RootOptions) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.Load(opts.ConfigPath)
	} else {
		cfg, err = config.LoadOptional(config.DefaultFileName)
	}
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "load config", err)
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// newLogger builds the command logger: text on w, Debug when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
