package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/config"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/kernel"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/report"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/runner"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/store"
)

// RunOptions holds flags for the run command. Flags left unset keep the
// value from the config file.
type RunOptions struct {
	*RootOptions
	SanitizeWith     []string
	ExtraIgnoreKeys  []string
	Server           string
	Token            string
	Kernel           string
	MessageTimeout   time.Duration
	CellTimeout      time.Duration
	Exhaustive       bool
	NormalizeUnicode bool
	Jobs             int
	History          string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <notebook-or-dir>...",
		Short: "Verify notebook cell outputs",
		Long: `Execute every code cell of each notebook on a fresh kernel and compare the
fresh outputs with the outputs stored in the notebook.

Directories are searched for *.ipynb files. Cells whose source starts with
%% or "# PYTEST_VALIDATE_IGNORE_OUTPUT" are not run.

Exit codes:
  0 - All cells reproduced their outputs
  1 - One or more cells produced different output
  2 - Command error (bad config, server unreachable, kernel failure, etc.)

Examples:
  validate-nb run notebooks/
  validate-nb run demo.ipynb --sanitize-with sanitize.cfg
  validate-nb run notebooks/ --jobs 4 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotebooks(cmd, opts, args)
		},
	}

	cmd.Flags().StringSliceVar(&opts.SanitizeWith, "sanitize-with", nil, "sanitize rules file (repeatable)")
	cmd.Flags().StringSliceVar(&opts.ExtraIgnoreKeys, "ignore-key", nil, "additional output key to ignore (repeatable)")
	cmd.Flags().StringVar(&opts.Server, "server", "", "Jupyter Server URL")
	cmd.Flags().StringVar(&opts.Token, "token", "", "Jupyter Server token (default $"+config.TokenEnv+")")
	cmd.Flags().StringVar(&opts.Kernel, "kernel", "", "kernel name")
	cmd.Flags().DurationVar(&opts.MessageTimeout, "message-timeout", 0, "wait for each output message")
	cmd.Flags().DurationVar(&opts.CellTimeout, "cell-timeout", 0, "bound on a whole cell (0 = unbounded)")
	cmd.Flags().BoolVar(&opts.Exhaustive, "exhaustive", false, "report every differing field, not only the first")
	cmd.Flags().BoolVar(&opts.NormalizeUnicode, "normalize-unicode", false, "NFC-normalize text before sanitizing")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 0, "notebooks verified at once")
	cmd.Flags().StringVar(&opts.History, "history", "", "record the run in this SQLite database")

	return cmd
}

// apply overrides cfg with the flags the user set.
func (o *RunOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("sanitize-with") {
		cfg.SanitizeWith = o.SanitizeWith
	}
	if flags.Changed("ignore-key") {
		cfg.ExtraIgnoreKeys = append(cfg.ExtraIgnoreKeys, o.ExtraIgnoreKeys...)
	}
	if flags.Changed("server") {
		cfg.ServerURL = o.Server
	}
	if flags.Changed("token") {
		cfg.Token = o.Token
	}
	if flags.Changed("kernel") {
		cfg.KernelName = o.Kernel
	}
	if flags.Changed("message-timeout") {
		cfg.MessageTimeout = config.Duration(o.MessageTimeout)
	}
	if flags.Changed("cell-timeout") {
		cfg.CellTimeout = config.Duration(o.CellTimeout)
	}
	if flags.Changed("exhaustive") {
		cfg.Exhaustive = o.Exhaustive
	}
	if flags.Changed("normalize-unicode") {
		cfg.NormalizeUnicode = o.NormalizeUnicode
	}
	if flags.Changed("jobs") {
		cfg.Jobs = o.Jobs
	}
	if flags.Changed("history") {
		cfg.HistoryDB = o.History
	}
}

func runNotebooks(cmd *cobra.Command, opts *RunOptions, paths []string) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	opts.apply(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	comparator, err := cfg.Comparator()
	if err != nil {
		return WrapExitError(ExitCommandError, "load sanitize rules", err)
	}
	client, err := kernel.NewClient(cfg.ServerURL,
		kernel.WithToken(cfg.Token),
		kernel.WithLogger(logger),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "configure kernel client", err)
	}

	hooks := &runner.NotebookHooks{
		Sessions: func(ctx context.Context) (runner.Session, error) {
			s, err := client.Open(ctx, cfg.KernelName)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Comparator: comparator,
		Drain:      cfg.Drain(),
		Logger:     logger,
	}

	runOpts := []runner.Option{runner.WithJobs(cfg.Jobs), runner.WithLogger(logger)}
	var text *report.Text
	if Format(opts.Format) == FormatText {
		text = report.NewText(cmd.OutOrStdout(), report.WithVerbose(opts.Verbose))
		runOpts = append(runOpts, runner.WithReporter(text))
	}

	summary, err := runner.New(hooks, runOpts...).Run(cmd.Context(), paths)
	if errors.Is(err, runner.ErrNoNotebooks) {
		return WrapExitError(ExitCommandError, "nothing to verify", err)
	}
	if err != nil && len(summary.Notebooks) == 0 {
		return WrapExitError(ExitCommandError, "run notebooks", err)
	}

	if text != nil {
		text.Summary(summary)
	} else if werr := report.WriteJSON(cmd.OutOrStdout(), summary); werr != nil {
		return WrapExitError(ExitCommandError, "write report", werr)
	}

	if cfg.HistoryDB != "" {
		id, herr := recordRun(cmd.Context(), cfg.HistoryDB, summary)
		if herr != nil {
			return WrapExitError(ExitCommandError, "record history", herr)
		}
		logger.Debug("run recorded", "run_id", id, "db", cfg.HistoryDB)
	}

	if err != nil {
		return WrapExitError(ExitCommandError, "run interrupted", err)
	}
	return outcomeError(summary.Counts())
}

// outcomeError maps run counts to the command's exit status.
func outcomeError(c runner.Counts) error {
	switch {
	case c.Failed > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d cells failed", c.Failed, c.Total()))
	case c.Errored > 0:
		return NewExitError(ExitCommandError, fmt.Sprintf("%d of %d cells could not be verified", c.Errored, c.Total()))
	default:
		return nil
	}
}

func recordRun(ctx context.Context, path string, summary runner.Summary) (string, error) {
	s, err := store.Open(path)
	if err != nil {
		return "", err
	}
	defer s.Close()

	id, err := store.NewRunID()
	if err != nil {
		return "", err
	}
	run, cells := store.FromSummary(id, summary, report.ItemReport)
	if err := s.WriteRun(context.WithoutCancel(ctx), run, cells); err != nil {
		return "", err
	}
	return id, nil
}
