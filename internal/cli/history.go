package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/report"
	"github.com/davidcortesortuno/pytest-validate-nb/internal/store"
)

// HistoryOptions holds flags for the history commands.
type HistoryOptions struct {
	*RootOptions
	DB    string
	Limit int
}

// NewHistoryCommand creates the history command and its show subcommand.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List runs recorded with --history or the history_db config key, newest first.

Examples:
  validate-nb history --db .validate-nb.db
  validate-nb history --limit 5 --format json
  validate-nb history show <run-id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(cmd, opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "history database (default history_db from config)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "number of runs to list (0 = all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the cell results of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showRun(cmd, opts, args[0])
		},
	})

	return cmd
}

func openHistory(opts *HistoryOptions) (*store.Store, error) {
	path := opts.DB
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return nil, err
		}
		path = cfg.HistoryDB
	}
	if path == "" {
		return nil, NewExitError(ExitCommandError, "no history database: pass --db or set history_db")
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open history", err)
	}
	return s, nil
}

func listRuns(cmd *cobra.Command, opts *HistoryOptions) error {
	s, err := openHistory(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "list runs", err)
	}

	if f := newFormatter(cmd, opts.RootOptions); f.JSON() {
		return f.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		writeRun(cmd.OutOrStdout(), r)
	}
	return nil
}

func showRun(cmd *cobra.Command, opts *HistoryOptions, id string) error {
	s, err := openHistory(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.ReadRun(cmd.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		return WrapExitError(ExitCommandError, "show run", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "read run", err)
	}
	cells, err := s.ReadCellResults(cmd.Context(), id)
	if err != nil {
		return WrapExitError(ExitCommandError, "read cell results", err)
	}

	w := cmd.OutOrStdout()
	if f := newFormatter(cmd, opts.RootOptions); f.JSON() {
		return f.Success(map[string]any{"run": run, "cells": cells})
	}
	writeRun(w, run)
	for _, c := range cells {
		name := fmt.Sprintf("cell %d", c.CellIndex)
		if c.CellIndex == store.NotebookCellIndex {
			name = "notebook"
		}
		fmt.Fprintf(w, "  %-6s %s::%s\n", c.Outcome, c.Notebook, name)
		if c.Report != "" {
			fmt.Fprintln(w, c.Report)
		}
	}
	return nil
}

func writeRun(w io.Writer, r store.Run) {
	fmt.Fprintf(w, "%s  %s  %s  %d notebooks  %s\n",
		r.ID,
		r.StartedAt.Local().Format(time.DateTime),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		r.Notebooks,
		report.SummaryLine(r.Counts),
	)
}
