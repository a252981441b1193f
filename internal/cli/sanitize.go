package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/sanitize"
)

// SanitizeOptions holds flags for the sanitize command.
type SanitizeOptions struct {
	*RootOptions
	With             []string
	NormalizeUnicode bool
}

// NewSanitizeCommand creates the sanitize command.
func NewSanitizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SanitizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sanitize --with <rules> [file]",
		Short: "Apply sanitize rules to text",
		Long: `Apply the rules of one or more sanitize files to a file, or to stdin when no
file is given, and print the result. Use it to check what a rules file does
to a cell's output before running notebooks with it.

Examples:
  validate-nb sanitize --with sanitize.cfg output.txt
  python script.py | validate-nb sanitize --with sanitize.cfg`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSanitize(cmd, opts, args)
		},
	}

	cmd.Flags().StringSliceVar(&opts.With, "with", nil, "sanitize rules file (repeatable)")
	cmd.Flags().BoolVar(&opts.NormalizeUnicode, "normalize-unicode", false, "NFC-normalize text before sanitizing")
	_ = cmd.MarkFlagRequired("with")

	return cmd
}

func runSanitize(cmd *cobra.Command, opts *SanitizeOptions, args []string) error {
	rules, err := sanitize.LoadFiles(opts.With...)
	if err != nil {
		return WrapExitError(ExitCommandError, "load sanitize rules", err)
	}
	f := newFormatter(cmd, opts.RootOptions)
	f.VerboseLog("loaded %d rules from %d files", len(rules), len(opts.With))

	var data []byte
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "read input", err)
	}

	out := sanitize.New(rules, sanitize.WithUnicodeNormalization(opts.NormalizeUnicode)).Text(string(data))
	if f.JSON() {
		return f.Success(map[string]any{"rules": len(rules), "text": out})
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}
