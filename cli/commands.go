// Package cli implements the pdfbatchsign command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/digitorus/pdfbatchsign/config"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// ExitError carries the process exit status of a failed run.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Options are the command line flags.
type Options struct {
	Config      string
	Workers     int
	Timeout     string
	MetricsFile string
	LogLevel    string
	LogFormat   string
}

// Usage prints how to invoke the signer.
func Usage(w io.Writer) {
	name := "pdfbatchsign"
	fmt.Fprintf(w, "Batch PDF signer\n\n1) %s file_list.txt\n", name)
	fmt.Fprintln(w, "The file list should have one entry per line and each entry should be: input.pdf output.pdf")
	fmt.Fprintf(w, "2) %s input_dir output_dir\n", name)
	fmt.Fprintln(w, "Files in input_dir are named password_output.pdf")
}

// New returns the root command.
func New() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:           "pdfbatchsign <file_list.txt> | <input_dir> <output_dir>",
		Short:         "Sign, stamp and encrypt PDF documents in bulk.",
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				Usage(cmd.ErrOrStderr())
				return &ExitError{Code: 1}
			}
			return RunBatch(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Config, "config", "c", config.DefaultLocation, "Configuration file (.ini, .yaml or .toml)")
	flags.IntVar(&opts.Workers, "workers", 0, "Documents signed in parallel (overrides workers)")
	flags.StringVar(&opts.Timeout, "timeout", "", "Time limit per document, e.g. 90s (overrides timeout)")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (overrides log_level)")
	flags.StringVar(&opts.LogFormat, "log-format", "console", "Log format: console or json")
	return cmd
}

// Run executes the command line and returns the exit status.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if args == nil {
		// cobra reads os.Args for a nil slice
		args = []string{}
	}
	cmd := New()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, err)
	return 1
}

// Main runs the command line with the process arguments and exits.
func Main(ctx context.Context) {
	osExit(Run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}
