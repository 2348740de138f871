package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/logsync/internal/logging"

	_ "time/tzdata" // timezone names must resolve on hosts without a zoneinfo database
)

var version = "dev"

const (
	exitFailure = 1
	exitConfig  = 2
	exitRestart = 3
)

func main() {
	os.Exit(run())
}

// logFlags are shared by the client and server commands.
type logFlags struct {
	verbose bool
	quiet   bool
	logFile string
}

func (f *logFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVarP(&f.quiet, "quiet", "q", false, "only log warnings and errors")
	cmd.PersistentFlags().StringVar(&f.logFile, "log", "", "also write JSON logs to `FILE`")
}

// setup installs the process logger. Flags win over the configured level.
func (f *logFlags) setup(configured string) (*slog.Logger, func() error, error) {
	level, err := logging.ParseLevel(configured)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case f.verbose:
		level = slog.LevelDebug
	case f.quiet:
		level = slog.LevelWarn
	}
	return logging.Setup(logging.Options{Level: level, LogFile: f.logFile})
}

func newRootCmd() *cobra.Command {
	var (
		showVersion bool
		logs        logFlags
	)

	rootCmd := &cobra.Command{
		Use:   "logsync",
		Short: "Ship tool log files from watched directories to a central server",
		Long: `logsync watches directories on instrument and lab machines and uploads new or
modified files to a central HTTP server, which names them, sorts them into
per-tool directories and records every upload in an audit ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "logsync %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	logs.register(rootCmd)

	rootCmd.AddCommand(
		newClientCmd(&logs),
		newServerCmd(&logs),
		newLedgerCmd(),
		docsCmd,
	)
	return rootCmd
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
			}
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	return 0
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

// configError marks err as a startup problem.
func configError(err error) error {
	return &exitError{code: exitConfig, err: err}
}
