package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/bamsammich/logsync/internal/ledger"
)

func newLedgerCmd() *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "ledger FILE",
		Short: "Print a ledger file as a JSON array",
		Long: `Ledger files are a sequence of ",\n"-prefixed JSON objects and cannot be
parsed as JSON directly. This command reads one, full or small, and prints its
entries as a JSON array.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := ledger.ParseFile(afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "    ")
			}
			if err := enc.Encode(entries); err != nil {
				return fmt.Errorf("write entries: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "print without indentation")
	return cmd
}
