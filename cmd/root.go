package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "mt5-copier",
	Short: "MT5 trade replication engine",
	Long: `MT5 trade replication engine that mirrors trades from a master
terminal onto one or more copier terminals.

The copier subscribes to the master terminal bridge's notification
stream, normalizes trade activity into ordered events, and replicates
opens, SL/TP changes and closes onto the copier accounts with
volume scaling, bounded retries and crash recovery.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
