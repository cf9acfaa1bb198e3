package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jdtrading/mt5-copier/internal/app"
	"github.com/jdtrading/mt5-copier/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the trade copier",
	Long: `Starts the MT5 trade copier, which will:
1. Connect to the master and copier terminal bridges
2. Reconcile the master's open positions against the copy ledger
3. Replicate new trades, SL/TP changes and closes onto the copiers
4. Serve the dashboard REST API and websocket on HTTP_PORT

Use --no-auto-start to leave copying disabled until POST /api/start.`,
	RunE: runCopier,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("no-auto-start", false, "Do not start copying until POST /api/start")
}

func runCopier(cmd *cobra.Command, args []string) error {
	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	noAutoStart, _ := cmd.Flags().GetBool("no-auto-start")
	opts := &app.Options{
		NoAutoStart: noAutoStart,
	}

	application, err := app.New(cfg, logger, opts)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run(opts)
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
