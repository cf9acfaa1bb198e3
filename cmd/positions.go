package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jdtrading/mt5-copier/internal/adapter"
	"github.com/jdtrading/mt5-copier/pkg/config"
	"github.com/jdtrading/mt5-copier/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Display open positions on the master terminal",
	Long: `Queries the master terminal bridge and prints its open positions.

Examples:
  # Show open positions (default table format)
  go run . positions

  # Export to JSON
  go run . positions --format json > positions.json`,
	RunE: runShowPositions,
}

//nolint:gochecknoglobals // Cobra boilerplate
var positionsFormat string

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(positionsCmd)
	positionsCmd.Flags().StringVar(&positionsFormat, "format", "table", "Output format: table, json")
}

func runShowPositions(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.AdapterMode != "bridge" {
		return fmt.Errorf("positions requires ADAPTER_MODE=bridge")
	}

	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	bridge := adapter.NewBridge(&adapter.BridgeConfig{
		AccountID: cfg.MasterAccountID,
		URL:       cfg.MasterBridgeURL,
		Timeout:   cfg.AdapterTimeout,
		Logger:    logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	positions, err := bridge.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Ticket < positions[j].Ticket
	})

	if positionsFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(positions)
	}

	return printPositionsTable(positions)
}

func printPositionsTable(positions []types.Position) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TICKET\tSYMBOL\tSIDE\tVOLUME\tOPEN\tSL\tTP\tPROFIT")

	for _, p := range positions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%.5f\t%.5f\t%.5f\t%.2f\n",
			p.Ticket, p.Symbol, p.Side, p.Volume, p.OpenPrice, p.StopLoss, p.TakeProfit, p.Profit)
	}

	err := w.Flush()
	if err != nil {
		return fmt.Errorf("flush table: %w", err)
	}

	fmt.Printf("\n%d open position(s)\n", len(positions))
	return nil
}
