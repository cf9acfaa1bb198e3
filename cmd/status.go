package cmd

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jdtrading/mt5-copier/pkg/config"
	"github.com/jdtrading/mt5-copier/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running copier's status",
	Long: `Queries the /api/status endpoint of a running copier daemon
and prints the replication state.`,
	RunE: runShowStatus,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("addr", "", "Daemon address (default http://localhost:HTTP_PORT)")
}

func runShowStatus(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = "http://localhost:" + cfg.HTTPPort
	}

	client := resty.New().
		SetBaseURL(addr).
		SetTimeout(5 * time.Second)

	var status types.StatusResponse
	resp, err := client.R().
		SetResult(&status).
		Get("/api/status")
	if err != nil {
		return fmt.Errorf("query status: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("query status: HTTP %d", resp.StatusCode())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}
