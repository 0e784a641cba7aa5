package cmd

import (
	"context"
	"log/slog"

	"github.com/audiolibrelab/pagedvr/internal/service"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one session",
	Long: `Record from the configured source into the session file until the page
budget is used up (305 pages, about 10 seconds, by default) or Ctrl+C is
pressed. Stopping early keeps the page currently being filled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applySessionFlags(cmd)
		slog.Info("Record command started", "file", cfg.Session.FileName, "pages", cfg.Session.PageBudget)

		if err := withService(cmd.Context(), func(ctx context.Context, svc service.Service) error {
			return executeStep(ctx, svc, 'r')
		}, nil); err != nil {
			return err
		}

		// Execute pipeline if specified
		return executePipelineAfter('r')
	},
}

// applySessionFlags copies --pages and --file onto the loaded configuration.
func applySessionFlags(cmd *cobra.Command) {
	if pages, _ := cmd.Flags().GetInt("pages"); pages > 0 {
		cfg.Session.PageBudget = pages
	}
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		cfg.Session.FileName = file
	}
}

func init() {
	recordCmd.Flags().Int("pages", 0, "page budget (overrides config)")
	recordCmd.Flags().StringP("file", "f", "", "session file name (overrides config)")
}
