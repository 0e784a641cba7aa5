package cmd

import (
	"context"
	"fmt"

	"github.com/audiolibrelab/pagedvr/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play back the session file",
	Long: `Play the session file through the configured output until it ends or
Ctrl+C is pressed. Anything past the end of the recording is silence.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applySessionFlags(cmd)
		fmt.Printf("Playing: %s\n", cfg.Session.FileName)

		if err := withService(cmd.Context(), func(ctx context.Context, svc service.Service) error {
			return executeStep(ctx, svc, 'p')
		}, nil); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}

		return executePipelineAfter('p')
	},
}

func init() {
	playCmd.Flags().StringP("file", "f", "", "session file name (overrides config)")
}
