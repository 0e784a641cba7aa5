package cmd

import (
	"context"
	"log/slog"

	"github.com/audiolibrelab/pagedvr/internal/server"
	"github.com/audiolibrelab/pagedvr/internal/service"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the PageDVR web server to press the record, play and stop buttons
from a browser or with curl, list and download recordings, and scrape
Prometheus metrics at /metrics.

The server will display the local network URL for easy access from mobile devices.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Server.Port
		}

		slog.Info("PageDVR web server starting", "port", port, "config", cfgFile)

		tasks := func(svc service.Service) []func(context.Context) error {
			return []func(context.Context) error{server.New(svc, port).Serve}
		}
		return withService(cmd.Context(), func(ctx context.Context, svc service.Service) error {
			<-ctx.Done()
			return nil
		}, tasks)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the web server (default from config)")
}
