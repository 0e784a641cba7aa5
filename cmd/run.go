package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/pagedvr/internal/input"
	"github.com/audiolibrelab/pagedvr/internal/server"
	"github.com/audiolibrelab/pagedvr/internal/service"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the recorder interactively",
	Long: `Run the recorder as a device: the terminal keys act as the three push
buttons (default 1 = play, 2 = record, 3 = stop) and the controller keeps
running between sessions. Press Ctrl+C to quit.

With --serve the web remote runs alongside the keyboard.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		noKeys, _ := cmd.Flags().GetBool("no-keys")
		serve, _ := cmd.Flags().GetBool("serve")

		var opts []service.Option
		var keyboard *input.Keyboard
		if !noKeys {
			keyboard = input.NewKeyboard(os.Stdin, cfg.Input.Keys, input.DefaultHold)
			if err := keyboard.Start(); err != nil {
				return fmt.Errorf("failed to read keyboard: %w", err)
			}
			defer keyboard.Stop()
			opts = append(opts, service.WithLines(keyboard), service.WithConsole(rawConsole{os.Stdout}))
		}

		var tasks func(service.Service) []func(context.Context) error
		if serve {
			tasks = func(svc service.Service) []func(context.Context) error {
				return []func(context.Context) error{server.New(svc, cfg.Server.Port).Serve}
			}
		}

		fmt.Printf("PageDVR ready: %s=play %s=record %s=stop, Ctrl+C quits\n",
			cfg.Input.Keys.Play, cfg.Input.Keys.Record, cfg.Input.Keys.Stop)

		return withService(cmd.Context(), func(ctx context.Context, svc service.Service) error {
			var quit <-chan struct{}
			if keyboard != nil {
				quit = keyboard.Quit()
			}
			select {
			case <-ctx.Done():
			case <-quit:
			}
			slog.Info("Shutting down", "state", svc.Status().State)
			return nil
		}, tasks, opts...)
	},
}

// rawConsole ends lines with CR LF, which a terminal in raw mode needs.
type rawConsole struct {
	f *os.File
}

func (c rawConsole) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+1)
	for _, b := range p {
		if b == '\n' {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	if _, err := c.f.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func init() {
	runCmd.Flags().Bool("no-keys", false, "do not read buttons from the terminal")
	runCmd.Flags().Bool("serve", false, "also start the web remote")
}
