package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/pagedvr/internal/audio"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available audio sources and sinks",
	Long:  `List the input sources and output sinks compiled into this binary. Select them with audio.source and audio.sink in the configuration.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, sinks := audio.GetAvailableBackends()

		fmt.Printf("Audio devices (%s/%s)\n\n", runtime.GOOS, runtime.GOARCH)

		fmt.Printf("SOURCES (%d found):\n", len(sources))
		for i, source := range sources {
			fmt.Printf("  %d. %s%s\n", i+1, source, selectedMarker(string(source), "source"))
		}

		fmt.Printf("\nSINKS (%d found):\n", len(sinks))
		for i, sink := range sinks {
			fmt.Printf("  %d. %s%s\n", i+1, sink, selectedMarker(string(sink), "sink"))
		}
		return nil
	},
}

func selectedMarker(name, kind string) string {
	if cfg == nil {
		return ""
	}
	current := cfg.Audio.Source
	if kind == "sink" {
		current = cfg.Audio.Sink
	}
	if current == name {
		return " (selected)"
	}
	return ""
}
