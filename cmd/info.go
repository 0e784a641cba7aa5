package cmd

import (
	"fmt"

	"github.com/audiolibrelab/pagedvr/internal/storage"
	"github.com/audiolibrelab/pagedvr/internal/wave"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [file-name]",
	Short: "Show resolved configuration and recording details",
	Long:  `Display the header of a recording (the session file by default) and the resolved configuration with inheritance indicators. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := cfg.Session.FileName
		if len(args) == 1 {
			name = args[0]
		}

		fmt.Printf("=== RECORDING ===\n")
		store, err := storage.Mount(cfg.Storage.Directory)
		if err != nil {
			return err
		}
		info, err := wave.Inspect(store.Fs(), name, cfg.Buffer.PageSize)
		if err != nil {
			fmt.Printf("%s: %v\n", name, err)
		} else {
			fmt.Printf("file: %s\n", info.Name)
			fmt.Printf("sample_rate: %d\n", info.Format.SampleRate)
			fmt.Printf("channels: %d\n", info.Format.NumChannels)
			fmt.Printf("bit_depth: %d\n", info.BitDepth)
			fmt.Printf("data_length: %d bytes\n", info.DataLength)
			fmt.Printf("pages: %d\n", info.Pages)
			fmt.Printf("duration: %s\n", info.Duration)
		}

		// Display resolved configuration with inheritance indicators
		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")

		fmt.Printf("\n[Audio]\n")
		printField("sample_rate", cfg.Audio.SampleRate, "audio.sample_rate")
		printField("playback_divider", cfg.Audio.PlaybackDivider, "audio.playback_divider")
		printField("source", cfg.Audio.Source, "audio.source")
		printField("sink", cfg.Audio.Sink, "audio.sink")
		printField("quantum", cfg.Audio.Quantum, "audio.quantum")

		fmt.Printf("\n[Buffer]\n")
		printField("page_size", cfg.Buffer.PageSize, "buffer.page_size")
		printField("strict_alignment", cfg.Buffer.StrictAlignment, "buffer.strict_alignment")

		fmt.Printf("\n[Session]\n")
		printField("page_budget", cfg.Session.PageBudget, "session.page_budget")
		printField("file_name", cfg.Session.FileName, "session.file_name")

		fmt.Printf("\n[Storage]\n")
		printField("directory", cfg.Storage.Directory, "storage.directory")

		fmt.Printf("\n[Input]\n")
		printField("poll_interval", cfg.Input.PollInterval, "input.poll_interval")
		fmt.Printf("keys: play=%s record=%s stop=%s\n", cfg.Input.Keys.Play, cfg.Input.Keys.Record, cfg.Input.Keys.Stop)

		return nil
	},
}

func printField(name string, value any, key string) {
	fmt.Printf("%s: %v %s\n", name, value, getInheritanceIndicator(cfg.GetInheritance(key)))
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[built-in]"
	}
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
