package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"clipstitch/internal/transcode"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "probe <media-file>",
		Short: "Inspect a local media file with ffprobe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			media := transcode.New(transcode.OptionsFromConfig(cfg.Transcode), nil)
			meta, err := media.Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, meta)
			}
			resolution := string(meta.Resolution)
			if resolution == "" {
				resolution = "unknown"
			}
			rows := [][]string{
				{"Duration", strconv.FormatFloat(meta.Duration, 'f', 3, 64) + "s"},
				{"Size", formatBytes(meta.Size)},
				{"Video", fmt.Sprintf("%s %dx%d", meta.VideoCodec, meta.Width, meta.Height)},
				{"Audio", meta.AudioCodec},
				{"Resolution", resolution},
				{"Has video", yesNo(meta.HasVideo)},
				{"Has audio", yesNo(meta.HasAudio)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the metadata as JSON")
	return cmd
}
