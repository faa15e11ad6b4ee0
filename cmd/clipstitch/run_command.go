package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"clipstitch/internal/daemon"
	"clipstitch/internal/event"
	"clipstitch/internal/logging"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run <event-file|->",
		Short: "Run one clip workflow in-process and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			input, err := event.Decode(data)
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			svc, err := daemon.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, runErr := svc.Orchestrator.Run(cmd.Context(), input)
			if jsonOutput {
				if err := writeJSON(cmd, result); err != nil {
					return err
				}
				return runErr
			}
			if runErr != nil {
				return fmt.Errorf("clip %s failed: %w", input.ClipID, runErr)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Clip %s complete (run %s)\n", result.ClipID, result.RunID)
			if result.Clip != nil {
				fmt.Fprintf(out, "  Key:        %s\n", result.Clip.Key)
				fmt.Fprintf(out, "  Size:       %s\n", formatBytes(result.Clip.Size))
				fmt.Fprintf(out, "  Duration:   %ss\n", strconv.FormatFloat(result.Clip.Duration, 'f', 3, 64))
				fmt.Fprintf(out, "  Resolution: %s\n", result.Clip.Resolution)
			}
			fmt.Fprintf(out, "  Segments:   %d\n", len(result.Segments))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the workflow result as JSON")
	return cmd
}
