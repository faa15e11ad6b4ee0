package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"clipstitch/internal/api"
	"clipstitch/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [clip-id]",
		Short: "Show daemon status, or the current status of one clip",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if len(args) == 1 {
					status, err := client.Clip(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if jsonOutput {
						return writeJSON(cmd, status)
					}
					printClipStatus(cmd, status)
					return nil
				}
				summary, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				clips, err := client.Clips(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, struct {
						Workflow workflow.Summary `json:"workflow"`
						Clips    []string         `json:"clips"`
					}{summary, clips})
				}
				printSummary(cmd, summary, clips)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the status as JSON")
	return cmd
}

func printSummary(cmd *cobra.Command, summary workflow.Summary, clips []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scheduler running: %s\n", yesNo(summary.Running))
	fmt.Fprintf(out, "Workers:           %d\n", summary.Workers)
	fmt.Fprintf(out, "Queued:            %d\n", summary.Queued)
	if len(summary.Active) > 0 {
		fmt.Fprintf(out, "Active:            %s\n", strings.Join(summary.Active, ", "))
	}
	if summary.LastErr != "" {
		fmt.Fprintf(out, "Last error:        %s\n", summary.LastErr)
	}
	fmt.Fprintf(out, "Clips submitted:   %d\n", len(clips))
}

func printClipStatus(cmd *cobra.Command, status api.ClipStatus) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	fmt.Fprintf(out, "Clip %s: %s\n", status.ClipID, renderStatus(status.Current.Status, colorize))
	if status.Current.Timestamp != "" {
		fmt.Fprintf(out, "  Updated: %s\n", status.Current.Timestamp)
	}
	if detail := historyDetail(status.Current); detail != "" {
		fmt.Fprintf(out, "  Detail:  %s\n", detail)
	}
	if len(status.Segments) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderSegments(status.Segments))
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var segment int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history <clip-id>",
		Short: "Show the status history of a clip or one of its segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				var (
					resp api.HistoryResponse
					err  error
				)
				if segment > 0 {
					resp, err = client.SegmentHistory(cmd.Context(), args[0], segment)
				} else {
					resp, err = client.History(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderHistory(resp.History, shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&segment, "segment", 0, "Show the history of the segment with this order")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the history as JSON")
	return cmd
}
