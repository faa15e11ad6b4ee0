package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"clipstitch/internal/api"
	"clipstitch/internal/tracks"
)

func newTracksCommand(ctx *commandContext) *cobra.Command {
	tracksCmd := &cobra.Command{
		Use:   "tracks",
		Short: "Manage the per-episode track registry",
	}
	tracksCmd.AddCommand(newTracksAddCommand(ctx))
	tracksCmd.AddCommand(newTracksListCommand(ctx))
	return tracksCmd
}

func newTracksAddCommand(ctx *commandContext) *cobra.Command {
	var speakers []string
	var isDefault bool

	cmd := &cobra.Command{
		Use:   "add <episode-id> <track-name> <manifest-key>",
		Short: "Register a track for an episode",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			track := tracks.Track{
				EpisodeID:   args[0],
				Name:        args[1],
				ManifestKey: args[2],
				Speakers:    speakers,
				Default:     isDefault,
			}
			return ctx.withClient(func(client *api.Client) error {
				if err := client.RegisterTrack(cmd.Context(), track); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered track %s for episode %s\n", track.Name, track.EpisodeID)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&speakers, "speaker", "s", nil, "Speaker carried on the track (repeatable)")
	cmd.Flags().BoolVar(&isDefault, "default", false, "Use this track when no speaker matches")
	return cmd
}

func newTracksListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list <episode-id>",
		Short: "List the tracks registered for an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				list, err := client.Tracks(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintf(out, "No tracks registered for episode %s\n", args[0])
					return nil
				}
				fmt.Fprintln(out, renderTracks(list))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the tracks as JSON")
	return cmd
}

func renderTracks(list []tracks.Track) string {
	rows := make([][]string, 0, len(list))
	for _, t := range list {
		rows = append(rows, []string{t.Name, t.ManifestKey, strings.Join(t.Speakers, ", "), yesNo(t.Default)})
	}
	return renderTable([]string{"Track", "Manifest", "Speakers", "Default"}, rows, nil)
}
