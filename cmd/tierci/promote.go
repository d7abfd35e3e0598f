package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierci/internal/publish"
)

var promoteList bool

var promoteCmd = &cobra.Command{
	Use:   "promote <channel> [release]",
	Short: "Publish a draft release",
	Long: `Move a draft release to the channel's published releases and point
LATEST at it.

Tag runs publish to release channels as drafts; promotion is the manual
step that makes them visible.

Examples:
  tierci promote stable --list
  tierci promote stable v1.4.0`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		channel := publish.NewReleaseChannel(cfg.Storage.ReleaseRoot)

		if promoteList || len(args) == 1 {
			return listChannel(os.Stdout, channel, args[0])
		}

		dst, err := channel.Promote(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Promoted %s/%s -> %s\n", args[0], args[1], dst)
		return nil
	},
}

func init() {
	promoteCmd.Flags().BoolVarP(&promoteList, "list", "l", false, "List drafts and releases of the channel")
}

// listChannel prints the drafts and published releases of a channel.
func listChannel(w io.Writer, rc *publish.ReleaseChannel, channel string) error {
	drafts, err := rc.Drafts(channel)
	if err != nil {
		return err
	}
	releases, err := rc.Releases(channel)
	if err != nil {
		return err
	}
	latest, _ := rc.Latest(channel)

	fmt.Fprintf(w, "Channel %s\n", channel)
	fmt.Fprintln(w, "  Drafts:")
	if len(drafts) == 0 {
		fmt.Fprintln(w, "    (none)")
	}
	for _, d := range drafts {
		fmt.Fprintf(w, "    %s\n", d)
	}
	fmt.Fprintln(w, "  Releases:")
	if len(releases) == 0 {
		fmt.Fprintln(w, "    (none)")
	}
	for _, r := range releases {
		marker := ""
		if r == latest {
			marker = " (latest)"
		}
		fmt.Fprintf(w, "    %s%s\n", r, marker)
	}
	return nil
}
