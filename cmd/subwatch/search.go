package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search channel names and video titles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			results, err := a.searcher.Search(query, limit)
			if err != nil {
				return fmt.Errorf("searching: %w", err)
			}
			if len(results) == 0 {
				fmt.Fprintln(a.out, MutedStyle.Render("No matches for "+strconv.Quote(query)))
				return nil
			}

			rows := [][]string{{"KIND", "ID", "TITLE", "CHANNEL", "SCORE"}}
			for _, r := range results {
				if r.IsVideo && r.Video != nil {
					channel := ""
					if r.Channel != nil {
						channel = r.Channel.DisplayName()
					}
					rows = append(rows, []string{"video", strconv.FormatUint(r.Video.ID, 10),
						truncateTitle(r.Video.Title, 60), channel, fmt.Sprintf("%.2f", r.Score)})
					continue
				}
				if r.Channel != nil {
					rows = append(rows, []string{"channel", strconv.FormatUint(r.Channel.ID, 10),
						r.Channel.DisplayName(), r.Channel.ExternalID, fmt.Sprintf("%.2f", r.Score)})
				}
			}
			fmt.Fprintln(a.out, table(rows))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")
	return cmd
}
