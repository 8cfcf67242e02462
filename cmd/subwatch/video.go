package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pders01/subwatch/internal/debuglog"
	"github.com/pders01/subwatch/internal/migrate"
	"github.com/pders01/subwatch/internal/storage"
	"github.com/pders01/subwatch/internal/task"
)

func newVideoCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "video",
		Aliases: []string{"videos"},
		Short:   "List videos and track what you watched",
	}
	cmd.AddCommand(
		newVideoListCmd(opts),
		newVideoWatchCmd(opts),
		newVideoResumeCmd(opts),
		newVideoRemoveCmd(opts),
	)
	return cmd
}

func newVideoListCmd(opts *rootOptions) *cobra.Command {
	var (
		channelID uint64
		unwatched bool
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List videos, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			videos, err := a.store.GetVideos(channelID)
			if err != nil {
				return fmt.Errorf("loading videos: %w", err)
			}
			channels, err := channelsByID(a.store)
			if err != nil {
				return err
			}

			rows := [][]string{{"ID", "CHANNEL", "TITLE", "PUBLISHED", "LENGTH", "WATCHED"}}
			for _, v := range videos {
				if unwatched && v.Watched {
					continue
				}
				ch, known := channels[v.ChannelID]
				// Across channels, only subscribed ones count as unwatched.
				if unwatched && channelID == 0 && known && !ch.Subscribed {
					continue
				}
				if limit > 0 && len(rows) > limit {
					break
				}
				title := truncateTitle(v.Title, 60)
				watched := yesNo(v.Watched)
				if !v.Watched && !a.plain {
					title = UnwatchedStyle.Render(title)
				}
				if v.StartTime > 0 && !v.Watched {
					watched = "at " + formatSeconds(v.StartTime)
				}
				channelName := ""
				if known {
					channelName = ch.DisplayName()
				}
				rows = append(rows, []string{
					strconv.FormatUint(v.ID, 10),
					channelName,
					title,
					v.Published.Local().Format(timeLayout),
					formatSeconds(v.Duration),
					watched,
				})
			}
			if len(rows) == 1 {
				fmt.Fprintln(a.out, MutedStyle.Render("No videos."))
				return nil
			}
			fmt.Fprintln(a.out, table(rows))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&channelID, "channel", 0, "Only videos of this channel id")
	cmd.Flags().BoolVar(&unwatched, "unwatched", false, "Hide watched videos and, without --channel, unsubscribed channels")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of videos (0 for all)")
	return cmd
}

func newVideoWatchCmd(opts *rootOptions) *cobra.Command {
	var unwatch bool
	cmd := &cobra.Command{
		Use:   "watch <id>...",
		Short: "Mark videos as watched",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				if err := a.store.MarkVideoWatched(id, !unwatch); err != nil {
					return fmt.Errorf("video %d: %w", id, err)
				}
			}
			state := "watched"
			if unwatch {
				state = "unwatched"
			}
			fmt.Fprintf(a.out, "Marked %d video(s) %s\n", len(args), state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&unwatch, "unwatch", false, "Mark as unwatched instead")
	return cmd
}

func newVideoResumeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id> <offset>",
		Short: "Remember where to resume a video (seconds or m:ss)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			seconds, err := migrate.ParseClock(args[1])
			if err != nil {
				return fmt.Errorf("resume offset: %w", err)
			}
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.SetVideoStartTime(id, seconds); err != nil {
				return fmt.Errorf("video %d: %w", id, err)
			}
			fmt.Fprintf(a.out, "Video %d resumes at %s\n", id, formatSeconds(seconds))
			return nil
		},
	}
}

func newVideoRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a video and its thumbnail",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.store.GetVideo(id)
			if err != nil {
				return fmt.Errorf("video %d: %w", id, err)
			}

			value, err := a.runTask("remove-video", "Removing "+truncateTitle(v.Title, 40), func(ctx context.Context, progress chan<- task.Progress) (any, error) {
				removed, err := a.store.DeleteVideo(v.ID)
				if err != nil {
					return nil, err
				}
				if err := a.thumbs.Remove(removed.ThumbnailPath); err != nil {
					debuglog.Warnf("thumbnail cleanup for %s: %v", removed.ExternalID, err)
				}
				if a.index != nil {
					a.index.OnChannelUpdated(nil, nil, []*storage.Video{removed})
				}
				task.Send(progress, 1, "Done")
				return removed, nil
			})
			if err != nil {
				return fmt.Errorf("removing video %d: %w", id, err)
			}
			fmt.Fprintf(a.out, "Removed %s (%s)\n", value.(*storage.Video).Title, v.ExternalID)
			return nil
		},
	}
}

func channelsByID(store *storage.Store) (map[uint64]*storage.Channel, error) {
	channels, err := store.GetAllChannels()
	if err != nil {
		return nil, fmt.Errorf("loading channels: %w", err)
	}
	byID := make(map[uint64]*storage.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}
	return byID, nil
}

// formatSeconds prints a duration like 1h2m3s; unknown durations are "-".
func formatSeconds(s int) string {
	if s <= 0 {
		return "-"
	}
	return (time.Duration(s) * time.Second).String()
}

func truncateTitle(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
