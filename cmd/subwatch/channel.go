package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pders01/subwatch/internal/feed"
	"github.com/pders01/subwatch/internal/reconcile"
	"github.com/pders01/subwatch/internal/storage"
	"github.com/pders01/subwatch/internal/task"
)

const timeLayout = "2006-01-02 15:04"

func newChannelCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "channel",
		Aliases: []string{"channels"},
		Short:   "Manage channels",
	}
	cmd.AddCommand(
		newChannelAddCmd(opts),
		newChannelListCmd(opts),
		newChannelRemoveCmd(opts),
		newChannelSubscribeCmd(opts, true),
		newChannelSubscribeCmd(opts, false),
	)
	return cmd
}

func newChannelAddCmd(opts *rootOptions) *cobra.Command {
	var (
		name    string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "add <channel id | @handle | channel URL>",
		Short: "Subscribe to a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			resolved, err := feed.NewChannelResolver(a.cfg).Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = resolved.Name
			}

			ch := &storage.Channel{Name: name, ExternalID: resolved.ExternalID, Subscribed: true}
			if err := a.store.CreateChannel(ch); err != nil {
				if errors.Is(err, storage.ErrDuplicate) {
					return fmt.Errorf("already subscribed to %s", resolved.ExternalID)
				}
				return fmt.Errorf("saving channel: %w", err)
			}
			if a.index != nil {
				a.index.OnChannelUpdated(ch, nil, nil)
			}
			fmt.Fprintf(a.out, "%s %s (%s) as #%d\n", SuccessStyle.Render("Added"), ch.DisplayName(), ch.ExternalID, ch.ID)

			if !refresh {
				return nil
			}
			engine := a.reconciler()
			value, err := a.runTask("refresh", "Fetching "+ch.DisplayName(), func(ctx context.Context, progress chan<- task.Progress) (any, error) {
				return engine.Run(ctx, []*storage.Channel{ch}, progress)
			})
			if err != nil {
				return fmt.Errorf("refreshing %s: %w", ch.DisplayName(), err)
			}
			a.print(refreshReport(value.(*reconcile.RunResult)))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the channel page title)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch the channel's videos right away")
	return cmd
}

func newChannelListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			channels, err := a.store.GetAllChannels()
			if err != nil {
				return fmt.Errorf("loading channels: %w", err)
			}
			if len(channels) == 0 {
				fmt.Fprintln(a.out, MutedStyle.Render("No channels yet. Add one with: subwatch channel add <id>"))
				return nil
			}

			rows := [][]string{{"ID", "NAME", "CHANNEL ID", "VIDEOS", "UNWATCHED", "SUBSCRIBED", "REFRESHED"}}
			subscribed := make(map[uint64]bool, len(channels))
			for _, ch := range channels {
				subscribed[ch.ID] = ch.Subscribed
				total, err := a.store.CountVideos(func(v *storage.Video) bool { return v.ChannelID == ch.ID })
				if err != nil {
					return fmt.Errorf("counting videos of %s: %w", ch.DisplayName(), err)
				}
				// Unsubscribed channels stay out of unwatched counts.
				unwatched := "-"
				if ch.Subscribed {
					n, err := a.store.CountVideos(func(v *storage.Video) bool { return v.ChannelID == ch.ID && !v.Watched })
					if err != nil {
						return fmt.Errorf("counting videos of %s: %w", ch.DisplayName(), err)
					}
					unwatched = strconv.Itoa(n)
				}
				refreshed := "never"
				if !ch.LastRefreshed.IsZero() {
					refreshed = ch.LastRefreshed.Local().Format(timeLayout)
				}
				rows = append(rows, []string{
					strconv.FormatUint(ch.ID, 10),
					ch.DisplayName(),
					ch.ExternalID,
					strconv.Itoa(total),
					unwatched,
					yesNo(ch.Subscribed),
					refreshed,
				})
			}
			fmt.Fprintln(a.out, table(rows))

			pending, err := a.store.CountVideos(func(v *storage.Video) bool { return !v.Watched && subscribed[v.ChannelID] })
			if err != nil {
				return fmt.Errorf("counting unwatched videos: %w", err)
			}
			fmt.Fprintf(a.out, "%d unwatched videos in subscribed channels\n", pending)
			return nil
		},
	}
}

func newChannelRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a channel with all its videos and thumbnails",
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

			ch, err := a.store.GetChannel(id)
			if err != nil {
				return fmt.Errorf("channel %d: %w", id, err)
			}

			value, err := a.runTask("remove-channel", "Removing "+ch.DisplayName(), func(ctx context.Context, progress chan<- task.Progress) (any, error) {
				videos, err := a.store.DeleteChannel(ch.ID)
				if err != nil {
					return nil, err
				}
				task.Send(progress, 0.5, "Removing thumbnails")
				a.thumbs.RemoveAll(videos)
				if a.index != nil {
					a.index.OnChannelDeleted(ch, videos)
				}
				task.Send(progress, 1, "Done")
				return len(videos), nil
			})
			if err != nil {
				return fmt.Errorf("removing %s: %w", ch.DisplayName(), err)
			}
			fmt.Fprintf(a.out, "Removed %s and %d videos\n", ch.DisplayName(), value.(int))
			return nil
		},
	}
}

func newChannelSubscribeCmd(opts *rootOptions, subscribe bool) *cobra.Command {
	use, short := "subscribe <id>", "Include a channel in refreshes and unwatched listings"
	if !subscribe {
		use, short = "unsubscribe <id>", "Keep a channel but leave it out of refreshes and unwatched listings"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
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

			ch, err := a.store.GetChannel(id)
			if err != nil {
				return fmt.Errorf("channel %d: %w", id, err)
			}
			ch.Subscribed = subscribe
			if err := a.store.SaveChannel(ch); err != nil {
				return fmt.Errorf("saving channel: %w", err)
			}
			fmt.Fprintf(a.out, "%s: subscribed=%s\n", ch.DisplayName(), yesNo(subscribe))
			return nil
		},
	}
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
