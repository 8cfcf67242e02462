package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pders01/subwatch/internal/duration"
	"github.com/pders01/subwatch/internal/feed"
	"github.com/pders01/subwatch/internal/reconcile"
	"github.com/pders01/subwatch/internal/task"
)

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch every subscribed channel and merge its videos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			engine := a.reconciler()
			value, err := a.runTask("refresh", "Refreshing subscriptions", func(ctx context.Context, progress chan<- task.Progress) (any, error) {
				return engine.RunSubscribed(ctx, progress)
			})
			if err != nil {
				return fmt.Errorf("refreshing subscriptions: %w", err)
			}
			a.print(refreshReport(value.(*reconcile.RunResult)))
			return nil
		},
	}
}

// reconciler wires the engine to the configured collaborators.
func (a *app) reconciler() *reconcile.Engine {
	opts := []reconcile.Option{reconcile.WithThumbnails(a.thumbs)}
	if b := duration.FromConfig(a.cfg, a.store); b.Enabled() {
		opts = append(opts, reconcile.WithDurations(b))
	}
	if a.index != nil {
		opts = append(opts, reconcile.WithListener(a.index))
	}
	return reconcile.New(a.store, feed.NewFetcher(a.cfg), opts...)
}

func newBackfillCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Look up missing video durations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			backfiller := duration.FromConfig(a.cfg, a.store)
			if !backfiller.Enabled() {
				fmt.Fprintln(a.out, MutedStyle.Render("Duration lookup is disabled. Set duration.api_key to enable it."))
				return nil
			}

			value, err := a.runTask("backfill", "Looking up durations", func(ctx context.Context, progress chan<- task.Progress) (any, error) {
				return backfiller.BackfillAll(ctx, func(done, total int) {
					task.Send(progress, float64(done)/float64(total), fmt.Sprintf("%d/%d videos", done, total))
				})
			})
			if err != nil {
				return fmt.Errorf("backfilling durations: %w", err)
			}
			a.print(backfillReport(value.(*duration.Report)))
			return nil
		},
	}
}
