package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pders01/subwatch/internal/migrate"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			pipeline := migrate.NewDefault(a.store)
			current, err := a.store.SchemaVersion()
			if err != nil {
				return fmt.Errorf("reading schema version: %w", err)
			}
			queue, err := pipeline.Plan(current)
			if err != nil {
				return fmt.Errorf("planning migrations: %w", err)
			}

			fmt.Fprintf(a.out, "Schema version %d of %d\n", current, pipeline.Latest())
			if queue.Len() == 0 {
				fmt.Fprintln(a.out, SuccessStyle.Render("No migrations pending."))
				return nil
			}
			rows := [][]string{{"VERSION", "NAME"}}
			for _, s := range queue.Steps() {
				rows = append(rows, []string{fmt.Sprint(s.Version), s.Name})
			}
			fmt.Fprintln(a.out, table(rows))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			pipeline := migrate.NewDefault(a.store)
			queue, err := pipeline.Pending()
			if err != nil {
				return fmt.Errorf("planning migrations: %w", err)
			}
			if queue.Len() == 0 {
				if err := pipeline.Settle(); err != nil {
					return err
				}
				fmt.Fprintln(a.out, SuccessStyle.Render("Database is up to date."))
				return nil
			}
			if err := a.runMigrations(pipeline, queue); err != nil {
				return err
			}
			a.cleanupOrphanedThumbnails()
			version, err := a.store.SchemaVersion()
			if err != nil {
				return fmt.Errorf("reading schema version: %w", err)
			}
			fmt.Fprintln(a.out, SuccessStyle.Render(fmt.Sprintf("Database migrated to version %d.", version)))
			return nil
		},
	})

	return cmd
}
