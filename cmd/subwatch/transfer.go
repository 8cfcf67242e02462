package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pders01/subwatch/internal/importer"
	"github.com/pders01/subwatch/internal/task"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.toml>",
		Short: "Import channels and watched markers from a TOML subscription list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening import file: %w", err)
			}
			defer f.Close()

			doc, err := importer.Read(f)
			if err != nil {
				return err
			}

			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			value, err := a.runTask("import", fmt.Sprintf("Importing %d channels", len(doc.Channels)), func(ctx context.Context, progress chan<- task.Progress) (any, error) {
				summary, err := importer.Import(a.store, doc)
				if err != nil {
					return nil, err
				}
				if a.index != nil {
					for _, changed := range summary.Changed {
						a.index.OnChannelUpdated(changed.Channel, changed.Videos, nil)
					}
				}
				task.Send(progress, 1, "Done")
				return summary, nil
			})
			if err != nil {
				return fmt.Errorf("importing: %w", err)
			}
			a.print(importReport(value.(*importer.Summary)))
			return nil
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var withVideos bool
	cmd := &cobra.Command{
		Use:   "export [file.toml]",
		Short: "Export channels as a TOML subscription list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			var w io.Writer = a.out
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("creating export file: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := importer.Export(a.store, w, withVideos); err != nil {
				return fmt.Errorf("exporting: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withVideos, "videos", false, "Include videos with their watched state")
	return cmd
}
