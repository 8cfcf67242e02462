package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pders01/subwatch/internal/config"
)

// Version is the version of the application, set at build time
var Version = "dev"

type rootOptions struct {
	configPath     string
	dbPath         string
	debug          bool
	plain          bool
	generateConfig bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           AppName,
		Short:         "Track YouTube channel subscriptions from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.generateConfig {
				return generateConfig(cmd, opts)
			}
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flags.StringVar(&opts.dbPath, "db", "", "Path to database file (overrides config)")
	flags.BoolVar(&opts.debug, "debug", false, "Write debug logs to the log file")
	flags.BoolVar(&opts.plain, "plain", false, "Plain output without progress bars or styling")
	root.Flags().BoolVar(&opts.generateConfig, "generate-config", false, "Generate default config file")

	root.AddCommand(
		newVersionCmd(),
		newRefreshCmd(opts),
		newMigrateCmd(opts),
		newChannelCmd(opts),
		newVideoCmd(opts),
		newSearchCmd(opts),
		newBackfillCmd(opts),
		newImportCmd(opts),
		newExportCmd(opts),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if isTerminal(out) {
				fmt.Fprintln(out, banner("subscription tracker "+Version))
				return
			}
			fmt.Fprintf(out, "%s %s\n", AppName, Version)
			fmt.Fprintln(out, "YouTube subscription tracker")
			fmt.Fprintln(out, "github.com/pders01/subwatch")
		},
	}
}

func generateConfig(cmd *cobra.Command, opts *rootOptions) error {
	configFile := opts.configPath
	if configFile == "" {
		home, _ := os.UserHomeDir()
		configFile = filepath.Join(home, ".config", AppName, "config.toml")
	}
	if err := config.GenerateDefaultConfig(configFile); err != nil {
		return fmt.Errorf("generating config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration at: %s\n", configFile)
	return nil
}
