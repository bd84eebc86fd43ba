package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sprezz-net/sprezz/pkg/config"
	"github.com/sprezz-net/sprezz/pkg/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	configFile string
	verbose    bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sprezz",
		Short: "Zot federation hub",
		Long: `A Zot protocol hub: hosts channels, answers discovery queries and
exchanges messages with remote hubs.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (yaml or json)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		serveCmd(),
		channelCmd(),
		connectCmd(),
		fingerCmd(),
		postCmd(),
		pingCmd(),
		keygenCmd(),
		versionCmd(),
	)
	return root
}

// loadConfig reads the configuration and builds the logger it describes.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	} else if level == "" {
		level = "info"
	}
	logger, err := logging.New(level, cfg.Log.JSON)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sprezz %s\n", Version)
		},
	}
}
