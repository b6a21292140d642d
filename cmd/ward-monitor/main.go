// Command ward-monitor ingests ward telemetry over HTTP, MQTT and Kafka,
// stores it, and serves readings and project metrics to the dashboard.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/config"
	"github.com/sweeney/ward-monitor/internal/logging"
)

// version can be overridden at build time via:
// go build -ldflags "-X main.version=1.2.3"
var version = "dev"

var banner = "\n" +
	" __      __          _\n" +
	" \\ \\    / /_ _ _ _ __| |\n" +
	"  \\ \\/\\/ / _' | '_/ _' |\n" +
	"   \\_/\\_/\\__,_|_| \\__,_|  monitor\n"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "ward-monitor",
		Short:        "Ward telemetry ingestion and metrics service",
		Long:         color.CyanString(banner) + "\nIngests ward sensor readings and serves project dashboard metrics.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to ward-monitor.yaml (default: ./ or /etc/ward-monitor/)")

	load := func() (*config.Config, *zap.Logger, error) {
		return loadConfig(configPath)
	}

	root.AddCommand(
		newServeCmd(load),
		newImportCmd(load),
		newSimulateCmd(load),
		newVersionCmd(),
	)
	return root
}

// loader resolves configuration and a logger for a subcommand.
type loader func() (*config.Config, *zap.Logger, error)

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ward-monitor %s\n", version)
		},
	}
}
