package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/nccomm/internal/config"
	"github.com/danmuck/nccomm/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "ncctl",
	Short:        "Talk NETCONF to a device over SSH",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "nccomm.toml", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "override log level (trace|debug|info|warn|error|off)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ncctl: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config and configures logging from it.
func loadConfig(cmd *cobra.Command) (config.File, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.File{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.File{}, err
	}
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return config.File{}, err
	}
	if level != "" {
		lvl, ok := logging.ParseLevel(level)
		if !ok {
			return config.File{}, fmt.Errorf("unknown log level %q", level)
		}
		cfg.Log.Level = lvl
	}
	logging.ConfigureWith(cfg.Log)
	return cfg, nil
}
