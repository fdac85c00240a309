package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/runfeatures/pkg/config"
	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Load and merge the config files and environment overrides, then print the result with secrets masked.`,
	RunE:  runPrintConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runPrintConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out, err := cfg.Redacted()
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}

	_, err = cmd.OutOrStdout().Write(out)

	return err
}

// loadConfig loads the config files. global.log_level applies unless
// --log-level was given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if !cmd.Flags().Changed("log-level") {
		level, err := logrus.ParseLevel(cfg.Global.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid global.log_level %q: %w", cfg.Global.LogLevel, err)
		}

		log.SetLevel(level)
	}

	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func robotIDs(ids []string) []telemetry.RobotID {
	out := make([]telemetry.RobotID, len(ids))
	for i, id := range ids {
		out[i] = telemetry.RobotID(id)
	}

	return out
}
