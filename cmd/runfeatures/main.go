package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes. exitRunsFailed means every output was written but at least
// one run could not be processed.
const (
	exitOK         = 0
	exitError      = 1
	exitRunsFailed = 2
)

var (
	cfgFiles  []string
	logLevel  string
	logFormat string
	log       *logrus.Logger
)

func main() {
	log = logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	err := rootCmd.Execute()
	if err != nil {
		log.WithError(err).Error("Command failed")
	}

	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errRunsFailed):
		return exitRunsFailed
	default:
		return exitError
	}
}

var rootCmd = &cobra.Command{
	Use:   "runfeatures",
	Short: "Robot telemetry feature engineering",
	Long: `Runfeatures turns long-format robot telemetry into per-run feature tables
(displacement, velocity, acceleration, total force) and a cross-run summary
of durations and distances travelled.

Input may be csv, xlsx or parquet, read from disk, s3:// or http(s)://.
The process command exits with status 2 when some runs failed but every
output for the remaining runs was written.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return configureLogger(log, logLevel, logFormat)
	},
}

// configureLogger applies the --log-level and --log-format flags.
func configureLogger(l *logrus.Logger, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", format)
	}

	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("runfeatures %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&cfgFiles, "config", nil,
		"config file path (repeat to merge several, later files win)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level ("+strings.Join(logLevels(), ", ")+")")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"log format (text, json)")

	rootCmd.AddCommand(versionCmd)
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}
