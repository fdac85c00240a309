package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/runfeatures/pkg/fsutil"
	"github.com/ethpandaops/runfeatures/pkg/indexstore"
	"github.com/ethpandaops/runfeatures/pkg/report"
)

var summaryOutput string

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Generate a markdown summary from the run index",
	Long:  `Read every indexed run report and print the markdown summary, or write it to --output.`,
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
	summaryCmd.Flags().StringVar(&summaryOutput, "output", "",
		"Output file path (default: stdout)")
}

func runSummary(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Index.Database.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}

	ctx := cmd.Context()

	store := indexstore.NewStore(log, &cfg.Index.Database)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting index store: %w", err)
	}

	defer func() { _ = store.Stop() }()

	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}

	sum, err := indexstore.BuildSummary(robotIDs(cfg.Processing.Robots), runs)
	if err != nil {
		return err
	}

	md := report.GenerateMarkdown(sum, cfg.Output.MarkdownMaxChars)

	if summaryOutput == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), md)

		return err
	}

	if err := fsutil.WriteFileAtomic(summaryOutput, []byte(md), 0644, nil); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}

	log.WithField("output", summaryOutput).Info("Markdown summary generated successfully")

	return nil
}
