package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/runfeatures/pkg/config"
	"github.com/ethpandaops/runfeatures/pkg/export"
	"github.com/ethpandaops/runfeatures/pkg/fsutil"
	"github.com/ethpandaops/runfeatures/pkg/indexstore"
	"github.com/ethpandaops/runfeatures/pkg/ingest"
	"github.com/ethpandaops/runfeatures/pkg/pipeline"
	"github.com/ethpandaops/runfeatures/pkg/report"
	"github.com/ethpandaops/runfeatures/pkg/upload"
)

var (
	processInput       string
	processFormat      string
	processSheet       string
	processOutput      string
	processRobots      []string
	processConcurrency int
	processFailFast    bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Compute run features and the run summary",
	Long: `Read a long-format telemetry file, build one feature table per run and
write the tables plus the cross-run summary to the configured outputs.`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().StringVar(&processInput, "input", "",
		"Telemetry file (csv, xlsx, parquet, s3:// or http(s):// URL), overrides input.path")
	processCmd.Flags().StringVar(&processFormat, "format", "",
		"Input format (csv, xlsx or parquet), overrides input.format")
	processCmd.Flags().StringVar(&processSheet, "sheet", "",
		"Sheet to read from an xlsx input, overrides input.sheet")
	processCmd.Flags().StringVar(&processOutput, "output", "",
		"Output directory, overrides output.dir")
	processCmd.Flags().StringSliceVar(&processRobots, "robots", nil,
		"Robots reported in the summary, overrides processing.robots")
	processCmd.Flags().IntVar(&processConcurrency, "concurrency", 0,
		"Runs processed in parallel, overrides processing.concurrency")
	processCmd.Flags().BoolVar(&processFailFast, "fail-fast", false,
		"Stop at the first failed run")
}

var errRunsFailed = errors.New("some runs failed")

func runProcess(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	applyProcessFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	owner, err := fsutil.ParseOwner(cfg.Output.Owner)
	if err != nil {
		return fmt.Errorf("parsing output.owner: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	inputPath, cleanup, err := resolveInput(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ingest.CheckMemory(ctx, log, inputPath); err != nil {
		return fmt.Errorf("checking input: %w", err)
	}

	reader, err := ingest.NewReader(log, &ingest.Config{
		Path:   inputPath,
		Format: cfg.Input.Format,
		Sheet:  cfg.Input.Sheet,
	})
	if err != nil {
		return err
	}

	measurements, err := reader.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	if err := export.Prepare(cfg.Output.Dir, owner); err != nil {
		return err
	}

	sinks, closeSinks, err := buildSinks(ctx, cfg, owner)
	if err != nil {
		return err
	}
	defer closeSinks()

	p := pipeline.NewPipeline(log, &pipeline.Config{
		Concurrency: cfg.Processing.Concurrency,
		Robots:      robotIDs(cfg.Processing.Robots),
		FailFast:    cfg.Processing.FailFast,
	}, sinks)

	summary, err := p.Process(ctx, measurements)
	if err != nil {
		return err
	}

	if cfg.Upload.S3.Enabled {
		if err := uploadOutput(ctx, &cfg.Upload.S3, cfg.Output.Dir); err != nil {
			return err
		}
	}

	return checkFailures(summary)
}

func applyProcessFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("input") {
		cfg.Input.Path = processInput
	}

	if flags.Changed("format") {
		cfg.Input.Format = processFormat
	}

	if flags.Changed("sheet") {
		cfg.Input.Sheet = processSheet
	}

	if flags.Changed("output") {
		cfg.Output.Dir = processOutput
	}

	if flags.Changed("robots") {
		cfg.Processing.Robots = processRobots
	}

	if flags.Changed("concurrency") {
		cfg.Processing.Concurrency = processConcurrency
	}

	if flags.Changed("fail-fast") {
		cfg.Processing.FailFast = processFailFast
	}
}

// resolveInput downloads s3:// and http(s):// inputs into a temp directory.
// The returned cleanup removes it.
func resolveInput(ctx context.Context, cfg *config.Config) (string, func(), error) {
	remoteS3 := upload.IsS3URL(cfg.Input.Path)
	if !remoteS3 && !ingest.IsHTTPURL(cfg.Input.Path) {
		return cfg.Input.Path, func() {}, nil
	}

	dir, err := os.MkdirTemp("", "runfeatures-input-")
	if err != nil {
		return "", nil, fmt.Errorf("creating download directory: %w", err)
	}

	cleanup := func() { _ = os.RemoveAll(dir) }

	var path string
	if remoteS3 {
		path, err = upload.NewS3Reader(log, &cfg.Upload.S3).Download(ctx, cfg.Input.Path, dir)
	} else {
		path, err = ingest.Fetch(ctx, nil, cfg.Input.Path, dir)
	}

	if err != nil {
		cleanup()

		return "", nil, fmt.Errorf("downloading input: %w", err)
	}

	log.WithField("path", path).Debug("Input downloaded")

	return path, cleanup, nil
}

// buildSinks assembles the configured outputs. The returned func releases
// the external connections.
func buildSinks(
	ctx context.Context,
	cfg *config.Config,
	owner *fsutil.OwnerConfig,
) (export.Multi, func(), error) {
	var closers []func()

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	sinks := export.Multi{export.NewCSVSink(log, cfg.Output.Dir, owner)}

	if cfg.Output.SummaryMarkdown {
		sinks = append(sinks, export.NewMarkdownSink(cfg.Output.Dir, cfg.Output.MarkdownMaxChars, owner))
	}

	if cfg.Output.SummaryXLSX {
		sinks = append(sinks, export.NewXLSXSink(cfg.Output.Dir, owner))
	}

	if cfg.Influx.Enabled {
		influx, err := export.NewInfluxSink(log, &cfg.Influx)
		if err != nil {
			return nil, nil, fmt.Errorf("creating influx sink: %w", err)
		}

		closers = append(closers, influx.Close)
		sinks = append(sinks, influx)
	}

	if cfg.Index.Enabled {
		store := indexstore.NewStore(log, &cfg.Index.Database)
		if err := store.Start(ctx); err != nil {
			closeAll()

			return nil, nil, fmt.Errorf("starting index store: %w", err)
		}

		closers = append(closers, func() {
			if err := store.Stop(); err != nil {
				log.WithError(err).Warn("Index store stop error")
			}
		})
		sinks = append(sinks, indexstore.NewSink(log, store))
	}

	log.WithFields(logrus.Fields{
		"output_dir": cfg.Output.Dir,
		"sinks":      len(sinks),
	}).Debug("Outputs configured")

	return sinks, closeAll, nil
}

func uploadOutput(ctx context.Context, cfg *config.S3UploadConfig, dir string) error {
	uploader := upload.NewS3Uploader(log, cfg)

	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("s3 preflight: %w", err)
	}

	if err := uploader.Upload(ctx, dir); err != nil {
		return fmt.Errorf("uploading results: %w", err)
	}

	return nil
}

// checkFailures turns isolated run failures into a non-zero exit once all
// outputs are written.
func checkFailures(summary *report.Summary) error {
	if len(summary.Failed) == 0 {
		return nil
	}

	for _, f := range summary.Failed {
		log.WithField("run_id", f.RunID).WithField("error", f.Error).Warn("Run failed")
	}

	return fmt.Errorf("%w: %d of %d", errRunsFailed,
		len(summary.Failed), len(summary.Failed)+len(summary.Runs))
}
