package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/runfeatures/pkg/api"
	"github.com/ethpandaops/runfeatures/pkg/indexstore"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read API server",
	Long:  `Serve the indexed run reports and summary over HTTP.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "",
		"Listen address, overrides api.listen")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("listen") {
		cfg.API.Listen = serveListen
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("validating api config: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	store := indexstore.NewStore(log, &cfg.Index.Database)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting index store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Index store stop error")
		}
	}()

	srv := api.NewServer(log, &cfg.API, store, robotIDs(cfg.Processing.Robots))

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down API server")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
