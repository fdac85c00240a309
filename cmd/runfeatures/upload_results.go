package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	uploadMethod    string
	uploadResultDir string
)

var uploadResultsCmd = &cobra.Command{
	Use:   "upload-results",
	Short: "Upload an output directory to remote storage",
	Long:  `Upload a local output directory to S3-compatible storage using the config file settings.`,
	RunE:  runUploadResults,
}

func init() {
	rootCmd.AddCommand(uploadResultsCmd)
	uploadResultsCmd.Flags().StringVar(&uploadMethod, "method", "s3",
		"Upload method (currently only \"s3\")")
	uploadResultsCmd.Flags().StringVar(&uploadResultDir, "result-dir", "",
		"Path to the output directory to upload (default: output.dir)")
}

func runUploadResults(cmd *cobra.Command, _ []string) error {
	if uploadMethod != "s3" {
		return fmt.Errorf("unsupported method %q (only \"s3\" is supported)", uploadMethod)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.ValidateUpload(); err != nil {
		return fmt.Errorf("validating upload config: %w", err)
	}

	dir := uploadResultDir
	if dir == "" {
		dir = cfg.Output.Dir
	}

	log.WithField("dir", dir).Info("Uploading results")

	if err := uploadOutput(cmd.Context(), &cfg.Upload.S3, dir); err != nil {
		return err
	}

	log.Info("Upload completed successfully")

	return nil
}
