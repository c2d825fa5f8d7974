package main

import (
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/ecommpipeline/internal/gcp"
	"github.com/Lllllllleong/ecommpipeline/internal/wizard"
)

func runLatest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	bucket, prefix, err := gcp.ParseGCSURI(args[0])
	if err != nil {
		return err
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	defer storageClient.Close()

	config := wizard.DefaultConfig()
	file, err := gcp.LatestObject(ctx, storageClient, bucket, prefix, config.Accepts)
	if err != nil {
		return err
	}
	logger.Debug("Newest spreadsheet found.", "uri", file.URI())
	fmt.Fprintln(cmd.OutOrStdout(), file.URI())
	return nil
}
