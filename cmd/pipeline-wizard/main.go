// Command pipeline-wizard runs the integration wizard from a terminal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/ecommpipeline/internal/gcp"
	"github.com/Lllllllleong/ecommpipeline/internal/wizard"
)

var (
	// Global flags
	verbose     bool
	schemaURL   string
	pipelineURL string
	httpTimeout time.Duration

	logger = slog.Default()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pipeline-wizard",
	Short: "Turn a sample spreadsheet into an e-commerce data pipeline",
	Long: `pipeline-wizard uploads a sample spreadsheet to the schema inference
service, lets you remap the inferred fields and creates the pipeline.

Service endpoints default to SCHEMA_SERVICE_URL and PIPELINE_SERVICE_URL.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return nil
	},
}

// runCmd walks a spreadsheet through upload, confirmation and submission
var runCmd = &cobra.Command{
	Use:   "run [file|gs://bucket/object]",
	Short: "Upload a spreadsheet, apply remaps and create the pipeline",
	Long: `Uploads the spreadsheet, prints the inferred field mapping, applies every
--remap and creates the pipeline.

Example:
  pipeline-wizard run march.xlsx --name "Temu March" --remap shipperCity="Sender City"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

// latestCmd finds the newest spreadsheet under a GCS prefix
var latestCmd = &cobra.Command{
	Use:   "latest [gs://bucket/prefix]",
	Short: "Print the newest spreadsheet under a GCS prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  runLatest,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&schemaURL, "schema-url", gcp.GetEnv("SCHEMA_SERVICE_URL", "http://localhost:3001"), "Schema inference service base URL")
	rootCmd.PersistentFlags().StringVar(&pipelineURL, "pipeline-url", gcp.GetEnv("PIPELINE_SERVICE_URL", "http://localhost:3001"), "Pipeline service base URL")
	rootCmd.PersistentFlags().DurationVar(&httpTimeout, "timeout", 0, "HTTP timeout for service calls (0 = none)")

	defaults := wizard.DefaultConfig()
	runCmd.Flags().StringVar(&runOpts.name, "name", "", "Integration display name (defaults to the file name)")
	runCmd.Flags().StringArrayVar(&runOpts.remaps, "remap", nil, "Remap a field as key=value (repeatable)")
	runCmd.Flags().BoolVar(&runOpts.advise, "advise", false, "Ask Vertex AI for mapping suggestions")
	runCmd.Flags().BoolVar(&runOpts.dryRun, "dry-run", false, "Print the confirmed mapping instead of creating the pipeline")
	runCmd.Flags().DurationVar(&runOpts.transitionDelay, "transition-delay", defaults.TransitionDelay, "Pause after a successful upload")
	runCmd.Flags().StringVar(&runOpts.projectID, "project", gcp.GetEnv("PROJECT_ID", ""), "Google Cloud project for --advise")
	runCmd.Flags().StringVar(&runOpts.region, "region", gcp.GetEnv("VERTEX_AI_REGION", "us-central1"), "Vertex AI region for --advise")

	rootCmd.AddCommand(runCmd, latestCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
