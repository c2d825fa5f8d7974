package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/ecommpipeline/internal/gcp"
	"github.com/Lllllllleong/ecommpipeline/internal/pipeline"
	"github.com/Lllllllleong/ecommpipeline/internal/schema"
	"github.com/Lllllllleong/ecommpipeline/internal/wizard"
)

type runOptions struct {
	name            string
	remaps          []string
	advise          bool
	dryRun          bool
	transitionDelay time.Duration
	projectID       string
	region          string
}

var runOpts runOptions

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := pipeline.NewClient(pipeline.ClientConfig{
		SchemaServiceURL:   schemaURL,
		PipelineServiceURL: pipelineURL,
		Timeout:            httpTimeout,
	})
	if err != nil {
		return err
	}

	source, closeSource, err := openSource(ctx, args[0])
	if err != nil {
		return err
	}
	defer closeSource()

	var advisor wizard.FieldAdvisor
	if runOpts.advise {
		vertexClient, err := gcp.NewVertexClient(ctx, runOpts.projectID, runOpts.region, "")
		if err != nil {
			return fmt.Errorf("failed to create vertex client: %w", err)
		}
		defer vertexClient.Close()
		advisor = vertexClient
	}

	return runWizard(ctx, cmd.OutOrStdout(), source, client, client, advisor, runOpts)
}

// openSource resolves a local path or gs:// URI into a spreadsheet.
func openSource(ctx context.Context, arg string) (wizard.SpreadsheetFile, func(), error) {
	if !strings.HasPrefix(arg, "gs://") {
		return wizard.NewLocalFile(arg), func() {}, nil
	}
	bucket, object, err := gcp.ParseGCSURI(arg)
	if err != nil {
		return nil, nil, err
	}
	if object == "" {
		return nil, nil, fmt.Errorf("%s names a bucket, not a spreadsheet", arg)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return gcp.NewGCSFile(storageClient, bucket, object), func() { storageClient.Close() }, nil
}

func runWizard(ctx context.Context, out io.Writer, source wizard.SpreadsheetFile, inferrer wizard.SchemaInferrer, creator wizard.PipelineCreator, advisor wizard.FieldAdvisor, opts runOptions) error {
	remaps, err := parseRemaps(opts.remaps)
	if err != nil {
		return err
	}

	config := wizard.DefaultConfig()
	config.TransitionDelay = opts.transitionDelay
	store := schema.NewStore()
	w, err := wizard.New(wizard.Deps{
		Store:    store,
		Inferrer: inferrer,
		Creator:  creator,
		Advisor:  advisor,
		Logger:   logger,
	}, config)
	if err != nil {
		return err
	}

	name := opts.name
	if name == "" {
		name = strings.TrimSuffix(source.Name(), filepath.Ext(source.Name()))
	}
	store.SetName(name)

	if err := w.SelectFile(source); err != nil {
		return err
	}
	if err := w.Upload(ctx); err != nil {
		return err
	}

	for _, r := range remaps {
		if err := w.Remap(r.key, r.value); err != nil {
			return fmt.Errorf("remap %s: %w", r.key, err)
		}
	}
	printView(out, w.View())

	if advisor != nil {
		advice, err := w.Advise(ctx)
		if err != nil {
			return err
		}
		printAdvice(out, advice)
	}

	if opts.dryRun {
		doc, _ := store.Get()
		encoded, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode mapping: %w", err)
		}
		fmt.Fprintln(out, string(encoded))
		return nil
	}

	ref, err := w.Submit(ctx)
	if err != nil {
		return err
	}
	if ref == "" {
		ref = "(no reference returned)"
	}
	fmt.Fprintf(out, "Pipeline %q created: %s\nNext step: %s\n", name, ref, w.Step())
	return nil
}

type remap struct {
	key, value string
}

func parseRemaps(raw []string) ([]remap, error) {
	remaps := make([]remap, 0, len(raw))
	for _, r := range raw {
		key, value, ok := strings.Cut(r, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --remap %q: want key=value", r)
		}
		remaps = append(remaps, remap{key: key, value: value})
	}
	return remaps, nil
}

func printView(out io.Writer, view wizard.ConfirmView) {
	if !view.Loaded {
		fmt.Fprintln(out, "No schema loaded.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tTITLE\tCOLUMN")
	for _, card := range view.Cards {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", card.Key, card.Title, card.Content)
	}
	tw.Flush()
}

func printAdvice(out io.Writer, advice []wizard.Advice) {
	if len(advice) == 0 {
		fmt.Fprintln(out, "No mapping suggestions.")
		return
	}
	for _, a := range advice {
		fmt.Fprintf(out, "Suggestion: --remap %s=%q (currently %q)\n", a.Key, a.Suggested, a.Current)
	}
}
