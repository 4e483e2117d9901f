package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"vita-be/internal/bootstrap"
	"vita-be/internal/config"
	"vita-be/internal/dto"
	"vita-be/internal/service"
	"vita-be/pkg/events"
	pktNats "vita-be/pkg/nats"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.Red("✗ %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		root       string
		collection string
		reset      bool
	)

	cmd := &cobra.Command{
		Use:   "vita-ingest",
		Short: "Index a directory of course material into the vector store",
		Long: `Walks the directory, extracts notebooks, slides, HTML, JSON Q&A and
plain text, embeds every chunk and writes it to the configured collection.
Re-running over the same files overwrites their chunks in place.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd.Context(), dto.IngestRequest{Root: root, Collection: collection, Reset: reset})
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "directory of course material (required)")
	cmd.Flags().StringVar(&collection, "collection", "", "collection name (defaults to COLLECTION_NAME)")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the collection before indexing")
	_ = cmd.MarkFlagRequired("root")

	cmd.AddCommand(newQueryCmd())
	return cmd
}

func newQueryCmd() *cobra.Command {
	var (
		collection string
		k          int
	)

	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Show the chunks a question would retrieve",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), collection, strings.Join(args, " "), k)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection name (defaults to COLLECTION_NAME)")
	cmd.Flags().IntVarP(&k, "top", "k", 3, "number of chunks to show")
	return cmd
}

func runIngest(ctx context.Context, req dto.IngestRequest) error {
	cfg := config.Load()
	core, err := bootstrap.NewCore(cfg)
	if err != nil {
		return err
	}
	defer core.Close()

	// Connected instances learn about the run through the same events as queued jobs.
	var publisher events.Publisher
	if cfg.Infra.NatsURL != "" {
		pub, err := pktNats.NewPublisher(cfg.Infra.NatsURL, core.Logger)
		if err != nil {
			color.Yellow("! events disabled: %v", err)
		} else {
			defer pub.Close()
			publisher = pub
		}
	}

	ingest := service.NewIngestService(nil, core.Index, core.Extractor, core.Embedder, publisher, service.IngestConfig{
		Collection: cfg.Vector.CollectionName,
		Metric:     core.Metric,
	}, core.Logger)

	color.Cyan("→ Indexing %s", req.Root)
	job, err := ingest.Ingest(ctx, req)
	if err != nil {
		return err
	}

	color.Green("✓ %d chunks written to %s (%d total)", job.Chunks, job.Collection, job.Total)
	return nil
}

func runQuery(ctx context.Context, collection, text string, k int) error {
	cfg := config.Load()
	core, err := bootstrap.NewCore(cfg)
	if err != nil {
		return err
	}
	defer core.Close()

	if collection == "" {
		collection = cfg.Vector.CollectionName
	}
	col, err := core.Index.OpenOrCreate(ctx, collection, core.Metric, core.Embedder.Dimensions())
	if err != nil {
		return err
	}
	results, err := col.Query(ctx, text, k)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		color.Yellow("No chunks in %s", collection)
		return nil
	}

	for i, r := range results {
		color.Cyan("%d. %s#%s", i+1, r.SourcePath, r.ChunkID)
		color.White("   distance %.4f", r.Distance)
		fmt.Println(indent(r.Content, "   "))
	}
	return nil
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n"+prefix)
}
