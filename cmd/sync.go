package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/davidschrooten/searchsync/internal/document"
	"github.com/davidschrooten/searchsync/internal/indexer"
	"github.com/davidschrooten/searchsync/internal/mongodb"
	"github.com/davidschrooten/searchsync/internal/search"
)

var syncCmd = &cobra.Command{
	Use:   "sync <collection>",
	Short: "Bulk synchronize a collection into its index",
	Long: `Apply the collection mapping and index every matching record in
ordered batches. The run stops at the first failing batch; batches
written before it stay indexed.

Examples:
  searchsync sync users
  searchsync sync users --filter '{"active": true}' --batch-size 500`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().String("filter", "", "MongoDB filter as JSON")
	syncCmd.Flags().StringSlice("fields", nil, "Fields to index (default: the schema's indexed fields)")
	syncCmd.Flags().Int("batch-size", 0, "Records per batch (default: the collection's batch_size)")
	syncCmd.Flags().Bool("skip-mapping", false, "Do not apply the mapping before synchronizing")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Sync()

	filter, err := parseFilter(cmd)
	if err != nil {
		return err
	}
	fields, _ := cmd.Flags().GetStringSlice("fields")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	skipMapping, _ := cmd.Flags().GetBool("skip-mapping")

	mongoClient, err := mongodb.NewClient(cfg.MongoDB, log)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer mongoClient.Disconnect()

	searchClient, err := search.NewClient(cfg.Search, log)
	if err != nil {
		return fmt.Errorf("failed to initialize search client: %w", err)
	}
	defer searchClient.Close()

	indexerService, err := indexer.NewService(cfg, searchClient, func(name string) indexer.RecordStore {
		return mongoClient.Records(name)
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize indexer: %w", err)
	}
	defer indexerService.Stop()

	coll, err := indexerService.Collection(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !skipMapping {
		if _, err := coll.CreateMappings(ctx); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	job, err := coll.Plan(ctx, filter, indexer.SyncOptions{Fields: fields, BatchSize: batchSize})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Synchronizing %d records of %s into %s in %d batches\n",
		job.Total, coll.Name(), coll.Target().Index, job.Batches)

	result, err := coll.Execute(ctx, job, func(br indexer.BatchResult) {
		fmt.Fprintf(out, "  batch %d/%d: %d documents\n", br.Batch+1, job.Batches, br.Indexed)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Indexed %d documents in %s\n", result.Indexed, result.Duration)
	return nil
}

// parseFilter reads the --filter flag. A value that is not a JSON object
// selects every record.
func parseFilter(cmd *cobra.Command) (document.Filter, error) {
	raw, _ := cmd.Flags().GetString("filter")
	if raw == "" {
		return document.Filter{}, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid --filter: %w", err)
	}
	return document.NormalizeFilter(v), nil
}
