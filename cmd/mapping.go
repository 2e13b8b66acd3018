package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/davidschrooten/searchsync/internal/indexer"
	"github.com/davidschrooten/searchsync/internal/mapping"
	"github.com/davidschrooten/searchsync/internal/search"
)

var mappingCmd = &cobra.Command{
	Use:   "mapping <collection>",
	Short: "Print or apply the compiled mapping of a collection",
	Long: `Compile the collection schema from the configuration and print the
resulting index mapping. With --apply the index is created if needed
and the mapping is put on it.

Examples:
  searchsync mapping users
  searchsync mapping users --format yaml
  searchsync mapping users --apply`,
	Args: cobra.ExactArgs(1),
	RunE: runMapping,
}

func init() {
	rootCmd.AddCommand(mappingCmd)

	mappingCmd.Flags().Bool("apply", false, "Create the index and put the mapping")
	mappingCmd.Flags().String("format", "json", "Output format: json or yaml")
}

func runMapping(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Sync()

	collCfg, ok := cfg.Collection(args[0])
	if !ok {
		return fmt.Errorf("%w: %s", indexer.ErrUnknownCollection, args[0])
	}
	format, _ := cmd.Flags().GetString("format")
	apply, _ := cmd.Flags().GetBool("apply")

	var client search.Client
	if apply {
		client, err = search.NewClient(cfg.Search, log)
		if err != nil {
			return fmt.Errorf("failed to initialize search client: %w", err)
		}
		defer client.Close()
	}

	coll, err := indexer.NewCollection(collCfg, client, nil, nil, log)
	if err != nil {
		return err
	}

	if err := writeMapping(cmd.OutOrStdout(), coll.Target(), coll.Mapping(), format); err != nil {
		return err
	}

	if apply {
		if _, err := coll.CreateMappings(context.Background()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Applied mapping to %s\n", coll.Target().Index)
	}
	return nil
}

// mappingDocument is the printed form of a compiled mapping
type mappingDocument struct {
	Index    string                 `json:"index" yaml:"index"`
	Type     string                 `json:"type" yaml:"type"`
	Mappings map[string]interface{} `json:"mappings" yaml:"mappings"`
}

func writeMapping(w io.Writer, target indexer.Target, m mapping.Mapping, format string) error {
	doc := mappingDocument{Index: target.Index, Type: target.Type, Mappings: mapping.Body(m)}

	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown format %q, want json or yaml", format)
	}
}
