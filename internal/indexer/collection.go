package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/config"
	"github.com/davidschrooten/searchsync/internal/document"
	"github.com/davidschrooten/searchsync/internal/mapping"
	"github.com/davidschrooten/searchsync/internal/metrics"
	"github.com/davidschrooten/searchsync/internal/schema"
	"github.com/davidschrooten/searchsync/internal/search"
	syncstate "github.com/davidschrooten/searchsync/internal/sync"
)

// SearchOptions override the same-named fields of a query body
type SearchOptions struct {
	Skip  *int
	Limit *int
	Sort  []string
}

// IndexOptions override the collection target and field selection of a
// single document operation
type IndexOptions struct {
	Index  string
	Type   string
	Fields []string
}

// Collection mirrors one store collection into its search index
type Collection struct {
	name      string
	target    Target
	schema    *schema.Schema
	mapping   mapping.Mapping
	selection []string
	autoIndex bool

	client       search.Client
	store        RecordStore
	lifecycle    *Lifecycle
	synchronizer *Synchronizer
	hook         *Hook
	state        *syncstate.StateManager
	logger       *zap.Logger
}

// NewCollection builds the components of a configured collection. state
// may be nil, in which case runs and events are not recorded.
func NewCollection(cfg config.CollectionConfig, client search.Client, store RecordStore, state *syncstate.StateManager, logger *zap.Logger) (*Collection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("collection", cfg.Name))

	s, err := schema.FromConfig(cfg.Fields)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", cfg.Name, err)
	}

	target := ResolveTarget(cfg.Name, cfg.Index, cfg.Type)
	selection := s.IndexedFields()

	c := &Collection{
		name:         cfg.Name,
		target:       target,
		schema:       s,
		mapping:      mapping.Compile(s),
		selection:    selection,
		autoIndex:    cfg.AutoIndex(),
		client:       client,
		store:        store,
		lifecycle:    NewLifecycle(client, target, logger),
		synchronizer: NewSynchronizer(client, store, target, selection, cfg.Batch(), logger),
		hook:         NewHook(client, cfg.Name, target, selection, cfg.DeletionMarker(), logger),
		state:        state,
		logger:       logger,
	}

	if state != nil {
		c.hook.Subscribe(func(n Notification) {
			if n.Err == nil {
				state.SetLastEventTime(c.name, time.Now())
			}
		})
	}
	return c, nil
}

// Name returns the collection name
func (c *Collection) Name() string { return c.name }

// Target returns the index and type the collection is mirrored into
func (c *Collection) Target() Target { return c.target }

// Mapping returns the compiled mapping of the collection schema
func (c *Collection) Mapping() mapping.Mapping { return c.mapping }

// AutoIndex reports whether store changes are pushed automatically
func (c *Collection) AutoIndex() bool { return c.autoIndex }

// Hook returns the incremental indexer of the collection
func (c *Collection) Hook() *Hook { return c.hook }

// Store returns the record store of the collection
func (c *Collection) Store() RecordStore { return c.store }

// EnsureIndex creates the named index, or the target index, unless it exists
func (c *Collection) EnsureIndex(ctx context.Context, name string) (IndexStatus, error) {
	return c.lifecycle.EnsureIndex(ctx, name)
}

// CreateMappings ensures the target index and applies the compiled mapping
func (c *Collection) CreateMappings(ctx context.Context) (json.RawMessage, error) {
	return c.lifecycle.ApplyMapping(ctx, "", "", c.mapping)
}

// Plan counts the records matching filter and plans a synchronization run
func (c *Collection) Plan(ctx context.Context, filter document.Filter, opts SyncOptions) (SyncJob, error) {
	return c.synchronizer.Plan(ctx, filter, opts)
}

// Synchronize bulk indexes every record matching filter
func (c *Collection) Synchronize(ctx context.Context, filter document.Filter, opts SyncOptions) (*SyncResult, error) {
	job, err := c.Plan(ctx, filter, opts)
	if err != nil {
		if c.state != nil {
			c.state.FinishSync(c.name, err)
		}
		return nil, err
	}
	return c.Execute(ctx, job, opts.OnBatch)
}

// Execute runs a planned job, recording its progress in the sync state
// and the metrics
func (c *Collection) Execute(ctx context.Context, job SyncJob, onBatch func(BatchResult)) (*SyncResult, error) {
	if c.state != nil {
		c.state.BeginSync(c.name, c.target.Index, job.Total)
	}

	result, err := c.synchronizer.Run(ctx, job, func(br BatchResult) {
		metrics.ObserveBatch(c.name, br.Indexed, nil)
		if c.state != nil {
			c.state.RecordBatch(c.name, br.Indexed)
		}
		if onBatch != nil {
			onBatch(br)
		}
	})
	if err != nil {
		metrics.ObserveBatch(c.name, 0, err)
	}
	if c.state != nil {
		c.state.FinishSync(c.name, err)
	}
	return result, err
}

// Watch pushes store changes through the hook until ctx is done
func (c *Collection) Watch(ctx context.Context) error {
	return c.store.Watch(ctx, c.hook)
}

// Search runs query against the target index. Options take precedence over
// from, size and sort given in the query body; the engine response is
// returned unmodified.
func (c *Collection) Search(ctx context.Context, query map[string]interface{}, opts SearchOptions) (json.RawMessage, error) {
	body := make(map[string]interface{}, len(query))
	for k, v := range query {
		body[k] = v
	}

	req := search.SearchRequest{Index: c.target.Index}
	req.From = pick(opts.Skip, body, "from")
	req.Size = pick(opts.Limit, body, "size")
	if len(opts.Sort) > 0 {
		delete(body, "sort")
		req.Sort = opts.Sort
	}
	req.Body = body

	return c.client.Search(ctx, req)
}

// pick returns the option if set, else the numeric body value under key.
// The key is always removed from body. Negative values are dropped so the
// engine falls back to its default.
func pick(opt *int, body map[string]interface{}, key string) *int {
	if opt != nil && *opt >= 0 {
		delete(body, key)
		v := *opt
		return &v
	}
	if v, ok := intValue(body[key]); ok && v >= 0 {
		delete(body, key)
		return &v
	}
	delete(body, key)
	return nil
}

func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

// IndexOne indexes a single record outside the hook path
func (c *Collection) IndexOne(ctx context.Context, rec document.Record, opts IndexOptions) (json.RawMessage, error) {
	fields := opts.Fields
	if len(fields) == 0 {
		fields = c.selection
	}
	id, doc, err := document.Build(rec, fields)
	if err != nil {
		return nil, err
	}

	target := c.target.override(opts.Index, opts.Type)
	resp, err := c.client.Index(ctx, search.IndexRequest{
		Index: target.Index,
		Type:  target.Type,
		ID:    id,
		Body:  doc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to index %s into %s: %w", id, target.Index, err)
	}
	return resp, nil
}

// UnindexOne removes a single record from the index outside the hook path
func (c *Collection) UnindexOne(ctx context.Context, rec document.Record, opts IndexOptions) (json.RawMessage, error) {
	id, err := rec.ID()
	if err != nil {
		return nil, err
	}

	target := c.target.override(opts.Index, opts.Type)
	resp, err := c.client.Delete(ctx, search.DeleteRequest{
		Index: target.Index,
		Type:  target.Type,
		ID:    id,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to remove %s from %s: %w", id, target.Index, err)
	}
	return resp, nil
}
