package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/internal/document"
	"github.com/davidschrooten/searchsync/internal/search"
)

// DefaultBatchSize is the number of records fetched and bulk indexed per batch
const DefaultBatchSize = 100

// SyncOptions overrides the synchronizer defaults for one run
type SyncOptions struct {
	Fields    []string
	BatchSize int
	// OnBatch is called after each acknowledged batch
	OnBatch func(BatchResult)
}

// SyncJob is the plan of one synchronization run
type SyncJob struct {
	Filter    document.Filter `json:"filter"`
	Fields    []string        `json:"fields,omitempty"`
	BatchSize int             `json:"batchSize"`
	Total     int64           `json:"total"`
	Batches   int             `json:"batches"`
}

// PlanJob computes the batches needed to cover total records
func PlanJob(filter document.Filter, fields []string, batchSize int, total int64) SyncJob {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batches := int((total + int64(batchSize) - 1) / int64(batchSize))
	return SyncJob{
		Filter:    filter,
		Fields:    fields,
		BatchSize: batchSize,
		Total:     total,
		Batches:   batches,
	}
}

// Skip returns the offset of batch b
func (j SyncJob) Skip(b int) int64 {
	return int64(b) * int64(j.BatchSize)
}

// BatchResult describes one acknowledged batch
type BatchResult struct {
	Batch   int   `json:"batch"`
	Skip    int64 `json:"skip"`
	Size    int   `json:"size"`
	Indexed int   `json:"indexed"`
}

// SyncResult summarizes a finished run
type SyncResult struct {
	Job      SyncJob       `json:"job"`
	Batches  []BatchResult `json:"batches"`
	Indexed  int           `json:"indexed"`
	Duration time.Duration `json:"duration"`
}

// Synchronizer bulk indexes the records of one collection in ordered batches
type Synchronizer struct {
	client    search.Client
	source    RecordSource
	target    Target
	selection []string
	batchSize int
	logger    *zap.Logger
}

// NewSynchronizer creates a synchronizer. selection is the default field
// selection; an empty selection indexes whole records.
func NewSynchronizer(client search.Client, source RecordSource, target Target, selection []string, batchSize int, logger *zap.Logger) *Synchronizer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		client:    client,
		source:    source,
		target:    target,
		selection: selection,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Plan counts the records matching filter and plans the run
func (s *Synchronizer) Plan(ctx context.Context, filter document.Filter, opts SyncOptions) (SyncJob, error) {
	if filter == nil {
		filter = document.Filter{}
	}
	fields := opts.Fields
	if len(fields) == 0 {
		fields = s.selection
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	total, err := s.source.Count(ctx, filter)
	if err != nil {
		return SyncJob{}, fmt.Errorf("failed to count records: %w", err)
	}
	return PlanJob(filter, fields, batchSize, total), nil
}

// Synchronize indexes every record matching filter. Batches run one after
// another; the first failing batch aborts the run and is returned as a
// *BatchError. Batches acknowledged before the failure stay indexed.
func (s *Synchronizer) Synchronize(ctx context.Context, filter document.Filter, opts SyncOptions) (*SyncResult, error) {
	job, err := s.Plan(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, job, opts.OnBatch)
}

// Run executes a planned job
func (s *Synchronizer) Run(ctx context.Context, job SyncJob, onBatch func(BatchResult)) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{Job: job, Batches: make([]BatchResult, 0, job.Batches)}

	s.logger.Info("Starting synchronization",
		zap.String("index", s.target.Index),
		zap.Int64("total", job.Total),
		zap.Int("batches", job.Batches),
		zap.Int("batchSize", job.BatchSize))

	for b := 0; b < job.Batches; b++ {
		if err := ctx.Err(); err != nil {
			return result, &BatchError{Batch: b, Err: err}
		}

		br, err := s.runBatch(ctx, job, b)
		if err != nil {
			s.logger.Error("Synchronization aborted",
				zap.String("index", s.target.Index),
				zap.Int("batch", b),
				zap.Int("indexed", result.Indexed),
				zap.Error(err))
			return result, &BatchError{Batch: b, Err: err}
		}

		result.Batches = append(result.Batches, br)
		result.Indexed += br.Indexed
		if onBatch != nil {
			onBatch(br)
		}

		s.logger.Debug("Indexed batch",
			zap.String("index", s.target.Index),
			zap.Int("batch", b+1),
			zap.Int("of", job.Batches),
			zap.Int("documents", br.Indexed))
	}

	result.Duration = time.Since(start)
	s.logger.Info("Synchronization completed",
		zap.String("index", s.target.Index),
		zap.Int("indexed", result.Indexed),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// runBatch fetches and bulk indexes batch b
func (s *Synchronizer) runBatch(ctx context.Context, job SyncJob, b int) (BatchResult, error) {
	br := BatchResult{Batch: b, Skip: job.Skip(b)}

	records, err := s.source.Find(ctx, job.Filter, job.Fields, br.Skip, int64(job.BatchSize))
	if err != nil {
		return br, fmt.Errorf("failed to fetch records: %w", err)
	}
	br.Size = len(records)
	if len(records) == 0 {
		return br, nil
	}

	actions := make([]search.BulkAction, 0, len(records))
	for _, rec := range records {
		id, doc, err := document.Build(rec, job.Fields)
		if err != nil {
			return br, err
		}
		actions = append(actions, search.BulkAction{
			Index:    s.target.Index,
			Type:     s.target.Type,
			ID:       id,
			Document: doc,
		})
	}

	resp, err := s.client.Bulk(ctx, actions)
	if err != nil {
		return br, fmt.Errorf("bulk request failed: %w", err)
	}
	if resp.Errors {
		failed := resp.Failed()
		reason := ""
		if len(failed) > 0 && failed[0].Error != nil {
			reason = fmt.Sprintf(", first: %s: %s", failed[0].Error.Type, failed[0].Error.Reason)
		}
		return br, fmt.Errorf("%w: %d of %d failed%s", ErrBulkItems, len(failed), len(actions), reason)
	}

	br.Indexed = len(actions)
	return br, nil
}
