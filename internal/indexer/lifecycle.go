package indexer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/internal/mapping"
	"github.com/davidschrooten/searchsync/internal/search"
)

// IndexStatus is the outcome of EnsureIndex
type IndexStatus int

const (
	IndexCreated IndexStatus = iota
	IndexExists
)

func (s IndexStatus) String() string {
	switch s {
	case IndexCreated:
		return "created"
	case IndexExists:
		return "exists"
	default:
		return "unknown"
	}
}

// Lifecycle creates indexes and applies mappings for one target
type Lifecycle struct {
	client search.Client
	target Target
	logger *zap.Logger
}

// NewLifecycle creates a lifecycle manager for target
func NewLifecycle(client search.Client, target Target, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{client: client, target: target, logger: logger}
}

// EnsureIndex creates the named index unless it exists. An empty name
// means the target index.
func (l *Lifecycle) EnsureIndex(ctx context.Context, name string) (IndexStatus, error) {
	if name == "" {
		name = l.target.Index
	}

	exists, err := l.client.IndexExists(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to check index %s: %w", name, err)
	}
	if exists {
		return IndexExists, nil
	}

	if _, err := l.client.CreateIndex(ctx, name); err != nil {
		return 0, fmt.Errorf("failed to create index %s: %w", name, err)
	}
	l.logger.Info("Created index", zap.String("index", name))
	return IndexCreated, nil
}

// ApplyMapping ensures the index exists and puts the mapping for docType.
// Empty index or docType fall back to the target.
func (l *Lifecycle) ApplyMapping(ctx context.Context, index, docType string, m mapping.Mapping) (json.RawMessage, error) {
	target := l.target.override(index, docType)

	if _, err := l.EnsureIndex(ctx, target.Index); err != nil {
		return nil, err
	}

	resp, err := l.client.PutMapping(ctx, target.Index, target.Type, m)
	if err != nil {
		return nil, fmt.Errorf("failed to put mapping on %s: %w", target.Index, err)
	}
	l.logger.Info("Applied mapping",
		zap.String("index", target.Index),
		zap.String("type", target.Type),
		zap.Int("fields", len(m)))
	return resp, nil
}
