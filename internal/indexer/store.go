package indexer

import (
	"context"

	"github.com/davidschrooten/searchsync/internal/document"
)

// RecordSource pages through the records of one collection
type RecordSource interface {
	Count(ctx context.Context, filter document.Filter) (int64, error)
	Find(ctx context.Context, filter document.Filter, fields []string, skip, limit int64) ([]document.Record, error)
}

// RecordStore is the document store view of one collection
type RecordStore interface {
	RecordSource
	FindByID(ctx context.Context, id string) (document.Record, error)
	Watch(ctx context.Context, handler document.ChangeHandler) error
}
