package indexer

import (
	"errors"
	"fmt"

	"github.com/davidschrooten/searchsync/internal/document"
)

var (
	// ErrMissingID is returned for records without an identifier.
	ErrMissingID = document.ErrMissingID
	// ErrBulkItems is returned when a bulk response reports rejected items.
	ErrBulkItems = errors.New("bulk request rejected items")
	// ErrUnknownCollection is returned for collections that are not configured.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrSyncInProgress is returned when a collection is already being synchronized.
	ErrSyncInProgress = errors.New("synchronization already in progress")
)

// BatchError reports the batch that aborted a synchronization run
type BatchError struct {
	Batch int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d: %v", e.Batch, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
