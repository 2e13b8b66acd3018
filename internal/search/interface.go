package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/config"
	"github.com/davidschrooten/searchsync/internal/document"
	"github.com/davidschrooten/searchsync/internal/mapping"
)

var (
	// ErrIndexNotFound is returned when an operation targets a missing index.
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexExists is returned when creating an index that already exists.
	ErrIndexExists = errors.New("index already exists")
	// ErrMappingConflict is returned when a mapping cannot replace the current one.
	ErrMappingConflict = errors.New("mapping conflicts with existing index")
)

// Client defines the search engine operations used by the indexer.
// This interface allows for easy mocking and testing
type Client interface {
	// Index management
	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string) (json.RawMessage, error)
	PutMapping(ctx context.Context, index, docType string, m mapping.Mapping) (json.RawMessage, error)

	// Document operations
	Bulk(ctx context.Context, actions []BulkAction) (*BulkResponse, error)
	Index(ctx context.Context, req IndexRequest) (json.RawMessage, error)
	Delete(ctx context.Context, req DeleteRequest) (json.RawMessage, error)

	// Search returns the engine response unmodified
	Search(ctx context.Context, req SearchRequest) (json.RawMessage, error)

	// Lifecycle
	Close() error
}

// BulkAction is a single index action of a bulk request
type BulkAction struct {
	Index    string
	Type     string
	ID       string
	Document document.Document
}

// BulkResponse is the engine's acknowledgement of a bulk request
type BulkResponse struct {
	Took   int        `json:"took"`
	Errors bool       `json:"errors"`
	Items  []BulkItem `json:"items"`
}

// Failed returns the items that were rejected
func (r *BulkResponse) Failed() []BulkItem {
	var failed []BulkItem
	for _, item := range r.Items {
		if item.Error != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// BulkItem is the per-document outcome of a bulk request
type BulkItem struct {
	Index  string      `json:"_index"`
	ID     string      `json:"_id"`
	Status int         `json:"status"`
	Result string      `json:"result,omitempty"`
	Error  *ErrorCause `json:"error,omitempty"`
}

// ErrorCause describes why the engine rejected an operation
type ErrorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// IndexRequest indexes one document by id, replacing any previous version
type IndexRequest struct {
	Index string
	Type  string
	ID    string
	Body  document.Document
}

// DeleteRequest removes one document by id
type DeleteRequest struct {
	Index string
	Type  string
	ID    string
}

// SearchRequest represents a search query request. Body is passed through
// to the engine; From, Size and Sort are sent as request parameters when set.
type SearchRequest struct {
	Index string
	Body  map[string]interface{}
	From  *int
	Size  *int
	Sort  []string
}

// ResponseError is an error response returned by the search engine
type ResponseError struct {
	Status int
	Type   string
	Reason string
}

func (e *ResponseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("search engine returned status %d", e.Status)
	}
	return fmt.Sprintf("search engine returned status %d: %s: %s", e.Status, e.Type, e.Reason)
}

// Is maps well-known engine error types onto the package sentinels
func (e *ResponseError) Is(target error) bool {
	switch target {
	case ErrIndexNotFound:
		return e.Type == "index_not_found_exception"
	case ErrIndexExists:
		return e.Type == "resource_already_exists_exception"
	case ErrMappingConflict:
		return e.Type == "illegal_argument_exception" && e.Status == 400
	}
	return false
}

// NewClient creates the search client selected by cfg.Backend
func NewClient(cfg config.SearchConfig, logger *zap.Logger) (Client, error) {
	switch cfg.Backend {
	case "", "bleve":
		return NewEngine(cfg, logger)
	case "elasticsearch":
		return NewElastic(cfg.Elasticsearch, logger)
	default:
		return nil, fmt.Errorf("unknown search backend %q", cfg.Backend)
	}
}
