package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/config"
	"github.com/davidschrooten/searchsync/internal/mapping"
)

// Elastic talks to an Elasticsearch cluster over HTTP. Mapping types were
// removed in Elasticsearch 7, so document types are accepted and not sent.
type Elastic struct {
	client *elasticsearch.Client
	logger *zap.Logger
}

// NewElastic creates a client for the configured cluster
func NewElastic(cfg config.ElasticsearchConfig, logger *zap.Logger) (*Elastic, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Elastic{client: client, logger: logger}, nil
}

// IndexExists reports whether the index exists
func (e *Elastic) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := esapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, e.client)
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", index, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("check index %s: %w", index, &ResponseError{Status: res.StatusCode})
	}
}

// CreateIndex creates an index with default settings
func (e *Elastic) CreateIndex(ctx context.Context, index string) (json.RawMessage, error) {
	body, _, err := e.do(ctx, esapi.IndicesCreateRequest{Index: index})
	if err != nil {
		return nil, fmt.Errorf("create index %s: %w", index, err)
	}
	e.logger.Info("Created index", zap.String("index", index))
	return body, nil
}

// PutMapping sends {"properties": m} for the index
func (e *Elastic) PutMapping(ctx context.Context, index, docType string, m mapping.Mapping) (json.RawMessage, error) {
	payload, err := json.Marshal(mapping.Body(m))
	if err != nil {
		return nil, fmt.Errorf("encode mapping for %s: %w", index, err)
	}

	body, _, err := e.do(ctx, esapi.IndicesPutMappingRequest{
		Index: []string{index},
		Body:  bytes.NewReader(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("put mapping on %s: %w", index, err)
	}
	e.logger.Info("Applied mapping", zap.String("index", index), zap.String("type", docType), zap.Int("fields", len(m)))
	return body, nil
}

type bulkHeader struct {
	Index bulkTarget `json:"index"`
}

type bulkTarget struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// Bulk sends the actions as one NDJSON bulk request
func (e *Elastic) Bulk(ctx context.Context, actions []BulkAction) (*BulkResponse, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, action := range actions {
		if err := enc.Encode(bulkHeader{Index: bulkTarget{Index: action.Index, ID: action.ID}}); err != nil {
			return nil, fmt.Errorf("encode bulk header for %s: %w", action.ID, err)
		}
		doc := action.Document
		if doc == nil {
			doc = map[string]interface{}{}
		}
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode bulk document %s: %w", action.ID, err)
		}
	}

	body, _, err := e.do(ctx, esapi.BulkRequest{Body: &buf})
	if err != nil {
		return nil, fmt.Errorf("bulk request: %w", err)
	}

	var raw struct {
		Took   int                   `json:"took"`
		Errors bool                  `json:"errors"`
		Items  []map[string]BulkItem `json:"items"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}

	resp := &BulkResponse{Took: raw.Took, Errors: raw.Errors, Items: make([]BulkItem, 0, len(raw.Items))}
	for _, entry := range raw.Items {
		for _, item := range entry {
			resp.Items = append(resp.Items, item)
		}
	}
	return resp, nil
}

// Index indexes a single document by id
func (e *Elastic) Index(ctx context.Context, req IndexRequest) (json.RawMessage, error) {
	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", req.ID, err)
	}

	body, _, err := e.do(ctx, esapi.IndexRequest{
		Index:      req.Index,
		DocumentID: req.ID,
		Body:       bytes.NewReader(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("index document %s in %s: %w", req.ID, req.Index, err)
	}
	return body, nil
}

// Delete removes a document by id. Deleting an unknown id is not an error.
func (e *Elastic) Delete(ctx context.Context, req DeleteRequest) (json.RawMessage, error) {
	body, status, err := e.do(ctx, esapi.DeleteRequest{Index: req.Index, DocumentID: req.ID})
	if err != nil {
		var result struct {
			Result string `json:"result"`
		}
		if status == http.StatusNotFound && json.Unmarshal(body, &result) == nil && result.Result == "not_found" {
			return body, nil
		}
		return nil, fmt.Errorf("delete document %s from %s: %w", req.ID, req.Index, err)
	}
	return body, nil
}

// Search runs the query body against the index
func (e *Elastic) Search(ctx context.Context, req SearchRequest) (json.RawMessage, error) {
	searchReq := esapi.SearchRequest{
		Index: []string{req.Index},
		From:  req.From,
		Size:  req.Size,
		Sort:  req.Sort,
	}
	if len(req.Body) > 0 {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode search body: %w", err)
		}
		searchReq.Body = bytes.NewReader(payload)
	}

	body, _, err := e.do(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("search %s failed: %w", req.Index, err)
	}
	return body, nil
}

// Close is a no-op, the HTTP transport holds no per-index state
func (e *Elastic) Close() error {
	return nil
}

// do performs the request and returns the response body. Error statuses are
// decoded into a *ResponseError.
func (e *Elastic) do(ctx context.Context, req esapi.Request) (json.RawMessage, int, error) {
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if res.IsError() {
		e.logger.Debug("Search engine error response",
			zap.Int("status", res.StatusCode),
			zap.ByteString("body", body))
		return body, res.StatusCode, decodeError(res.StatusCode, body)
	}
	return body, res.StatusCode, nil
}

func decodeError(status int, body []byte) error {
	respErr := &ResponseError{Status: status}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return respErr
	}

	var cause ErrorCause
	if err := json.Unmarshal(envelope.Error, &cause); err == nil {
		respErr.Type, respErr.Reason = cause.Type, cause.Reason
		return respErr
	}

	var reason string
	if err := json.Unmarshal(envelope.Error, &reason); err == nil {
		respErr.Reason = reason
	}
	return respErr
}
