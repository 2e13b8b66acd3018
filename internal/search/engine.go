package search

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	blevemapping "github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/config"
	"github.com/davidschrooten/searchsync/internal/document"
	"github.com/davidschrooten/searchsync/internal/mapping"
)

// mappingKey is the internal key under which an index keeps its mapping
var mappingKey = []byte("searchsync:mapping")

const defaultSearchSize = 10

// Engine manages multiple embedded Bleve indexes stored under one directory
type Engine struct {
	indexes   map[string]*bleveIndex
	indexPath string
	mutex     sync.RWMutex
	logger    *zap.Logger
}

// bleveIndex is an open index together with the mapping it was built from
type bleveIndex struct {
	name        string
	index       bleve.Index
	docType     string
	mapping     mapping.Mapping
	copyTargets map[string]string
	nullValues  map[string]interface{}
}

type storedMapping struct {
	Type       string          `json:"type,omitempty"`
	Properties mapping.Mapping `json:"properties"`
}

// NewEngine creates a new search engine
func NewEngine(cfg config.SearchConfig, logger *zap.Logger) (*Engine, error) {
	if err := os.MkdirAll(cfg.IndexPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		indexes:   make(map[string]*bleveIndex),
		indexPath: cfg.IndexPath,
		logger:    logger,
	}, nil
}

// IndexExists reports whether the index exists on disk
func (e *Engine) IndexExists(_ context.Context, name string) (bool, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if _, err := e.openLocked(name); err != nil {
		if err == ErrIndexNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateIndex creates an empty index with a dynamic mapping
func (e *Engine) CreateIndex(_ context.Context, name string) (json.RawMessage, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	path, err := e.pathFor(name)
	if err != nil {
		return nil, err
	}
	if _, exists := e.indexes[name]; exists {
		return nil, fmt.Errorf("create index %s: %w", name, ErrIndexExists)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("create index %s: %w", name, ErrIndexExists)
	}

	idx, err := e.createLocked(name, path, "", nil)
	if err != nil {
		return nil, err
	}
	e.indexes[name] = idx

	e.logger.Info("Created index", zap.String("index", name))
	return json.Marshal(map[string]interface{}{
		"acknowledged": true,
		"index":        name,
	})
}

// PutMapping replaces the mapping of an index. Bleve cannot change the
// mapping of a populated index, so anything but a no-op on a non-empty
// index fails with ErrMappingConflict.
func (e *Engine) PutMapping(_ context.Context, name, docType string, m mapping.Mapping) (json.RawMessage, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	idx, err := e.openLocked(name)
	if err != nil {
		return nil, fmt.Errorf("put mapping on %s: %w", name, err)
	}

	ack, _ := json.Marshal(map[string]interface{}{"acknowledged": true})

	same, err := sameMapping(idx, docType, m)
	if err != nil {
		return nil, err
	}
	if same {
		return ack, nil
	}

	count, err := idx.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents in %s: %w", name, err)
	}
	if count > 0 {
		return nil, fmt.Errorf("put mapping on %s holding %d documents: %w", name, count, ErrMappingConflict)
	}

	if err := idx.index.Close(); err != nil {
		return nil, fmt.Errorf("failed to close index %s: %w", name, err)
	}
	delete(e.indexes, name)

	path, _ := e.pathFor(name)
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("failed to remove index directory %s: %w", path, err)
	}

	replaced, err := e.createLocked(name, path, docType, m)
	if err != nil {
		return nil, err
	}
	e.indexes[name] = replaced

	e.logger.Info("Applied mapping", zap.String("index", name), zap.Int("fields", len(m)))
	return ack, nil
}

// Bulk indexes a set of documents. Actions are grouped into one Bleve batch
// per index; failures are reported per item.
func (e *Engine) Bulk(_ context.Context, actions []BulkAction) (*BulkResponse, error) {
	start := time.Now()
	resp := &BulkResponse{Items: make([]BulkItem, len(actions))}

	groups := make(map[string][]int)
	var order []string
	for i, action := range actions {
		resp.Items[i] = BulkItem{Index: action.Index, ID: action.ID}
		if _, ok := groups[action.Index]; !ok {
			order = append(order, action.Index)
		}
		groups[action.Index] = append(groups[action.Index], i)
	}

	for _, name := range order {
		positions := groups[name]
		err := e.withIndex(name, func(idx *bleveIndex) error {
			batch := idx.index.NewBatch()
			var queued []int
			for _, pos := range positions {
				action := actions[pos]
				item := &resp.Items[pos]
				if action.ID == "" {
					item.Status = 400
					item.Error = &ErrorCause{Type: "action_request_validation_exception", Reason: "document id is missing"}
					continue
				}
				item.Status, item.Result = 201, "created"
				if idx.has(action.ID) {
					item.Status, item.Result = 200, "updated"
				}
				if err := batch.Index(action.ID, idx.prepare(action.Document)); err != nil {
					item.Status, item.Result = 400, ""
					item.Error = &ErrorCause{Type: "mapper_parsing_exception", Reason: err.Error()}
					continue
				}
				queued = append(queued, pos)
			}
			if batch.Size() == 0 {
				return nil
			}
			if err := idx.index.Batch(batch); err != nil {
				for _, pos := range queued {
					resp.Items[pos].Status, resp.Items[pos].Result = 500, ""
					resp.Items[pos].Error = &ErrorCause{Type: "batch_failure", Reason: err.Error()}
				}
			}
			return nil
		})
		if err != nil {
			for _, pos := range positions {
				resp.Items[pos].Status = 404
				resp.Items[pos].Error = &ErrorCause{Type: "index_not_found_exception", Reason: err.Error()}
			}
		}
	}

	for _, item := range resp.Items {
		if item.Error != nil {
			resp.Errors = true
			break
		}
	}
	resp.Took = int(time.Since(start).Milliseconds())
	return resp, nil
}

// Index indexes a single document, replacing any existing one with the same id
func (e *Engine) Index(_ context.Context, req IndexRequest) (json.RawMessage, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("index document in %s: %w", req.Index, document.ErrMissingID)
	}

	result := "created"
	err := e.withIndex(req.Index, func(idx *bleveIndex) error {
		if idx.has(req.ID) {
			result = "updated"
		}
		return idx.index.Index(req.ID, idx.prepare(req.Body))
	})
	if err != nil {
		return nil, fmt.Errorf("index document %s in %s: %w", req.ID, req.Index, err)
	}

	return json.Marshal(map[string]interface{}{
		"_index": req.Index,
		"_id":    req.ID,
		"result": result,
	})
}

// Delete removes a document from the index. Deleting an unknown id is not an error.
func (e *Engine) Delete(_ context.Context, req DeleteRequest) (json.RawMessage, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("delete document from %s: %w", req.Index, document.ErrMissingID)
	}

	result := "not_found"
	err := e.withIndex(req.Index, func(idx *bleveIndex) error {
		if idx.has(req.ID) {
			result = "deleted"
		}
		return idx.index.Delete(req.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("delete document %s from %s: %w", req.ID, req.Index, err)
	}

	return json.Marshal(map[string]interface{}{
		"_index": req.Index,
		"_id":    req.ID,
		"result": result,
	})
}

// Search performs a search query
func (e *Engine) Search(ctx context.Context, req SearchRequest) (json.RawMessage, error) {
	q, err := convertQuery(req.Body["query"])
	if err != nil {
		return nil, parsingError(err)
	}

	size := intParam(req.Size, req.Body["size"], defaultSearchSize)
	from := intParam(req.From, req.Body["from"], 0)
	if size < 0 || from < 0 {
		return nil, parsingError(fmt.Errorf("from and size must not be negative, got from=%d size=%d", from, size))
	}

	searchReq := bleve.NewSearchRequestOptions(q, size, from, false)
	// Include all stored fields in results
	searchReq.Fields = []string{"*"}

	sortBy := convertSortParams(req.Sort)
	if len(sortBy) == 0 {
		if sortBy, err = convertSortBody(req.Body["sort"]); err != nil {
			return nil, parsingError(err)
		}
	}
	if len(sortBy) > 0 {
		searchReq.SortBy(sortBy)
	}

	var result *bleve.SearchResult
	err = e.withIndex(req.Index, func(idx *bleveIndex) error {
		var searchErr error
		result, searchErr = idx.index.SearchInContext(ctx, searchReq)
		return searchErr
	})
	if err != nil {
		return nil, fmt.Errorf("search %s failed: %w", req.Index, err)
	}

	hits := make([]map[string]interface{}, 0, len(result.Hits))
	for _, hit := range result.Hits {
		source := make(map[string]interface{}, len(hit.Fields))
		for field, value := range hit.Fields {
			source[field] = value
		}
		hits = append(hits, map[string]interface{}{
			"_index":  req.Index,
			"_id":     hit.ID,
			"_score":  hit.Score,
			"_source": source,
		})
	}

	return json.Marshal(map[string]interface{}{
		"took":      result.Took.Milliseconds(),
		"timed_out": false,
		"hits": map[string]interface{}{
			"total":     map[string]interface{}{"value": result.Total, "relation": "eq"},
			"max_score": result.MaxScore,
			"hits":      hits,
		},
	})
}

// Close closes all indexes
func (e *Engine) Close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var errors []error
	for name, idx := range e.indexes {
		if err := idx.index.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close index %s: %w", name, err))
		}
	}
	e.indexes = make(map[string]*bleveIndex)

	if len(errors) > 0 {
		return fmt.Errorf("errors closing indexes: %v", errors)
	}

	return nil
}

// withIndex runs fn while holding the named index open
func (e *Engine) withIndex(name string, fn func(*bleveIndex) error) error {
	e.mutex.RLock()
	if idx, ok := e.indexes[name]; ok {
		defer e.mutex.RUnlock()
		return fn(idx)
	}
	e.mutex.RUnlock()

	e.mutex.Lock()
	_, err := e.openLocked(name)
	e.mutex.Unlock()
	if err != nil {
		return err
	}
	return e.withIndex(name, fn)
}

// openLocked returns the cached index or opens it from disk. Callers hold the write lock.
func (e *Engine) openLocked(name string) (*bleveIndex, error) {
	if idx, ok := e.indexes[name]; ok {
		return idx, nil
	}

	path, err := e.pathFor(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrIndexNotFound
	}

	index, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", name, err)
	}

	idx := &bleveIndex{name: name, index: index}
	raw, err := index.GetInternal(mappingKey)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to read mapping of %s: %w", name, err)
	}
	if len(raw) > 0 {
		var stored storedMapping
		if err := json.Unmarshal(raw, &stored); err != nil {
			index.Close()
			return nil, fmt.Errorf("failed to decode mapping of %s: %w", name, err)
		}
		idx.setMapping(stored.Type, stored.Properties)
	}

	e.indexes[name] = idx
	return idx, nil
}

func (e *Engine) createLocked(name, path, docType string, m mapping.Mapping) (*bleveIndex, error) {
	index, err := bleve.New(path, buildIndexMapping(docType, m))
	if err != nil {
		return nil, fmt.Errorf("failed to create index %s: %w", name, err)
	}

	idx := &bleveIndex{name: name, index: index}
	if m != nil {
		raw, err := json.Marshal(storedMapping{Type: docType, Properties: m})
		if err != nil {
			index.Close()
			return nil, fmt.Errorf("failed to encode mapping of %s: %w", name, err)
		}
		if err := index.SetInternal(mappingKey, raw); err != nil {
			index.Close()
			return nil, fmt.Errorf("failed to store mapping of %s: %w", name, err)
		}
		idx.setMapping(docType, m)
	}
	return idx, nil
}

func (e *Engine) pathFor(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", &ResponseError{Status: 400, Type: "invalid_index_name_exception", Reason: fmt.Sprintf("invalid index name [%s]", name)}
	}
	return filepath.Join(e.indexPath, name), nil
}

func (idx *bleveIndex) setMapping(docType string, m mapping.Mapping) {
	idx.docType = docType
	idx.mapping = m
	idx.copyTargets = m.CopyTargets()
	idx.nullValues = m.NullValues()
}

func (idx *bleveIndex) has(id string) bool {
	doc, err := idx.index.Document(id)
	return err == nil && doc != nil
}

// prepare applies the index-time parts of the mapping (null_value
// substitution and copy_to) to a copy of the document.
func (idx *bleveIndex) prepare(doc document.Document) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = encodeValue(v)
	}

	for path, value := range idx.nullValues {
		fillNull(out, strings.Split(path, "."), value)
	}

	for path, target := range idx.copyTargets {
		values := lookupPath(doc, strings.Split(path, "."))
		if len(values) == 0 {
			continue
		}
		out[target] = appendValues(out[target], values)
	}

	return out
}

func sameMapping(idx *bleveIndex, docType string, m mapping.Mapping) (bool, error) {
	if idx.mapping == nil {
		return false, nil
	}
	current, err := json.Marshal(storedMapping{Type: idx.docType, Properties: idx.mapping})
	if err != nil {
		return false, err
	}
	next, err := json.Marshal(storedMapping{Type: docType, Properties: m})
	if err != nil {
		return false, err
	}
	return string(current) == string(next), nil
}

// buildIndexMapping translates a mapping document into a Bleve index mapping.
// Unmapped fields stay dynamic and stored.
func buildIndexMapping(docType string, m mapping.Mapping) *blevemapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.StoreDynamic = true
	indexMapping.DefaultMapping = documentMapping(m)
	if docType != "" && m != nil {
		indexMapping.AddDocumentMapping(docType, documentMapping(m))
	}
	return indexMapping
}

func documentMapping(m mapping.Mapping) *blevemapping.DocumentMapping {
	docMapping := bleve.NewDocumentMapping()
	for name, prop := range m {
		switch prop.Type {
		case mapping.Nested, mapping.Object:
			docMapping.AddSubDocumentMapping(name, documentMapping(prop.Properties))
		default:
			docMapping.AddFieldMappingsAt(name, fieldMapping(prop.Type))
		}
	}
	return docMapping
}

// fieldMapping creates a Bleve field mapping for a mapping field type
func fieldMapping(t mapping.FieldType) *blevemapping.FieldMapping {
	var fm *blevemapping.FieldMapping

	switch t {
	case mapping.Keyword:
		fm = bleve.NewKeywordFieldMapping()
	case mapping.Float:
		fm = bleve.NewNumericFieldMapping()
	case mapping.Date:
		fm = bleve.NewDateTimeFieldMapping()
	case mapping.Boolean:
		fm = bleve.NewBooleanFieldMapping()
	case mapping.Binary:
		// stored, not searchable
		fm = bleve.NewKeywordFieldMapping()
		fm.Index = false
		fm.IncludeInAll = false
	default:
		fm = bleve.NewTextFieldMapping()
	}

	// Always store field values so they can be retrieved in search results
	fm.Store = true
	return fm
}

// encodeValue converts values Bleve cannot index natively. Binary data is
// base64 encoded, the same representation Elasticsearch expects.
func encodeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = encodeValue(item)
		}
		return out
	case document.Document:
		return encodeValue(map[string]interface{}(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = encodeValue(item)
		}
		return out
	default:
		return v
	}
}

// fillNull replaces explicit nulls at a dotted path, descending into arrays
// of objects. Absent fields are left absent.
func fillNull(v interface{}, path []string, value interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		child, ok := val[path[0]]
		if !ok {
			return
		}
		if len(path) == 1 {
			if child == nil {
				val[path[0]] = value
			}
			return
		}
		fillNull(child, path[1:], value)
	case []interface{}:
		for _, item := range val {
			fillNull(item, path, value)
		}
	}
}

// lookupPath collects the non-nil values found at a dotted path, descending
// into arrays of objects.
func lookupPath(v interface{}, path []string) []interface{} {
	if len(path) == 0 {
		switch val := v.(type) {
		case nil:
			return nil
		case []interface{}:
			var out []interface{}
			for _, item := range val {
				out = append(out, lookupPath(item, nil)...)
			}
			return out
		default:
			return []interface{}{encodeValue(val)}
		}
	}

	switch val := v.(type) {
	case document.Document:
		return lookupPath(val[path[0]], path[1:])
	case map[string]interface{}:
		return lookupPath(val[path[0]], path[1:])
	case []interface{}:
		var out []interface{}
		for _, item := range val {
			out = append(out, lookupPath(item, path)...)
		}
		return out
	default:
		return nil
	}
}

func appendValues(existing interface{}, values []interface{}) interface{} {
	var all []interface{}
	switch val := existing.(type) {
	case nil:
	case []interface{}:
		all = append(all, val...)
	default:
		all = append(all, val)
	}
	all = append(all, values...)
	if len(all) == 1 {
		return all[0]
	}
	return all
}

func intParam(explicit *int, body interface{}, fallback int) int {
	if explicit != nil {
		return *explicit
	}
	switch v := body.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

// parsingError reports a request body the engine cannot translate
func parsingError(err error) error {
	return &ResponseError{Status: 400, Type: "parsing_exception", Reason: err.Error()}
}
