package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/davidschrooten/searchsync/internal/document"
	"github.com/davidschrooten/searchsync/internal/mapping"
	"github.com/davidschrooten/searchsync/internal/search"
)

type putMappingCall struct {
	Index   string
	Type    string
	Mapping mapping.Mapping
}

// fakeClient records every call and answers with canned results
type fakeClient struct {
	mu sync.Mutex

	exists   map[string]bool
	created  []string
	mappings []putMappingCall
	bulks    [][]search.BulkAction
	indexed  []search.IndexRequest
	deleted  []search.DeleteRequest
	searches []search.SearchRequest

	existsErr  error
	createErr  error
	mappingErr error
	bulkErr    error
	bulkFailAt int // 1-based bulk call answered with item errors
	indexErr   error
	deleteErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{exists: make(map[string]bool)}
}

func (f *fakeClient) IndexExists(_ context.Context, index string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.exists[index], nil
}

func (f *fakeClient) CreateIndex(_ context.Context, index string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, index)
	f.exists[index] = true
	return json.RawMessage(`{"acknowledged":true}`), nil
}

func (f *fakeClient) PutMapping(_ context.Context, index, docType string, m mapping.Mapping) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mappingErr != nil {
		return nil, f.mappingErr
	}
	f.mappings = append(f.mappings, putMappingCall{Index: index, Type: docType, Mapping: m})
	return json.RawMessage(`{"acknowledged":true}`), nil
}

func (f *fakeClient) Bulk(_ context.Context, actions []search.BulkAction) (*search.BulkResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	f.bulks = append(f.bulks, actions)

	resp := &search.BulkResponse{Items: make([]search.BulkItem, 0, len(actions))}
	for _, a := range actions {
		resp.Items = append(resp.Items, search.BulkItem{Index: a.Index, ID: a.ID, Status: 201, Result: "created"})
	}
	if len(f.bulks) == f.bulkFailAt {
		resp.Errors = true
		resp.Items[0].Status = 400
		resp.Items[0].Error = &search.ErrorCause{Type: "mapper_parsing_exception", Reason: "failed to parse"}
	}
	return resp, nil
}

func (f *fakeClient) Index(ctx context.Context, req search.IndexRequest) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	f.indexed = append(f.indexed, req)
	return json.RawMessage(fmt.Sprintf(`{"_id":%q,"result":"created"}`, req.ID)), nil
}

func (f *fakeClient) Delete(ctx context.Context, req search.DeleteRequest) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, req)
	return json.RawMessage(fmt.Sprintf(`{"_id":%q,"result":"deleted"}`, req.ID)), nil
}

func (f *fakeClient) Search(_ context.Context, req search.SearchRequest) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, req)
	return json.RawMessage(`{"hits":{"total":{"value":0},"hits":[]}}`), nil
}

func (f *fakeClient) Close() error { return nil }

type findCall struct {
	Skip   int64
	Limit  int64
	Fields []string
}

// fakeStore serves a fixed record slice
type fakeStore struct {
	mu      sync.Mutex
	records []document.Record
	finds   []findCall

	countErr    error
	findErr     error
	findErrSkip int64
	// block, when set, holds every Find until it is closed
	block chan struct{}

	watched chan struct{}
}

func newFakeStore(records []document.Record) *fakeStore {
	return &fakeStore{records: records, findErrSkip: -1, watched: make(chan struct{}, 1)}
}

func (s *fakeStore) Count(_ context.Context, _ document.Filter) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return int64(len(s.records)), nil
}

func (s *fakeStore) Find(ctx context.Context, _ document.Filter, fields []string, skip, limit int64) ([]document.Record, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds = append(s.finds, findCall{Skip: skip, Limit: limit, Fields: fields})
	if s.findErr != nil && skip == s.findErrSkip {
		return nil, s.findErr
	}

	if skip >= int64(len(s.records)) {
		return nil, nil
	}
	end := skip + limit
	if end > int64(len(s.records)) {
		end = int64(len(s.records))
	}
	return s.records[skip:end], nil
}

func (s *fakeStore) FindByID(_ context.Context, id string) (document.Record, error) {
	for _, rec := range s.records {
		if rec[document.IDField] == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("record %s not found", id)
}

func (s *fakeStore) Watch(ctx context.Context, _ document.ChangeHandler) error {
	s.watched <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeStore) findCalls() []findCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]findCall(nil), s.finds...)
}

func makeRecords(n int) []document.Record {
	records := make([]document.Record, n)
	for i := range records {
		records[i] = document.Record{
			"_id":   fmt.Sprintf("rec-%03d", i),
			"name":  fmt.Sprintf("name %d", i),
			"email": fmt.Sprintf("user%d@example.com", i),
		}
	}
	return records
}
