package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/davidschrooten/searchsync/config"
	"github.com/davidschrooten/searchsync/internal/document"
	"github.com/davidschrooten/searchsync/internal/mapping"
	"github.com/davidschrooten/searchsync/internal/metrics"
	syncstate "github.com/davidschrooten/searchsync/internal/sync"
)

func userConfig() config.CollectionConfig {
	return config.CollectionConfig{
		Name: "user",
		Fields: []config.FieldConfig{
			{Name: "name", Type: "string", Indexed: true},
			{Name: "email", Type: "string"},
		},
	}
}

func newTestCollection(t *testing.T, cfg config.CollectionConfig, records []document.Record) (*Collection, *fakeClient, *syncstate.StateManager) {
	t.Helper()
	client := newFakeClient()
	state := syncstate.NewStateManager(filepath.Join(t.TempDir(), "state.json"), nil)
	coll, err := NewCollection(cfg, client, newFakeStore(records), state, nil)
	if err != nil {
		t.Fatalf("NewCollection: %v", err)
	}
	return coll, client, state
}

func intPtr(v int) *int { return &v }

func TestNewCollection(t *testing.T) {
	coll, _, _ := newTestCollection(t, userConfig(), nil)

	if coll.Target() != (Target{Index: "users", Type: "user"}) {
		t.Errorf("Unexpected default target: %+v", coll.Target())
	}
	if !coll.AutoIndex() {
		t.Error("Expected automatic indexing by default")
	}
	m := coll.Mapping()
	if len(m) != 1 || m["name"].Type != mapping.Text {
		t.Errorf("Expected only the indexed field in the mapping, got %v", m)
	}

	bad := userConfig()
	bad.Fields = append(bad.Fields, config.FieldConfig{Name: "name"})
	if _, err := NewCollection(bad, newFakeClient(), newFakeStore(nil), nil, nil); err == nil {
		t.Error("Expected duplicate field to be rejected")
	}
}

func TestCollection_SearchOptionPrecedence(t *testing.T) {
	coll, client, _ := newTestCollection(t, userConfig(), nil)

	query := map[string]interface{}{
		"query": map[string]interface{}{"match": map[string]interface{}{"name": "ada"}},
		"from":  float64(5),
		"size":  float64(7),
		"sort":  []interface{}{"name"},
	}
	if _, err := coll.Search(context.Background(), query, SearchOptions{Skip: intPtr(10)}); err != nil {
		t.Fatalf("Search: %v", err)
	}

	req := client.searches[0]
	if req.Index != "users" {
		t.Errorf("Expected index to be pinned, got %s", req.Index)
	}
	if req.From == nil || *req.From != 10 {
		t.Errorf("Expected skip option to win, got %v", req.From)
	}
	if req.Size == nil || *req.Size != 7 {
		t.Errorf("Expected body size to be kept, got %v", req.Size)
	}
	if _, ok := req.Body["from"]; ok {
		t.Error("Resolved from must not stay in the body")
	}
	if _, ok := req.Body["sort"]; !ok || req.Sort != nil {
		t.Errorf("Expected body sort to pass through, got body %v sort %v", req.Body, req.Sort)
	}
	if _, ok := query["from"]; !ok {
		t.Error("Caller query must not be modified")
	}

	if _, err := coll.Search(context.Background(), query, SearchOptions{Limit: intPtr(3), Sort: []string{"email:desc"}}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	req = client.searches[1]
	if *req.From != 5 || *req.Size != 3 {
		t.Errorf("Expected from 5 size 3, got %d %d", *req.From, *req.Size)
	}
	if _, ok := req.Body["sort"]; ok || !reflect.DeepEqual(req.Sort, []string{"email:desc"}) {
		t.Errorf("Expected sort option to win, got body %v sort %v", req.Body, req.Sort)
	}
}

func TestCollection_SearchWithoutPaging(t *testing.T) {
	coll, client, _ := newTestCollection(t, userConfig(), nil)

	if _, err := coll.Search(context.Background(), nil, SearchOptions{}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	req := client.searches[0]
	if req.From != nil || req.Size != nil || req.Sort != nil {
		t.Errorf("Expected unset paging, got %+v", req)
	}
	if req.Body == nil {
		t.Error("Expected an empty body rather than nil")
	}
}

func TestCollection_SearchDropsNegativePaging(t *testing.T) {
	coll, client, _ := newTestCollection(t, userConfig(), nil)

	query := map[string]interface{}{"from": float64(-3), "size": float64(4)}
	if _, err := coll.Search(context.Background(), query, SearchOptions{Skip: intPtr(-1), Limit: intPtr(-5)}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	req := client.searches[0]
	if req.From != nil {
		t.Errorf("Expected negative skip to be dropped, got %d", *req.From)
	}
	if req.Size == nil || *req.Size != 4 {
		t.Errorf("Expected body size to apply when the limit is negative, got %v", req.Size)
	}
	if _, ok := req.Body["from"]; ok {
		t.Error("Negative body from must not reach the engine")
	}
}

func TestCollection_IndexOne(t *testing.T) {
	coll, client, _ := newTestCollection(t, userConfig(), nil)
	ctx := context.Background()
	rec := document.Record{"_id": "u1", "name": "ada", "email": "ada@example.com"}

	if _, err := coll.IndexOne(ctx, rec, IndexOptions{}); err != nil {
		t.Fatalf("IndexOne: %v", err)
	}
	req := client.indexed[0]
	if req.Index != "users" || req.Type != "user" || req.ID != "u1" {
		t.Errorf("Unexpected request: %+v", req)
	}
	if !reflect.DeepEqual(req.Body, document.Document{"name": "ada"}) {
		t.Errorf("Expected schema selection, got %v", req.Body)
	}

	if _, err := coll.IndexOne(ctx, rec, IndexOptions{Index: "archive", Fields: []string{"email"}}); err != nil {
		t.Fatalf("IndexOne: %v", err)
	}
	req = client.indexed[1]
	if req.Index != "archive" || req.Type != "user" || req.Body["email"] != "ada@example.com" {
		t.Errorf("Expected override target, got %+v", req)
	}

	if _, err := coll.IndexOne(ctx, document.Record{"name": "x"}, IndexOptions{}); !errors.Is(err, ErrMissingID) {
		t.Errorf("Expected ErrMissingID, got %v", err)
	}
}

func TestCollection_UnindexOne(t *testing.T) {
	coll, client, _ := newTestCollection(t, userConfig(), nil)
	ctx := context.Background()

	if _, err := coll.UnindexOne(ctx, document.Record{"_id": "u1"}, IndexOptions{Type: "person"}); err != nil {
		t.Fatalf("UnindexOne: %v", err)
	}
	if req := client.deleted[0]; req.Index != "users" || req.Type != "person" || req.ID != "u1" {
		t.Errorf("Unexpected request: %+v", req)
	}

	if _, err := coll.UnindexOne(ctx, document.Record{}, IndexOptions{}); !errors.Is(err, ErrMissingID) {
		t.Errorf("Expected ErrMissingID, got %v", err)
	}

	client.deleteErr = errors.New("timeout")
	if _, err := coll.UnindexOne(ctx, document.Record{"_id": "u1"}, IndexOptions{}); !errors.Is(err, client.deleteErr) {
		t.Errorf("Expected client error, got %v", err)
	}
}

func TestCollection_CreateMappings(t *testing.T) {
	coll, client, _ := newTestCollection(t, userConfig(), nil)

	if _, err := coll.CreateMappings(context.Background()); err != nil {
		t.Fatalf("CreateMappings: %v", err)
	}
	if len(client.created) != 1 || len(client.mappings) != 1 {
		t.Fatalf("Expected index and mapping, got %v %v", client.created, client.mappings)
	}
	if !reflect.DeepEqual(client.mappings[0].Mapping, coll.Mapping()) {
		t.Errorf("Expected compiled mapping, got %v", client.mappings[0].Mapping)
	}
}

func TestCollection_SynchronizeRecordsState(t *testing.T) {
	cfg := userConfig()
	cfg.Name = "state_user"
	cfg.BatchSize = 100
	coll, _, state := newTestCollection(t, cfg, makeRecords(250))

	batches := metrics.SyncBatchesTotal.WithLabelValues("state_user", metrics.StatusOK)
	before := testutil.ToFloat64(batches)

	result, err := coll.Synchronize(context.Background(), nil, SyncOptions{})
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if result.Indexed != 250 {
		t.Errorf("Expected 250 indexed, got %d", result.Indexed)
	}

	st := state.GetCollectionState("state_user")
	if st == nil {
		t.Fatal("Expected sync state to be recorded")
	}
	if st.Status != syncstate.StatusIdle || st.Progress != 100 || st.DocumentsIndexed != 250 || st.BatchesCompleted != 3 {
		t.Errorf("Unexpected state: %+v", st)
	}
	if st.IndexName != "state_users" {
		t.Errorf("Expected index name in state, got %s", st.IndexName)
	}
	if got := testutil.ToFloat64(batches) - before; got != 3 {
		t.Errorf("Expected 3 batches counted, got %v", got)
	}
}

func TestCollection_SynchronizeFailureRecordsState(t *testing.T) {
	coll, client, state := newTestCollection(t, userConfig(), makeRecords(250))
	client.bulkFailAt = 2

	if _, err := coll.Synchronize(context.Background(), nil, SyncOptions{}); err == nil {
		t.Fatal("Expected synchronization to fail")
	}
	st := state.GetCollectionState("user")
	if st.Status != syncstate.StatusFailed || st.LastError == "" {
		t.Errorf("Expected failed state, got %+v", st)
	}
	if st.DocumentsIndexed != 100 || st.Progress != 40 {
		t.Errorf("Expected partial progress to be kept, got %+v", st)
	}
}

func TestCollection_HookUpdatesLastEventTime(t *testing.T) {
	coll, _, state := newTestCollection(t, userConfig(), nil)

	coll.Hook().OnSave(context.Background(), document.Record{"_id": "u1", "name": "ada"})
	coll.Hook().Wait()

	st := state.GetCollectionState("user")
	if st == nil || st.LastEventTime.IsZero() {
		t.Errorf("Expected last event time to be recorded, got %+v", st)
	}
}
