package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/config"
	"github.com/davidschrooten/searchsync/internal/document"
)

func newTestService(t *testing.T, stores map[string]*fakeStore) (*Service, *fakeClient) {
	t.Helper()
	manual := false
	cfg := &config.Config{
		Search: config.SearchConfig{SyncStatePath: filepath.Join(t.TempDir(), "state.json")},
		Collections: []config.CollectionConfig{
			userConfig(),
			{Name: "post", IndexAutomatically: &manual},
		},
	}
	client := newFakeClient()
	svc, err := NewService(cfg, client, func(name string) RecordStore {
		return stores[name]
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, client
}

func TestService_Collections(t *testing.T) {
	svc, _ := newTestService(t, map[string]*fakeStore{
		"user": newFakeStore(nil),
		"post": newFakeStore(nil),
	})

	if got := svc.Collections(); !reflect.DeepEqual(got, []string{"post", "user"}) {
		t.Errorf("Unexpected collections: %v", got)
	}
	coll, err := svc.Collection("post")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if coll.Target().Index != "posts" {
		t.Errorf("Expected derived index, got %s", coll.Target().Index)
	}
	if _, err := svc.Collection("comment"); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("Expected ErrUnknownCollection, got %v", err)
	}
}

func TestService_StartWatchesAutoIndexedCollections(t *testing.T) {
	stores := map[string]*fakeStore{
		"user": newFakeStore(nil),
		"post": newFakeStore(nil),
	}
	svc, client := newTestService(t, stores)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-stores["user"].watched:
	case <-time.After(time.Second):
		t.Fatal("Expected the user collection to be watched")
	}
	select {
	case <-stores["post"].watched:
		t.Error("Collections without automatic indexing must not be watched")
	default:
	}

	svc.Stop()

	if len(client.mappings) != 2 {
		t.Errorf("Expected mappings for both collections, got %d", len(client.mappings))
	}
}

func TestService_StartSync(t *testing.T) {
	store := newFakeStore(makeRecords(30))
	store.block = make(chan struct{})
	svc, client := newTestService(t, map[string]*fakeStore{
		"user": store,
		"post": newFakeStore(nil),
	})
	ctx := context.Background()

	done := make(chan BatchResult, 10)
	job, err := svc.StartSync(ctx, "user", document.Filter{}, SyncOptions{
		BatchSize: 10,
		OnBatch:   func(br BatchResult) { done <- br },
	})
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}
	if job.Total != 30 || job.Batches != 3 {
		t.Errorf("Unexpected job: %+v", job)
	}
	if !svc.Syncing("user") {
		t.Error("Expected run to be marked active")
	}

	if _, err := svc.StartSync(ctx, "user", nil, SyncOptions{}); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Expected ErrSyncInProgress, got %v", err)
	}
	if _, err := svc.StartSync(ctx, "comment", nil, SyncOptions{}); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("Expected ErrUnknownCollection, got %v", err)
	}

	close(store.block)
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for batch %d", i)
		}
	}
	svc.Stop()

	if svc.Syncing("user") {
		t.Error("Expected run to be released")
	}
	if len(client.bulks) != 3 {
		t.Errorf("Expected 3 bulk calls, got %d", len(client.bulks))
	}
	if st := svc.GetSyncState("user"); st == nil || st.DocumentsIndexed != 30 {
		t.Errorf("Unexpected sync state: %+v", st)
	}
	if len(svc.GetSyncStates()) != 1 {
		t.Errorf("Expected one recorded collection, got %v", svc.GetSyncStates())
	}
}

func TestService_StopCancelsRunningSync(t *testing.T) {
	store := newFakeStore(makeRecords(30))
	store.block = make(chan struct{})
	svc, _ := newTestService(t, map[string]*fakeStore{
		"user": store,
		"post": newFakeStore(nil),
	})

	if _, err := svc.StartSync(context.Background(), "user", nil, SyncOptions{BatchSize: 10}); err != nil {
		t.Fatalf("StartSync: %v", err)
	}
	svc.Stop()

	st := svc.GetSyncState("user")
	if st == nil || st.LastError == "" {
		t.Errorf("Expected cancelled run to be recorded as failed, got %+v", st)
	}
}
