package sync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewStateManager(t *testing.T) {
	sm := NewStateManager("/tmp/test_sync_state.json", nil)
	if sm == nil {
		t.Fatal("NewStateManager returned nil")
	}
	if sm.filePath != "/tmp/test_sync_state.json" {
		t.Errorf("Expected filePath to be '/tmp/test_sync_state.json', got '%s'", sm.filePath)
	}
	if sm.state == nil || sm.state.Collections == nil {
		t.Error("Expected state to be initialized")
	}
	if sm.logger == nil {
		t.Error("Expected a default logger")
	}
}

func TestStateManager_SaveAndLoad(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "test_sync_state.json")
	sm := NewStateManager(tempFile, zap.NewNop())

	testTime := time.Now().Truncate(time.Second) // Truncate for JSON precision
	sm.UpdateCollectionState("user", &CollectionState{
		Collection:       "user",
		IndexName:        "users",
		Status:           StatusIdle,
		Progress:         100,
		TotalDocuments:   1234,
		DocumentsIndexed: 1234,
		BatchesCompleted: 13,
		LastSyncTime:     testTime,
	})

	if err := sm.Save(); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}
	if _, err := os.Stat(tempFile); os.IsNotExist(err) {
		t.Fatal("State file was not created")
	}

	sm2 := NewStateManager(tempFile, zap.NewNop())
	if err := sm2.Load(); err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}

	loaded := sm2.GetCollectionState("user")
	if loaded == nil {
		t.Fatal("Failed to load collection state")
	}
	if !loaded.LastSyncTime.Equal(testTime) {
		t.Errorf("Expected LastSyncTime %v, got %v", testTime, loaded.LastSyncTime)
	}
	if loaded.IndexName != "users" {
		t.Errorf("Expected IndexName 'users', got '%s'", loaded.IndexName)
	}
	if loaded.Status != StatusIdle {
		t.Errorf("Expected status idle, got %s", loaded.Status)
	}
	if loaded.DocumentsIndexed != 1234 || loaded.BatchesCompleted != 13 {
		t.Errorf("Unexpected counters: %+v", loaded)
	}
}

func TestStateManager_LoadMarksInterruptedRunsFailed(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "state.json")
	sm := NewStateManager(tempFile, zap.NewNop())
	sm.BeginSync("user", "users", 10)
	if err := sm.Save(); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	sm2 := NewStateManager(tempFile, zap.NewNop())
	if err := sm2.Load(); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	state := sm2.GetCollectionState("user")
	if state.Status != StatusFailed || state.LastError == "" {
		t.Errorf("Expected interrupted run to be failed, got %+v", state)
	}
}

func TestStateManager_LoadNonExistentFile(t *testing.T) {
	sm := NewStateManager(filepath.Join(t.TempDir(), "missing.json"), nil)
	if err := sm.Load(); err != nil {
		t.Errorf("Expected no error when loading non-existent file, got: %v", err)
	}
}

func TestStateManager_LoadCorruptFile(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(tempFile, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := NewStateManager(tempFile, nil).Load(); err == nil {
		t.Error("Expected error for corrupt state file")
	}
}

func TestStateManager_GetCollectionStateReturnsCopy(t *testing.T) {
	sm := NewStateManager("/tmp/test.json", nil)

	if sm.GetCollectionState("missing") != nil {
		t.Error("Expected nil for non-existent collection")
	}

	sm.UpdateCollectionState("user", &CollectionState{Collection: "user", IndexName: "users"})
	state := sm.GetCollectionState("user")
	state.IndexName = "changed"

	if sm.GetCollectionState("user").IndexName != "users" {
		t.Error("Expected GetCollectionState to return a copy")
	}
}

func TestStateManager_SyncLifecycle(t *testing.T) {
	sm := NewStateManager("/tmp/test.json", nil)

	sm.BeginSync("user", "users", 250)
	state := sm.GetCollectionState("user")
	if state.Status != StatusInProgress || state.TotalDocuments != 250 || state.IndexName != "users" {
		t.Fatalf("Unexpected state after BeginSync: %+v", state)
	}

	sm.RecordBatch("user", 100)
	sm.RecordBatch("user", 100)
	state = sm.GetCollectionState("user")
	if state.DocumentsIndexed != 200 || state.BatchesCompleted != 2 {
		t.Errorf("Unexpected counters: %+v", state)
	}
	if state.Progress != 80 {
		t.Errorf("Expected progress 80, got %f", state.Progress)
	}

	sm.FinishSync("user", errors.New("bulk rejected"))
	state = sm.GetCollectionState("user")
	if state.Status != StatusFailed || state.LastError != "bulk rejected" {
		t.Errorf("Expected failed state, got %+v", state)
	}
	if !state.LastSyncTime.IsZero() {
		t.Error("A failed run must not record a sync time")
	}

	sm.BeginSync("user", "users", 50)
	sm.RecordBatch("user", 50)
	sm.FinishSync("user", nil)
	state = sm.GetCollectionState("user")
	if state.Status != StatusIdle || state.LastError != "" || state.Progress != 100 {
		t.Errorf("Expected idle state, got %+v", state)
	}
	if state.LastSyncTime.IsZero() {
		t.Error("Expected LastSyncTime to be recorded")
	}
}

func TestStateManager_SetLastEventTime(t *testing.T) {
	sm := NewStateManager("/tmp/test.json", nil)
	testTime := time.Now().Truncate(time.Second)

	sm.SetLastEventTime("post", testTime)

	state := sm.GetCollectionState("post")
	if state == nil {
		t.Fatal("Expected collection state to be created")
	}
	if !state.LastEventTime.Equal(testTime) {
		t.Errorf("Expected LastEventTime %v, got %v", testTime, state.LastEventTime)
	}
	if state.Status != StatusIdle {
		t.Errorf("Expected new state to be idle, got %s", state.Status)
	}
}

func TestStateManager_GetAllCollectionStates(t *testing.T) {
	sm := NewStateManager("/tmp/test.json", nil)

	sm.BeginSync("collection1", "index1", 100)
	sm.RecordBatch("collection1", 100)
	sm.SetLastEventTime("collection2", time.Now())

	states := sm.GetAllCollectionStates()
	if len(states) != 2 {
		t.Errorf("Expected 2 collection states, got %d", len(states))
	}
	if states["collection1"] == nil || states["collection2"] == nil {
		t.Fatal("Expected both collections to exist in states")
	}
	if states["collection1"].DocumentsIndexed != 100 {
		t.Errorf("Expected collection1 DocumentsIndexed 100, got %d", states["collection1"].DocumentsIndexed)
	}
}

func TestStateManager_RemoveCollectionState(t *testing.T) {
	sm := NewStateManager("/tmp/test.json", nil)

	sm.SetLastEventTime("test", time.Now())
	if sm.GetCollectionState("test") == nil {
		t.Fatal("Expected collection to be added")
	}

	sm.RemoveCollectionState("test")
	if sm.GetCollectionState("test") != nil {
		t.Error("Expected collection to be removed")
	}
}

func TestStateManager_ConcurrentAccess(t *testing.T) {
	sm := NewStateManager("/tmp/test.json", nil)
	const numGoroutines = 10
	const numOperations = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			collection := fmt.Sprintf("collection%d", id)

			for j := 0; j < numOperations; j++ {
				sm.SetLastEventTime(collection, time.Now())
				sm.RecordBatch(collection, 1)
				sm.GetCollectionState(collection)
			}
		}(i)
	}

	wg.Wait()

	states := sm.GetAllCollectionStates()
	if len(states) != numGoroutines {
		t.Errorf("Expected %d collections, got %d", numGoroutines, len(states))
	}

	for i := 0; i < numGoroutines; i++ {
		collection := fmt.Sprintf("collection%d", i)
		state := states[collection]
		if state == nil {
			t.Errorf("Expected collection %s to exist", collection)
			continue
		}
		if state.DocumentsIndexed != numOperations {
			t.Errorf("Expected collection %s to have %d documents, got %d",
				collection, numOperations, state.DocumentsIndexed)
		}
	}
}

func TestStateManager_AtomicSave(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "test_atomic_save.json")
	sm := NewStateManager(tempFile, nil)

	sm.SetLastEventTime("test", time.Now())

	if err := sm.Save(); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	if _, err := os.Stat(tempFile + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temporary file should not exist after successful save")
	}
	if _, err := os.Stat(tempFile); os.IsNotExist(err) {
		t.Error("Main state file should exist after save")
	}
}

func TestStateManager_StartPeriodicSave(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "periodic.json")
	sm := NewStateManager(tempFile, nil)
	sm.SetLastEventTime("test", time.Now())

	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go sm.StartPeriodicSave(time.Hour, stopCh, &wg)

	close(stopCh)
	wg.Wait()

	if _, err := os.Stat(tempFile); err != nil {
		t.Errorf("Expected state to be saved on stop, got %v", err)
	}
}
