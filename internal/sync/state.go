package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SyncStatus is the synchronization status of a collection
type SyncStatus string

const (
	StatusIdle       SyncStatus = "idle"
	StatusInProgress SyncStatus = "in_progress"
	StatusFailed     SyncStatus = "failed"
)

// CollectionState represents the sync state for a single collection
type CollectionState struct {
	Collection       string     `json:"collection"`
	IndexName        string     `json:"indexName"`
	Status           SyncStatus `json:"status"`
	Progress         float64    `json:"progress"` // percent of the current run
	TotalDocuments   int64      `json:"totalDocuments"`
	DocumentsIndexed int64      `json:"documentsIndexed"`
	BatchesCompleted int        `json:"batchesCompleted"`
	LastSyncTime     time.Time  `json:"lastSyncTime"`
	LastEventTime    time.Time  `json:"lastEventTime"`
	LastError        string     `json:"lastError,omitempty"`
}

// SyncState manages persistent state for all collections
type SyncState struct {
	Collections map[string]*CollectionState `json:"collections"`
	LastSaved   time.Time                   `json:"lastSaved"`
}

// StateManager handles loading and saving sync state
type StateManager struct {
	filePath string
	state    *SyncState
	mutex    sync.RWMutex
	logger   *zap.Logger
}

// NewStateManager creates a new sync state manager
func NewStateManager(filePath string, logger *zap.Logger) *StateManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateManager{
		filePath: filePath,
		state: &SyncState{
			Collections: make(map[string]*CollectionState),
		},
		logger: logger,
	}
}

// Load loads the sync state from disk. A run that was in progress when the
// state was saved is marked failed, since it did not finish.
func (sm *StateManager) Load() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	// Check if file exists
	if _, err := os.Stat(sm.filePath); os.IsNotExist(err) {
		sm.logger.Info("Sync state file not found, starting fresh", zap.String("path", sm.filePath))
		return nil
	}

	data, err := os.ReadFile(sm.filePath)
	if err != nil {
		return fmt.Errorf("failed to read sync state file: %w", err)
	}

	if err := json.Unmarshal(data, sm.state); err != nil {
		return fmt.Errorf("failed to parse sync state file: %w", err)
	}
	if sm.state.Collections == nil {
		sm.state.Collections = make(map[string]*CollectionState)
	}

	for _, state := range sm.state.Collections {
		if state.Status == StatusInProgress {
			state.Status = StatusFailed
			state.LastError = "interrupted"
		}
	}

	sm.logger.Info("Loaded sync state",
		zap.Int("collections", len(sm.state.Collections)),
		zap.String("path", sm.filePath))
	return nil
}

// Save saves the current sync state to disk
func (sm *StateManager) Save() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.state.LastSaved = time.Now()

	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	// Write to temporary file first
	tempFile := sm.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp sync state file: %w", err)
	}

	// Atomic move
	if err := os.Rename(tempFile, sm.filePath); err != nil {
		return fmt.Errorf("failed to move sync state file: %w", err)
	}

	return nil
}

// GetCollectionState returns a copy of the sync state for a collection
func (sm *StateManager) GetCollectionState(collection string) *CollectionState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	if state, exists := sm.state.Collections[collection]; exists {
		stateCopy := *state
		return &stateCopy
	}
	return nil
}

// UpdateCollectionState replaces the sync state for a collection
func (sm *StateManager) UpdateCollectionState(collection string, state *CollectionState) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.state.Collections[collection] = state
}

// entry returns the state of a collection, creating it if needed. Callers hold the lock.
func (sm *StateManager) entry(collection string) *CollectionState {
	state, exists := sm.state.Collections[collection]
	if !exists {
		state = &CollectionState{Collection: collection, Status: StatusIdle}
		sm.state.Collections[collection] = state
	}
	return state
}

// BeginSync resets the run counters of a collection and marks it in progress
func (sm *StateManager) BeginSync(collection, indexName string, total int64) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	state := sm.entry(collection)
	state.IndexName = indexName
	state.Status = StatusInProgress
	state.Progress = 0
	state.TotalDocuments = total
	state.DocumentsIndexed = 0
	state.BatchesCompleted = 0
	state.LastError = ""
}

// RecordBatch adds an acknowledged batch to the current run
func (sm *StateManager) RecordBatch(collection string, indexed int) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	state := sm.entry(collection)
	state.DocumentsIndexed += int64(indexed)
	state.BatchesCompleted++
	if state.TotalDocuments > 0 {
		state.Progress = float64(state.DocumentsIndexed) * 100 / float64(state.TotalDocuments)
		if state.Progress > 100 {
			state.Progress = 100
		}
	}
}

// FinishSync ends the current run. A nil error marks the collection idle
// and records the sync time; otherwise it is marked failed.
func (sm *StateManager) FinishSync(collection string, syncErr error) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	state := sm.entry(collection)
	if syncErr != nil {
		state.Status = StatusFailed
		state.LastError = syncErr.Error()
		return
	}
	state.Status = StatusIdle
	state.Progress = 100
	state.LastError = ""
	state.LastSyncTime = time.Now()
}

// SetLastEventTime records when a change was last pushed for a collection
func (sm *StateManager) SetLastEventTime(collection string, eventTime time.Time) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.entry(collection).LastEventTime = eventTime
}

// GetAllCollectionStates returns all collection states
func (sm *StateManager) GetAllCollectionStates() map[string]*CollectionState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	// Return a copy to avoid race conditions
	result := make(map[string]*CollectionState)
	for key, state := range sm.state.Collections {
		stateCopy := *state
		result[key] = &stateCopy
	}
	return result
}

// RemoveCollectionState removes a collection state (for cleanup)
func (sm *StateManager) RemoveCollectionState(collection string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	delete(sm.state.Collections, collection)
}

// StartPeriodicSave starts a goroutine that periodically saves state
func (sm *StateManager) StartPeriodicSave(interval time.Duration, stopCh <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sm.Save(); err != nil {
				sm.logger.Error("Failed to save sync state", zap.Error(err))
			}
		case <-stopCh:
			// Final save before stopping
			if err := sm.Save(); err != nil {
				sm.logger.Error("Failed to save sync state on shutdown", zap.Error(err))
			}
			return
		}
	}
}
