package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/config"
	"github.com/davidschrooten/searchsync/internal/document"
	"github.com/davidschrooten/searchsync/internal/search"
	syncstate "github.com/davidschrooten/searchsync/internal/sync"
)

// stateSaveInterval is how often the sync state is flushed to disk
const stateSaveInterval = 30 * time.Second

// Service manages the mirrored collections of one deployment
type Service struct {
	client           search.Client
	config           *config.Config
	collections      map[string]*Collection
	syncStateManager *syncstate.StateManager
	logger           *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.Mutex
	running map[string]bool
}

// NewService creates the service. open returns the record store of a
// collection.
func NewService(cfg *config.Config, client search.Client, open func(collection string) RecordStore, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Initialize sync state manager
	syncStateManager := syncstate.NewStateManager(cfg.Search.SyncStatePath, logger)
	if err := syncStateManager.Load(); err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	service := &Service{
		client:           client,
		config:           cfg,
		collections:      make(map[string]*Collection, len(cfg.Collections)),
		syncStateManager: syncStateManager,
		logger:           logger,
		ctx:              ctx,
		cancel:           cancel,
		stopCh:           make(chan struct{}),
		running:          make(map[string]bool),
	}

	for _, collCfg := range cfg.Collections {
		coll, err := NewCollection(collCfg, client, open(collCfg.Name), syncStateManager, logger)
		if err != nil {
			cancel()
			return nil, err
		}
		service.collections[collCfg.Name] = coll
	}

	return service, nil
}

// Start applies the mappings of every collection and attaches the change
// watchers of automatically indexed collections
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting indexer service", zap.Int("collections", len(s.collections)))

	for _, name := range s.Collections() {
		coll := s.collections[name]
		if _, err := coll.CreateMappings(ctx); err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
	}

	// Start periodic state saving
	s.wg.Add(1)
	go s.syncStateManager.StartPeriodicSave(stateSaveInterval, s.stopCh, &s.wg)

	for _, name := range s.Collections() {
		coll := s.collections[name]
		if !coll.AutoIndex() {
			continue
		}
		s.wg.Add(1)
		go s.watch(coll)
	}

	return nil
}

// Stop cancels the watchers and running synchronizations, waits for
// in-flight hook operations and saves the sync state
func (s *Service) Stop() {
	s.logger.Info("Stopping indexer service")
	s.cancel()
	close(s.stopCh)
	s.wg.Wait()
	for _, coll := range s.collections {
		coll.Hook().Wait()
	}

	// Final save of sync state
	if err := s.syncStateManager.Save(); err != nil {
		s.logger.Error("Failed to save sync state during shutdown", zap.Error(err))
	}

	s.logger.Info("Indexer service stopped")
}

func (s *Service) watch(coll *Collection) {
	defer s.wg.Done()

	s.logger.Info("Watching for changes", zap.String("collection", coll.Name()))
	err := coll.Watch(s.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Change stream stopped", zap.String("collection", coll.Name()), zap.Error(err))
	}
}

// Collection returns the named collection
func (s *Service) Collection(name string) (*Collection, error) {
	coll, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return coll, nil
}

// Collections returns the configured collection names in sorted order
func (s *Service) Collections() []string {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartSync plans a synchronization of the named collection and runs it in
// the background. Only one run per collection may be active.
func (s *Service) StartSync(ctx context.Context, name string, filter document.Filter, opts SyncOptions) (SyncJob, error) {
	coll, err := s.Collection(name)
	if err != nil {
		return SyncJob{}, err
	}

	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		return SyncJob{}, fmt.Errorf("%w: %s", ErrSyncInProgress, name)
	}
	s.running[name] = true
	s.mu.Unlock()

	job, err := coll.Plan(ctx, filter, opts)
	if err != nil {
		s.release(name)
		return SyncJob{}, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(name)

		if _, err := coll.Execute(s.ctx, job, opts.OnBatch); err != nil {
			s.logger.Error("Background synchronization failed", zap.String("collection", name), zap.Error(err))
		}
	}()
	return job, nil
}

func (s *Service) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}

// Syncing reports whether a background synchronization of name is running
func (s *Service) Syncing(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[name]
}

// GetSyncState returns the sync state of the named collection, or nil
func (s *Service) GetSyncState(name string) *syncstate.CollectionState {
	return s.syncStateManager.GetCollectionState(name)
}

// GetSyncStates returns the current sync states for all collections
func (s *Service) GetSyncStates() map[string]*syncstate.CollectionState {
	return s.syncStateManager.GetAllCollectionStates()
}
