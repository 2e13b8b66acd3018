package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/internal/document"
	"github.com/davidschrooten/searchsync/internal/metrics"
	"github.com/davidschrooten/searchsync/internal/search"
)

// Event is the kind of incremental operation a notification reports
type Event string

const (
	EventIndexed Event = "indexed"
	EventRemoved Event = "removed"
)

// Notification reports the outcome of one incremental operation
type Notification struct {
	Event    Event
	ID       string
	Err      error
	Response json.RawMessage
}

// Name returns the event name with its outcome, e.g. "indexed-ok"
func (n Notification) Name() string {
	if n.Err != nil {
		return string(n.Event) + "-err"
	}
	return string(n.Event) + "-ok"
}

// Listener receives hook notifications
type Listener func(Notification)

type saveAction int

const (
	actionNone saveAction = iota
	actionIndex
	actionDelete
)

// classify routes a saved record by its soft delete marker. A record
// without the marker is indexed.
func classify(rec document.Record, marker string) saveAction {
	v, ok := rec[marker]
	if !ok {
		return actionIndex
	}
	switch strings.ToLower(fmt.Sprint(v)) {
	case "true":
		return actionDelete
	case "false":
		return actionIndex
	default:
		return actionNone
	}
}

// Hook pushes single record changes to the search index. It implements
// document.ChangeHandler; every change is handled in its own goroutine and
// reported to the subscribed listeners.
type Hook struct {
	client     search.Client
	collection string
	target     Target
	selection  []string
	marker     string
	logger     *zap.Logger

	mu        sync.RWMutex
	listeners []Listener
	wg        sync.WaitGroup
}

// NewHook creates a hook for collection. marker is the soft delete field.
func NewHook(client search.Client, collection string, target Target, selection []string, marker string, logger *zap.Logger) *Hook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hook{
		client:     client,
		collection: collection,
		target:     target,
		selection:  selection,
		marker:     marker,
		logger:     logger,
	}
}

// Subscribe registers a listener for all later notifications
func (h *Hook) Subscribe(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

// Wait blocks until every in-flight operation has notified its listeners
func (h *Hook) Wait() {
	h.wg.Wait()
}

// OnSave indexes or removes a saved record depending on its soft delete marker
func (h *Hook) OnSave(ctx context.Context, rec document.Record) {
	ctx = context.WithoutCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if n, ok := h.save(ctx, rec); ok {
			h.notify(n)
		}
	}()
}

// OnRemove removes a deleted record from the index
func (h *Hook) OnRemove(ctx context.Context, rec document.Record) {
	if rec == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if n, ok := h.remove(ctx, rec); ok {
			h.notify(n)
		}
	}()
}

func (h *Hook) save(ctx context.Context, rec document.Record) (Notification, bool) {
	switch classify(rec, h.marker) {
	case actionDelete:
		return h.remove(ctx, rec)
	case actionIndex:
		id, doc, err := document.Build(rec, h.selection)
		if err != nil {
			return Notification{Event: EventIndexed, Err: err}, true
		}
		resp, err := h.client.Index(ctx, search.IndexRequest{
			Index: h.target.Index,
			Type:  h.target.Type,
			ID:    id,
			Body:  doc,
		})
		return Notification{Event: EventIndexed, ID: id, Err: err, Response: resp}, true
	default:
		h.logger.Debug("Ignoring record with undecided deletion marker",
			zap.String("collection", h.collection),
			zap.String("marker", h.marker),
			zap.Any("value", rec[h.marker]))
		return Notification{}, false
	}
}

func (h *Hook) remove(ctx context.Context, rec document.Record) (Notification, bool) {
	id, err := rec.ID()
	if err != nil {
		h.logger.Debug("Ignoring removal of record without id", zap.String("collection", h.collection))
		return Notification{}, false
	}
	resp, err := h.client.Delete(ctx, search.DeleteRequest{
		Index: h.target.Index,
		Type:  h.target.Type,
		ID:    id,
	})
	return Notification{Event: EventRemoved, ID: id, Err: err, Response: resp}, true
}

func (h *Hook) notify(n Notification) {
	metrics.ObserveHookEvent(h.collection, string(n.Event), n.Err)
	if n.Err != nil {
		h.logger.Error("Incremental index operation failed",
			zap.String("collection", h.collection),
			zap.String("event", n.Name()),
			zap.String("id", n.ID),
			zap.Error(n.Err))
	} else {
		h.logger.Debug("Incremental index operation",
			zap.String("collection", h.collection),
			zap.String("event", n.Name()),
			zap.String("id", n.ID))
	}

	h.mu.RLock()
	listeners := make([]Listener, len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.RUnlock()

	for _, l := range listeners {
		l(n)
	}
}
