package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveBatch(t *testing.T) {
	ok := SyncBatchesTotal.WithLabelValues("batch_test", StatusOK)
	failed := SyncBatchesTotal.WithLabelValues("batch_test", StatusError)
	docs := SyncDocumentsTotal.WithLabelValues("batch_test")

	okBefore := testutil.ToFloat64(ok)
	failedBefore := testutil.ToFloat64(failed)
	docsBefore := testutil.ToFloat64(docs)

	ObserveBatch("batch_test", 100, nil)
	ObserveBatch("batch_test", 50, nil)
	ObserveBatch("batch_test", 0, errors.New("bulk rejected"))

	if got := testutil.ToFloat64(ok) - okBefore; got != 2 {
		t.Errorf("expected 2 successful batches, got %f", got)
	}
	if got := testutil.ToFloat64(failed) - failedBefore; got != 1 {
		t.Errorf("expected 1 failed batch, got %f", got)
	}
	if got := testutil.ToFloat64(docs) - docsBefore; got != 150 {
		t.Errorf("expected 150 documents, got %f", got)
	}
}

func TestObserveHookEvent(t *testing.T) {
	ObserveHookEvent("hook_test", "indexed", nil)
	ObserveHookEvent("hook_test", "removed", errors.New("boom"))

	if got := testutil.ToFloat64(HookEventsTotal.WithLabelValues("hook_test", "indexed", StatusOK)); got != 1 {
		t.Errorf("expected 1 indexed-ok event, got %f", got)
	}
	if got := testutil.ToFloat64(HookEventsTotal.WithLabelValues("hook_test", "removed", StatusError)); got != 1 {
		t.Errorf("expected 1 removed-err event, got %f", got)
	}
}
