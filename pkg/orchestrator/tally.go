package orchestrator

import (
	"sort"
	"sync"

	"github.com/stratumhq/mongorelay/pkg/events"
)

// tally aggregates broker events into run-level counters for the final
// summary line. It is written by the consume goroutine and read once the
// run has finished, but stays locked anyway so a snapshot taken early is
// still coherent.
type tally struct {
	mu        sync.Mutex
	batches   int64
	documents int64
	indexes   int64
	deletes   int64
	fallbacks int64
	resumes   int64
	failed    map[string]bool
}

// tallySnapshot is an immutable copy of the tally counters. Failed holds
// distinct collection names, sorted.
type tallySnapshot struct {
	Batches   int64
	Documents int64
	Indexes   int64
	Deletes   int64
	Fallbacks int64
	Resumes   int64
	Failed    []string
}

func (t *tally) record(event *events.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Type {
	case events.EventBatchApplied:
		t.batches++
		t.documents += event.Count
	case events.EventIndexesCreated:
		t.indexes += event.Count
	case events.EventDeletesReconciled:
		t.deletes += event.Count
	case events.EventStreamFallback:
		t.fallbacks++
	case events.EventStreamResumed:
		t.resumes++
	case events.EventCollectionFailed:
		if t.failed == nil {
			t.failed = make(map[string]bool)
		}
		t.failed[event.Collection] = true
	}
}

func (t *tally) snapshot() tallySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := tallySnapshot{
		Batches:   t.batches,
		Documents: t.documents,
		Indexes:   t.indexes,
		Deletes:   t.deletes,
		Fallbacks: t.fallbacks,
		Resumes:   t.resumes,
	}
	for collection := range t.failed {
		snap.Failed = append(snap.Failed, collection)
	}
	sort.Strings(snap.Failed)
	return snap
}
