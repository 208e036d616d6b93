package discovery

import (
	"container/heap"
	"sync"
	"time"
)

// membershipEntry is a single known peer and the last time it was seen,
// either directly (HELLO) or through a gossip merge.
type membershipEntry struct {
	id       string
	lastSeen time.Time
	index    int // heap.Interface bookkeeping
}

// membership is the thread-safe set of known peer ids with their lastSeen
// timestamps (spec.md §3 "Membership view").
//
// Entries are tracked both in a map, for O(1) lookup, and in a min-heap
// ordered by lastSeen, so the cleaner can find stale entries without
// scanning the whole set. This is the same shape as objects-cache's
// cacheItemHeap (container/heap over a TTL-ish timestamp), repurposed here
// for staleness pruning instead of cache eviction: Set() deletes any
// existing heap entry for the id before pushing the refreshed one, exactly
// the delete-then-push pattern objects-cache's Put() uses.
type membership struct {
	mu      sync.RWMutex
	entries map[string]*membershipEntry
	staleH  staleHeap
}

func newMembership() *membership {
	h := make(staleHeap, 0)
	heap.Init(&h)
	return &membership{
		entries: map[string]*membershipEntry{},
		staleH:  h,
	}
}

// Get returns the current lastSeen for id, or the zero time and false if id
// is unknown.
func (m *membership) Get(id string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// Set creates or refreshes id's lastSeen. Returns true if id was not
// previously known.
func (m *membership) Set(id string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, isNew := m.entries[id], false
	if existing == nil {
		isNew = true
	} else {
		heap.Remove(&m.staleH, existing.index)
	}

	e := &membershipEntry{id: id, lastSeen: at}
	m.entries[id] = e
	heap.Push(&m.staleH, e)
	return isNew
}

// Remove deletes id from the view, if present.
func (m *membership) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return
	}
	heap.Remove(&m.staleH, e.index)
	delete(m.entries, id)
}

// Snapshot returns every known peer id, excluding self.
func (m *membership) Snapshot(self string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.entries))
	for id := range m.entries {
		if id == self {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Prune removes and returns every id whose lastSeen is older than
// threshold as of now.
func (m *membership) Prune(threshold time.Duration, now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pruned []string
	for m.staleH.Len() > 0 {
		oldest := m.staleH[0]
		if now.Sub(oldest.lastSeen) < threshold {
			break
		}
		heap.Pop(&m.staleH)
		delete(m.entries, oldest.id)
		pruned = append(pruned, oldest.id)
	}
	return pruned
}

// staleHeap is a min-heap of membershipEntry ordered by lastSeen, oldest
// first, so the cleaner can cheaply find everything past the staleness
// threshold.
type staleHeap []*membershipEntry

func (h staleHeap) Len() int            { return len(h) }
func (h staleHeap) Less(i, j int) bool  { return h[i].lastSeen.Before(h[j].lastSeen) }
func (h staleHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *staleHeap) Push(v any) {
	e := v.(*membershipEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *staleHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
