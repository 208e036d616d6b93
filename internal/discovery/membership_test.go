package discovery

import (
	"testing"
	"time"
)

func TestSetReportsNewEntries(t *testing.T) {
	m := newMembership()

	if isNew := m.Set("a:1", time.Now()); !isNew {
		t.Fatal("expected first Set to report a new entry")
	}
	if isNew := m.Set("a:1", time.Now()); isNew {
		t.Fatal("expected second Set for the same id to not be new")
	}
}

func TestSnapshotExcludesSelf(t *testing.T) {
	m := newMembership()
	m.Set("self:1", time.Now())
	m.Set("other:1", time.Now())

	got := m.Snapshot("self:1")
	if len(got) != 1 || got[0] != "other:1" {
		t.Fatalf("Snapshot(self) = %v, want [other:1]", got)
	}
}

func TestPruneRemovesOnlyStaleEntries(t *testing.T) {
	m := newMembership()
	now := time.Now()
	m.Set("stale:1", now.Add(-time.Minute))
	m.Set("fresh:1", now)

	pruned := m.Prune(30*time.Second, now)
	if len(pruned) != 1 || pruned[0] != "stale:1" {
		t.Fatalf("Prune = %v, want [stale:1]", pruned)
	}

	if _, ok := m.Get("stale:1"); ok {
		t.Fatal("expected stale:1 to be removed")
	}
	if _, ok := m.Get("fresh:1"); !ok {
		t.Fatal("expected fresh:1 to remain")
	}
}

func TestPruneLeavesEverythingFreshUntouched(t *testing.T) {
	m := newMembership()
	now := time.Now()
	for _, id := range []string{"a:1", "b:1", "c:1"} {
		m.Set(id, now)
	}

	pruned := m.Prune(time.Minute, now)
	if len(pruned) != 0 {
		t.Fatalf("expected nothing pruned, got %v", pruned)
	}
}

func TestRemove(t *testing.T) {
	m := newMembership()
	m.Set("a:1", time.Now())
	m.Remove("a:1")

	if _, ok := m.Get("a:1"); ok {
		t.Fatal("expected a:1 to be removed")
	}
	// Remove on an unknown id must not panic.
	m.Remove("unknown:1")
}
