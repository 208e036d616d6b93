package discovery

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestDiscovery(selfID string, gossip bool) *Discovery {
	cfg := DefaultConfig()
	cfg.Gossip = gossip
	return New(selfID, cfg, zap.NewNop())
}

func TestHandleHelloIgnoresSelf(t *testing.T) {
	d := newTestDiscovery("self:1", true)
	d.handleDatagram(formatHello("self:1"))

	if len(d.View()) != 0 {
		t.Fatalf("expected self HELLO to be ignored, view = %v", d.View())
	}
}

func TestHandleHelloAddsPeer(t *testing.T) {
	d := newTestDiscovery("self:1", true)
	d.handleDatagram(formatHello("peer:1"))

	view := d.View()
	if len(view) != 1 || view[0] != "peer:1" {
		t.Fatalf("View() = %v, want [peer:1]", view)
	}
}

func TestHandleGossipDroppedWhenNotEnabled(t *testing.T) {
	d := newTestDiscovery("self:1", false)
	payload := formatGossip("sender:1", time.Now(), []gossipEntry{{id: "peer:1", ts: time.Now()}})
	d.handleDatagram(payload)

	if len(d.View()) != 0 {
		t.Fatalf("expected GOSSIP to be ignored when disabled, view = %v", d.View())
	}
}

func TestHandleGossipMergesFreshEntries(t *testing.T) {
	d := newTestDiscovery("self:1", true)
	now := time.Now()
	payload := formatGossip("sender:1", now, []gossipEntry{{id: "peer:1", ts: now}})
	d.handleDatagram(payload)

	view := d.View()
	if len(view) != 2 {
		t.Fatalf("View() = %v, want sender and peer", view)
	}
}

func TestHandleGossipDropsStaleEntries(t *testing.T) {
	d := newTestDiscovery("self:1", true)
	d.cfg.GossipStaleness = 15 * time.Second

	stale := time.Now().Add(-time.Minute)
	payload := formatGossip("sender:1", time.Now(), []gossipEntry{{id: "stale-peer:1", ts: stale}})
	d.handleDatagram(payload)

	if _, ok := d.members.Get("stale-peer:1"); ok {
		t.Fatal("expected stale gossip entry to be dropped")
	}
	// The sender's own timestamp (sent "now") is still fresh and must merge.
	if _, ok := d.members.Get("sender:1"); !ok {
		t.Fatal("expected sender entry to merge")
	}
}

func TestHandleGossipIgnoresOlderTimestampThanKnown(t *testing.T) {
	d := newTestDiscovery("self:1", true)
	now := time.Now()
	d.members.Set("peer:1", now)

	older := now.Add(-time.Second)
	payload := formatGossip("sender:1", now, []gossipEntry{{id: "peer:1", ts: older}})
	d.handleDatagram(payload)

	got, _ := d.members.Get("peer:1")
	if !got.Equal(now) {
		t.Fatalf("expected lastSeen to remain %v, got %v", now, got)
	}
}

func TestHandleGossipIgnoresSelfEntry(t *testing.T) {
	d := newTestDiscovery("self:1", true)
	payload := formatGossip("sender:1", time.Now(), []gossipEntry{{id: "self:1", ts: time.Now()}})
	d.handleDatagram(payload)

	if _, ok := d.members.Get("self:1"); ok {
		t.Fatal("self must never appear in its own view")
	}
}
