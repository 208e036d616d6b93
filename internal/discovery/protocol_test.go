package discovery

import (
	"testing"
	"time"
)

func TestHelloRoundTrip(t *testing.T) {
	payload := formatHello("10.0.0.5:9001")
	id, ok := parseHello(payload)
	if !ok {
		t.Fatal("expected parseHello to succeed")
	}
	if id != "10.0.0.5:9001" {
		t.Fatalf("got id %q, want %q", id, "10.0.0.5:9001")
	}
}

func TestParseHelloRejectsOtherMessages(t *testing.T) {
	if _, ok := parseHello("GOSSIP a:1;123"); ok {
		t.Fatal("expected parseHello to reject a GOSSIP payload")
	}
	if _, ok := parseHello("HELLO "); ok {
		t.Fatal("expected parseHello to reject an empty id")
	}
}

func TestGossipRoundTrip(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	entries := []gossipEntry{
		{id: "10.0.0.5:9001", ts: now.Add(-time.Second)},
		{id: "10.0.0.6:9002", ts: now.Add(-2 * time.Second)},
	}
	payload := formatGossip("10.0.0.4:9000", now, entries)

	got, ok := parseGossip(payload)
	if !ok {
		t.Fatal("expected parseGossip to succeed")
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3 (sender + 2 peers)", len(got))
	}
	if got[0].id != "10.0.0.4:9000" || !got[0].ts.Equal(now) {
		t.Fatalf("sender entry = %+v, want id=10.0.0.4:9000 ts=%v", got[0], now)
	}
	if got[1].id != entries[0].id || !got[1].ts.Equal(entries[0].ts) {
		t.Fatalf("entry[1] = %+v, want %+v", got[1], entries[0])
	}
	if got[2].id != entries[1].id || !got[2].ts.Equal(entries[1].ts) {
		t.Fatalf("entry[2] = %+v, want %+v", got[2], entries[1])
	}
}

func TestParseGossipSkipsMalformedEntries(t *testing.T) {
	payload := "GOSSIP sender:1;1700000000000,missing-timestamp,ok:1;1700000000001,bad;notanumber"
	got, ok := parseGossip(payload)
	if !ok {
		t.Fatal("expected parseGossip to succeed despite malformed entries")
	}

	var ids []string
	for _, e := range got {
		ids = append(ids, e.id)
	}
	want := []string{"sender:1", "ok:1"}
	if len(ids) != len(want) {
		t.Fatalf("got ids %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got ids %v, want %v", ids, want)
		}
	}
}

func TestClassify(t *testing.T) {
	if classify(formatHello("a:1")) != helloMessage {
		t.Fatal("expected HELLO payload to classify as helloMessage")
	}
	if classify(formatGossip("a:1", time.Now(), nil)) != gossipMessage {
		t.Fatal("expected GOSSIP payload to classify as gossipMessage")
	}
	if classify("garbage") != unknownMessage {
		t.Fatal("expected garbage payload to classify as unknownMessage")
	}
}
