package rpctransport

import (
	"fmt"
	"testing"
)

type mockEcho struct {
	Prefix string
}

// net/rpc only registers methods whose argument and reply types are
// exported, so the echo payloads are exported too.
type EchoArgs struct {
	Input string
}

type EchoReply struct {
	Output string
}

func (s *mockEcho) Echo(args *EchoArgs, reply *EchoReply) error {
	reply.Output = fmt.Sprintf("%s-%s", s.Prefix, args.Input)
	return nil
}

func TestPublishResolveInvoke(t *testing.T) {
	server := New()
	if err := server.Publish("127.0.0.1:0", &mockEcho{Prefix: "foo"}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	defer server.Close()

	// Publish binds to an ephemeral port with ":0"; capture the real
	// address from the listener instead of before Publish assigns it.
	addr := server.(*tcpTransport).listener.Addr().String()

	handle, err := server.Resolve(addr)
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	defer handle.Close()

	var reply EchoReply
	if err := handle.Invoke("Echo", &EchoArgs{Input: "bar"}, &reply); err != nil {
		t.Fatalf("unexpected invoke error: %v", err)
	}
	if reply.Output != "foo-bar" {
		t.Fatalf("got %q, want %q", reply.Output, "foo-bar")
	}
}

func TestResolveMalformedAddress(t *testing.T) {
	server := New()
	_, err := server.Resolve("not-a-valid-address")
	if err == nil {
		t.Fatal("expected an error for a malformed address")
	}

	failure, ok := err.(*Failure)
	if !ok {
		t.Fatalf("expected *Failure, got %T", err)
	}
	if failure.Kind != MalformedAddress {
		t.Fatalf("got kind %v, want %v", failure.Kind, MalformedAddress)
	}
}

func TestResolveUnreachable(t *testing.T) {
	server := New()
	_, err := server.Resolve("127.0.0.1:1")
	if err == nil {
		t.Fatal("expected an error dialing a closed port")
	}

	failure, ok := err.(*Failure)
	if !ok {
		t.Fatalf("expected *Failure, got %T", err)
	}
	if failure.Kind != Unreachable {
		t.Fatalf("got kind %v, want %v", failure.Kind, Unreachable)
	}
}
