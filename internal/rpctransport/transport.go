// Package rpctransport implements the location-transparent request/response
// contract peers use to call one another, over the standard library's
// net/rpc package.
//
// The accept/serve loop is the same two-channel dance used by
// remote-procedure-call/plugin/rpc.go and gossip/pkg/gossiper.go in the
// teacher repo: accepting a connection and serving it are split into
// separate select cases so a pending Shutdown is never blocked behind a
// slow Accept.
package rpctransport

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"
)

// ServiceName is the net/rpc service name every peer registers its
// operations under.
const ServiceName = "Peer"

// FailureKind classifies why a transport operation failed, per spec.md §4.2.
type FailureKind int

const (
	// Unreachable means the remote address could not be dialed or the
	// connection broke mid-call.
	Unreachable FailureKind = iota
	// NotBound means an id was never published. This implementation does
	// not return it: Resolve reports an id that cannot be dialed as
	// Unreachable.
	NotBound
	// MalformedAddress means the id string isn't a valid host:port. Publish
	// also reports a failure to listen on id or to register the receiver
	// under this kind.
	MalformedAddress
	// RemoteException means the call reached the peer but its handler
	// returned an error.
	RemoteException
)

func (k FailureKind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case NotBound:
		return "not-bound"
	case MalformedAddress:
		return "malformed-address"
	case RemoteException:
		return "remote-exception"
	default:
		return "unknown"
	}
}

// Failure is the error type surfaced by every transport operation that can
// fail. It is always terminal for the caller's current session: there is no
// retry at this layer.
type Failure struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("rpctransport: %s %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(op string, kind FailureKind, err error) *Failure {
	return &Failure{Op: op, Kind: kind, Err: err}
}

// Handle is a resolved, reusable reference to a remote peer.
type Handle interface {
	// Invoke calls op on the remote peer, blocking until it returns or
	// fails. args and reply follow net/rpc conventions: reply must be a
	// pointer, or nil if the op has no result.
	Invoke(op string, args any, reply any) error
	// Close releases the underlying connection.
	Close() error
}

// Transport is the RPC transport contract depended on by the peer core
// (spec.md §4.2).
type Transport interface {
	// Resolve returns a Handle addressing id, or a Failure if id cannot be
	// reached.
	Resolve(id string) (Handle, error)
	// Publish makes receiver reachable as id for inbound invocations.
	// receiver's exported methods must follow net/rpc's method signature
	// convention: func(args *T, reply *R) error.
	Publish(id string, receiver any) error
	// Close stops accepting inbound calls and releases the listener.
	Close() error
}

// New creates an unbound Transport. Publish must be called once before any
// peer can address this process.
func New() Transport {
	return &tcpTransport{}
}

// tcpTransport implements Transport over TCP using net/rpc.
type tcpTransport struct {
	listener net.Listener
	engine   *rpc.Server
	closing  chan chan error
	mu       sync.Mutex
}

func (t *tcpTransport) Publish(id string, receiver any) error {
	l, err := net.Listen("tcp", id)
	if err != nil {
		return newFailure("publish", MalformedAddress, err)
	}

	engine := rpc.NewServer()
	if err := engine.RegisterName(ServiceName, receiver); err != nil {
		l.Close()
		return newFailure("publish", MalformedAddress, err)
	}

	t.mu.Lock()
	t.listener = l
	t.engine = engine
	t.closing = make(chan chan error)
	t.mu.Unlock()

	go t.serveLoop(l)
	return nil
}

// serveLoop accepts connections and hands each to net/rpc's ServeConn in its
// own goroutine, splitting accept and serve into separate select cases so
// Close is never starved behind a blocking Accept.
func (t *tcpTransport) serveLoop(l net.Listener) {
	accepting := make(chan bool, 1)
	serving := make(chan net.Conn, 1)
	accepting <- true

	for {
		select {
		case errch := <-t.closing:
			errch <- l.Close()
			return
		case <-accepting:
			go func() {
				conn, err := l.Accept()
				if err != nil {
					// Accept fails once the listener is closed during
					// Close(); any other failure also ends the loop, the
					// same tradeoff the teacher's Server.Serve makes.
					return
				}
				serving <- conn
			}()
		case conn := <-serving:
			go t.engine.ServeConn(conn)
			accepting <- true
		}
	}
}

func (t *tcpTransport) Resolve(id string) (Handle, error) {
	if _, _, err := net.SplitHostPort(id); err != nil {
		return nil, newFailure("resolve", MalformedAddress, err)
	}

	client, err := rpc.Dial("tcp", id)
	if err != nil {
		return nil, newFailure("resolve", Unreachable, err)
	}
	return &tcpHandle{id: id, client: client}, nil
}

func (t *tcpTransport) Close() error {
	t.mu.Lock()
	closing := t.closing
	t.mu.Unlock()

	if closing == nil {
		return nil
	}
	errch := make(chan error)
	closing <- errch
	return <-errch
}

// tcpHandle wraps a dialed *rpc.Client.
type tcpHandle struct {
	id     string
	client *rpc.Client
}

func (h *tcpHandle) Invoke(op string, args any, reply any) error {
	serviceMethod := fmt.Sprintf("%s.%s", ServiceName, op)
	if err := h.client.Call(serviceMethod, args, reply); err != nil {
		var serverErr rpc.ServerError
		if errors.As(err, &serverErr) {
			return newFailure("invoke", RemoteException, err)
		}
		return newFailure("invoke", Unreachable, err)
	}
	return nil
}

func (h *tcpHandle) Close() error {
	return h.client.Close()
}
