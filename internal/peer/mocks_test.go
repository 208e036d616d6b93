package peer

import (
	"errors"
	"sync"

	"github.com/mcastellin/distributed-tictactoe/internal/interaction"
	"github.com/mcastellin/distributed-tictactoe/internal/rpctransport"
)

// mockHandle is a scriptable rpctransport.Handle for exercising the peer
// core without a real listener.
type mockHandle struct {
	mu      sync.Mutex
	id      string
	results map[string]func(args any, reply any) error
	calls   []string
	closed  bool
}

func newMockHandle(id string) *mockHandle {
	return &mockHandle{id: id, results: map[string]func(args any, reply any) error{}}
}

func (h *mockHandle) on(op string, fn func(args any, reply any) error) *mockHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results[op] = fn
	return h
}

func (h *mockHandle) Invoke(op string, args any, reply any) error {
	h.mu.Lock()
	h.calls = append(h.calls, op)
	fn := h.results[op]
	h.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(args, reply)
}

func (h *mockHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *mockHandle) callCount(op string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c == op {
			n++
		}
	}
	return n
}

// mockTransport resolves ids against a fixed table and records Publish.
type mockTransport struct {
	mu        sync.Mutex
	handles   map[string]*mockHandle
	published any
	closed    bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{handles: map[string]*mockHandle{}}
}

func (t *mockTransport) Resolve(id string) (rpctransport.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[id]
	if !ok {
		return nil, errors.New("no handle registered for " + id)
	}
	return h, nil
}

func (t *mockTransport) Publish(id string, receiver any) error {
	t.mu.Lock()
	t.published = receiver
	t.mu.Unlock()
	return nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// mockDiscoverer returns a fixed membership view.
type mockDiscoverer struct {
	view []string
}

func (d *mockDiscoverer) View() []string { return d.view }

// mockAdapter is a scriptable interaction.Adapter.
type mockAdapter struct {
	mu sync.Mutex

	moves      []interaction.Move
	moveErr    error
	moveBlock  bool
	rematchAns bool
	rematchErr error
	stayAns    bool
	stayErr    error
	messages   []string
	boards     []string
}

func (a *mockAdapter) ShowMessage(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, msg)
}

func (a *mockAdapter) ShowBoard(rendered string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.boards = append(a.boards, rendered)
}

func (a *mockAdapter) AskMove() (interaction.Move, error) {
	a.mu.Lock()
	block := a.moveBlock
	a.mu.Unlock()
	if block {
		select {} // never returns; used to keep runTurn parked during a test
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.moveErr != nil {
		return interaction.Move{}, a.moveErr
	}
	if len(a.moves) == 0 {
		return interaction.Move{Quit: true}, nil
	}
	m := a.moves[0]
	a.moves = a.moves[1:]
	return m, nil
}

func (a *mockAdapter) AskRematch() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rematchAns, a.rematchErr
}

func (a *mockAdapter) AskStayInQueue() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stayAns, a.stayErr
}
