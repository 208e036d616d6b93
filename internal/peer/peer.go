// Package peer implements the per-peer state machine of spec.md §4.4: the
// distributed matchmaking handshake, the token-passing game loop, the
// two-peer rematch consensus, and opponent liveness monitoring.
//
// There is no equivalent module in the teacher repo — none of its lessons
// implement a two-party turn-taking protocol — so the concurrency shape is
// built from the teacher's recurring idioms instead of one file: a single
// mutex over a session struct (gossip/pkg/statemachine.go's StateMachine),
// goroutines started from a Serve-like entry point and stopped through
// context cancellation (gossip/pkg/gossiper.go's heartBeatLoop/gossipRound),
// and a *zap.Logger threaded through every constructor
// (distributed-queue/pkg/queue/queue.go's workers).
package peer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/mcastellin/distributed-tictactoe/internal/board"
	"github.com/mcastellin/distributed-tictactoe/internal/interaction"
	"github.com/mcastellin/distributed-tictactoe/internal/rpctransport"
)

// Config holds the timer parameters from spec.md §4.4 and §9's bounded
// tentative-assignment timeout.
type Config struct {
	// MatchmakingInitialDelay is the delay before the first matchmaking
	// round.
	MatchmakingInitialDelay time.Duration
	// MatchmakingPeriod is the interval between matchmaking rounds.
	MatchmakingPeriod time.Duration
	// LivenessPeriod is the interval between opponent liveness probes.
	LivenessPeriod time.Duration
	// ConfirmTimeout bounds how long an acceptor holds a tentative
	// opponent assignment after accepting a proposeMatch before reverting
	// it if confirmMatch never arrives (spec.md §9 open question 1).
	ConfirmTimeout time.Duration
}

// DefaultConfig returns the spec.md §4.4/§4.4.5 default timer values.
func DefaultConfig() Config {
	return Config{
		MatchmakingInitialDelay: time.Second,
		MatchmakingPeriod:       1500 * time.Millisecond,
		LivenessPeriod:          2 * time.Second,
		ConfirmTimeout:          3 * time.Second,
	}
}

// Discoverer is the subset of discovery.Discovery the peer core depends on:
// a snapshot of currently known peer ids, excluding self.
type Discoverer interface {
	View() []string
}

// Peer is the per-process state machine described by spec.md §3 and §4.4.
// Every exported RPC method (Ping, GetID, IsInGame, ProposeMatch,
// ConfirmMatch, ReceiveToken, UpdateMove, GetRematchDecision, StartRematch,
// NoRematch) is registered with the transport under ServiceName and may be
// invoked concurrently with the timers below; all of them take mu for the
// duration of their critical section, per spec.md §5.
type Peer struct {
	selfID    string
	cfg       Config
	logger    *zap.Logger
	transport rpctransport.Transport
	discovery Discoverer
	ix        interaction.Adapter

	mu   sync.Mutex
	cond *sync.Cond

	// session fields, spec.md §3 "Game session"
	lookingForMatches bool
	inGame            bool
	hasToken          bool
	opponentID        string
	opponentHandle    rpctransport.Handle
	mySymbol          board.Symbol
	gameBoard         *board.Board
	lastOpponentID    string
	rematchDecision   *bool
	sessionEpoch      uint64

	// tentative pairing state held between an accepted proposeMatch and
	// its expected confirmMatch; see Config.ConfirmTimeout.
	tentativeOpponent string
	tentativeDeadline time.Time

	// pendingProposalHandle carries the handle resolved by proposeMatch
	// through to commitMatch/confirmMatch so it is only dialed once per
	// matchmaking round.
	pendingProposalHandle rpctransport.Handle

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// New creates a Peer identified by selfID. Start must be called to publish
// it on the transport and begin its timers.
func New(selfID string, transport rpctransport.Transport, discovery Discoverer, ix interaction.Adapter, logger *zap.Logger, cfg Config) *Peer {
	p := &Peer{
		selfID:            selfID,
		cfg:               cfg,
		logger:            logger.Named("peer").With(zap.String("self", selfID)),
		transport:         transport,
		discovery:         discovery,
		ix:                ix,
		lookingForMatches: true,
		gameBoard:         board.New(),
		shutdown:          make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start publishes the peer on the transport and begins the matchmaking,
// liveness and tentative-assignment janitor timers.
func (p *Peer) Start() error {
	if err := p.transport.Publish(p.selfID, p); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(3)
	go p.matchmakingLoop(ctx)
	go p.livenessLoop(ctx)
	go p.confirmTimeoutLoop(ctx)

	return nil
}

// Done returns a channel that is closed once the peer has opted out of the
// matchmaking pool and is ready for the launcher to exit.
func (p *Peer) Done() <-chan struct{} {
	return p.shutdown
}

// Close cancels every timer and releases the transport. It does not itself
// trigger the opt-out path; call it once Done() is closed or the process is
// terminating for another reason.
func (p *Peer) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return p.transport.Close()
}

func (p *Peer) triggerShutdown() {
	p.once.Do(func() { close(p.shutdown) })
}

// newCorrelationID produces an opaque id for log correlation only; it never
// appears on the wire protocol, which is exactly the ten RPC ops of
// spec.md §4.4 plus their documented argument types.
func newCorrelationID() string {
	return xid.New().String()
}
