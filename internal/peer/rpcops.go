package peer

import (
	"time"

	"go.uber.org/zap"

	"github.com/mcastellin/distributed-tictactoe/internal/board"
)

// This file implements the inbound side of the ten RPC operations of
// spec.md §4.4, the only surface other peers may call. Every method takes
// mu for its critical section and returns promptly; anything that may block
// on the local user (GetRematchDecision) or on further network calls is
// either the one documented blocking point or handed off to a goroutine.

func symbolFromString(s string) board.Symbol {
	if len(s) == 0 {
		return board.Empty
	}
	return board.Symbol(s[0])
}

func symbolToString(s board.Symbol) string {
	return string(rune(s))
}

// Ping reports whether this peer is currently willing to accept a match.
func (p *Peer) Ping(_ *Empty, reply *bool) error {
	p.mu.Lock()
	*reply = p.lookingForMatches && !p.inGame
	p.mu.Unlock()
	return nil
}

// GetID echoes this peer's identity.
func (p *Peer) GetID(_ *Empty, reply *string) error {
	*reply = p.selfID
	return nil
}

// IsInGame reports whether this peer is currently in an active session.
func (p *Peer) IsInGame(_ *Empty, reply *bool) error {
	p.mu.Lock()
	*reply = p.inGame
	p.mu.Unlock()
	return nil
}

// ProposeMatch is matchmaking handshake step 1 (spec.md §4.4.1). A proposal
// is accepted iff this peer is free, looking for matches, and the
// proposer's id is lexicographically smaller than this peer's id. On
// acceptance the opponent handle is resolved and a tentative assignment is
// recorded, bounded by Config.ConfirmTimeout until confirmMatch arrives.
func (p *Peer) ProposeMatch(args *ProposeMatchArgs, reply *bool) error {
	p.mu.Lock()
	eligible := !p.inGame && p.lookingForMatches && args.ProposerID < p.selfID
	p.mu.Unlock()

	if !eligible {
		*reply = false
		return nil
	}

	handle, err := p.transport.Resolve(args.ProposerID)
	if err != nil {
		p.logger.Debug("rejecting proposal, cannot resolve proposer",
			zap.String("proposer", args.ProposerID), zap.Error(err))
		*reply = false
		return nil
	}

	p.mu.Lock()
	// Re-check under lock: another proposal or a local matchmaking round
	// may have committed a session while we were resolving the handle.
	if p.inGame || !p.lookingForMatches {
		p.mu.Unlock()
		handle.Close()
		*reply = false
		return nil
	}
	p.opponentHandle = handle
	p.tentativeOpponent = args.ProposerID
	p.tentativeDeadline = time.Now().Add(p.cfg.ConfirmTimeout)
	p.mu.Unlock()

	*reply = true
	return nil
}

// ConfirmMatch is matchmaking handshake step 2 (spec.md §4.4.1). It closes
// the "opponent known, inGame=false" window left open by an accepted
// ProposeMatch by atomically committing the session.
func (p *Peer) ConfirmMatch(args *ConfirmMatchArgs, _ *Empty) error {
	p.mu.Lock()
	if p.tentativeOpponent != args.OpponentID || p.opponentHandle == nil {
		p.mu.Unlock()
		return nil
	}

	p.opponentID = args.OpponentID
	p.hasToken = args.IStartWithToken
	p.mySymbol = symbolFromString(args.MySymbol)
	p.inGame = true
	p.tentativeOpponent = ""
	p.gameBoard.Reset()
	p.clearRematchLocked()
	holdsToken := p.hasToken
	p.mu.Unlock()

	p.logger.Info("match confirmed", zap.String("opponent", args.OpponentID), zap.String("symbol", args.MySymbol))

	if holdsToken {
		p.scheduleTurn()
	}
	return nil
}

// ReceiveToken yields the turn to this peer (spec.md §4.4.2).
func (p *Peer) ReceiveToken(_ *Empty, _ *Empty) error {
	p.mu.Lock()
	if !p.inGame {
		p.mu.Unlock()
		return nil
	}
	p.hasToken = true
	p.mu.Unlock()

	p.scheduleTurn()
	return nil
}

// UpdateMove applies an opponent's move to this peer's board and, if it
// terminated the game, schedules end-of-game handling. An off-grid or
// already-occupied move is silently ignored for the board, but the
// authoritative result field still drives this peer's state transition
// (spec.md §7).
func (p *Peer) UpdateMove(args *UpdateMoveArgs, _ *Empty) error {
	p.mu.Lock()
	if !p.inGame {
		p.mu.Unlock()
		return nil
	}
	p.gameBoard.Apply(args.Row, args.Col, symbolFromString(args.Symbol))
	rendered := p.gameBoard.Render()
	result := symbolFromString(args.Result)
	mySymbol := p.mySymbol
	p.mu.Unlock()

	p.logger.Info("opponent moved", zap.Int("row", args.Row), zap.Int("col", args.Col))
	p.ix.ShowBoard(rendered)

	if result != board.Empty {
		p.announceOutcome(result, mySymbol)
		go p.handleGameEnd(result)
	}
	return nil
}

// GetRematchDecision blocks until the local user answers the rematch
// prompt for the current session, or until the session is torn down before
// an answer is produced.
func (p *Peer) GetRematchDecision(_ *Empty, reply *bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	epoch := p.sessionEpoch
	for p.rematchDecision == nil && p.sessionEpoch == epoch {
		p.cond.Wait()
	}

	if p.sessionEpoch != epoch || p.rematchDecision == nil {
		*reply = false
		return nil
	}
	*reply = *p.rematchDecision
	return nil
}

// StartRematch begins the next game in the same session, per the
// assignment computed by the coordinator in handleGameEnd.
func (p *Peer) StartRematch(args *StartRematchArgs, _ *Empty) error {
	p.mu.Lock()
	p.hasToken = args.IStartWithToken
	p.mySymbol = symbolFromString(args.NewSymbol)
	p.gameBoard.Reset()
	p.inGame = true
	p.clearRematchLocked()
	holdsToken := p.hasToken
	p.mu.Unlock()

	p.logger.Info("rematch starting", zap.String("symbol", args.NewSymbol), zap.Bool("startsWithToken", args.IStartWithToken))
	p.ix.ShowMessage("Rematch accepted, starting a new game.")

	if holdsToken {
		p.scheduleTurn()
	}
	return nil
}

// NoRematch ends the session definitively; the prompt asking the local
// user whether to remain in the matchmaking pool runs in the background so
// the calling peer is never blocked on our console I/O.
func (p *Peer) NoRematch(_ *Empty, _ *Empty) error {
	p.noRematchEffect("Opponent refused rematch.")
	return nil
}

// clearRematchLocked resets the rematch slot and bumps the session epoch so
// any GetRematchDecision waiter from the previous session wakes up and
// observes cancellation rather than a stale decision (spec.md invariant 9).
// Callers must hold mu.
func (p *Peer) clearRematchLocked() {
	p.rematchDecision = nil
	p.sessionEpoch++
	p.cond.Broadcast()
}
