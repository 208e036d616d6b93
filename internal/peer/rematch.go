package peer

import (
	"go.uber.org/zap"

	"github.com/mcastellin/distributed-tictactoe/internal/board"
	"github.com/mcastellin/distributed-tictactoe/internal/rpctransport"
)

// handleGameEnd runs on both peers once a game reaches a terminal outcome
// (spec.md §4.4.3). Both publish their own answer into the local rematch
// slot; only the coordinator (the lexicographically smaller id) goes on to
// drive the two-peer consensus.
func (p *Peer) handleGameEnd(_ board.Symbol) {
	p.mu.Lock()
	opponentID := p.opponentID
	opponentHandle := p.opponentHandle
	mySymbol := p.mySymbol
	p.mu.Unlock()
	if opponentID == "" {
		// Session already torn down (e.g. a liveness failure raced us here).
		return
	}

	decision, err := p.ix.AskRematch()
	if err != nil {
		decision = false
	}
	p.publishLocalDecision(decision)

	if p.selfID >= opponentID {
		// Not the coordinator: wait passively for startRematch/noRematch.
		return
	}

	var remoteDecision bool
	if opponentHandle == nil {
		p.rematchNo(opponentHandle)
		return
	}
	if err := opponentHandle.Invoke("GetRematchDecision", &Empty{}, &remoteDecision); err != nil {
		p.logger.Info("getRematchDecision failed, ending session", zap.Error(err))
		p.rematchNo(opponentHandle)
		return
	}

	if decision && remoteDecision {
		p.rematchYes(opponentHandle, mySymbol)
	} else {
		p.rematchNo(opponentHandle)
	}
}

// publishLocalDecision sets the rematch slot and wakes any waiter blocked in
// GetRematchDecision, satisfying spec.md invariant 9 via sessionEpoch.
func (p *Peer) publishLocalDecision(decision bool) {
	p.mu.Lock()
	d := decision
	p.rematchDecision = &d
	p.cond.Broadcast()
	p.mu.Unlock()
}

func flipSymbol(s board.Symbol) board.Symbol {
	if s == board.X {
		return board.O
	}
	return board.X
}

// rematchYes implements spec.md §4.4.3 step 3: the peer whose previous
// symbol was O starts the next game, and each peer's symbol flips.
func (p *Peer) rematchYes(opponentHandle rpctransport.Handle, mySymbol board.Symbol) {
	myNewSymbol := flipSymbol(mySymbol)
	iStartNew := mySymbol == board.O
	opponentNewSymbol := mySymbol
	opponentIStartNew := !iStartNew

	opponentArgs := &StartRematchArgs{IStartWithToken: opponentIStartNew, NewSymbol: symbolToString(opponentNewSymbol)}
	if err := opponentHandle.Invoke("StartRematch", opponentArgs, &Empty{}); err != nil {
		p.logger.Info("startRematch failed, ending session instead", zap.Error(err))
		p.rematchNo(opponentHandle)
		return
	}

	localArgs := &StartRematchArgs{IStartWithToken: iStartNew, NewSymbol: symbolToString(myNewSymbol)}
	_ = p.StartRematch(localArgs, &Empty{})
}

// rematchNo implements spec.md §4.4.3 step 4.
func (p *Peer) rematchNo(opponentHandle rpctransport.Handle) {
	if opponentHandle != nil {
		if err := opponentHandle.Invoke("NoRematch", &Empty{}, &Empty{}); err != nil {
			p.logger.Debug("best-effort noRematch failed", zap.Error(err))
		}
	}
	p.noRematchEffect("Opponent refused rematch.")
}

// noRematchEffect implements spec.md §4.4.3's noRematch effect: announce,
// tear down, then ask whether to remain in the matchmaking pool.
func (p *Peer) noRematchEffect(message string) {
	p.ix.ShowMessage(message)
	p.endGame()
	go p.afterGameOptIn()
}

// afterGameOptIn asks the local user whether to stay in the matchmaking
// pool. Opting out is a one-way transition: lookingForMatches only ever
// goes from true to false (spec.md §3).
func (p *Peer) afterGameOptIn() {
	stay, err := p.ix.AskStayInQueue()
	if err != nil {
		stay = false
	}
	if stay {
		p.ix.ShowMessage("Returning to queue.")
		return
	}

	p.mu.Lock()
	p.lookingForMatches = false
	p.mu.Unlock()
	p.triggerShutdown()
}
