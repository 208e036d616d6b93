package peer

import (
	"go.uber.org/zap"

	"github.com/mcastellin/distributed-tictactoe/internal/board"
)

// scheduleTurn starts the local turn executor in its own goroutine so the
// blocking console prompt never runs under mu or inside an RPC handler
// (spec.md §5, §9's "interactive input coupled with the session mutex").
func (p *Peer) scheduleTurn() {
	go p.runTurn()
}

// runTurn implements spec.md §4.4.2's local turn execution: prompt until a
// syntactically valid move, apply it, notify the opponent, then either
// proceed to rematch handling (outcome non-empty) or hand the token back.
func (p *Peer) runTurn() {
	for {
		move, err := p.ix.AskMove()
		if err != nil {
			p.logger.Info("input closed during turn, ending match", zap.Error(err))
			p.endGame()
			return
		}
		if move.Quit {
			p.quitCurrentGame()
			return
		}

		p.mu.Lock()
		if !p.inGame || !p.hasToken {
			p.mu.Unlock()
			return
		}
		if !p.gameBoard.IsValid(move.Row, move.Col) {
			p.mu.Unlock()
			p.ix.ShowMessage("that cell is occupied or out of range")
			continue
		}

		p.gameBoard.Apply(move.Row, move.Col, p.mySymbol)
		rendered := p.gameBoard.Render()
		outcome := p.gameBoard.Check()
		mySymbol := p.mySymbol
		opponent := p.opponentHandle
		p.hasToken = false
		p.mu.Unlock()

		p.ix.ShowBoard(rendered)

		args := &UpdateMoveArgs{
			Row:    move.Row,
			Col:    move.Col,
			Symbol: symbolToString(mySymbol),
			Result: symbolToString(outcome),
		}
		if err := opponent.Invoke("UpdateMove", args, &Empty{}); err != nil {
			p.logger.Info("updateMove failed, opponent unreachable", zap.Error(err))
			p.ix.ShowMessage("Opponent unreachable, terminating match.")
			p.endGame()
			return
		}

		if outcome != board.Empty {
			p.announceOutcome(outcome, mySymbol)
			go p.handleGameEnd(outcome)
			return
		}

		if err := opponent.Invoke("ReceiveToken", &Empty{}, &Empty{}); err != nil {
			p.logger.Info("receiveToken failed, opponent unreachable", zap.Error(err))
			p.ix.ShowMessage("Opponent unreachable, terminating match.")
			p.endGame()
			return
		}
		return
	}
}

// announceOutcome prints the local win/loss/draw verdict for a terminal
// board outcome.
func (p *Peer) announceOutcome(outcome, mySymbol board.Symbol) {
	switch outcome {
	case board.Draw:
		p.ix.ShowMessage("Game over: draw.")
	case mySymbol:
		p.ix.ShowMessage("Game over: you win!")
	default:
		p.ix.ShowMessage("Game over: you lose.")
	}
}

// quitCurrentGame implements the explicit-quit branch of spec.md §4.4.2:
// notify the opponent best-effort and treat the local side as having
// received noRematch itself.
func (p *Peer) quitCurrentGame() {
	p.mu.Lock()
	opponent := p.opponentHandle
	inGame := p.inGame
	p.mu.Unlock()
	if !inGame {
		return
	}

	if opponent != nil {
		if err := opponent.Invoke("NoRematch", &Empty{}, &Empty{}); err != nil {
			p.logger.Debug("best-effort noRematch on quit failed", zap.Error(err))
		}
	}
	p.noRematchEffect("You quit the match.")
}

// endGame is the atomic teardown of spec.md §4.4.4. It is idempotent so a
// liveness failure and a rematch rejection racing each other never double
// count the last opponent.
func (p *Peer) endGame() {
	p.mu.Lock()
	if !p.inGame {
		p.mu.Unlock()
		return
	}
	if p.opponentID != "" {
		p.lastOpponentID = p.opponentID
	}
	p.inGame = false
	p.hasToken = false
	p.opponentID = ""
	if p.opponentHandle != nil {
		p.opponentHandle.Close()
		p.opponentHandle = nil
	}
	p.gameBoard.Reset()
	p.clearRematchLocked()
	p.mu.Unlock()
}
