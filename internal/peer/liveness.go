package peer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// livenessLoop implements spec.md §4.4.5: while inGame, periodically ping
// the current opponent; any RPC failure triggers endGame so a crashed
// opponent never leaves this peer stranded in inGame=true.
func (p *Peer) livenessLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.LivenessPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkOpponentLiveness()
		}
	}
}

func (p *Peer) checkOpponentLiveness() {
	p.mu.Lock()
	inGame := p.inGame
	handle := p.opponentHandle
	p.mu.Unlock()
	if !inGame || handle == nil {
		return
	}

	var ok bool
	if err := handle.Invoke("Ping", &Empty{}, &ok); err != nil {
		p.logger.Info("opponent liveness check failed", zap.Error(err))
		p.ix.ShowMessage("Opponent unreachable, terminating match.")
		p.endGame()
	}
}

// confirmTimeoutLoop implements the bounded timer for the tentative
// opponent assignment of spec.md §9 open question 1: if confirmMatch never
// arrives within Config.ConfirmTimeout of an accepted proposeMatch, the
// tentative assignment is reverted so this peer can accept other proposals
// again.
func (p *Peer) confirmTimeoutLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ConfirmTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.revertExpiredTentativeAssignment()
		}
	}
}

func (p *Peer) revertExpiredTentativeAssignment() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tentativeOpponent == "" || p.inGame {
		return
	}
	if time.Now().Before(p.tentativeDeadline) {
		return
	}

	p.logger.Info("reverting expired tentative assignment", zap.String("proposer", p.tentativeOpponent))
	if p.opponentHandle != nil {
		p.opponentHandle.Close()
		p.opponentHandle = nil
	}
	p.tentativeOpponent = ""
}
