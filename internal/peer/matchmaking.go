package peer

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mcastellin/distributed-tictactoe/internal/board"
)

// matchmakingLoop runs the eight-step algorithm of spec.md §4.4.1 on a
// fixed period, starting after the configured initial delay.
func (p *Peer) matchmakingLoop(ctx context.Context) {
	defer p.wg.Done()

	timer := time.NewTimer(p.cfg.MatchmakingInitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.runMatchmakingRound()
			timer.Reset(p.cfg.MatchmakingPeriod)
		}
	}
}

func (p *Peer) runMatchmakingRound() {
	p.mu.Lock()
	abort := p.inGame || !p.lookingForMatches
	lastOpponent := p.lastOpponentID
	p.mu.Unlock()
	if abort {
		return
	}

	round := newCorrelationID()
	log := p.logger.With(zap.String("round", round))

	// Step 1: snapshot, remove self, sort.
	candidates := p.discovery.View()
	sort.Strings(candidates)
	if len(candidates) == 0 {
		return
	}

	// Step 2: filter by remote ping.
	free := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if p.pingCandidate(id) {
			free = append(free, id)
		}
	}
	if len(free) == 0 {
		return
	}

	// Step 3: last-opponent avoidance.
	free = applyLastOpponentAvoidance(free, lastOpponent)
	if len(free) == 0 {
		return
	}

	// Step 4: target selection, lexicographic successor else wraparound.
	target := selectTarget(free, p.selfID)
	log.Debug("proposing match", zap.String("target", target))

	// Step 5: propose.
	accepted, err := p.proposeMatch(target)
	if err != nil {
		log.Debug("proposeMatch failed", zap.String("target", target), zap.Error(err))
		return
	}
	if !accepted {
		return
	}

	p.commitMatch(round, target)
}

// applyLastOpponentAvoidance implements spec.md §4.4.1 step 3: if the last
// opponent is present and is the only candidate, the caller must abort
// (signalled by returning an empty slice); otherwise it is removed.
func applyLastOpponentAvoidance(free []string, lastOpponent string) []string {
	if lastOpponent == "" {
		return free
	}
	idx := -1
	for i, id := range free {
		if id == lastOpponent {
			idx = i
			break
		}
	}
	if idx == -1 {
		return free
	}
	if len(free) == 1 {
		return nil
	}
	out := make([]string, 0, len(free)-1)
	out = append(out, free[:idx]...)
	out = append(out, free[idx+1:]...)
	return out
}

// selectTarget implements spec.md §4.4.1 step 4 on an already-sorted slice.
func selectTarget(sorted []string, selfID string) string {
	for _, id := range sorted {
		if id > selfID {
			return id
		}
	}
	return sorted[0]
}

func (p *Peer) pingCandidate(id string) bool {
	handle, err := p.transport.Resolve(id)
	if err != nil {
		return false
	}
	defer handle.Close()

	var ok bool
	if err := handle.Invoke("Ping", &Empty{}, &ok); err != nil {
		return false
	}
	return ok
}

func (p *Peer) proposeMatch(target string) (bool, error) {
	handle, err := p.transport.Resolve(target)
	if err != nil {
		return false, err
	}

	var accepted bool
	if err := handle.Invoke("ProposeMatch", &ProposeMatchArgs{ProposerID: p.selfID}, &accepted); err != nil {
		handle.Close()
		return false, err
	}
	if !accepted {
		handle.Close()
		return false, nil
	}

	// Step 6/7 need this handle to call confirmMatch; stash it for
	// commitMatch rather than resolving a second time.
	p.mu.Lock()
	p.pendingProposalHandle = handle
	p.mu.Unlock()
	return true, nil
}

// commitMatch performs spec.md §4.4.1 steps 6-8: commit the session locally,
// then confirm it with the target, tearing down on failure. round is the
// matchmaking round's correlation id, carried through for log tracing only;
// it never appears on the wire.
func (p *Peer) commitMatch(round, target string) {
	p.mu.Lock()
	if p.inGame || !p.lookingForMatches {
		handle := p.pendingProposalHandle
		p.pendingProposalHandle = nil
		p.mu.Unlock()
		if handle != nil {
			handle.Close()
		}
		return
	}

	handle := p.pendingProposalHandle
	p.pendingProposalHandle = nil

	iStart := p.selfID < target
	var mySymbol, opponentSymbol board.Symbol
	if iStart {
		mySymbol, opponentSymbol = board.X, board.O
	} else {
		mySymbol, opponentSymbol = board.O, board.X
	}

	p.opponentID = target
	p.opponentHandle = handle
	p.mySymbol = mySymbol
	p.hasToken = iStart
	p.inGame = true
	p.gameBoard.Reset()
	p.clearRematchLocked()
	holdsToken := p.hasToken
	p.mu.Unlock()

	p.logger.Info("match committed", zap.String("round", round), zap.String("opponent", target), zap.Bool("iStart", iStart))

	args := &ConfirmMatchArgs{
		OpponentID:      p.selfID,
		IStartWithToken: !iStart,
		MySymbol:        symbolToString(opponentSymbol),
	}
	if err := handle.Invoke("ConfirmMatch", args, &Empty{}); err != nil {
		p.logger.Info("confirmMatch failed, tearing down session", zap.String("round", round), zap.String("opponent", target), zap.Error(err))
		p.endGame()
		return
	}

	p.ix.ShowMessage("Match started with " + target)

	if holdsToken {
		p.scheduleTurn()
	}
}
