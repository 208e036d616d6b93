// Package discovery implements the multicast/gossip membership service of
// spec.md §4.3: a periodic multicast HELLO announcing presence, an optional
// triggered unicast GOSSIP that speeds up membership propagation, and a
// cleaner that prunes peers that stopped announcing themselves.
//
// The loop shape (periodic goroutines cancelled through a context, exactly
// as gossip/pkg/gossiper.go's heartBeatLoop/gossipRound are started from
// Serve and stopped via ctx.Done()) is grounded on that file; the raw UDP
// socket handling is grounded on dns/udp.go, the only place in the teacher
// repo that touches a UDP datagram directly.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds the tunable discovery parameters from spec.md §6. The zero
// value is not usable; call DefaultConfig and override as needed.
type Config struct {
	// Group is the multicast group HELLO is sent to.
	Group string
	// Port is both the multicast port and the unicast port GOSSIP is sent
	// to on a peer's host.
	Port int
	// HelloPeriod is the interval between HELLO multicasts.
	HelloPeriod time.Duration
	// Gossip enables triggered unicast GOSSIP and the cleaner loop.
	Gossip bool
	// GossipStaleness bounds how old a gossiped timestamp may be before
	// it's dropped during a merge.
	GossipStaleness time.Duration
	// CleanerThreshold is how long a peer may go unseen before the
	// cleaner prunes it. Only applies when Gossip is enabled (spec.md §9
	// open question 2).
	CleanerThreshold time.Duration
	// CleanerPeriod is how often the cleaner loop runs.
	CleanerPeriod time.Duration
}

// DefaultConfig returns the spec.md §6 default parameters.
func DefaultConfig() Config {
	return Config{
		Group:            "239.0.0.1",
		Port:             50000,
		HelloPeriod:      2 * time.Second,
		Gossip:           true,
		GossipStaleness:  15 * time.Second,
		CleanerThreshold: 60 * time.Second,
		CleanerPeriod:    5 * time.Second,
	}
}

// Discovery runs the membership protocol for one peer.
type Discovery struct {
	selfID string
	cfg    Config
	logger *zap.Logger

	members *membership

	conn      *net.UDPConn
	groupAddr *net.UDPAddr

	cancel     context.CancelFunc
	wg         sync.WaitGroup
	gossipSend chan struct{}
}

// New creates a Discovery for selfID. Serve must be called to join the
// multicast group and start its loops.
func New(selfID string, cfg Config, logger *zap.Logger) *Discovery {
	return &Discovery{
		selfID:  selfID,
		cfg:     cfg,
		logger:  logger.Named("discovery"),
		members: newMembership(),
	}
}

// Serve joins the multicast group and starts the sender, receiver and
// (when Gossip is enabled) cleaner loops.
func (d *Discovery) Serve() error {
	groupAddr := &net.UDPAddr{IP: net.ParseIP(d.cfg.Group), Port: d.cfg.Port}

	conn, err := net.ListenMulticastUDP("udp", nil, groupAddr)
	if err != nil {
		return fmt.Errorf("discovery: join multicast group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.conn = conn
	d.groupAddr = groupAddr
	d.cancel = cancel
	d.gossipSend = make(chan struct{}, 1)

	d.wg.Add(1)
	go d.receiverLoop()

	d.wg.Add(1)
	go d.senderLoop(ctx)

	if d.cfg.Gossip {
		d.wg.Add(2)
		go d.gossipTriggerLoop(ctx)
		go d.cleanerLoop(ctx)
	}

	return nil
}

// Close stops every loop, leaves the multicast group and releases the
// socket.
func (d *Discovery) Close() error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	err := d.conn.Close()
	d.wg.Wait()
	return err
}

// View returns a snapshot of every known peer id, excluding self.
func (d *Discovery) View() []string {
	return d.members.Snapshot(d.selfID)
}

func (d *Discovery) senderLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.HelloPeriod)
	defer ticker.Stop()

	d.sendHello()
	for {
		select {
		case <-ticker.C:
			d.sendHello()
		case <-ctx.Done():
			return
		}
	}
}

func (d *Discovery) sendHello() {
	payload := formatHello(d.selfID)
	if _, err := d.conn.WriteToUDP([]byte(payload), d.groupAddr); err != nil {
		d.logger.Warn("failed to send HELLO", zap.Error(err))
	}
}

// receiverLoop reads datagrams until the socket is closed by Close.
func (d *Discovery) receiverLoop() {
	defer d.wg.Done()

	buf := make([]byte, 1024)
	for {
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		d.handleDatagram(string(buf[:n]))
	}
}

func (d *Discovery) handleDatagram(payload string) {
	switch classify(payload) {
	case helloMessage:
		d.handleHello(payload)
	case gossipMessage:
		if d.cfg.Gossip {
			d.handleGossip(payload)
		}
	}
}

func (d *Discovery) handleHello(payload string) {
	id, ok := parseHello(payload)
	if !ok || id == d.selfID {
		return
	}

	isNew := d.members.Set(id, time.Now())
	if isNew {
		d.logger.Debug("discovered peer via HELLO", zap.String("peer", id))
		d.triggerGossip()
	}
}

func (d *Discovery) handleGossip(payload string) {
	entries, ok := parseGossip(payload)
	if !ok {
		return
	}

	now := time.Now()
	addedAny := false
	for _, e := range entries {
		if e.id == d.selfID {
			continue
		}
		if now.Sub(e.ts) > d.cfg.GossipStaleness {
			continue
		}

		current, exists := d.members.Get(e.id)
		if exists && !e.ts.After(current) {
			continue
		}
		isNew := d.members.Set(e.id, e.ts)
		addedAny = addedAny || isNew
	}

	if addedAny {
		d.triggerGossip()
	}
}

// triggerGossip requests a single gossip round without blocking; if one is
// already queued, this is a no-op, matching "GOSSIP is never periodic" —
// multiple back-to-back triggers collapse into one round.
func (d *Discovery) triggerGossip() {
	select {
	case d.gossipSend <- struct{}{}:
	default:
	}
}

func (d *Discovery) gossipTriggerLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-d.gossipSend:
			d.sendGossipRound()
		case <-ctx.Done():
			return
		}
	}
}

func (d *Discovery) sendGossipRound() {
	view := d.View()
	target, ok := pickRandom(view)
	if !ok {
		return
	}

	host, _, err := net.SplitHostPort(target)
	if err != nil {
		d.logger.Warn("gossip target has malformed id", zap.String("peer", target))
		return
	}
	targetAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprintf("%d", d.cfg.Port)))
	if err != nil {
		d.logger.Warn("failed to resolve gossip target", zap.String("peer", target), zap.Error(err))
		return
	}

	entries := make([]gossipEntry, 0, len(view))
	for _, id := range view {
		ts, ok := d.members.Get(id)
		if !ok {
			continue
		}
		entries = append(entries, gossipEntry{id: id, ts: ts})
	}

	payload := formatGossip(d.selfID, time.Now(), entries)
	if _, err := d.conn.WriteToUDP([]byte(payload), targetAddr); err != nil {
		d.logger.Warn("failed to send GOSSIP", zap.String("peer", target), zap.Error(err))
	}
}

func (d *Discovery) cleanerLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.CleanerPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pruned := d.members.Prune(d.cfg.CleanerThreshold, time.Now())
			for _, id := range pruned {
				d.logger.Debug("pruned stale peer", zap.String("peer", id))
			}
		case <-ctx.Done():
			return
		}
	}
}
