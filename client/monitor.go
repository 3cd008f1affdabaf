package main

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"peerwatch/common"
)

const (
	defaultPollInterval     = 1 * time.Second
	defaultDisableThreshold = 3
)

// peerView is what the UI shows for one configured peer.
type peerView struct {
	Key             common.PeerKey
	Endpoint        string
	Attempts        int
	Rx              uint64
	Tx              uint64
	TransferVisible bool
}

type monitorSnapshot struct {
	Tunnel       string
	State        common.TunnelState
	InterfaceKey common.PeerKey
	Peers        []peerView
}

// removalEvent reports one config update that disabled failing peers.
type removalEvent struct {
	At       time.Time
	Tunnel   string
	Peers    []common.PeerKey
	Attempts map[common.PeerKey]int
	Err      error
}

// peerMonitor polls a backend for the selected tunnel while active, keeps the
// per-peer view current and removes peers that keep failing their handshake.
//
// All view mutations happen on the polling goroutine; mu only guards what the
// UI reads and the pending selection.
type peerMonitor struct {
	backend   common.Backend
	interval  time.Duration
	threshold int
	onUpdate  func(monitorSnapshot)
	onRemoval func(removalEvent)

	mu         sync.Mutex
	pending    string
	pendingSet bool
	cancel     context.CancelFunc
	done       chan struct{}
	kick       chan struct{}
	tunnel     string
	cfg        *common.TunnelConfig
	ifaceKey   common.PeerKey
	lastState  common.TunnelState
	state      common.TunnelState
	peers      []peerView
}

func newPeerMonitor(b common.Backend, interval time.Duration, threshold int) *peerMonitor {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if threshold <= 0 {
		threshold = defaultDisableThreshold
	}
	return &peerMonitor{
		backend:   b,
		interval:  interval,
		threshold: threshold,
		kick:      make(chan struct{}, 1),
		lastState: common.StateToggle,
	}
}

// Activate starts polling. The first reconciliation runs immediately.
func (m *peerMonitor) Activate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	select {
	case <-m.kick:
	default:
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
	vlogf("monitor: activated (interval %v, threshold %d)", m.interval, m.threshold)
}

// Deactivate stops polling and waits for an in-flight reconciliation to
// return. Backend calls of that reconciliation see a cancelled context.
func (m *peerMonitor) Deactivate() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	vlogf("monitor: deactivated")
}

func (m *peerMonitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// SelectTunnel switches the monitored tunnel. When active, a reconciliation
// runs right away instead of waiting for the next interval.
func (m *peerMonitor) SelectTunnel(name string) {
	m.mu.Lock()
	m.pending = name
	m.pendingSet = true
	m.mu.Unlock()
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the current view.
func (m *peerMonitor) Snapshot() monitorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return monitorSnapshot{
		Tunnel:       m.tunnel,
		State:        m.state,
		InterfaceKey: m.ifaceKey,
		Peers:        append([]peerView(nil), m.peers...),
	}
}

func (m *peerMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.kick:
			t.Stop()
		case <-t.C:
		}
		m.reconcile(ctx)
		if ctx.Err() != nil {
			return
		}
		t.Reset(m.interval)
	}
}

// reconcile applies a pending selection, then runs one tick.
func (m *peerMonitor) reconcile(ctx context.Context) {
	m.applySelection()
	m.tick(ctx)
}

// applySelection switches to the pending tunnel. Its config is loaded by the
// tick, so a load that is cancelled or fails is simply retried on the next one.
func (m *peerMonitor) applySelection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pendingSet {
		return
	}
	name := m.pending
	m.pendingSet = false
	if m.tunnel != name {
		vlogf("monitor: selected tunnel %q (was %q)", name, m.tunnel)
	}
	m.tunnel = name
	m.cfg = nil
	m.ifaceKey = common.PeerKey{}
	m.peers = nil
	m.lastState = common.StateToggle
	m.state = common.StateToggle
}

// syncConfig reloads the tunnel's live config so peers added or removed
// outside the monitor show up in the view. On a transient error the last
// known view is kept; a vanished tunnel clears it.
func (m *peerMonitor) syncConfig(ctx context.Context) {
	cfg, err := m.backend.Config(ctx, m.tunnel)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		vvlogf("monitor: load config %s: %v", m.tunnel, err)
		if errors.Is(err, common.ErrNoTunnel) {
			m.setConfig(nil)
		}
		return
	}
	m.setConfig(cfg)
}

// setConfig installs cfg and rebuilds the peer list in config order, carrying
// counters over for peers that were already shown.
func (m *peerMonitor) setConfig(cfg *common.TunnelConfig) {
	var ifaceKey common.PeerKey
	if cfg != nil && !cfg.Interface.PrivateKey.IsZero() {
		if pub, err := cfg.Interface.PrivateKey.PublicKey(); err == nil {
			ifaceKey = pub
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.ifaceKey = ifaceKey
	if cfg == nil {
		m.peers = nil
		return
	}
	prev := make(map[common.PeerKey]peerView, len(m.peers))
	for _, p := range m.peers {
		prev[p.Key] = p
	}
	peers := make([]peerView, 0, len(cfg.Peers))
	for _, pc := range cfg.Peers {
		v, ok := prev[pc.PublicKey]
		if !ok {
			v = peerView{Key: pc.PublicKey}
		}
		v.Endpoint = pc.Endpoint
		peers = append(peers, v)
	}
	m.peers = peers
}

func (m *peerMonitor) tick(ctx context.Context) {
	if m.tunnel == "" {
		return
	}
	m.syncConfig(ctx)
	if ctx.Err() != nil {
		return
	}
	m.refreshStatistics(ctx)
	if m.refreshAttempts(ctx) {
		m.disableFailing(ctx)
	}
	m.publish()
}

// refreshStatistics fetches transfer counters when the tunnel is up or its
// state moved since the last tick.
func (m *peerMonitor) refreshStatistics(ctx context.Context) {
	state := m.backend.State(m.tunnel)
	if state != common.StateUp && state == m.lastState {
		return
	}
	m.mu.Lock()
	m.lastState = state
	m.state = state
	m.mu.Unlock()

	stats, err := m.backend.Statistics(ctx, m.tunnel)
	if ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		vvlogf("monitor: statistics %s: %v", m.tunnel, err)
		for i := range m.peers {
			m.peers[i].TransferVisible = false
		}
		return
	}
	for i := range m.peers {
		tr := stats.Peer(m.peers[i].Key)
		m.peers[i].Rx = tr.Rx
		m.peers[i].Tx = tr.Tx
		m.peers[i].TransferVisible = tr.Rx != 0 || tr.Tx != 0
	}
}

// refreshAttempts updates attempt counters from a fresh diagnostics report.
// It returns false, leaving counters untouched, when the report is unavailable.
func (m *peerMonitor) refreshAttempts(ctx context.Context) bool {
	report, err := m.backend.Diagnostics(ctx, m.tunnel)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		vvlogf("monitor: diagnostics %s: %v", m.tunnel, err)
		return false
	}
	attempts := common.ParseHandshakeAttempts(report)
	m.mu.Lock()
	for i := range m.peers {
		m.peers[i].Attempts = attempts.Get(m.peers[i].Key)
	}
	m.mu.Unlock()
	return true
}

// disableFailing removes every peer at or above the threshold in a single
// config update built from the tunnel's live config, so only those peers are
// touched. Once started, the update runs to completion even if the monitor is
// deactivated meanwhile.
func (m *peerMonitor) disableFailing(ctx context.Context) {
	if m.cfg == nil {
		return
	}
	var failing []common.PeerKey
	counts := make(map[common.PeerKey]int)
	for _, p := range m.peers {
		if p.Attempts >= m.threshold {
			failing = append(failing, p.Key)
			counts[p.Key] = p.Attempts
		}
	}
	if len(failing) == 0 || ctx.Err() != nil {
		return
	}

	live, err := m.backend.Config(ctx, m.tunnel)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("disable peers on %s: reload config: %v", m.tunnel, err)
		return
	}
	present := failing[:0]
	for _, k := range failing {
		if live.HasPeer(k) {
			present = append(present, k)
		} else {
			delete(counts, k)
		}
	}
	failing = present
	if len(failing) == 0 {
		m.setConfig(live)
		return
	}

	next := live.WithoutPeers(failing...)
	err = m.backend.ApplyConfig(context.WithoutCancel(ctx), m.tunnel, next)
	ev := removalEvent{At: time.Now(), Tunnel: m.tunnel, Peers: failing, Attempts: counts, Err: err}
	if err != nil {
		log.Printf("disable %d peer(s) on %s: %v", len(failing), m.tunnel, err)
	} else {
		for _, k := range failing {
			log.Printf("disabled peer %s on %s after %d handshake attempts", k.Short(), m.tunnel, counts[k])
		}
		m.setConfig(next)
	}
	if m.onRemoval != nil {
		m.onRemoval(ev)
	}
}

func (m *peerMonitor) publish() {
	if m.onUpdate != nil {
		m.onUpdate(m.Snapshot())
	}
}
