package main

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"peerwatch/common"
)

// demoPeer is a simulated peer. Unreachable peers accumulate handshake
// attempts; reachable ones accumulate traffic.
type demoPeer struct {
	cfg       common.PeerConfig
	reachable bool
	attempts  int
	rx, tx    uint64
}

type demoTunnel struct {
	iface common.InterfaceConfig
	peers []*demoPeer
}

// demoBackend is an in-process backend for trying the UI without a real
// WireGuard interface.
type demoBackend struct {
	mu      sync.Mutex
	tunnels map[string]*demoTunnel
}

// newDemoBackend creates one tunnel per name, each with a mix of healthy and
// unreachable peers.
func newDemoBackend(names []string) (*demoBackend, error) {
	b := &demoBackend{tunnels: make(map[string]*demoTunnel)}
	for i, name := range names {
		priv, err := common.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		t := &demoTunnel{iface: common.InterfaceConfig{PrivateKey: priv, ListenPort: 51820 + i}}
		for j := 0; j < 4; j++ {
			peerPriv, err := common.GeneratePrivateKey()
			if err != nil {
				return nil, err
			}
			pub, err := peerPriv.PublicKey()
			if err != nil {
				return nil, err
			}
			t.peers = append(t.peers, &demoPeer{
				cfg: common.PeerConfig{
					PublicKey:           pub,
					Endpoint:            fmt.Sprintf("198.51.100.%d:51820", 10*(i+1)+j),
					AllowedIPs:          []netip.Prefix{netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(i), 0, byte(j + 2)}), 32)},
					PersistentKeepalive: 25 * time.Second,
				},
				reachable: j%3 != 2,
			})
		}
		b.tunnels[name] = t
	}
	return b, nil
}

func (b *demoBackend) tunnel(name string) (*demoTunnel, error) {
	t, ok := b.tunnels[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, common.ErrNoTunnel)
	}
	return t, nil
}

func (b *demoBackend) Tunnels(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.tunnels))
	for n := range b.tunnels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (b *demoBackend) State(name string) common.TunnelState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tunnels[name]; !ok {
		return common.StateDown
	}
	return common.StateUp
}

// Statistics advances the simulation: healthy peers move some bytes.
func (b *demoBackend) Statistics(_ context.Context, name string) (common.Statistics, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.tunnel(name)
	if err != nil {
		return nil, err
	}
	st := make(common.Statistics, len(t.peers))
	for _, p := range t.peers {
		if p.reachable {
			p.rx += 1500 + uint64(len(p.cfg.Endpoint))*37
			p.tx += 600
		}
		st[p.cfg.PublicKey] = common.PeerTransfer{Rx: p.rx, Tx: p.tx}
	}
	return st, nil
}

// Diagnostics advances the simulation: unreachable peers retry a handshake.
func (b *demoBackend) Diagnostics(_ context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.tunnel(name)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "private_key=%s\nlisten_port=%d\n", t.iface.PrivateKey.Hex(), t.iface.ListenPort)
	for _, p := range t.peers {
		if !p.reachable {
			p.attempts++
		}
		fmt.Fprintf(&sb, "public_key=%s\nendpoint=%s\n", p.cfg.PublicKey.Hex(), p.cfg.Endpoint)
		fmt.Fprintf(&sb, "rx_bytes=%d\ntx_bytes=%d\n", p.rx, p.tx)
		fmt.Fprintf(&sb, "handshakeAttempts=%d\n", p.attempts)
	}
	sb.WriteString("errno=0\n")
	return sb.String(), nil
}

func (b *demoBackend) Config(_ context.Context, name string) (*common.TunnelConfig, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.tunnel(name)
	if err != nil {
		return nil, err
	}
	cfg := &common.TunnelConfig{Interface: t.iface}
	for _, p := range t.peers {
		cfg.Peers = append(cfg.Peers, p.cfg)
	}
	return cfg.Clone(), nil
}

// ApplyConfig keeps simulated counters for peers that survive and starts new
// peers as reachable.
func (b *demoBackend) ApplyConfig(_ context.Context, name string, cfg *common.TunnelConfig) error {
	if cfg == nil {
		return fmt.Errorf("apply %s: nil config", name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.tunnel(name)
	if err != nil {
		return err
	}
	prev := make(map[common.PeerKey]*demoPeer, len(t.peers))
	for _, p := range t.peers {
		prev[p.cfg.PublicKey] = p
	}
	next := make([]*demoPeer, 0, len(cfg.Peers))
	for _, pc := range cfg.Clone().Peers {
		if p, ok := prev[pc.PublicKey]; ok {
			p.cfg = pc
			next = append(next, p)
			continue
		}
		next = append(next, &demoPeer{cfg: pc, reachable: true})
	}
	t.iface = cfg.Interface
	t.peers = next
	return nil
}
