package common

import (
	"context"
	"errors"
	"net/netip"
	"time"
)

// ErrNoTunnel is returned by backends for a tunnel they do not know about.
var ErrNoTunnel = errors.New("no such tunnel")

// TunnelState is the backend's view of a tunnel. TOGGLE means a transition is
// in progress.
type TunnelState int

const (
	StateDown TunnelState = iota
	StateToggle
	StateUp
)

func (s TunnelState) String() string {
	switch s {
	case StateDown:
		return "DOWN"
	case StateToggle:
		return "TOGGLE"
	case StateUp:
		return "UP"
	default:
		return "UNKNOWN"
	}
}

// PeerTransfer holds byte counters for one peer.
type PeerTransfer struct {
	Rx uint64
	Tx uint64
}

// Statistics holds transfer counters keyed by peer.
type Statistics map[PeerKey]PeerTransfer

// Peer returns the counters for k; unknown peers read as zero.
func (s Statistics) Peer(k PeerKey) PeerTransfer {
	return s[k]
}

// InterfaceConfig is the local half of a tunnel configuration.
type InterfaceConfig struct {
	PrivateKey PeerKey
	ListenPort int
	FwMark     int
}

// PeerConfig is one configured peer.
type PeerConfig struct {
	PublicKey           PeerKey
	PresharedKey        PeerKey
	Endpoint            string
	AllowedIPs          []netip.Prefix
	PersistentKeepalive time.Duration
}

// TunnelConfig is a tunnel's interface settings plus its ordered peers.
type TunnelConfig struct {
	Interface InterfaceConfig
	Peers     []PeerConfig
}

// Clone returns a deep copy.
func (c *TunnelConfig) Clone() *TunnelConfig {
	if c == nil {
		return nil
	}
	out := &TunnelConfig{Interface: c.Interface, Peers: make([]PeerConfig, len(c.Peers))}
	for i, p := range c.Peers {
		p.AllowedIPs = append([]netip.Prefix(nil), p.AllowedIPs...)
		out.Peers[i] = p
	}
	return out
}

// WithoutPeers returns a copy of c with every peer in keys removed. Order of
// the remaining peers is kept.
func (c *TunnelConfig) WithoutPeers(keys ...PeerKey) *TunnelConfig {
	out := c.Clone()
	if out == nil || len(keys) == 0 {
		return out
	}
	drop := make(map[PeerKey]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	kept := out.Peers[:0]
	for _, p := range out.Peers {
		if _, ok := drop[p.PublicKey]; ok {
			continue
		}
		kept = append(kept, p)
	}
	out.Peers = kept
	return out
}

// HasPeer reports whether k is configured.
func (c *TunnelConfig) HasPeer(k PeerKey) bool {
	if c == nil {
		return false
	}
	for _, p := range c.Peers {
		if p.PublicKey == k {
			return true
		}
	}
	return false
}

// Backend is the VPN implementation the client talks to. All methods are safe
// to call from any goroutine.
type Backend interface {
	// Tunnels lists the tunnels the backend knows about.
	Tunnels(ctx context.Context) ([]string, error)
	// State reports the tunnel's current state without blocking.
	State(tunnel string) TunnelState
	Statistics(ctx context.Context, tunnel string) (Statistics, error)
	// Diagnostics returns the backend's raw textual status report.
	Diagnostics(ctx context.Context, tunnel string) (string, error)
	Config(ctx context.Context, tunnel string) (*TunnelConfig, error)
	// ApplyConfig replaces the tunnel's active configuration.
	ApplyConfig(ctx context.Context, tunnel string, cfg *TunnelConfig) error
}
