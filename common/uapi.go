package common

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// UAPIDump is a decoded reply to a cross-platform userspace API "get=1".
type UAPIDump struct {
	Config *TunnelConfig
	Stats  Statistics
	// LastHandshake holds the last completed handshake per peer; zero if none.
	LastHandshake map[PeerKey]time.Time
}

// ParseUAPIDump decodes the key=value lines of a "get=1" reply. A non-zero
// errno line is returned as an error.
func ParseUAPIDump(text string) (UAPIDump, error) {
	d := UAPIDump{
		Config:        &TunnelConfig{},
		Stats:         make(Statistics),
		LastHandshake: make(map[PeerKey]time.Time),
	}
	var peer *PeerConfig
	var hsSec, hsNsec int64
	flushHandshake := func() {
		if peer != nil && (hsSec != 0 || hsNsec != 0) {
			d.LastHandshake[peer.PublicKey] = time.Unix(hsSec, hsNsec)
		}
		hsSec, hsNsec = 0, 0
	}
	for _, line := range splitLines(text) {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if k == "errno" {
			if v != "0" {
				return d, fmt.Errorf("uapi errno=%s", v)
			}
			continue
		}
		if k == "public_key" {
			flushHandshake()
			pk, err := ParsePeerKeyHex(v)
			if err != nil {
				return d, fmt.Errorf("uapi public_key: %w", err)
			}
			d.Config.Peers = append(d.Config.Peers, PeerConfig{PublicKey: pk})
			peer = &d.Config.Peers[len(d.Config.Peers)-1]
			continue
		}
		if peer == nil {
			if err := d.Config.Interface.set(k, v); err != nil {
				return d, err
			}
			continue
		}
		switch k {
		case "rx_bytes", "tx_bytes":
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return d, fmt.Errorf("uapi %s: %w", k, err)
			}
			st := d.Stats[peer.PublicKey]
			if k == "rx_bytes" {
				st.Rx = n
			} else {
				st.Tx = n
			}
			d.Stats[peer.PublicKey] = st
		case "last_handshake_time_sec":
			hsSec, _ = strconv.ParseInt(v, 10, 64)
		case "last_handshake_time_nsec":
			hsNsec, _ = strconv.ParseInt(v, 10, 64)
		default:
			if err := peer.set(k, v); err != nil {
				return d, err
			}
		}
	}
	flushHandshake()
	return d, nil
}

func (ic *InterfaceConfig) set(k, v string) error {
	switch k {
	case "private_key":
		pk, err := ParsePeerKeyHex(v)
		if err != nil {
			return fmt.Errorf("uapi private_key: %w", err)
		}
		ic.PrivateKey = pk
	case "listen_port":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("uapi listen_port: %w", err)
		}
		ic.ListenPort = n
	case "fwmark":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("uapi fwmark: %w", err)
		}
		ic.FwMark = n
	}
	return nil
}

func (p *PeerConfig) set(k, v string) error {
	switch k {
	case "preshared_key":
		pk, err := ParsePeerKeyHex(v)
		if err != nil {
			return fmt.Errorf("uapi preshared_key: %w", err)
		}
		p.PresharedKey = pk
	case "endpoint":
		p.Endpoint = v
	case "allowed_ip":
		pfx, err := netip.ParsePrefix(v)
		if err != nil {
			return fmt.Errorf("uapi allowed_ip: %w", err)
		}
		p.AllowedIPs = append(p.AllowedIPs, pfx)
	case "persistent_keepalive_interval":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("uapi persistent_keepalive_interval: %w", err)
		}
		p.PersistentKeepalive = time.Duration(n) * time.Second
	}
	// protocol_version, handshakeAttempts and unknown keys are not config.
	return nil
}

// EncodeUAPISet builds a single "set=1" transaction that turns cur into next:
// peers missing from next are removed, peers new in next are added. Peers
// present in both are left alone. The returned string is empty when there is
// nothing to do.
func EncodeUAPISet(cur, next *TunnelConfig) string {
	var b strings.Builder
	for _, p := range cur.peersOrNil() {
		if next.HasPeer(p.PublicKey) {
			continue
		}
		fmt.Fprintf(&b, "public_key=%s\nremove=true\n", p.PublicKey.Hex())
	}
	for _, p := range next.peersOrNil() {
		if cur.HasPeer(p.PublicKey) {
			continue
		}
		fmt.Fprintf(&b, "public_key=%s\n", p.PublicKey.Hex())
		if !p.PresharedKey.IsZero() {
			fmt.Fprintf(&b, "preshared_key=%s\n", p.PresharedKey.Hex())
		}
		if p.Endpoint != "" {
			fmt.Fprintf(&b, "endpoint=%s\n", p.Endpoint)
		}
		if p.PersistentKeepalive > 0 {
			fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", int(p.PersistentKeepalive/time.Second))
		}
		for _, pfx := range p.AllowedIPs {
			fmt.Fprintf(&b, "allowed_ip=%s\n", pfx)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "set=1\n" + b.String() + "\n"
}

func (c *TunnelConfig) peersOrNil() []PeerConfig {
	if c == nil {
		return nil
	}
	return c.Peers
}
