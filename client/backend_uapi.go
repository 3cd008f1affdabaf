package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"peerwatch/common"
)

// uapiBackend talks to WireGuard implementations through the cross-platform
// userspace API sockets found in dir (one <tunnel>.sock per interface).
type uapiBackend struct {
	dir string

	mu       sync.Mutex
	toggling map[string]bool
}

func newUAPIBackend(dir string) *uapiBackend {
	return &uapiBackend{dir: dir, toggling: make(map[string]bool)}
}

func (b *uapiBackend) socketPath(tunnel string) string {
	return filepath.Join(b.dir, tunnel+".sock")
}

func (b *uapiBackend) Tunnels(ctx context.Context) ([]string, error) {
	ents, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", b.dir, err)
	}
	var names []string
	for _, ent := range ents {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".sock") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".sock"))
	}
	sort.Strings(names)
	return names, nil
}

func (b *uapiBackend) State(tunnel string) common.TunnelState {
	b.mu.Lock()
	toggling := b.toggling[tunnel]
	b.mu.Unlock()
	if toggling {
		return common.StateToggle
	}
	fi, err := os.Stat(b.socketPath(tunnel))
	if err != nil || fi.Mode()&fs.ModeSocket == 0 {
		return common.StateDown
	}
	return common.StateUp
}

// Diagnostics returns the raw "get=1" dump, which carries the
// handshakeAttempts lines next to each public_key.
func (b *uapiBackend) Diagnostics(ctx context.Context, tunnel string) (string, error) {
	return b.get(ctx, tunnel)
}

func (b *uapiBackend) Statistics(ctx context.Context, tunnel string) (common.Statistics, error) {
	d, err := b.dump(ctx, tunnel)
	if err != nil {
		return nil, err
	}
	return d.Stats, nil
}

func (b *uapiBackend) Config(ctx context.Context, tunnel string) (*common.TunnelConfig, error) {
	d, err := b.dump(ctx, tunnel)
	if err != nil {
		return nil, err
	}
	return d.Config, nil
}

// ApplyConfig sends the difference between the live config and cfg as one
// set transaction.
func (b *uapiBackend) ApplyConfig(ctx context.Context, tunnel string, cfg *common.TunnelConfig) error {
	cur, err := b.Config(ctx, tunnel)
	if err != nil {
		return err
	}
	req := common.EncodeUAPISet(cur, cfg)
	if req == "" {
		return nil
	}
	b.setToggling(tunnel, true)
	defer b.setToggling(tunnel, false)
	resp, err := b.roundTrip(ctx, tunnel, req)
	if err != nil {
		return err
	}
	if _, err := common.ParseUAPIDump(resp); err != nil {
		return fmt.Errorf("set %s: %w", tunnel, err)
	}
	return nil
}

func (b *uapiBackend) setToggling(tunnel string, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on {
		b.toggling[tunnel] = true
	} else {
		delete(b.toggling, tunnel)
	}
}

func (b *uapiBackend) dump(ctx context.Context, tunnel string) (common.UAPIDump, error) {
	text, err := b.get(ctx, tunnel)
	if err != nil {
		return common.UAPIDump{}, err
	}
	d, err := common.ParseUAPIDump(text)
	if err != nil {
		return d, fmt.Errorf("get %s: %w", tunnel, err)
	}
	return d, nil
}

func (b *uapiBackend) get(ctx context.Context, tunnel string) (string, error) {
	return b.roundTrip(ctx, tunnel, "get=1\n\n")
}

// roundTrip writes one request and reads the reply up to the blank line that
// follows its errno line.
func (b *uapiBackend) roundTrip(ctx context.Context, tunnel, req string) (string, error) {
	path := b.socketPath(tunnel)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", tunnel, common.ErrNoTunnel)
		}
		return "", err
	}
	if err := checkSocketAccess(path); err != nil {
		return "", fmt.Errorf("access %s: %w", path, err)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", path, err)
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write([]byte(req)); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	var out strings.Builder
	r := bufio.NewReader(conn)
	sawErrno := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		if line == "\n" && sawErrno {
			return out.String(), nil
		}
		if strings.HasPrefix(line, "errno=") {
			sawErrno = true
		}
		out.WriteString(line)
	}
}
