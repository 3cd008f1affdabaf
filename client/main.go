package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"peerwatch/common"
)

func main() {
	backendName := flag.String("backend", backendUAPI, "backend: uapi (WireGuard sockets) or demo (simulated)")
	socketDir := flag.String("dir", defaultSocketDir, "directory holding <tunnel>.sock UAPI sockets")
	tunnel := flag.String("tunnel", "", "tunnel to watch (optional in the TUI)")
	demoTunnels := flag.String("tunnels", "wg0,wg1", "comma-separated tunnel names for the demo backend")
	interval := flag.Duration("interval", defaultPollInterval, "poll interval")
	threshold := flag.Int("threshold", defaultDisableThreshold, "disable a peer after this many handshake attempts")
	telemetry := flag.String("telemetry", "", "append JSON telemetry lines to this file")
	headless := flag.Bool("headless", false, "run without the TUI, logging to stderr")
	verbose := flag.Bool("v", false, "verbose logging")
	veryVerbose := flag.Bool("vv", false, "very verbose logging")
	flag.Parse()

	switch {
	case *veryVerbose:
		setVerboseLoggingLevel(2)
	case *verbose:
		setVerboseLoggingLevel(1)
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := clientConfig{
		Backend:     *backendName,
		SocketDir:   *socketDir,
		Tunnel:      *tunnel,
		Interval:    *interval,
		Threshold:   *threshold,
		Telemetry:   *telemetry,
		Headless:    *headless,
		DemoTunnels: common.SplitCSV(*demoTunnels),
	}
	cfg = mergeWithStoredConfig(cfg, set)
	if err := cfg.validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	backend, err := newBackend(cfg)
	if err != nil {
		log.Fatalf("backend: %v", err)
	}

	if cfg.Headless {
		if err := runHeadless(cfg, backend); err != nil {
			log.Fatalf("headless: %v", err)
		}
		return
	}
	if err := runTUI(cfg, backend); err != nil {
		log.Fatalf("tui error: %v", err)
	}
}

func newBackend(cfg clientConfig) (common.Backend, error) {
	switch cfg.Backend {
	case backendDemo:
		if len(cfg.DemoTunnels) == 0 {
			return nil, fmt.Errorf("demo backend needs at least one tunnel name")
		}
		return newDemoBackend(cfg.DemoTunnels)
	case backendUAPI:
		if !common.IsPrivileged() {
			log.Printf("warning: not running as root; %s sockets may be unreadable", cfg.SocketDir)
		}
		return newUAPIBackend(cfg.SocketDir), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// runHeadless watches cfg.Tunnel until SIGINT/SIGTERM.
func runHeadless(cfg clientConfig, backend common.Backend) error {
	logBuildProvenance()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon := newPeerMonitor(backend, cfg.Interval, cfg.Threshold)
	tl, err := startTelemetryLogger(ctx, mon, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer tl.Stop()
	mon.onRemoval = tl.RecordRemoval
	mon.onUpdate = func(snap monitorSnapshot) {
		for _, p := range snap.Peers {
			vvlogf("%s %s attempts=%d %s", snap.Tunnel, p.Key.Short(), p.Attempts, formatTransfer(p))
		}
	}

	mon.SelectTunnel(cfg.Tunnel)
	mon.Activate()
	log.Printf("watching %s via %s backend (interval %v, threshold %d); press Ctrl-C to stop",
		cfg.Tunnel, cfg.Backend, cfg.Interval, cfg.Threshold)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	mon.Deactivate()
	log.Printf("stopped")
	return nil
}
