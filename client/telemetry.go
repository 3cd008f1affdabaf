package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"peerwatch/common"
)

const telemetryEvery = 5 * time.Second

type telemetryPeer struct {
	PublicKey       string `json:"public_key"`
	Endpoint        string `json:"endpoint,omitempty"`
	Attempts        int    `json:"handshake_attempts"`
	RxBytes         uint64 `json:"rx_bytes"`
	TxBytes         uint64 `json:"tx_bytes"`
	TransferVisible bool   `json:"transfer_visible"`
}

type telemetryRemoval struct {
	Peers    []string       `json:"peers"`
	Attempts map[string]int `json:"attempts"`
	Error    string         `json:"error,omitempty"`
}

type telemetryRecord struct {
	Timestamp string            `json:"timestamp"`
	Kind      string            `json:"kind"`
	Tunnel    string            `json:"tunnel"`
	State     string            `json:"state,omitempty"`
	Interface string            `json:"interface_key,omitempty"`
	Peers     []telemetryPeer   `json:"peers,omitempty"`
	Removal   *telemetryRemoval `json:"removal,omitempty"`
}

// telemetryLogger appends JSON lines: a periodic snapshot of the monitored
// view plus one record per peer removal. A nil logger discards everything.
type telemetryLogger struct {
	removals chan removalEvent
	stop     chan struct{}
	done     chan struct{}
}

func startTelemetryLogger(ctx context.Context, mon *peerMonitor, path string) (*telemetryLogger, error) {
	if path == "" {
		return nil, nil
	}
	if mon == nil {
		return nil, fmt.Errorf("telemetry: nil monitor")
	}

	p := common.ExpandPath(path)
	dir := filepath.Dir(p)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("telemetry: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", p, err)
	}

	tl := &telemetryLogger{
		removals: make(chan removalEvent, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(tl.done)
		defer func() { _ = f.Close() }()
		enc := json.NewEncoder(f)
		enc.SetEscapeHTML(false)
		t := time.NewTicker(telemetryEvery)
		defer t.Stop()

		// Write an initial snapshot immediately.
		_ = enc.Encode(buildTelemetrySnapshot(mon.Snapshot()))
		for {
			select {
			case <-ctx.Done():
				return
			case <-tl.stop:
				return
			case ev := <-tl.removals:
				_ = enc.Encode(buildTelemetryRemoval(ev))
			case <-t.C:
				_ = enc.Encode(buildTelemetrySnapshot(mon.Snapshot()))
			}
		}
	}()
	return tl, nil
}

// RecordRemoval queues ev without blocking the poll loop; it is dropped if the
// writer is backed up.
func (tl *telemetryLogger) RecordRemoval(ev removalEvent) {
	if tl == nil {
		return
	}
	select {
	case tl.removals <- ev:
	default:
		vlogf("telemetry: dropped removal record for %s", ev.Tunnel)
	}
}

// Stop ends the writer and waits for it to close the file.
func (tl *telemetryLogger) Stop() {
	if tl == nil {
		return
	}
	close(tl.stop)
	<-tl.done
}

func buildTelemetrySnapshot(snap monitorSnapshot) telemetryRecord {
	rec := telemetryRecord{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Kind:      "snapshot",
		Tunnel:    snap.Tunnel,
		State:     snap.State.String(),
		Peers:     make([]telemetryPeer, 0, len(snap.Peers)),
	}
	if !snap.InterfaceKey.IsZero() {
		rec.Interface = snap.InterfaceKey.Base64()
	}
	for _, p := range snap.Peers {
		rec.Peers = append(rec.Peers, telemetryPeer{
			PublicKey:       p.Key.Base64(),
			Endpoint:        p.Endpoint,
			Attempts:        p.Attempts,
			RxBytes:         p.Rx,
			TxBytes:         p.Tx,
			TransferVisible: p.TransferVisible,
		})
	}
	return rec
}

func buildTelemetryRemoval(ev removalEvent) telemetryRecord {
	r := &telemetryRemoval{Attempts: make(map[string]int, len(ev.Peers))}
	for _, k := range ev.Peers {
		r.Peers = append(r.Peers, k.Base64())
		r.Attempts[k.Base64()] = ev.Attempts[k]
	}
	if ev.Err != nil {
		r.Error = ev.Err.Error()
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return telemetryRecord{
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Kind:      "removal",
		Tunnel:    ev.Tunnel,
		Removal:   r,
	}
}
