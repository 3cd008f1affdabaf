package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"peerwatch/common"
)

const (
	backendUAPI = "uapi"
	backendDemo = "demo"

	defaultSocketDir = "/var/run/wireguard"
	minPollInterval  = 200 * time.Millisecond
	maxPollInterval  = time.Minute
)

type clientConfig struct {
	Backend     string
	SocketDir   string
	Tunnel      string
	Interval    time.Duration
	Threshold   int
	Telemetry   string
	Headless    bool
	DemoTunnels []string
}

type storedConfig struct {
	Backend   string `json:"backend"`
	SocketDir string `json:"socket_dir,omitempty"`
	Tunnel    string `json:"tunnel,omitempty"`
	Interval  string `json:"interval,omitempty"`
	Threshold int    `json:"threshold,omitempty"`
	Telemetry string `json:"telemetry,omitempty"`
}

// validate normalizes cfg and rejects values the monitor cannot run with.
func (c *clientConfig) validate() error {
	switch c.Backend {
	case backendUAPI, backendDemo:
	case "":
		c.Backend = backendUAPI
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, backendUAPI, backendDemo)
	}
	if c.Backend == backendUAPI && c.SocketDir == "" {
		c.SocketDir = defaultSocketDir
	}
	if c.Interval <= 0 {
		c.Interval = defaultPollInterval
	}
	c.Interval = common.ClampDuration(c.Interval, minPollInterval, maxPollInterval)
	if c.Threshold < 0 {
		return fmt.Errorf("threshold must not be negative, got %d", c.Threshold)
	}
	if c.Threshold == 0 {
		c.Threshold = defaultDisableThreshold
	}
	if c.Headless && c.Tunnel == "" {
		return errors.New("headless mode needs -tunnel")
	}
	return nil
}

func (c clientConfig) stored() storedConfig {
	return storedConfig{
		Backend:   c.Backend,
		SocketDir: c.SocketDir,
		Tunnel:    c.Tunnel,
		Interval:  c.Interval.String(),
		Threshold: c.Threshold,
		Telemetry: c.Telemetry,
	}
}

// mergeWithStoredConfig fills fields the command line left unset from the
// stored config. set lists the flag names given explicitly.
func mergeWithStoredConfig(cfg clientConfig, set map[string]bool) clientConfig {
	stored, err := loadStoredConfig()
	if err != nil {
		vvlogf("stored config: %v", err)
		stored = storedConfig{}
	}
	if !set["backend"] && stored.Backend != "" {
		cfg.Backend = stored.Backend
	}
	if !set["dir"] && stored.SocketDir != "" {
		cfg.SocketDir = stored.SocketDir
	}
	if !set["tunnel"] && stored.Tunnel != "" {
		cfg.Tunnel = stored.Tunnel
	}
	if !set["interval"] && stored.Interval != "" {
		if d, err := time.ParseDuration(stored.Interval); err == nil {
			cfg.Interval = d
		}
	}
	if !set["threshold"] && stored.Threshold > 0 {
		cfg.Threshold = stored.Threshold
	}
	if !set["telemetry"] && stored.Telemetry != "" {
		cfg.Telemetry = stored.Telemetry
	}
	cfg.SocketDir = expandPath(cfg.SocketDir)
	cfg.Telemetry = expandPath(cfg.Telemetry)
	return cfg
}

func loadStoredConfig() (storedConfig, error) {
	var sc storedConfig
	path, err := configFilePath()
	if err != nil {
		return sc, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	if err := json.Unmarshal(b, &sc); err != nil {
		return sc, err
	}
	return sc, nil
}

func saveStoredConfig(sc storedConfig) {
	path, err := configFilePath()
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o700)
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, b, 0o600)
}

func configFilePath() (string, error) {
	base, err := userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "config.json"), nil
}

func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".peerwatch"), nil
}

// expandPath resolves leading "~" to the user home and returns a cleaned path.
func expandPath(p string) string {
	if p == "" {
		return p
	}
	if strings.HasPrefix(p, "~") {
		return filepath.Clean(common.ExpandPath(p))
	}
	return filepath.Clean(p)
}
