package main

import (
	"log"
	"runtime/debug"
)

// logLevel selects how chatty the monitor is.
type logLevel int

const (
	logQuiet logLevel = iota // removals and errors only
	logTrace                 // -v: selection, activation, config loads
	logPolls                 // -vv: every failed backend poll, per-peer lines in headless mode
)

var currentLogLevel = logQuiet

func setVerboseLoggingLevel(level int) {
	currentLogLevel = logLevel(min(max(level, int(logQuiet)), int(logPolls)))
}

func verboseEnabled() bool { return currentLogLevel >= logTrace }

func veryVerboseEnabled() bool { return currentLogLevel >= logPolls }

func vlogf(format string, args ...any) {
	if verboseEnabled() {
		log.Printf(format, args...)
	}
}

func vvlogf(format string, args ...any) {
	if veryVerboseEnabled() {
		log.Printf(format, args...)
	}
}

// provenanceDeps are the modules worth naming when someone reports a UI or
// key derivation problem.
var provenanceDeps = map[string]bool{
	"github.com/rivo/tview":       true,
	"github.com/gdamore/tcell/v2": true,
	"golang.org/x/crypto":         true,
}

// logBuildProvenance prints the Go and module versions at -v.
func logBuildProvenance() {
	if !verboseEnabled() {
		return
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		log.Printf("build: no build info")
		return
	}
	log.Printf("build: go=%s main=%s %s", bi.GoVersion, bi.Main.Path, bi.Main.Version)
	for _, dep := range bi.Deps {
		if dep == nil || !provenanceDeps[dep.Path] {
			continue
		}
		if r := dep.Replace; r != nil {
			log.Printf("build: %s %s => %s %s", dep.Path, dep.Version, r.Path, r.Version)
			continue
		}
		log.Printf("build: %s %s", dep.Path, dep.Version)
	}
}
