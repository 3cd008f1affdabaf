package main

import "testing"

func TestSetVerboseLoggingLevelClamps(t *testing.T) {
	t.Cleanup(func() { setVerboseLoggingLevel(0) })

	setVerboseLoggingLevel(-3)
	if verboseEnabled() || veryVerboseEnabled() {
		t.Fatal("negative level must be quiet")
	}
	setVerboseLoggingLevel(1)
	if !verboseEnabled() || veryVerboseEnabled() {
		t.Fatal("-v must enable trace logging only")
	}
	setVerboseLoggingLevel(9)
	if currentLogLevel != logPolls || !veryVerboseEnabled() {
		t.Fatalf("level must clamp to %d, got %d", logPolls, currentLogLevel)
	}
}
