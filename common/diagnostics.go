package common

import (
	"strconv"
	"strings"
)

// Line prefixes recognized in a backend diagnostics report.
const (
	diagKeyPrefix      = "public_key="
	diagAttemptsPrefix = "handshakeAttempts="
)

// HandshakeAttempts maps a peer to its count of consecutive handshake attempts
// without a completed session.
type HandshakeAttempts map[PeerKey]int

// Get returns the attempt count for k, 0 when the peer was not reported.
func (h HandshakeAttempts) Get(k PeerKey) int {
	n, ok := h[k]
	return orDefault(n, ok, 0)
}

// attemptsCursor is the parser's scan state: either no key, or the key of the
// block currently being read.
type attemptsCursor struct {
	key  PeerKey
	have bool
}

// step consumes one line and returns the next cursor, recording into out.
func (c attemptsCursor) step(line string, out HandshakeAttempts) attemptsCursor {
	switch {
	case strings.HasPrefix(line, diagKeyPrefix):
		k, err := ParsePeerKeyHex(line[len(diagKeyPrefix):])
		if err != nil {
			return attemptsCursor{}
		}
		out[k] = 0
		return attemptsCursor{key: k, have: true}
	case strings.HasPrefix(line, diagAttemptsPrefix):
		if !c.have {
			return c
		}
		n, ok := parseAttempts(line[len(diagAttemptsPrefix):])
		n = orDefault(n, ok, 0)
		if n > 0 {
			out[c.key] = n
			return attemptsCursor{}
		}
		return c
	default:
		return c
	}
}

// ParseHandshakeAttempts extracts per-peer handshake attempt counts from a
// diagnostics report. Every peer named by a valid public_key line gets an entry,
// 0 unless a positive handshakeAttempts line follows it. Malformed lines are
// skipped; the result only ever reflects report.
func ParseHandshakeAttempts(report string) HandshakeAttempts {
	out := make(HandshakeAttempts)
	var cur attemptsCursor
	for _, line := range splitLines(report) {
		cur = cur.step(line, out)
	}
	return out
}

// parseAttempts decodes a base-10 signed 32-bit integer.
func parseAttempts(s string) (int, bool) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// orDefault returns v when ok, def otherwise.
func orDefault[T any](v T, ok bool, def T) T {
	if ok {
		return v
	}
	return def
}

// splitLines splits on \n, \r\n and \r. Empty lines are dropped since they
// carry nothing.
func splitLines(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
}
