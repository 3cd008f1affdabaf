package common

import (
	"reflect"
	"strings"
	"testing"
)

func testKey(b byte) PeerKey {
	var k PeerKey
	for i := range k {
		k[i] = b
	}
	return k
}

func TestParseHandshakeAttempts_Scenarios(t *testing.T) {
	a := testKey(0xaa)
	b := testKey(0x0b)
	cases := []struct {
		name   string
		report string
		want   HandshakeAttempts
	}{
		{"empty", "", HandshakeAttempts{}},
		{"key with attempts", "public_key=" + a.Hex() + "\nhandshakeAttempts=5\n", HandshakeAttempts{a: 5}},
		{"key alone", "public_key=" + a.Hex() + "\n", HandshakeAttempts{a: 0}},
		{"attempts without key", "handshakeAttempts=7\n", HandshakeAttempts{}},
		{"repeated key last wins", "public_key=" + a.Hex() + "\nhandshakeAttempts=2\npublic_key=" + a.Hex() + "\nhandshakeAttempts=4\n", HandshakeAttempts{a: 4}},
		{"repeated key resets to zero", "public_key=" + a.Hex() + "\nhandshakeAttempts=2\npublic_key=" + a.Hex() + "\n", HandshakeAttempts{a: 0}},
		{"two peers", "public_key=" + a.Hex() + "\nhandshakeAttempts=1\npublic_key=" + b.Hex() + "\nhandshakeAttempts=9\n", HandshakeAttempts{a: 1, b: 9}},
		{"uppercase hex", "public_key=" + strings.ToUpper(a.Hex()) + "\nhandshakeAttempts=3", HandshakeAttempts{a: 3}},
		{"crlf", "public_key=" + a.Hex() + "\r\nhandshakeAttempts=6\r\n", HandshakeAttempts{a: 6}},
		{"other lines ignored", "private_key=00\nlisten_port=51820\npublic_key=" + a.Hex() + "\nendpoint=1.2.3.4:51820\nrx_bytes=10\nhandshakeAttempts=2\nerrno=0\n", HandshakeAttempts{a: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseHandshakeAttempts(tc.report)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseHandshakeAttempts_BadKeyDropsCursor(t *testing.T) {
	a := testKey(0xaa)
	report := "public_key=" + a.Hex() + "\npublic_key=nothex\nhandshakeAttempts=8\n"
	got := ParseHandshakeAttempts(report)
	if got[a] != 0 || len(got) != 1 {
		t.Fatalf("attempts after a malformed key must not be attributed: %v", got)
	}
}

func TestParseHandshakeAttempts_ShortOrPaddedKeyIgnored(t *testing.T) {
	a := testKey(0xaa)
	for _, line := range []string{
		"public_key=" + a.Hex()[:62],
		"public_key=" + a.Hex() + "00",
		"public_key=" + a.Hex() + " ",
		"public_key=",
	} {
		if got := ParseHandshakeAttempts(line + "\nhandshakeAttempts=4\n"); len(got) != 0 {
			t.Fatalf("%q: expected empty result, got %v", line, got)
		}
	}
}

func TestParseHandshakeAttempts_PositiveValueClearsCursor(t *testing.T) {
	a := testKey(0xaa)
	report := "public_key=" + a.Hex() + "\nhandshakeAttempts=2\nhandshakeAttempts=5\n"
	if got := ParseHandshakeAttempts(report); got[a] != 2 {
		t.Fatalf("second attempts line must be ignored once consumed, got %d", got[a])
	}
}

func TestParseHandshakeAttempts_NonPositiveKeepsCursor(t *testing.T) {
	a := testKey(0xaa)
	for _, v := range []string{"0", "-4", "abc", "", "99999999999", "1.5"} {
		report := "public_key=" + a.Hex() + "\nhandshakeAttempts=" + v + "\nhandshakeAttempts=3\n"
		if got := ParseHandshakeAttempts(report); got[a] != 3 {
			t.Fatalf("value %q: expected later positive value 3, got %d", v, got[a])
		}
	}
}

func TestParseHandshakeAttempts_NoKeyLinesIsEmpty(t *testing.T) {
	for _, report := range []string{
		"",
		"\n\n\n",
		"handshakeAttempts=3\nhandshakeAttempts=4",
		"listen_port=1\nerrno=0\n",
		"public_keyX=" + testKey(1).Hex(),
		" public_key=" + testKey(1).Hex(),
	} {
		if got := ParseHandshakeAttempts(report); len(got) != 0 {
			t.Fatalf("%q: expected empty mapping, got %v", report, got)
		}
	}
}

func TestParseHandshakeAttempts_TotalOverGarbage(t *testing.T) {
	inputs := []string{
		"\x00\xff\xfe",
		strings.Repeat("x", 1<<20),
		"public_key=\xff\xff",
		"handshakeAttempts=\n=\n==\npublic_key==",
		strings.Repeat("public_key="+testKey(3).Hex()+"\r", 1000),
	}
	for _, in := range inputs {
		_ = ParseHandshakeAttempts(in)
	}
}

func TestParseHandshakeAttempts_Idempotent(t *testing.T) {
	report := "public_key=" + testKey(1).Hex() + "\nhandshakeAttempts=4\npublic_key=" + testKey(2).Hex() + "\n"
	first := ParseHandshakeAttempts(report)
	second := ParseHandshakeAttempts(report)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("parse not idempotent: %v vs %v", first, second)
	}
	first[testKey(9)] = 1
	if _, ok := ParseHandshakeAttempts(report)[testKey(9)]; ok {
		t.Fatal("results must not share state between calls")
	}
}

func TestHandshakeAttemptsGetDefaultsToZero(t *testing.T) {
	var h HandshakeAttempts
	if h.Get(testKey(1)) != 0 {
		t.Fatal("nil map must read as zero")
	}
	h = HandshakeAttempts{testKey(1): 4}
	if h.Get(testKey(1)) != 4 || h.Get(testKey(2)) != 0 {
		t.Fatalf("unexpected lookups: %v", h)
	}
}
