package common

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const (
	// KeySize is the length of a Curve25519 peer key.
	KeySize = 32
	// KeyHexLen is the length of a hex encoded key as it appears in backend dumps.
	KeyHexLen = 2 * KeySize
)

// PeerKey identifies a peer by its static public key.
type PeerKey [KeySize]byte

// ParsePeerKeyHex decodes exactly 64 hex characters (either case).
func ParsePeerKeyHex(s string) (PeerKey, error) {
	var k PeerKey
	if len(s) != KeyHexLen {
		return k, fmt.Errorf("invalid hex key length %d", len(s))
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return PeerKey{}, fmt.Errorf("invalid hex key: %w", err)
	}
	return k, nil
}

// ParsePeerKeyBase64 decodes a standard base64 key as used in wg-quick configs.
func ParsePeerKeyBase64(s string) (PeerKey, error) {
	var k PeerKey
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return k, err
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("invalid key size %d", len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (k PeerKey) Hex() string { return hex.EncodeToString(k[:]) }

func (k PeerKey) Base64() string { return base64.StdEncoding.EncodeToString(k[:]) }

// String returns the base64 form, which is what users see in configs.
func (k PeerKey) String() string { return k.Base64() }

func (k PeerKey) IsZero() bool { return k == PeerKey{} }

// Short returns a truncated base64 key for narrow table columns.
func (k PeerKey) Short() string {
	s := k.Base64()
	if len(s) <= 12 {
		return s
	}
	return s[:12] + "…"
}

// GeneratePrivateKey returns a random clamped Curve25519 private key.
func GeneratePrivateKey() (PeerKey, error) {
	var k PeerKey
	if _, err := rand.Read(k[:]); err != nil {
		return k, err
	}
	k[0] &= 248
	k[31] = (k[31] & 127) | 64
	return k, nil
}

// PublicKey derives the public key for a private key.
func (k PeerKey) PublicKey() (PeerKey, error) {
	var pub PeerKey
	b, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], b)
	return pub, nil
}
