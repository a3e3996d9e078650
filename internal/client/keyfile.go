package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
)

// GenerateKey creates a new wallet key
func GenerateKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return priv, nil
}

// EncodeKey renders a key as a JSON byte array, the keypair file layout
// Solana tooling reads
func EncodeKey(key ed25519.PrivateKey) ([]byte, error) {
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

// ParseKey accepts either a JSON byte array keypair or a base58 string of
// the 64-byte private key
func ParseKey(data []byte) (ed25519.PrivateKey, error) {
	text := strings.TrimSpace(string(data))

	var raw []byte
	if strings.HasPrefix(text, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(text), &ints); err != nil {
			return nil, fmt.Errorf("parsing keypair array: %w", err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("keypair byte %d out of range", i)
			}
			raw[i] = byte(v)
		}
	} else {
		var err error
		raw, err = base58.Decode(text)
		if err != nil {
			return nil, fmt.Errorf("decoding base58 key: %w", err)
		}
	}

	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key has %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	key := ed25519.PrivateKey(raw)
	// the trailing half must be the public key of the seed
	if !key.Public().(ed25519.PublicKey).Equal(ed25519.NewKeyFromSeed(key.Seed()).Public()) {
		return nil, fmt.Errorf("key is inconsistent")
	}
	return key, nil
}

// LoadKey reads a key file
func LoadKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return ParseKey(data)
}

// SaveKey writes a key file readable only by the owner
func SaveKey(path string, key ed25519.PrivateKey) error {
	data, err := EncodeKey(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}
