// Package signature verifies wallet-signed messages. A detached Ed25519
// signature over the message is the only proof of wallet ownership.
package signature

import (
	"crypto/ed25519"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

const (
	claimPrefix = "Claim:"
	equipPrefix = "Equip:"
)

// Verify reports whether signatureB58 is a valid detached Ed25519 signature
// of message by the public key identityB58. Malformed input returns false.
func Verify(message, signatureB58, identityB58 string) bool {
	pub, err := DecodeIdentity(identityB58)
	if err != nil {
		return false
	}
	sig, err := base58.Decode(signatureB58)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, []byte(message), sig)
}

// DecodeIdentity decodes a base58 wallet address into an Ed25519 public key
func DecodeIdentity(identityB58 string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(identityB58)
	if err != nil {
		return nil, fmt.Errorf("decoding identity: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// Identity returns the base58 wallet address of a public key
func Identity(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// Sign produces a base58 detached signature of message
func Sign(key ed25519.PrivateKey, message string) string {
	return base58.Encode(ed25519.Sign(key, []byte(message)))
}

// ClaimMessage builds the message a wallet signs to claim a location
func ClaimMessage(locationID string, t time.Time) string {
	return claimPrefix + locationID + ":" + strconv.FormatInt(t.UnixMilli(), 10)
}

// EquipMessage builds the message a wallet signs to toggle a gear instance
func EquipMessage(gearID string, t time.Time) string {
	return equipPrefix + gearID + ":" + strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseClaimMessage extracts the location id and timestamp from a claim message
func ParseClaimMessage(message string) (string, time.Time, error) {
	return parse(message, claimPrefix)
}

// ParseEquipMessage extracts the gear id and timestamp from an equip message
func ParseEquipMessage(message string) (string, time.Time, error) {
	return parse(message, equipPrefix)
}

func parse(message, prefix string) (string, time.Time, error) {
	if !strings.HasPrefix(message, prefix) {
		return "", time.Time{}, fmt.Errorf("message missing %q prefix", prefix)
	}
	body := strings.TrimPrefix(message, prefix)

	// the subject may itself contain ':' so split on the last one
	i := strings.LastIndexByte(body, ':')
	if i <= 0 {
		return "", time.Time{}, fmt.Errorf("message missing timestamp")
	}
	ms, err := strconv.ParseInt(body[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parsing message timestamp: %w", err)
	}
	return body[:i], time.UnixMilli(ms), nil
}
