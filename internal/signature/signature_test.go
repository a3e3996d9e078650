package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestVerify_ValidSignature(t *testing.T) {
	pub, priv := newKey(t)
	msg := ClaimMessage("Freeside Shack", time.Now())

	assert.True(t, Verify(msg, Sign(priv, msg), Identity(pub)))
}

func TestVerify_TamperedMessageFails(t *testing.T) {
	pub, priv := newKey(t)
	msg := ClaimMessage("Freeside Shack", time.UnixMilli(1733000000000))
	sig := Sign(priv, msg)

	for i := range msg {
		tampered := []byte(msg)
		tampered[i] ^= 0x01
		assert.False(t, Verify(string(tampered), sig, Identity(pub)), "byte %d", i)
	}
}

func TestVerify_WrongIdentityFails(t *testing.T) {
	_, priv := newKey(t)
	other, _ := newKey(t)
	msg := "Claim:Vault 21:1"

	assert.False(t, Verify(msg, Sign(priv, msg), Identity(other)))
}

func TestVerify_MalformedInputIsFalse(t *testing.T) {
	pub, priv := newKey(t)
	msg := "Claim:Vault 21:1"
	sig := Sign(priv, msg)

	cases := map[string][2]string{
		"non-base58 signature": {"0OIl", Identity(pub)},
		"short signature":      {base58.Encode([]byte{1, 2, 3}), Identity(pub)},
		"non-base58 identity":  {sig, "not base58 0OIl"},
		"short identity":       {sig, base58.Encode([]byte{1, 2, 3})},
		"empty signature":      {"", Identity(pub)},
		"empty identity":       {sig, ""},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, Verify(msg, c[0], c[1]))
		})
	}
}

func TestParseClaimMessage(t *testing.T) {
	at := time.UnixMilli(1733000000123)

	loc, ts, err := ParseClaimMessage(ClaimMessage("Camp McCarran: Terminal", at))
	require.NoError(t, err)
	assert.Equal(t, "Camp McCarran: Terminal", loc)
	assert.True(t, at.Equal(ts))

	_, _, err = ParseClaimMessage("Equip:gear_1:1")
	assert.Error(t, err)

	_, _, err = ParseClaimMessage("Claim:Vault 21")
	assert.Error(t, err)

	_, _, err = ParseClaimMessage("Claim::123")
	assert.Error(t, err)
}

func TestParseEquipMessage(t *testing.T) {
	id, _, err := ParseEquipMessage(EquipMessage("gear_abc", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "gear_abc", id)
}
