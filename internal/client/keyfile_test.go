package client

import (
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFileRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, SaveKey(path, key))

	loaded, err := LoadKey(path)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

func TestParseKey(t *testing.T) {
	key := testKey(3)

	parsed, err := ParseKey([]byte(base58.Encode(key) + "\n"))
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	_, err = ParseKey([]byte("[1,2,3]"))
	assert.Error(t, err)

	_, err = ParseKey([]byte("[300" + "]"))
	assert.Error(t, err)

	tampered := append([]byte(nil), key...)
	tampered[40] ^= 0xff
	_, err = ParseKey([]byte(base58.Encode(tampered)))
	assert.Error(t, err)

	_, err = ParseKey([]byte("0OIl"))
	assert.Error(t, err)
}
