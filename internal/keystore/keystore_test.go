package keystore

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndKeypair(t *testing.T) {
	s := openMemory(t)

	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	require.NoError(t, s.Put("w1", base58.Encode(priv)))

	kp, err := s.Keypair("w1")
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(pub), kp.Address())

	refs, err := s.Refs()
	require.NoError(t, err)
	assert.Equal(t, []string{"w1"}, refs)
}

func TestKeypair_NotFound(t *testing.T) {
	s := openMemory(t)

	_, err := s.Keypair("missing")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestPut_RejectsInvalidSecret(t *testing.T) {
	s := openMemory(t)

	assert.Error(t, s.Put("w1", "not-base58-0OIl"))
	assert.Error(t, s.Put("w1", base58.Encode(make([]byte, 10))))
	assert.Error(t, s.Put(" ", base58.Encode(make([]byte, 64))))
}

func TestParseEncryptionKey(t *testing.T) {
	key := make([]byte, 32)
	key[31] = 1

	got, err := ParseEncryptionKey("0x" + hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	got, err = ParseEncryptionKey("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseEncryptionKey("abcd")
	assert.Error(t, err)
}
