package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Address and signature validation errors.
var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidKey     = errors.New("invalid secret key")
	ErrSignerMissing  = errors.New("signer not in transaction")
)

// ValidateAddress checks that addr is base58 for a 32-byte ed25519 point.
func ValidateAddress(addr string) error {
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAddress, addr, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: %s: length %d", ErrInvalidAddress, addr, len(raw))
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return fmt.Errorf("%w: %s: not on curve", ErrInvalidAddress, addr)
	}
	return nil
}

// Keypair is an ed25519 signing key.
type Keypair struct {
	private ed25519.PrivateKey
}

// KeypairFromBase58 decodes a base58 64-byte secret (seed || public key).
func KeypairFromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidKey, len(raw))
	}

	private := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !private.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidKey)
	}
	return &Keypair{private: private}, nil
}

// KeypairFromSeed derives a keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed length %d", ErrInvalidKey, len(seed))
	}
	return &Keypair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// Address returns the base58 public key.
func (k *Keypair) Address() string {
	return base58.Encode(k.private.Public().(ed25519.PublicKey))
}

// Base58 returns the base58 64-byte secret.
func (k *Keypair) Base58() string {
	return base58.Encode(k.private)
}

// SignTransaction fills k's signature slot in a serialized legacy or v0
// transaction (base64) and returns the signed transaction (base64) together
// with its first signature, the transaction id.
func (k *Keypair) SignTransaction(unsignedB64 string) (signedB64, signature string, err error) {
	raw, err := base64.StdEncoding.DecodeString(unsignedB64)
	if err != nil {
		return "", "", fmt.Errorf("decode transaction: %w", err)
	}

	sigCount, n, err := decodeShortVec(raw)
	if err != nil {
		return "", "", fmt.Errorf("signature count: %w", err)
	}
	sigStart := n
	msgStart := sigStart + sigCount*ed25519.SignatureSize
	if sigCount == 0 || msgStart > len(raw) {
		return "", "", fmt.Errorf("malformed transaction: %d signatures", sigCount)
	}
	message := raw[msgStart:]

	signers, keys, err := messageSigners(message)
	if err != nil {
		return "", "", err
	}
	if signers > sigCount {
		return "", "", fmt.Errorf("malformed transaction: %d signers, %d slots", signers, sigCount)
	}

	pub := k.private.Public().(ed25519.PublicKey)
	slot := -1
	for i := 0; i < signers; i++ {
		if ed25519.PublicKey(keys[i]).Equal(pub) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return "", "", fmt.Errorf("%w: %s", ErrSignerMissing, k.Address())
	}

	sig := ed25519.Sign(k.private, message)
	copy(raw[sigStart+slot*ed25519.SignatureSize:], sig)

	first := raw[sigStart : sigStart+ed25519.SignatureSize]
	return base64.StdEncoding.EncodeToString(raw), base58.Encode(first), nil
}

// messageSigners parses the header and static account keys of a message.
func messageSigners(message []byte) (int, [][]byte, error) {
	pos := 0
	if len(message) > 0 && message[0]&0x80 != 0 {
		if version := message[0] & 0x7f; version != 0 {
			return 0, nil, fmt.Errorf("unsupported message version %d", version)
		}
		pos++
	}
	if len(message) < pos+3 {
		return 0, nil, errors.New("malformed message header")
	}
	signers := int(message[pos])
	pos += 3

	count, n, err := decodeShortVec(message[pos:])
	if err != nil {
		return 0, nil, fmt.Errorf("account count: %w", err)
	}
	pos += n
	if len(message) < pos+count*ed25519.PublicKeySize || signers > count {
		return 0, nil, errors.New("malformed account keys")
	}

	keys := make([][]byte, count)
	for i := range keys {
		keys[i] = message[pos : pos+ed25519.PublicKeySize]
		pos += ed25519.PublicKeySize
	}
	return signers, keys, nil
}

// decodeShortVec reads Solana's compact-u16 length prefix.
func decodeShortVec(b []byte) (value, size int, err error) {
	for size < 3 {
		if size >= len(b) {
			return 0, 0, errors.New("short buffer")
		}
		v := b[size]
		value |= int(v&0x7f) << (7 * size)
		size++
		if v&0x80 == 0 {
			return value, size, nil
		}
	}
	return 0, 0, errors.New("compact-u16 overflow")
}

func encodeShortVec(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// UnsignedTransaction wraps a serialized message with empty signature slots
// and returns it base64 encoded.
func UnsignedTransaction(message []byte) (string, error) {
	signers, _, err := messageSigners(message)
	if err != nil {
		return "", err
	}
	out := encodeShortVec(signers)
	out = append(out, make([]byte, signers*ed25519.SignatureSize)...)
	out = append(out, message...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// TransactionID returns the first signature of a serialized transaction
// (base64), which is the id the node reports it under.
func TransactionID(txB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txB64)
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}
	count, n, err := decodeShortVec(raw)
	if err != nil {
		return "", fmt.Errorf("signature count: %w", err)
	}
	if count == 0 || len(raw) < n+ed25519.SignatureSize {
		return "", errors.New("transaction has no signatures")
	}
	return base58.Encode(raw[n : n+ed25519.SignatureSize]), nil
}
