// Package keystore keeps wallet signing keys in Badger, keyed by the
// wallet's key_ref. Stored values are base58 64-byte ed25519 secrets; the
// database never leaves this package.
package keystore

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"solana-position-engine/internal/solana"
)

// ErrKeyNotFound is returned when no secret is stored under a key_ref.
var ErrKeyNotFound = errors.New("keystore: key not found")

const keyPrefix = "wallet/"

// Store is a Badger-backed key store. Encryption at rest is provided by
// Badger when an encryption key is configured.
type Store struct {
	db *badger.DB
}

// OpenOptions configures Open.
type OpenOptions struct {
	Path string
	// EncryptionKey must be 16, 24 or 32 bytes. Nil opens without encryption.
	EncryptionKey []byte
	ReadOnly      bool
	// InMemory ignores Path and keeps everything in memory.
	InMemory bool
}

// Open opens the store.
func Open(opts OpenOptions) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("keystore: path is required")
		}
		bopts = badger.DefaultOptions(opts.Path).WithReadOnly(opts.ReadOnly)
	}
	bopts = bopts.WithLogger(nil)
	if len(opts.EncryptionKey) > 0 {
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("keystore: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores secret under keyRef after checking it is a valid keypair.
func (s *Store) Put(keyRef, secret string) error {
	k, err := storageKey(keyRef)
	if err != nil {
		return err
	}
	if _, err := solana.KeypairFromBase58(secret); err != nil {
		return fmt.Errorf("keystore: %s: %w", keyRef, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, []byte(secret))
	})
}

// Keypair loads the signing key for keyRef.
func (s *Store) Keypair(keyRef string) (*solana.Keypair, error) {
	k, err := storageKey(keyRef)
	if err != nil {
		return nil, err
	}

	var secret string
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			secret = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyRef)
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: get %s: %w", keyRef, err)
	}

	return solana.KeypairFromBase58(secret)
}

// Refs lists every stored key_ref.
func (s *Store) Refs() ([]string, error) {
	var refs []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			refs = append(refs, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	return refs, err
}

func storageKey(keyRef string) ([]byte, error) {
	ref := strings.TrimSpace(keyRef)
	if ref == "" {
		return nil, errors.New("keystore: key_ref is empty")
	}
	return []byte(keyPrefix + ref), nil
}

// ParseEncryptionKey decodes a 32-byte key given as hex (optionally 0x
// prefixed) or base64. Empty input yields nil.
func ParseEncryptionKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("keystore: encryption key must be 32 bytes, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("keystore: encryption key must be 32 bytes, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("keystore: encryption key must be hex or base64")
}
