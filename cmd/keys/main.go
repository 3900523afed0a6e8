// Package main manages the wallet key store.
//
// Usage:
//
//	keys add --ref wallet-1 < secret.txt   # base58 64-byte secret on stdin
//	keys list
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"solana-position-engine/internal/keystore"
)

func main() {
	path := flag.String("path", envOr("KEYSTORE_PATH", "data/keystore"), "Key store directory")
	encKey := flag.String("encryption-key", os.Getenv("KEYSTORE_ENCRYPTION_KEY"), "Key store encryption key (hex or base64)")
	ref := flag.String("ref", "", "Key reference (add)")
	flag.Parse()

	logger := log.New(os.Stderr, "[keys] ", log.LstdFlags)

	if flag.NArg() != 1 {
		logger.Fatal("usage: keys [flags] add|list")
	}

	key, err := keystore.ParseEncryptionKey(*encKey)
	if err != nil {
		logger.Fatal(err)
	}
	store, err := keystore.Open(keystore.OpenOptions{Path: *path, EncryptionKey: key})
	if err != nil {
		logger.Fatalf("open key store: %v", err)
	}
	defer store.Close()

	switch flag.Arg(0) {
	case "add":
		if *ref == "" {
			logger.Fatal("--ref is required")
		}
		secret, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && secret == "" {
			logger.Fatalf("read secret: %v", err)
		}
		if err := store.Put(*ref, strings.TrimSpace(secret)); err != nil {
			logger.Fatalf("store key: %v", err)
		}
		kp, err := store.Keypair(*ref)
		if err != nil {
			logger.Fatalf("read back key: %v", err)
		}
		fmt.Printf("%s\t%s\n", *ref, kp.Address())

	case "list":
		refs, err := store.Refs()
		if err != nil {
			logger.Fatalf("list keys: %v", err)
		}
		for _, r := range refs {
			kp, err := store.Keypair(r)
			if err != nil {
				logger.Printf("%s: %v", r, err)
				continue
			}
			fmt.Printf("%s\t%s\n", r, kp.Address())
		}

	default:
		logger.Fatalf("unknown command %q", flag.Arg(0))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
