package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cvsouth/corenet/cryptde"
)

// loadOrCreateIdentity loads this node's persistent key seed from
// data_directory/node_key, generating and saving a fresh one on first run.
// A node's public key is its identity in gossip; losing this file means
// losing that identity, so it is never regenerated once it exists.
func loadOrCreateIdentity(dataDirectory string) (*cryptde.RealCryptDE, error) {
	path := filepath.Join(dataDirectory, "node_key")

	if b, err := os.ReadFile(path); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("node_key at %s is %d bytes, want 32", path, len(b))
		}
		var seed [32]byte
		copy(seed[:], b)
		return cryptde.NewRealCryptDEFromSeed(seed)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read node_key: %w", err)
	}

	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("generate node identity seed: %w", err)
	}
	if err := os.WriteFile(path, seed[:], 0600); err != nil {
		return nil, fmt.Errorf("write node_key: %w", err)
	}
	return cryptde.NewRealCryptDEFromSeed(seed)
}
