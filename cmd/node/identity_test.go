package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateIdentityGeneratesOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	de, err := loadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("loadOrCreateIdentity: %v", err)
	}
	if len(de.PublicKey()) == 0 {
		t.Fatal("generated identity has an empty public key")
	}
	if _, err := os.Stat(filepath.Join(dir, "node_key")); err != nil {
		t.Fatalf("node_key was not persisted: %v", err)
	}
}

func TestLoadOrCreateIdentityIsStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	first, err := loadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("first loadOrCreateIdentity: %v", err)
	}
	second, err := loadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("second loadOrCreateIdentity: %v", err)
	}
	if !first.PublicKey().Equal(second.PublicKey()) {
		t.Fatal("identity changed across calls against the same data directory")
	}
}

func TestLoadOrCreateIdentityRejectsCorruptKeyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "node_key"), []byte("too short"), 0o600); err != nil {
		t.Fatalf("write node_key: %v", err)
	}
	if _, err := loadOrCreateIdentity(dir); err == nil {
		t.Fatal("loadOrCreateIdentity with a corrupt key file: expected error, got nil")
	}
}
