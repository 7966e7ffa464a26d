package wallet

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

const testPrivKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestLoadKeystore_Empty(t *testing.T) {
	ks, err := LoadKeystore(filepath.Join(t.TempDir(), "keystore"))
	if err != nil {
		t.Fatalf("LoadKeystore: %v", err)
	}
	if ks != nil {
		t.Error("expected nil keystore for an empty directory")
	}
}

func TestCreateAndLoadKeystore(t *testing.T) {
	dir := t.TempDir()

	created, err := CreateKeystore(dir, "hunter2")
	if err != nil {
		t.Fatalf("CreateKeystore: %v", err)
	}
	if created.Dir() != dir {
		t.Errorf("Dir() = %s", created.Dir())
	}

	loaded, err := LoadKeystore(dir)
	if err != nil || loaded == nil {
		t.Fatalf("LoadKeystore: %v, %v", loaded, err)
	}
	if loaded.Address() != created.Address() {
		t.Errorf("loaded %s, created %s", loaded.Address().Hex(), created.Address().Hex())
	}

	if _, err := CreateKeystore(dir, "again"); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected already-exists error, got %v", err)
	}
}

func TestImportKeystore(t *testing.T) {
	key, err := crypto.HexToECDSA(testPrivKey)
	if err != nil {
		t.Fatal(err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey)

	ks, err := ImportKeystore(t.TempDir(), "0x"+testPrivKey+"\n", "pw")
	if err != nil {
		t.Fatalf("ImportKeystore: %v", err)
	}
	if ks.Address() != want {
		t.Errorf("Address() = %s, want %s", ks.Address().Hex(), want.Hex())
	}

	if _, err := ImportKeystore(t.TempDir(), "not-hex", "pw"); err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestKeystore_Unlock(t *testing.T) {
	ks, err := CreateKeystore(t.TempDir(), "correct")
	if err != nil {
		t.Fatal(err)
	}
	if err := ks.Unlock("wrong"); err == nil {
		t.Error("expected unlock with the wrong password to fail")
	}
	if err := ks.Unlock("correct"); err != nil {
		t.Errorf("Unlock: %v", err)
	}
	if err := ks.Lock(); err != nil {
		t.Errorf("Lock: %v", err)
	}
}
