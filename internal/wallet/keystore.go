package wallet

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Scrypt cost of new keystore files. Tests lower these.
var (
	scryptN = keystore.StandardScryptN
	scryptP = keystore.StandardScryptP
)

// Keystore is an encrypted go-ethereum keystore holding the CLI's wallet account
type Keystore struct {
	ks      *keystore.KeyStore
	dir     string
	account accounts.Account
}

func openKeystore(dir string) (*keystore.KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return keystore.NewKeyStore(dir, scryptN, scryptP), nil
}

// LoadKeystore loads the existing wallet from dir.
// Returns (nil, nil) if no wallet file is found.
func LoadKeystore(dir string) (*Keystore, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	accs := ks.Accounts()
	if len(accs) == 0 {
		return nil, nil
	}
	return &Keystore{ks: ks, dir: dir, account: accs[0]}, nil
}

// CreateKeystore creates a new wallet in dir.
// Returns an error if a wallet already exists.
func CreateKeystore(dir, password string) (*Keystore, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", dir)
	}

	account, err := ks.NewAccount(password)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &Keystore{ks: ks, dir: dir, account: account}, nil
}

// ImportKeystore imports a hex private key into a new wallet in dir.
// Returns an error if a wallet already exists.
func ImportKeystore(dir, privKeyHex, password string) (*Keystore, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", dir)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	account, err := ks.ImportECDSA(privateKey, password)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	return &Keystore{ks: ks, dir: dir, account: account}, nil
}

// Address returns the wallet address
func (k *Keystore) Address() common.Address {
	return k.account.Address
}

// Dir returns the keystore directory
func (k *Keystore) Dir() string {
	return k.dir
}

// Unlock decrypts the account key and keeps it in memory until Lock
func (k *Keystore) Unlock(password string) error {
	if err := k.ks.Unlock(k.account, password); err != nil {
		return fmt.Errorf("failed to unlock wallet: %w", err)
	}
	return nil
}

// Lock removes the decrypted key from memory
func (k *Keystore) Lock() error {
	return k.ks.Lock(k.account.Address)
}
