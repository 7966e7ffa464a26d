package wallet

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
	"github.com/ethereum/go-ethereum/common"
)

const keyringServiceName = "vaporwidget"

// PasswordStore keeps keystore passwords in the platform keyring, one entry
// per wallet address, so the CLI can unlock without prompting.
type PasswordStore struct {
	ring    keyring.Keyring
	backend string
}

// OpenPasswordStore opens the platform-native keyring.
// On macOS: Keychain. On Linux: Secret Service or KWallet.
func OpenPasswordStore() (*PasswordStore, error) {
	backends := platformKeyringBackends()
	if len(backends) == 0 {
		return nil, fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    keyringServiceName,
		AllowedBackends:                backends,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
		KeychainSynchronizable:         false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return &PasswordStore{ring: ring, backend: keyringBackendName()}, nil
}

// NewPasswordStore wraps an already opened keyring
func NewPasswordStore(ring keyring.Keyring, backend string) *PasswordStore {
	return &PasswordStore{ring: ring, backend: backend}
}

// Backend returns a human-readable name of the keyring backend
func (s *PasswordStore) Backend() string {
	return s.backend
}

func passwordKey(addr common.Address) string {
	return "wallet-password-" + strings.ToLower(addr.Hex())
}

// Store saves the password of the wallet at addr
func (s *PasswordStore) Store(addr common.Address, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:         passwordKey(addr),
		Data:        []byte(password),
		Label:       "VaporFund widget wallet " + addr.Hex(),
		Description: "Password for the staking widget wallet keystore",
	})
	if err != nil {
		return fmt.Errorf("failed to store in %s: %w", s.backend, err)
	}
	return nil
}

// Retrieve returns the stored password of the wallet at addr.
// Returns ("", nil) if no password is stored.
func (s *PasswordStore) Retrieve(addr common.Address) (string, error) {
	item, err := s.ring.Get(passwordKey(addr))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read from %s: %w", s.backend, err)
	}
	return string(item.Data), nil
}

// Delete removes the stored password of the wallet at addr
func (s *PasswordStore) Delete(addr common.Address) error {
	err := s.ring.Remove(passwordKey(addr))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

// platformKeyringBackends returns the keyring backends for the current platform.
func platformKeyringBackends() []keyring.BackendType {
	switch runtime.GOOS {
	case "darwin":
		return []keyring.BackendType{keyring.KeychainBackend}
	case "linux":
		return []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
		}
	default:
		return nil
	}
}

// keyringBackendName returns a human-readable name for the platform keyring.
func keyringBackendName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "linux":
		return "Secret Service (GNOME Keyring / KDE Wallet)"
	default:
		return "system keyring"
	}
}
