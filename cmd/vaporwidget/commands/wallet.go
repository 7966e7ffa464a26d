package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vaporfund/staking-widget/internal/config"
	"github.com/vaporfund/staking-widget/internal/logging"
	"github.com/vaporfund/staking-widget/internal/wallet"
	"github.com/vaporfund/staking-widget/pkg/types"
)

const minPasswordLen = 8

// NewWalletCmd creates the wallet command group
func NewWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the local staking wallet",
		Long: `Manage the Ethereum wallet the CLI stakes from.

The wallet is an encrypted keystore file (geth V3 format). Its password is
kept in your platform keyring when one is available, otherwise it is asked
for on each connect or read from ` + envWalletPassword + `.

Examples:
  vaporwidget wallet create    # Generate a new wallet
  vaporwidget wallet import    # Import a private key
  vaporwidget wallet address   # Show the wallet address`,
	}

	cmd.AddCommand(newWalletCreateCmd())
	cmd.AddCommand(newWalletImportCmd())
	cmd.AddCommand(newWalletAddressCmd())
	return cmd
}

func newWalletCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			password, err := promptNewPassword()
			if err != nil {
				return err
			}
			ks, err := wallet.CreateKeystore(cfg.Wallet.KeystoreDir, password)
			if err != nil {
				return err
			}
			return finishWalletSetup(cfg, ks, password)
		},
	}
}

func newWalletImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import a wallet from a private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stderr, "Enter private key (hex, with or without 0x prefix): ")
			key, err := readPasswordNoEcho()
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read private key: %w", err)
			}
			if len(strings.TrimPrefix(key, "0x")) != 64 {
				return fmt.Errorf("private key must be 64 hex characters")
			}
			password, err := promptNewPassword()
			if err != nil {
				return err
			}
			ks, err := wallet.ImportKeystore(cfg.Wallet.KeystoreDir, key, password)
			if err != nil {
				return err
			}
			return finishWalletSetup(cfg, ks, password)
		},
	}
}

func newWalletAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Show the wallet address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ks, err := requireKeystore(cfg)
			if err != nil {
				return err
			}
			if wantJSON() {
				return printJSON(map[string]string{"address": ks.Address().Hex(), "keystore": ks.Dir()})
			}
			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", ks.Address().Hex()},
				{"Keystore", ks.Dir()},
			}))
			return nil
		},
	}
}

// finishWalletSetup records the new wallet in the config and keeps its password
func finishWalletSetup(cfg *config.Config, ks *wallet.Keystore, password string) error {
	cfg.Wallet.Address = ks.Address().Hex()
	if err := cfg.Save(configPath()); err != nil {
		return err
	}

	Success("Wallet ready")
	fmt.Println(StatusBox("Wallet", [][2]string{
		{"Address", ks.Address().Hex()},
		{"Keystore", ks.Dir()},
	}))
	storePassword(ks, password)
	Warning("Back up your keystore directory and remember your password.")
	return nil
}

func storePassword(ks *wallet.Keystore, password string) {
	store, err := wallet.OpenPasswordStore()
	if err == nil {
		err = store.Store(ks.Address(), password)
	}
	if err != nil {
		logging.Debug("keyring unavailable", logging.Err(err))
		fmt.Println(Hint("Could not save the password to a keyring. Set " + envWalletPassword + " to skip the prompt."))
		return
	}
	fmt.Println(Hint("Password saved to " + store.Backend()))
}

func requireKeystore(cfg *config.Config) (*wallet.Keystore, error) {
	ks, err := wallet.LoadKeystore(cfg.Wallet.KeystoreDir)
	if err != nil {
		return nil, err
	}
	if ks == nil {
		return nil, fmt.Errorf("no wallet in %s: run 'vaporwidget wallet create' first", cfg.Wallet.KeystoreDir)
	}
	return ks, nil
}

// keystoreProvider exposes the local wallet as a provider. The password
// comes from the environment, the keyring or a prompt, in that order.
func keystoreProvider(cfg *config.Config) (*wallet.KeystoreProvider, error) {
	ks, err := requireKeystore(cfg)
	if err != nil {
		return nil, err
	}

	networks := make([]types.NetworkInfo, 0, len(types.SupportedNetworks))
	active, err := cfg.NetworkInfo()
	if err != nil {
		return nil, err
	}
	networks = append(networks, active)
	for name := range types.SupportedNetworks {
		if string(name) == cfg.Widget.Network {
			continue
		}
		info, err := cfg.LookupNetwork(name)
		if err != nil {
			return nil, err
		}
		networks = append(networks, info)
	}

	return wallet.NewKeystoreProvider(wallet.KeystoreProviderConfig{
		Keystore:       ks,
		Passphrase:     passphraseFor(ks),
		Networks:       networks,
		GasLimitBuffer: cfg.Staking.GasLimitBuffer,
	})
}

func passphraseFor(ks *wallet.Keystore) wallet.PassphraseFunc {
	return func(ctx context.Context) (string, error) {
		if pw := os.Getenv(envWalletPassword); pw != "" {
			return pw, nil
		}
		if store, err := wallet.OpenPasswordStore(); err == nil {
			if pw, err := store.Retrieve(ks.Address()); err == nil && pw != "" {
				return pw, nil
			}
		}
		if !term.IsTerminal(int(syscall.Stdin)) {
			return "", errors.New("wallet password not available")
		}
		fmt.Fprintf(os.Stderr, "Password for %s: ", ks.Address().Hex())
		pw, err := readPasswordNoEcho()
		fmt.Fprintln(os.Stderr)
		return pw, err
	}
}

func promptNewPassword() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Fprint(os.Stderr, "Enter wallet password: ")
		password, err := readPasswordNoEcho()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if len(password) < minPasswordLen {
			Warning(fmt.Sprintf("Password must be at least %d characters. Try again.", minPasswordLen))
			continue
		}

		fmt.Fprint(os.Stderr, "Confirm wallet password: ")
		confirm, err := readPasswordNoEcho()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}
		if password != confirm {
			Warning("Passwords do not match. Try again.")
			continue
		}
		return password, nil
	}
	return "", fmt.Errorf("too many failed attempts")
}

// readPasswordNoEcho reads a line from the terminal without echo
func readPasswordNoEcho() (string, error) {
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(password)), nil
}
