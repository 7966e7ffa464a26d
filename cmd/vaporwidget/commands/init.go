package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/vaporfund/staking-widget/internal/client"
	"github.com/vaporfund/staking-widget/internal/config"
	"github.com/vaporfund/staking-widget/internal/wallet"
	"github.com/vaporfund/staking-widget/pkg/types"
)

// NewInitCmd creates the interactive setup command
func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup",
		Long:  "Write the config file: API key, network, referral code and the local wallet.",
		RunE:  runInit,
	}
}

// initAnswers are the values collected by the setup form
type initAnswers struct {
	apiKey       string
	network      string
	referralCode string
	baseURL      string
	walletOp     string
	overwrite    bool
	confirm      bool
}

func runInit(cmd *cobra.Command, args []string) error {
	if !isTTY() {
		return errors.New("init is interactive: edit the config file directly instead")
	}

	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(path)
	hasConfig := statErr == nil

	existing, err := wallet.LoadKeystore(cfg.Wallet.KeystoreDir)
	if err != nil {
		return err
	}

	a := initAnswers{
		apiKey:       cfg.Widget.APIKey,
		network:      cfg.Widget.Network,
		referralCode: cfg.Widget.ReferralCode,
		baseURL:      cfg.API.BaseURL,
		walletOp:     "create",
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API key").
				Description("Your widget key from the VaporFund dashboard").
				Placeholder("pk_test_...").
				EchoMode(huh.EchoModePassword).
				Validate(validateAPIKey).
				Value(&a.apiKey),
			huh.NewSelect[string]().
				Title("Network").
				Options(
					huh.NewOption("Sepolia testnet", string(types.NetworkSepolia)),
					huh.NewOption("Ethereum mainnet", string(types.NetworkMainnet)),
				).
				Value(&a.network),
			huh.NewInput().
				Title("Referral code").
				Description("Optional. Stakes made through this widget are attributed to it").
				Value(&a.referralCode),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Validate(validateBaseURL).
				Value(&a.baseURL),
		),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Wallet setup").
				Description("The CLI stakes from a local encrypted keystore").
				Options(
					huh.NewOption("Create new wallet", "create"),
					huh.NewOption("Import existing private key", "import"),
					huh.NewOption("Skip (configure later with: vaporwidget wallet create)", "skip"),
				).
				Value(&a.walletOp),
		).WithHideFunc(func() bool {
			return existing != nil
		}),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Config file already exists. Overwrite?").
				Description(path).
				Affirmative("Overwrite").
				Negative("Keep existing").
				Value(&a.overwrite),
		).WithHideFunc(func() bool {
			return !hasConfig
		}),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Apply this configuration?").
				DescriptionFunc(func() string {
					return a.summary(existing)
				}, &a).
				Affirmative("Confirm").
				Negative("Cancel").
				Value(&a.confirm),
		),
	).WithTheme(huh.ThemeBase())

	if err := form.Run(); err != nil {
		return err
	}
	if !a.confirm || (hasConfig && !a.overwrite) {
		Info("Setup cancelled, no changes made")
		return nil
	}

	a.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	Success("Configuration saved to " + path)
	checkAPIKey(cmd.Context(), cfg)

	if existing != nil {
		return nil
	}
	switch a.walletOp {
	case "create":
		return newWalletCreateCmd().RunE(cmd, nil)
	case "import":
		return newWalletImportCmd().RunE(cmd, nil)
	}
	fmt.Println(Hint("Create a wallet later with: vaporwidget wallet create"))
	return nil
}

// checkAPIKey asks the backend whether the saved key is accepted. A rejection
// only warns; the file is already written.
func checkAPIKey(ctx context.Context, cfg *config.Config) {
	api := client.NewAPIClient(cfg.Widget.APIKey, client.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: time.Duration(cfg.API.TimeoutSecs) * time.Second,
	})
	err := WithSpinner("Checking API key...", func() error {
		return api.ValidateAPIKey(ctx)
	})
	switch types.CodeOf(err) {
	case "":
		Success("API key accepted")
	case types.ErrInvalidAPIKey:
		Warning("The backend rejected this API key")
	default:
		Warning("Could not verify the API key: " + err.Error())
	}
}

func (a *initAnswers) apply(cfg *config.Config) {
	cfg.Widget.APIKey = strings.TrimSpace(a.apiKey)
	cfg.Widget.Network = a.network
	cfg.Widget.ReferralCode = strings.TrimSpace(a.referralCode)
	if a.baseURL != "" {
		cfg.API.BaseURL = strings.TrimRight(a.baseURL, "/")
	}
}

func (a *initAnswers) summary(existing *wallet.Keystore) string {
	key := "(none)"
	if len(a.apiKey) > 12 {
		key = a.apiKey[:12] + "..."
	}
	lines := []string{
		"API key:  " + key,
		"Network:  " + a.network,
	}
	if a.referralCode != "" {
		lines = append(lines, "Referral: "+a.referralCode)
	}
	if existing != nil {
		lines = append(lines, "Wallet:   "+existing.Address().Hex()+" (existing)")
	} else {
		lines = append(lines, "Wallet:   "+a.walletOp)
	}
	return strings.Join(lines, "\n")
}

func validateAPIKey(s string) error {
	if !client.IsValidAPIKeyFormat(strings.TrimSpace(s)) {
		return errors.New("expected pk_live_ or pk_test_ followed by 32 letters or digits")
	}
	return nil
}

func validateBaseURL(s string) error {
	if s == "" {
		return nil
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return errors.New("must start with http:// or https://")
	}
	if _, err := url.ParseRequestURI(s); err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	return nil
}
