package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vaporfund/staking-widget/internal/client"
	"github.com/vaporfund/staking-widget/pkg/types"
)

// Config represents the complete widget configuration
type Config struct {
	Widget        WidgetConfig             `yaml:"widget"`
	API           APIConfig                `yaml:"api"`
	Networks      map[string]NetworkConfig `yaml:"networks,omitempty"`
	Staking       StakingConfig            `yaml:"staking"`
	Wallet        WalletConfig             `yaml:"wallet"`
	Bridge        BridgeConfig             `yaml:"bridge"`
	Cache         CacheConfig              `yaml:"cache"`
	Metrics       MetricsConfig            `yaml:"metrics"`
	Log           LogConfig                `yaml:"log"`
	MockContracts bool                     `yaml:"mock_contracts"` // Use in-memory contracts instead of RPC
}

// WidgetConfig contains the embedding parameters of a widget instance
type WidgetConfig struct {
	APIKey          string `yaml:"api_key"`
	ReferralCode    string `yaml:"referral_code"`
	Network         string `yaml:"network"`          // mainnet or sepolia
	DefaultToken    string `yaml:"default_token"`    // token symbol preselected in the widget
	DefaultStrategy string `yaml:"default_strategy"` // strategy id; empty selects the first listed
}

// APIConfig contains metadata backend settings
type APIConfig struct {
	BaseURL        string  `yaml:"base_url"`
	TimeoutSecs    int     `yaml:"timeout_secs"`     // Per-request timeout (default: 10)
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`   // Outbound requests per second (0 = unlimited)
	RateLimitBurst int     `yaml:"rate_limit_burst"` // Outbound burst size
	MaxRetries     int     `yaml:"max_retries"`      // Retries of listing reads on transport failures (0 = none)
}

// NetworkConfig overrides the built-in definition of a network
type NetworkConfig struct {
	RPCURL         string `yaml:"rpc_url,omitempty"` // ${VAR} references are expanded from the environment
	BlockExplorer  string `yaml:"block_explorer,omitempty"`
	StakingAddress string `yaml:"staking_address,omitempty"`
}

// StakingConfig contains stake submission policy
type StakingConfig struct {
	MinAmount               string  `yaml:"min_amount"` // decimal, inclusive
	MaxAmount               string  `yaml:"max_amount"` // decimal, inclusive
	GasLimitBuffer          float64 `yaml:"gas_limit_buffer"`
	ConfirmationTimeoutSecs int     `yaml:"confirmation_timeout_secs"`
	BlockConfirmations      uint64  `yaml:"block_confirmations"`
}

// WalletConfig contains wallet session settings
type WalletConfig struct {
	KeystoreDir     string `yaml:"keystore_dir"`
	Address         string `yaml:"address,omitempty"` // keystore account used by the CLI
	DetectTimeoutMs int    `yaml:"detect_timeout_ms"` // How long Connect waits for a provider
	PollIntervalMs  int    `yaml:"poll_interval_ms"`
}

// BridgeConfig contains the websocket wallet bridge settings
type BridgeConfig struct {
	ListenAddr        string   `yaml:"listen_addr"`
	AllowedOrigins    []string `yaml:"allowed_origins"` // empty allows same-host origins only
	MessagesPerSecond float64  `yaml:"messages_per_second"`
	Burst             int      `yaml:"burst"`
}

// CacheConfig contains metadata cache settings
type CacheConfig struct {
	Backend   string `yaml:"backend"` // memory or redis
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	TTLSecs   int    `yaml:"ttl_secs"`
}

// MetricsConfig contains Prometheus exposition settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".vaporwidget")

	return &Config{
		Widget: WidgetConfig{
			Network:      string(types.NetworkSepolia),
			DefaultToken: "USDC",
		},
		API: APIConfig{
			BaseURL:        "https://api.vaporfund.com/v1",
			TimeoutSecs:    10,
			RateLimitRPS:   5,
			RateLimitBurst: 10,
			MaxRetries:     3,
		},
		Staking: StakingConfig{
			MinAmount:               "10",
			MaxAmount:               "100000",
			GasLimitBuffer:          1.2,
			ConfirmationTimeoutSecs: 300,
			BlockConfirmations:      1,
		},
		Wallet: WalletConfig{
			KeystoreDir:     filepath.Join(dataDir, "keystore"),
			DetectTimeoutMs: 3000,
			PollIntervalMs:  100,
		},
		Bridge: BridgeConfig{
			ListenAddr:        "127.0.0.1:8545",
			MessagesPerSecond: 20,
			Burst:             40,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTLSecs: 300,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9102",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file holds the API key
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Widget.APIKey != "" && !client.IsValidAPIKeyFormat(c.Widget.APIKey) {
		return fmt.Errorf("api_key must look like pk_live_... or pk_test_... with 32 alphanumeric characters")
	}
	if !types.Network(c.Widget.Network).IsValid() {
		return fmt.Errorf("invalid network: %q", c.Widget.Network)
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.TimeoutSecs < 1 {
		return fmt.Errorf("api.timeout_secs must be at least 1")
	}
	if c.API.RateLimitRPS < 0 {
		return fmt.Errorf("api.rate_limit_rps must not be negative")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must not be negative")
	}

	for name, nc := range c.Networks {
		if !types.Network(name).IsValid() {
			return fmt.Errorf("networks: unknown network %q", name)
		}
		if nc.StakingAddress != "" {
			if err := validateEthAddress("networks."+name+".staking_address", nc.StakingAddress); err != nil {
				return err
			}
		}
	}

	minAmount, maxAmount, err := c.Staking.AmountBounds()
	if err != nil {
		return err
	}
	if !minAmount.IsPositive() {
		return fmt.Errorf("staking.min_amount must be positive")
	}
	if maxAmount.LessThan(minAmount) {
		return fmt.Errorf("staking.max_amount (%s) must not be below min_amount (%s)", maxAmount, minAmount)
	}
	if c.Staking.GasLimitBuffer < 1 {
		return fmt.Errorf("staking.gas_limit_buffer must be at least 1.0, got %v", c.Staking.GasLimitBuffer)
	}
	if c.Staking.ConfirmationTimeoutSecs < 1 {
		return fmt.Errorf("staking.confirmation_timeout_secs must be at least 1")
	}

	if c.Wallet.Address != "" {
		if err := validateEthAddress("wallet.address", c.Wallet.Address); err != nil {
			return err
		}
	}
	if c.Wallet.DetectTimeoutMs < 1 || c.Wallet.PollIntervalMs < 1 {
		return fmt.Errorf("wallet.detect_timeout_ms and wallet.poll_interval_ms must be positive")
	}

	if c.Bridge.MessagesPerSecond <= 0 || c.Bridge.Burst < 1 {
		return fmt.Errorf("bridge.messages_per_second and bridge.burst must be positive")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s", c.Cache.Backend)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// AmountBounds parses the inclusive stake amount bounds.
func (s StakingConfig) AmountBounds() (decimal.Decimal, decimal.Decimal, error) {
	minAmount, err := decimal.NewFromString(s.MinAmount)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid staking.min_amount %q: %w", s.MinAmount, err)
	}
	maxAmount, err := decimal.NewFromString(s.MaxAmount)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid staking.max_amount %q: %w", s.MaxAmount, err)
	}
	return minAmount, maxAmount, nil
}

// NetworkInfo returns the built-in definition of the configured network
// with the overrides from the networks section applied.
func (c *Config) NetworkInfo() (types.NetworkInfo, error) {
	return c.LookupNetwork(types.Network(c.Widget.Network))
}

// LookupNetwork resolves any supported network with overrides applied.
func (c *Config) LookupNetwork(n types.Network) (types.NetworkInfo, error) {
	info, err := n.Info()
	if err != nil {
		return types.NetworkInfo{}, err
	}

	override, ok := c.Networks[string(n)]
	if !ok {
		return info, nil
	}
	if override.RPCURL != "" {
		info.RPCURL = os.ExpandEnv(override.RPCURL)
	}
	if override.BlockExplorer != "" {
		info.BlockExplorer = override.BlockExplorer
	}
	if override.StakingAddress != "" {
		info.StakingAddress = common.HexToAddress(override.StakingAddress)
	}
	return info, nil
}

// validateEthAddress checks that an Ethereum address is 0x-prefixed, 40 hex chars, and non-zero.
func validateEthAddress(name, addr string) error {
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s contains invalid hex characters: %w", name, err)
	}
	if strings.Trim(hexPart, "0") == "" {
		return fmt.Errorf("%s must not be the zero address", name)
	}
	return nil
}

// expandPaths expands ~ in all path fields
func (c *Config) expandPaths() {
	c.Wallet.KeystoreDir = expandPath(c.Wallet.KeystoreDir)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".vaporwidget", "config.yaml")
}

// EnsureDirectories creates the directories the configuration points at
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Wallet.KeystoreDir, 0700); err != nil {
		return fmt.Errorf("failed to create keystore directory %s: %w", c.Wallet.KeystoreDir, err)
	}
	return nil
}
