package commands

import (
	"os"
	"runtime"
	"runtime/debug"

	"github.com/vaporfund/staking-widget/internal/config"
	"github.com/vaporfund/staking-widget/internal/logging"
	"github.com/vaporfund/staking-widget/pkg/types"
)

// Global CLI flags
var (
	// ConfigPath overrides the default config file location
	ConfigPath string

	// OutputFormat controls output format: "" (auto), "json", "plain"
	OutputFormat string

	// NetworkFlag overrides widget.network from the config file
	NetworkFlag string
)

// Environment variables read by the CLI
const (
	envWalletPassword = "VAPORWIDGET_WALLET_PASSWORD"
	envAPIKey         = "VAPORWIDGET_API_KEY"
)

func configPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file and applies flag and environment overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	if NetworkFlag != "" {
		cfg.Widget.Network = NetworkFlag
	}
	if key := os.Getenv(envAPIKey); key != "" {
		cfg.Widget.APIKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetupLogging applies the log section of the config. Commands log to
// stderr so stdout stays parseable.
func SetupLogging() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		cfg = config.DefaultConfig()
	}
	logging.Configure(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	logging.EnableRedaction()
	return nil
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the CLI version, falling back to the module build info
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}

// widgetVersion is the version of the embedded widget core
func widgetVersion() string {
	return types.WidgetVersion
}
