package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaporfund/staking-widget/internal/bridge"
	"github.com/vaporfund/staking-widget/internal/config"
	"github.com/vaporfund/staking-widget/internal/logging"
	"github.com/vaporfund/staking-widget/internal/metrics"
	"github.com/vaporfund/staking-widget/internal/util"
	"github.com/vaporfund/staking-widget/internal/wallet"
	"github.com/vaporfund/staking-widget/internal/widget"
	"github.com/vaporfund/staking-widget/pkg/types"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the widget behind a browser wallet bridge",
		Long: `Run the widget as a long-lived process. A web page attaches its injected
wallet (window.ethereum) over a websocket at ws://<listen>/wallet and the
widget uses it as its provider. Prometheus metrics are served when
metrics.enabled is set, and the config file is reloaded on change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Bridge.ListenAddr = listenAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "Bridge listen address (default: bridge.listen_addr)")
	return cmd
}

const autoConnectPoll = time.Second

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slot := wallet.NewProviderSlot()
	rt, err := NewRuntime(ctx, cfg, slot)
	if err != nil {
		return err
	}
	defer rt.Close()

	inst, err := rt.Open(ctx)
	if err != nil {
		return err
	}
	removeLog := inst.Session().OnChange(logWalletState)
	defer removeLog()

	server := bridge.NewServer(slot, bridge.Config{
		AllowedOrigins:    cfg.Bridge.AllowedOrigins,
		MessagesPerSecond: cfg.Bridge.MessagesPerSecond,
		Burst:             cfg.Bridge.Burst,
		Metrics:           rt.Metrics,
	})

	var wg sync.WaitGroup
	util.SafeGoTracked(&wg, "bridge-autoconnect", func() {
		autoConnect(ctx, slot, inst)
	})
	if cfg.Metrics.Enabled {
		util.SafeGoTracked(&wg, "metrics-server", func() {
			if err := serveMetrics(ctx, cfg.Metrics.ListenAddr, rt.Metrics); err != nil {
				logging.Error("metrics server stopped", logging.Err(err))
			}
		})
	}
	util.SafeGoTracked(&wg, "config-watch", func() {
		err := config.Watch(ctx, configPath(), func(next *config.Config) {
			applyReload(rt.Manager, next)
		})
		if err != nil {
			logging.Warn("config reload disabled", logging.Err(err))
		}
	})

	Info(fmt.Sprintf("Wallet bridge on ws://%s/wallet (%s)", cfg.Bridge.ListenAddr, inst.Network().Name))
	err = server.ListenAndServe(ctx, cfg.Bridge.ListenAddr)
	cancel()
	wg.Wait()
	return err
}

// autoConnect connects the widget once to every page that attaches its
// wallet. A page whose user declines is not asked again.
func autoConnect(ctx context.Context, slot *wallet.ProviderSlot, inst *widget.Instance) {
	select {
	case <-slot.Ready():
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(autoConnectPoll)
	defer ticker.Stop()

	var tried wallet.Provider
	for {
		if p := slot.Provider(); p != nil && p != tried && !inst.Session().State().IsConnected {
			tried = p
			inst.Connect(ctx)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// applyReload carries the reloadable settings of a changed config file over
// to the running widgets
func applyReload(manager *widget.Manager, next *config.Config) {
	logging.Configure(os.Stderr, next.Log.Level, next.Log.Format)
	logging.EnableRedaction()

	if next.Widget.APIKey == "" {
		return
	}
	if _, err := manager.UpdateAPIKey(next.Widget.APIKey); err != nil {
		logging.Warn("ignoring reloaded API key", logging.Err(err))
	}
}

func logWalletState(state types.WalletState) {
	switch {
	case state.IsConnected:
		logging.Info("bridge wallet session", logging.Address(state.Address), logging.ChainID(state.ChainID))
	case state.Error != "":
		logging.Warn("bridge wallet session failed", "error", state.Error)
	case !state.IsConnecting:
		logging.Info("bridge wallet session ended")
	}
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Collector) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	util.SafeGoWithName("metrics-listener", func() {
		errCh <- srv.ListenAndServe()
	})
	logging.Info("metrics listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
