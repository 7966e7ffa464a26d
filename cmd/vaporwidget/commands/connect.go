package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vaporfund/staking-widget/internal/chain"
	"github.com/vaporfund/staking-widget/internal/wallet"
	"github.com/vaporfund/staking-widget/internal/widget"
	"github.com/vaporfund/staking-widget/pkg/types"
)

// session is an opened widget with its wallet connected
type session struct {
	rt   *Runtime
	inst *widget.Instance
}

func (s *session) Close() {
	s.rt.Close()
}

// openSession loads the config, opens the widget against the local wallet
// and connects it
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	provider, err := keystoreProvider(cfg)
	if err != nil {
		return nil, err
	}
	rt, err := NewRuntime(ctx, cfg, wallet.StaticLocator(provider))
	if err != nil {
		return nil, err
	}

	var inst *widget.Instance
	err = WithSpinner("Connecting to "+cfg.Widget.Network, func() error {
		var err error
		inst, err = rt.Open(ctx)
		return err
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	state := inst.Connect(ctx)
	if !state.IsConnected {
		rt.Close()
		if werr := inst.Session().LastError(); werr != nil {
			return nil, werr
		}
		return nil, fmt.Errorf("wallet did not connect")
	}
	return &session{rt: rt, inst: inst}, nil
}

// NewConnectCmd creates the connect command
func NewConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect the wallet and show the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			state := s.inst.Session().State()
			if wantJSON() {
				return printJSON(state)
			}
			Success("Wallet connected")
			fmt.Println(walletBox(state, s.inst.Network()))
			return nil
		},
	}
}

func walletBox(state types.WalletState, info types.NetworkInfo) string {
	network := strconv.FormatUint(state.ChainID, 10)
	if n, ok := types.NetworkByChainID(state.ChainID); ok {
		network = fmt.Sprintf("%s (%d)", n, state.ChainID)
	}
	fields := [][2]string{
		{"Address", chain.TruncateAddress(state.Address)},
		{"Network", network},
	}
	if state.ChainID != info.ChainID {
		fields = append(fields, [2]string{"Warning", "wallet is not on " + info.Name})
	}
	return StatusBox("Wallet", fields)
}

// NewNetworkCmd creates the network command group
func NewNetworkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Inspect or switch the wallet network",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "switch <network>",
		Short:     "Switch the wallet to mainnet or sepolia",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(types.NetworkMainnet), string(types.NetworkSepolia)},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			target := types.Network(args[0])
			if err := s.inst.Session().SwitchToNetwork(cmd.Context(), target); err != nil {
				return err
			}
			Success("Switched to " + args[0])
			fmt.Println(walletBox(s.inst.Session().State(), s.inst.Network()))
			return nil
		},
	})
	return cmd
}
