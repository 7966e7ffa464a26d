package commands

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/vaporfund/staking-widget/internal/chain"
	"github.com/vaporfund/staking-widget/internal/wallet"
	"github.com/vaporfund/staking-widget/internal/widget"
)

// openListing opens a widget that only reads backend metadata; no wallet is needed
func openListing(ctx context.Context) (*Runtime, *widget.Instance, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg.MockContracts = true // listings never touch the chain
	rt, err := NewRuntime(ctx, cfg, wallet.NewProviderSlot())
	if err != nil {
		return nil, nil, err
	}
	inst, err := rt.Open(ctx)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return rt, inst, nil
}

// NewStrategiesCmd creates the strategy listing command
func NewStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List staking strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, inst, err := openListing(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			strategies, err := inst.LoadStrategies(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON() {
				return printJSON(strategies)
			}
			if len(strategies) == 0 {
				Info("No strategies available")
				return nil
			}

			rows := make([][]string, 0, len(strategies))
			for _, s := range strategies {
				marker := ""
				if s.ID == inst.SelectedStrategy() {
					marker = "*"
				}
				rows = append(rows, []string{
					marker + s.ID,
					s.Name,
					formatAPY(s.APY),
					RiskBadge(string(s.RiskLevel)),
					formatLimit(s.MinStake),
					formatLimit(s.MaxStake),
				})
			}
			fmt.Println(RenderTable([]string{"ID", "NAME", "APY", "RISK", "MIN", "MAX"}, rows))
			fmt.Println(Hint("* default strategy"))
			return nil
		},
	}
}

// NewTokensCmd creates the token listing command
func NewTokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens",
		Short: "List supported tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, inst, err := openListing(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			tokens, err := inst.Tokens(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON() {
				return printJSON(tokens)
			}

			rows := make([][]string, 0, len(tokens))
			for _, t := range tokens {
				status := "yes"
				if !t.IsWhitelisted {
					status = "no"
				}
				rows = append(rows, []string{
					t.Symbol,
					chain.TruncateAddress(t.Address),
					fmt.Sprint(t.Decimals),
					formatLimit(t.MinDeposit),
					formatLimit(t.MaxDeposit),
					status,
				})
			}
			fmt.Println(RenderTable([]string{"SYMBOL", "ADDRESS", "DECIMALS", "MIN", "MAX", "WHITELISTED"}, rows))
			return nil
		},
	}
}

func formatAPY(apy string) string {
	v, err := decimal.NewFromString(apy)
	if err != nil {
		return apy
	}
	return chain.FormatPercentage(v, 2)
}

func formatLimit(amount string) string {
	v, err := decimal.NewFromString(amount)
	if err != nil {
		return "-"
	}
	return chain.FormatUSD(v)
}
