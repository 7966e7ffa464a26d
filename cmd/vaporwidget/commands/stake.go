package commands

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/vaporfund/staking-widget/internal/chain"
	"github.com/vaporfund/staking-widget/internal/staking"
	"github.com/vaporfund/staking-widget/pkg/types"
)

var errStakeCancelled = errors.New("stake cancelled")

// NewStakeCmd creates the stake command
func NewStakeCmd() *cobra.Command {
	var (
		strategyID string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "stake <amount>",
		Short: "Stake tokens into a strategy",
		Long: `Stake an amount of the default token into a strategy.

The staking contract is approved for exactly the amount when its current
allowance is lower, then the deposit is submitted and confirmed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount := args[0]
			ctx := cmd.Context()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.inst.LoadStrategies(ctx); err != nil {
				return err
			}
			if strategyID != "" {
				if err := s.inst.SelectStrategy(strategyID); err != nil {
					return err
				}
			}
			token, err := s.inst.DefaultToken(ctx)
			if err != nil {
				return err
			}
			balance, err := s.inst.RefreshBalance(ctx)
			if err != nil {
				return err
			}

			// Fail before the confirmation prompt.
			if werr := staking.ValidateStakeAmount(amount, balance, s.inst.Orchestrator().Bounds()); werr != nil {
				return werr
			}

			if !yes {
				confirmed, err := confirmStake(amount, token.Symbol, s.inst.SelectedStrategy(), s.inst.Network())
				if err != nil {
					return err
				}
				if !confirmed {
					return errStakeCancelled
				}
			}

			var tx *types.Transaction
			err = WithSpinner("Waiting for approval and deposit to confirm", func() error {
				var err error
				tx, err = s.inst.Stake(ctx, amount)
				return err
			})
			if err != nil {
				return err
			}

			if wantJSON() {
				return printJSON(tx)
			}
			Success("Stake confirmed")
			fmt.Println(StatusBox("Transaction", [][2]string{
				{"Amount", tx.Amount + " " + tx.Token},
				{"Strategy", tx.Strategy},
				{"Hash", chain.TruncateAddress(tx.Hash)},
				{"Explorer", s.inst.Network().TxURL(tx.Hash)},
			}))
			return nil
		},
	}

	cmd.Flags().StringVar(&strategyID, "strategy", "", "Strategy id (default: widget.default_strategy or the first listed)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func confirmStake(amount, symbol, strategy string, network types.NetworkInfo) (bool, error) {
	if !isTTY() {
		return false, fmt.Errorf("confirmation needs a terminal: pass --yes to stake non-interactively")
	}

	confirmed := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Confirm stake").
				Description(fmt.Sprintf("Amount:   %s %s\nStrategy: %s\nNetwork:  %s", amount, symbol, strategy, network.Name)),
			huh.NewConfirm().
				Title("Submit the transaction?").
				Affirmative("Stake").
				Negative("Cancel").
				Value(&confirmed),
		),
	).WithTheme(huh.ThemeBase())

	if err := form.Run(); err != nil {
		return false, err
	}
	return confirmed, nil
}
