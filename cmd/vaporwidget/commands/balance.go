package commands

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/vaporfund/staking-widget/internal/chain"
)

// NewBalanceCmd creates the token balance command
func NewBalanceCmd() *cobra.Command {
	var symbol string

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the wallet's token balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			token, err := s.inst.ResolveToken(cmd.Context(), symbol)
			if err != nil {
				return err
			}
			balance, err := s.inst.Orchestrator().AccountBalance(cmd.Context(), common.HexToAddress(token.Address))
			if err != nil {
				return err
			}

			state := s.inst.Session().State()
			if wantJSON() {
				return printJSON(map[string]string{
					"address": state.Address,
					"token":   token.Symbol,
					"balance": balance.String(),
				})
			}
			fmt.Println(StatusBox(token.Symbol+" Balance", [][2]string{
				{"Address", chain.TruncateAddress(state.Address)},
				{"Balance", balance.StringFixed(2) + " " + token.Symbol},
			}))
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "token", "", "Token symbol (default: widget.default_token)")
	return cmd
}
