package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaporfund/staking-widget/cmd/vaporwidget/commands"
)

var rootCmd = &cobra.Command{
	Use:   "vaporwidget",
	Short: "VaporFund staking widget",
	Long:  "Connect a wallet and stake tokens into VaporFund strategies, from the terminal or through a browser wallet bridge.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return commands.SetupLogging()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to config file (default: ~/.vaporwidget/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&commands.OutputFormat, "output", "o", "", "Output format: json or plain (default: auto)")
	rootCmd.PersistentFlags().StringVar(&commands.NetworkFlag, "network", "", "Network to use (mainnet or sepolia)")
}

func main() {
	rootCmd.AddCommand(commands.NewInitCmd())
	rootCmd.AddCommand(commands.NewWalletCmd())
	rootCmd.AddCommand(commands.NewConnectCmd())
	rootCmd.AddCommand(commands.NewNetworkCmd())
	rootCmd.AddCommand(commands.NewBalanceCmd())
	rootCmd.AddCommand(commands.NewStrategiesCmd())
	rootCmd.AddCommand(commands.NewTokensCmd())
	rootCmd.AddCommand(commands.NewStakeCmd())
	rootCmd.AddCommand(commands.NewServeCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
