package chain

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC20ABI is the subset of the ERC-20 interface the widget uses.
const ERC20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// StakingABI is the VaporFund staking vault interface.
const StakingABI = `[
	{"type":"function","name":"getWhitelistedTokens","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"tokenMinDeposit","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenMaxDeposit","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"deposits","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"depositToken","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"depositETH","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"event","name":"TokenDeposited","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}
	]}
]`

var (
	parseOnce  sync.Once
	erc20ABI   abi.ABI
	stakingABI abi.ABI
	parseErr   error
)

// parsedABIs parses both ABIs once.
func parsedABIs() (abi.ABI, abi.ABI, error) {
	parseOnce.Do(func() {
		erc20ABI, parseErr = abi.JSON(strings.NewReader(ERC20ABI))
		if parseErr != nil {
			parseErr = fmt.Errorf("failed to parse ERC20 ABI: %w", parseErr)
			return
		}
		stakingABI, parseErr = abi.JSON(strings.NewReader(StakingABI))
		if parseErr != nil {
			parseErr = fmt.Errorf("failed to parse staking ABI: %w", parseErr)
		}
	})
	return erc20ABI, stakingABI, parseErr
}
