package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Network names a supported deployment of the staking contract.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkSepolia Network = "sepolia"
)

// NetworkInfo describes a chain the widget can stake on.
type NetworkInfo struct {
	ChainID        uint64         `json:"chainId"`
	Name           string         `json:"name"`
	RPCURL         string         `json:"rpcUrl"`
	BlockExplorer  string         `json:"blockExplorer"`
	StakingAddress common.Address `json:"stakingAddress"`
}

// SupportedNetworks are the built-in network definitions.
var SupportedNetworks = map[Network]NetworkInfo{
	NetworkMainnet: {
		ChainID:        1,
		Name:           "Ethereum Mainnet",
		RPCURL:         "https://eth-mainnet.g.alchemy.com/v2/",
		BlockExplorer:  "https://etherscan.io",
		StakingAddress: common.HexToAddress("0x089fa7705f6dea9ccc70c912029a0a442b2ced71"),
	},
	NetworkSepolia: {
		ChainID:        11155111,
		Name:           "Sepolia Testnet",
		RPCURL:         "https://eth-sepolia.g.alchemy.com/v2/",
		BlockExplorer:  "https://sepolia.etherscan.io",
		StakingAddress: common.HexToAddress("0x508e7698c9fE9214b2aaF3Da5149849CbCBeE009"),
	},
}

// IsValid returns true for a known network
func (n Network) IsValid() bool {
	_, ok := SupportedNetworks[n]
	return ok
}

// Info returns the built-in definition of the network.
func (n Network) Info() (NetworkInfo, error) {
	info, ok := SupportedNetworks[n]
	if !ok {
		return NetworkInfo{}, NewWidgetError(ErrInvalidNetwork, fmt.Sprintf("unsupported network %q", n))
	}
	return info, nil
}

// NetworkByChainID finds the network deployed on chainID.
func NetworkByChainID(chainID uint64) (Network, bool) {
	for n, info := range SupportedNetworks {
		if info.ChainID == chainID {
			return n, true
		}
	}
	return "", false
}

// ChainIDHex formats a chain id the way wallet providers expect it ("0x1").
func ChainIDHex(chainID uint64) string {
	return "0x" + strconv.FormatUint(chainID, 16)
}

// ParseChainID parses a provider chain id, accepting hex ("0xaa36a7") or decimal.
func ParseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// TxURL links a transaction hash on the network's block explorer.
func (i NetworkInfo) TxURL(hash string) string {
	return fmt.Sprintf("%s/tx/%s", strings.TrimRight(i.BlockExplorer, "/"), hash)
}
