package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// WalletState is the connection state of a wallet session.
// The zero value is the disconnected state; an empty Address and a zero
// ChainID mean "unknown".
type WalletState struct {
	Address      string `json:"address,omitempty"`
	ChainID      uint64 `json:"chainId,omitempty"`
	IsConnected  bool   `json:"isConnected"`
	IsConnecting bool   `json:"isConnecting"`
	Error        string `json:"error,omitempty"`
}

// Account returns the connected address, or false when no account is held.
func (s WalletState) Account() (common.Address, bool) {
	if !s.IsConnected || !common.IsHexAddress(s.Address) {
		return common.Address{}, false
	}
	return common.HexToAddress(s.Address), true
}

// StakeRequest is a single user submission. It is consumed once.
type StakeRequest struct {
	TokenAddress common.Address `json:"tokenAddress"`
	Amount       string         `json:"amount"` // decimal string in token units
	StrategyID   string         `json:"strategy"`
}

// Transaction is the record of a confirmed stake deposit.
type Transaction struct {
	Hash        string `json:"hash"`
	Amount      string `json:"amount"`
	Token       string `json:"token"`
	Strategy    string `json:"strategy"`
	Timestamp   int64  `json:"timestamp"`
	ReferralFee string `json:"referralFee"`
}

// PreparedTransaction is a backend-assembled call ready to be signed.
type PreparedTransaction struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasLimit string `json:"gasLimit,omitempty"`
}

// RiskLevel of a staking strategy
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Strategy is a yield strategy offered by the backend.
type Strategy struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	APY         string    `json:"apy"`
	MinStake    string    `json:"minStake"`
	MaxStake    string    `json:"maxStake"`
	RiskLevel   RiskLevel `json:"riskLevel"`
}

// Token is a whitelisted ERC-20 token.
type Token struct {
	Address       string `json:"address"`
	Symbol        string `json:"symbol"`
	Decimals      uint8  `json:"decimals"`
	MinDeposit    string `json:"minDeposit"`
	MaxDeposit    string `json:"maxDeposit"`
	IsWhitelisted bool   `json:"isWhitelisted"`
}

// APIErrorBody is the error member of a backend envelope.
type APIErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIResponse is the backend's {success, data, error} envelope.
type APIResponse[T any] struct {
	Success bool          `json:"success"`
	Data    *T            `json:"data,omitempty"`
	Error   *APIErrorBody `json:"error,omitempty"`
}

// StrategiesResponse is the payload of the strategy listing.
type StrategiesResponse struct {
	Strategies []Strategy `json:"strategies"`
}

// TokensResponse is the payload of the whitelisted-token listing.
type TokensResponse struct {
	Tokens []Token `json:"tokens"`
}

// ReferralTrackingRequest attributes a confirmed stake to a referral code.
type ReferralTrackingRequest struct {
	ReferralCode string `json:"referralCode"`
	TxHash       string `json:"txHash"`
	Amount       string `json:"amount"`
	Fee          string `json:"fee"`
}

// PrepareTransactionRequest asks the backend to assemble a deposit call.
type PrepareTransactionRequest struct {
	Token        string `json:"token"`
	Amount       string `json:"amount"`
	Strategy     string `json:"strategy"`
	ReferralCode string `json:"referralCode,omitempty"`
}

// WidgetVersion is reported by the widget manager and the CLI.
const WidgetVersion = "0.1.0"
