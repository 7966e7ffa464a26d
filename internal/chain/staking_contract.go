package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vaporfund/staking-widget/internal/logging"
)

// StakingContract provides access to the VaporFund staking vault
type StakingContract struct {
	client        *Client
	sender        Sender
	tokenContract *TokenContract
	contractABI   abi.ABI
	contractAddr  common.Address
	mockMode      bool

	// Mock state
	mockDeposits    map[common.Address]map[common.Address]*big.Int // user -> token -> amount
	mockWhitelist   []common.Address
	mockMinDeposits map[common.Address]*big.Int
	mockMaxDeposits map[common.Address]*big.Int
}

// NewStakingContract creates a staking vault client. It shares mock mode and
// mock state with tokenContract so deposits move mock token balances.
func NewStakingContract(client *Client, sender Sender, tokenContract *TokenContract, contractAddr common.Address) (*StakingContract, error) {
	if tokenContract == nil {
		return nil, fmt.Errorf("token contract is required")
	}
	_, staking, err := parsedABIs()
	if err != nil {
		return nil, err
	}

	return &StakingContract{
		client:          client,
		sender:          sender,
		tokenContract:   tokenContract,
		contractABI:     staking,
		contractAddr:    contractAddr,
		mockMode:        tokenContract.IsMockMode(),
		mockDeposits:    make(map[common.Address]map[common.Address]*big.Int),
		mockMinDeposits: make(map[common.Address]*big.Int),
		mockMaxDeposits: make(map[common.Address]*big.Int),
	}, nil
}

// NewMockStakingContract creates a mock vault at contractAddr backed by tokenContract's mock ledger
func NewMockStakingContract(tokenContract *TokenContract, contractAddr common.Address) *StakingContract {
	sc, err := NewStakingContract(nil, nil, tokenContract, contractAddr)
	if err != nil {
		panic(err)
	}
	sc.mockMode = true
	return sc
}

// IsMockMode returns whether running in mock mode
func (sc *StakingContract) IsMockMode() bool {
	return sc.mockMode
}

// Address returns the vault address, which is the spender tokens are approved for
func (sc *StakingContract) Address() common.Address {
	return sc.contractAddr
}

func (sc *StakingContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	eth, err := sc.client.backend()
	if err != nil {
		return nil, err
	}
	var out []interface{}
	bound := bind.NewBoundContract(sc.contractAddr, sc.contractABI, eth, nil, nil)
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

func (sc *StakingContract) mockEnter(method string) error {
	return sc.tokenContract.ledger.enter(method)
}

// WhitelistedTokens returns the tokens the vault accepts
func (sc *StakingContract) WhitelistedTokens(ctx context.Context) ([]common.Address, error) {
	if sc.mockMode {
		l := sc.tokenContract.ledger
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := sc.mockEnter("getWhitelistedTokens"); err != nil {
			return nil, err
		}
		return append([]common.Address(nil), sc.mockWhitelist...), nil
	}

	out, err := sc.call(ctx, "getWhitelistedTokens")
	if err != nil {
		return nil, fmt.Errorf("failed to get whitelisted tokens: %w", err)
	}
	return *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address), nil
}

// IsWhitelisted reports whether the vault accepts token
func (sc *StakingContract) IsWhitelisted(ctx context.Context, token common.Address) (bool, error) {
	tokens, err := sc.WhitelistedTokens(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tokens {
		if t == token {
			return true, nil
		}
	}
	return false, nil
}

// DepositLimits returns the per-token minimum and maximum deposit in base units
func (sc *StakingContract) DepositLimits(ctx context.Context, token common.Address) (*big.Int, *big.Int, error) {
	if sc.mockMode {
		l := sc.tokenContract.ledger
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := sc.mockEnter("tokenDepositLimits"); err != nil {
			return nil, nil, err
		}
		minDeposit, maxDeposit := new(big.Int), new(big.Int)
		if v, ok := sc.mockMinDeposits[token]; ok {
			minDeposit.Set(v)
		}
		if v, ok := sc.mockMaxDeposits[token]; ok {
			maxDeposit.Set(v)
		}
		return minDeposit, maxDeposit, nil
	}

	minOut, err := sc.call(ctx, "tokenMinDeposit", token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get min deposit: %w", err)
	}
	maxOut, err := sc.call(ctx, "tokenMaxDeposit", token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get max deposit: %w", err)
	}
	return *abi.ConvertType(minOut[0], new(*big.Int)).(**big.Int),
		*abi.ConvertType(maxOut[0], new(*big.Int)).(**big.Int),
		nil
}

// Deposits returns how much of token user has deposited
func (sc *StakingContract) Deposits(ctx context.Context, user, token common.Address) (*big.Int, error) {
	if sc.mockMode {
		l := sc.tokenContract.ledger
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := sc.mockEnter("deposits"); err != nil {
			return nil, err
		}
		if v, ok := sc.mockDeposits[user][token]; ok {
			return new(big.Int).Set(v), nil
		}
		return new(big.Int), nil
	}

	out, err := sc.call(ctx, "deposits", user, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get deposits: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// EstimateDepositGas estimates gas for depositToken with the configured buffer applied
func (sc *StakingContract) EstimateDepositGas(ctx context.Context, from, token common.Address, amount *big.Int) (uint64, error) {
	if sc.mockMode {
		return ApplyGasBuffer(65000, DefaultClientConfig().GasLimitBuffer), nil
	}

	data, err := sc.contractABI.Pack("depositToken", token, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to encode depositToken: %w", err)
	}
	to := sc.contractAddr
	return sc.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
}

// DepositAndWait submits depositToken(token, amount) from user and waits for the receipt.
// Submission errors are returned unwrapped so wallet rejections stay classifiable.
func (sc *StakingContract) DepositAndWait(ctx context.Context, from, token common.Address, amount *big.Int) (*types.Receipt, error) {
	if sc.mockMode {
		return sc.mockDeposit(from, token, amount)
	}
	if sc.sender == nil {
		return nil, fmt.Errorf("no transaction sender configured")
	}

	data, err := sc.contractABI.Pack("depositToken", token, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode depositToken: %w", err)
	}
	hash, err := sc.sender.SendTransaction(ctx, from, sc.contractAddr, data)
	if err != nil {
		return nil, err
	}
	logging.Info("deposit submitted",
		logging.TxHash(hash.Hex()),
		"token", token.Hex(),
		"amount", amount.String())

	return sc.client.WaitForReceipt(ctx, hash)
}

// mockDeposit handles deposits in mock mode
func (sc *StakingContract) mockDeposit(from, token common.Address, amount *big.Int) (*types.Receipt, error) {
	l := sc.tokenContract.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := sc.mockEnter("depositToken"); err != nil {
		return nil, err
	}
	if err := l.spend(token, from, sc.contractAddr, amount); err != nil {
		return nil, err
	}
	receipt, err := l.receipt("depositToken")
	if err != nil {
		return receipt, err
	}

	if sc.mockDeposits[from] == nil {
		sc.mockDeposits[from] = make(map[common.Address]*big.Int)
	}
	prev := sc.mockDeposits[from][token]
	if prev == nil {
		prev = new(big.Int)
	}
	sc.mockDeposits[from][token] = new(big.Int).Add(prev, amount)

	logging.Debug("mock deposit",
		"user", from.Hex(),
		"token", token.Hex(),
		"amount", amount.String())
	return receipt, nil
}

// SetMockWhitelist sets the whitelisted tokens and their deposit limits for testing
func (sc *StakingContract) SetMockWhitelist(token common.Address, minDeposit, maxDeposit *big.Int) {
	if !sc.mockMode {
		return
	}
	l := sc.tokenContract.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	sc.mockWhitelist = append(sc.mockWhitelist, token)
	sc.mockMinDeposits[token] = new(big.Int).Set(minDeposit)
	sc.mockMaxDeposits[token] = new(big.Int).Set(maxDeposit)
}
