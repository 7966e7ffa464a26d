package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vaporfund/staking-widget/internal/logging"
)

// TokenContract reads and approves standard ERC-20 tokens. One instance
// serves every token; the token address is passed per call.
type TokenContract struct {
	client      *Client
	sender      Sender
	contractABI abi.ABI
	mockMode    bool

	// Mock state
	ledger *mockLedger
}

// NewTokenContract creates a token client. Without a connected client it
// runs in mock mode.
func NewTokenContract(client *Client, sender Sender) (*TokenContract, error) {
	erc20, _, err := parsedABIs()
	if err != nil {
		return nil, err
	}

	tc := &TokenContract{
		client:      client,
		sender:      sender,
		contractABI: erc20,
		ledger:      newMockLedger(),
	}
	if client == nil || !client.IsConnected() {
		tc.mockMode = true
	}
	return tc, nil
}

// NewMockTokenContract creates a mock token contract for testing
func NewMockTokenContract() *TokenContract {
	erc20, _, _ := parsedABIs()
	return &TokenContract{
		contractABI: erc20,
		mockMode:    true,
		ledger:      newMockLedger(),
	}
}

// IsMockMode returns whether running in mock mode
func (tc *TokenContract) IsMockMode() bool {
	return tc.mockMode
}

func (tc *TokenContract) call(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	eth, err := tc.client.backend()
	if err != nil {
		return nil, err
	}
	var out []interface{}
	bound := bind.NewBoundContract(token, tc.contractABI, eth, nil, nil)
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

// BalanceOf returns the token balance of owner in base units
func (tc *TokenContract) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if tc.mockMode {
		tc.ledger.mu.Lock()
		defer tc.ledger.mu.Unlock()
		if err := tc.ledger.enter("balanceOf"); err != nil {
			return nil, err
		}
		return new(big.Int).Set(tc.ledger.balance(token, owner)), nil
	}

	out, err := tc.call(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Decimals returns the token precision
func (tc *TokenContract) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	if tc.mockMode {
		tc.ledger.mu.Lock()
		defer tc.ledger.mu.Unlock()
		if err := tc.ledger.enter("decimals"); err != nil {
			return 0, err
		}
		if d, ok := tc.ledger.decimals[token]; ok {
			return d, nil
		}
		return 18, nil
	}

	out, err := tc.call(ctx, token, "decimals")
	if err != nil {
		return 0, fmt.Errorf("failed to get decimals: %w", err)
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", out[0])
	}
	return d, nil
}

// Symbol returns the token ticker
func (tc *TokenContract) Symbol(ctx context.Context, token common.Address) (string, error) {
	if tc.mockMode {
		tc.ledger.mu.Lock()
		defer tc.ledger.mu.Unlock()
		if err := tc.ledger.enter("symbol"); err != nil {
			return "", err
		}
		return tc.ledger.symbols[token], nil
	}

	out, err := tc.call(ctx, token, "symbol")
	if err != nil {
		return "", fmt.Errorf("failed to get symbol: %w", err)
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected symbol type %T", out[0])
	}
	return s, nil
}

// Allowance returns how much spender may move on behalf of owner
func (tc *TokenContract) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	if tc.mockMode {
		tc.ledger.mu.Lock()
		defer tc.ledger.mu.Unlock()
		if err := tc.ledger.enter("allowance"); err != nil {
			return nil, err
		}
		return new(big.Int).Set(tc.ledger.allowance(token, owner, spender)), nil
	}

	out, err := tc.call(ctx, token, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to get allowance: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// ApproveAndWait submits approve(spender, amount) from owner and waits for the receipt.
// Submission errors are returned unwrapped so wallet rejections stay classifiable.
func (tc *TokenContract) ApproveAndWait(ctx context.Context, token, owner, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	if tc.mockMode {
		return tc.mockApprove(token, owner, spender, amount)
	}
	if tc.sender == nil {
		return nil, fmt.Errorf("no transaction sender configured")
	}

	data, err := tc.contractABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode approve: %w", err)
	}
	hash, err := tc.sender.SendTransaction(ctx, owner, token, data)
	if err != nil {
		return nil, err
	}
	logging.Info("approval submitted",
		logging.TxHash(hash.Hex()),
		"token", token.Hex(),
		"spender", spender.Hex())

	return tc.client.WaitForReceipt(ctx, hash)
}

// mockApprove handles approval in mock mode
func (tc *TokenContract) mockApprove(token, owner, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	tc.ledger.mu.Lock()
	defer tc.ledger.mu.Unlock()

	if err := tc.ledger.enter("approve"); err != nil {
		return nil, err
	}
	receipt, err := tc.ledger.receipt("approve")
	if err != nil {
		return receipt, err
	}
	tc.ledger.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)

	logging.Debug("mock approval",
		"token", token.Hex(),
		"owner", owner.Hex(),
		"spender", spender.Hex(),
		"amount", amount.String())
	return receipt, nil
}

// SetMockBalance sets a mock balance for testing
func (tc *TokenContract) SetMockBalance(token, owner common.Address, amount *big.Int) {
	if !tc.mockMode {
		return
	}
	tc.ledger.mu.Lock()
	defer tc.ledger.mu.Unlock()
	tc.ledger.setBalance(token, owner, amount)
}

// SetMockAllowance sets a mock allowance for testing
func (tc *TokenContract) SetMockAllowance(token, owner, spender common.Address, amount *big.Int) {
	if !tc.mockMode {
		return
	}
	tc.ledger.mu.Lock()
	defer tc.ledger.mu.Unlock()
	tc.ledger.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)
}

// SetMockToken registers the metadata of a mock token
func (tc *TokenContract) SetMockToken(token common.Address, symbol string, decimals uint8) {
	if !tc.mockMode {
		return
	}
	tc.ledger.mu.Lock()
	defer tc.ledger.mu.Unlock()
	tc.ledger.symbols[token] = symbol
	tc.ledger.decimals[token] = decimals
}

// SetMockError makes every later call of method fail with err (nil clears it).
// Methods: balanceOf, decimals, symbol, allowance, approve, depositToken and
// the staking reads.
func (tc *TokenContract) SetMockError(method string, err error) {
	tc.ledger.mu.Lock()
	defer tc.ledger.mu.Unlock()
	if err == nil {
		delete(tc.ledger.errs, method)
		return
	}
	tc.ledger.errs[method] = err
}

// SetMockRevert makes later transactions of method mine with a failed status.
func (tc *TokenContract) SetMockRevert(method string, revert bool) {
	tc.ledger.mu.Lock()
	defer tc.ledger.mu.Unlock()
	tc.ledger.reverts[method] = revert
}

// MockCalls returns how many times method was invoked in mock mode
func (tc *TokenContract) MockCalls(method string) int {
	tc.ledger.mu.Lock()
	defer tc.ledger.mu.Unlock()
	return tc.ledger.calls[method]
}
