package chain

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// mockLedger is the in-memory chain state shared by mock-mode contracts.
type mockLedger struct {
	mu sync.Mutex

	balances   map[common.Address]map[common.Address]*big.Int // token -> owner -> amount
	allowances map[allowanceKey]*big.Int
	decimals   map[common.Address]uint8
	symbols    map[common.Address]string

	errs    map[string]error
	reverts map[string]bool
	calls   map[string]int
	block   int64
}

type allowanceKey struct {
	token, owner, spender common.Address
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		decimals:   make(map[common.Address]uint8),
		symbols:    make(map[common.Address]string),
		errs:       make(map[string]error),
		reverts:    make(map[string]bool),
		calls:      make(map[string]int),
	}
}

// enter counts a call and returns the injected error for method, if any.
// The caller must hold mu.
func (l *mockLedger) enter(method string) error {
	l.calls[method]++
	return l.errs[method]
}

func (l *mockLedger) balance(token, owner common.Address) *big.Int {
	if b, ok := l.balances[token][owner]; ok {
		return b
	}
	return new(big.Int)
}

func (l *mockLedger) setBalance(token, owner common.Address, amount *big.Int) {
	if l.balances[token] == nil {
		l.balances[token] = make(map[common.Address]*big.Int)
	}
	l.balances[token][owner] = new(big.Int).Set(amount)
}

func (l *mockLedger) allowance(token, owner, spender common.Address) *big.Int {
	if a, ok := l.allowances[allowanceKey{token, owner, spender}]; ok {
		return a
	}
	return new(big.Int)
}

// spend moves amount of token from owner to spender's custody, consuming allowance.
// The caller must hold mu.
func (l *mockLedger) spend(token, owner, spender common.Address, amount *big.Int) error {
	allowance := l.allowance(token, owner, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient allowance", ErrTransactionReverted)
	}
	balance := l.balance(token, owner)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: transfer amount exceeds balance", ErrTransactionReverted)
	}
	l.setBalance(token, owner, new(big.Int).Sub(balance, amount))
	l.setBalance(token, spender, new(big.Int).Add(l.balance(token, spender), amount))
	l.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Sub(allowance, amount)
	return nil
}

// receipt fabricates a mined receipt for method. The caller must hold mu.
func (l *mockLedger) receipt(method string) (*types.Receipt, error) {
	l.block++
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("mock-%s-%d", method, l.block)))
	r := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: big.NewInt(l.block),
	}
	if l.reverts[method] {
		r.Status = types.ReceiptStatusFailed
		return r, fmt.Errorf("%w: %s", ErrTransactionReverted, hash.Hex())
	}
	return r, nil
}
