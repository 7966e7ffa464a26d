package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ProviderSource yields the provider transactions are sent through
type ProviderSource interface {
	Provider() Provider
}

// ProviderSender submits contract calls with eth_sendTransaction, leaving
// gas, nonce and signing to the wallet.
type ProviderSender struct {
	source ProviderSource
}

// NewProviderSender creates a sender bound to source, typically the SessionManager
func NewProviderSender(source ProviderSource) *ProviderSender {
	return &ProviderSender{source: source}
}

// SendTransaction asks the wallet to sign and broadcast a call. Wallet errors,
// including user rejections, are returned as *RPCError.
func (s *ProviderSender) SendTransaction(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error) {
	p := s.source.Provider()
	if p == nil {
		return common.Hash{}, ErrNotConnected
	}

	hash, err := requestAs[string](ctx, p, "eth_sendTransaction", map[string]string{
		"from": from.Hex(),
		"to":   to.Hex(),
		"data": hexutil.Encode(data),
	})
	if err != nil {
		return common.Hash{}, err
	}
	if len(hash) != 66 {
		return common.Hash{}, fmt.Errorf("wallet returned malformed transaction hash %q", hash)
	}
	return common.HexToHash(hash), nil
}
