package widget

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/event"

	"github.com/vaporfund/staking-widget/internal/wallet"
	"github.com/vaporfund/staking-widget/pkg/types"
)

// walletStub answers the connect handshake with a fixed account
type walletStub struct {
	address string
	chain   string

	accounts event.Feed
	chains   event.Feed
}

func (w *walletStub) Request(_ context.Context, method string, _ ...any) (json.RawMessage, error) {
	switch method {
	case "eth_requestAccounts", "eth_accounts":
		return json.Marshal([]string{w.address})
	case "eth_chainId":
		return json.Marshal(w.chain)
	}
	return nil, wallet.NewRPCError(wallet.CodeUnsupportedMethod, "unsupported method "+method)
}

func (w *walletStub) Subscribe(name string, ch chan<- json.RawMessage) (ethereum.Subscription, error) {
	if name == wallet.EventAccountsChanged {
		return w.accounts.Subscribe(ch), nil
	}
	return w.chains.Subscribe(ch), nil
}

// fakeMetadata serves fixed listings
type fakeMetadata struct {
	mu         sync.Mutex
	strategies []types.Strategy
	tokens     []types.Token
	err        error
	keys       []string
}

func (f *fakeMetadata) GetStrategies(context.Context) ([]types.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]types.Strategy(nil), f.strategies...), nil
}

func (f *fakeMetadata) GetTokens(context.Context) ([]types.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]types.Token(nil), f.tokens...), nil
}

func (f *fakeMetadata) UpdateAPIKey(apiKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, apiKey)
}

func (f *fakeMetadata) updatedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}
