package wallet

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/event"
)

type handlerFunc func(params []any) (any, error)

// fakeProvider is a scriptable in-memory EIP-1193 provider
type fakeProvider struct {
	mu       sync.Mutex
	handlers map[string]handlerFunc
	calls    []string
	params   map[string][]any

	accounts event.Feed
	chains   event.Feed
}

func newFakeProvider(address, chainHex string) *fakeProvider {
	p := &fakeProvider{
		handlers: make(map[string]handlerFunc),
		params:   make(map[string][]any),
	}
	p.handle("eth_requestAccounts", func([]any) (any, error) { return []string{address}, nil })
	p.handle("eth_chainId", func([]any) (any, error) { return chainHex, nil })
	return p
}

func (p *fakeProvider) handle(method string, fn handlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[method] = fn
}

func (p *fakeProvider) callsTo(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (p *fakeProvider) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProvider) Request(_ context.Context, method string, params ...any) (json.RawMessage, error) {
	p.mu.Lock()
	p.calls = append(p.calls, method)
	p.params[method] = params
	fn := p.handlers[method]
	p.mu.Unlock()

	if fn == nil {
		return nil, NewRPCError(CodeUnsupportedMethod, "unsupported method "+method)
	}
	out, err := fn(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (p *fakeProvider) Subscribe(name string, ch chan<- json.RawMessage) (ethereum.Subscription, error) {
	switch name {
	case EventAccountsChanged:
		return p.accounts.Subscribe(ch), nil
	case EventChainChanged:
		return p.chains.Subscribe(ch), nil
	}
	return nil, NewRPCError(CodeUnsupportedMethod, name)
}

// emitAccounts pushes an accountsChanged event and returns the number of receivers
func (p *fakeProvider) emitAccounts(accounts ...string) int {
	if accounts == nil {
		accounts = []string{}
	}
	raw, _ := json.Marshal(accounts)
	return p.accounts.Send(json.RawMessage(raw))
}

// emitChain pushes a chainChanged event and returns the number of receivers
func (p *fakeProvider) emitChain(chainHex string) int {
	raw, _ := json.Marshal(chainHex)
	return p.chains.Send(json.RawMessage(raw))
}
