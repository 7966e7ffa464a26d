package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/event"

	"github.com/vaporfund/staking-widget/internal/wallet"
)

// remoteProvider is a wallet.Provider whose calls are answered by the page
// on the other end of a bridge connection.
type remoteProvider struct {
	conn   *connection
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *Message
	closed  bool

	accounts event.Feed
	chains   event.Feed
}

func newRemoteProvider(conn *connection) *remoteProvider {
	return &remoteProvider{
		conn:    conn,
		pending: make(map[uint64]chan *Message),
	}
}

func errDisconnected() *wallet.RPCError {
	return wallet.NewRPCError(wallet.CodeDisconnected, "The wallet page is disconnected.")
}

// Request forwards the call to the page and waits for its response
func (p *remoteProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	id := p.nextID.Add(1)
	reply := make(chan *Message, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errDisconnected()
	}
	p.pending[id] = reply
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.conn.send(&Message{Type: TypeRequest, ID: id, Method: method, Params: params}); err != nil {
		return nil, errDisconnected()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-reply:
		if !ok {
			return nil, errDisconnected()
		}
		if msg.Error != nil {
			return nil, msg.Error
		}
		if len(msg.Result) == 0 {
			return json.RawMessage(`null`), nil
		}
		return msg.Result, nil
	}
}

// Subscribe implements wallet.Provider
func (p *remoteProvider) Subscribe(name string, ch chan<- json.RawMessage) (ethereum.Subscription, error) {
	switch name {
	case wallet.EventAccountsChanged:
		return p.accounts.Subscribe(ch), nil
	case wallet.EventChainChanged:
		return p.chains.Subscribe(ch), nil
	default:
		return nil, wallet.NewRPCError(wallet.CodeUnsupportedMethod, "unsupported event "+name)
	}
}

// resolve delivers a response to the waiting request
func (p *remoteProvider) resolve(msg *Message) bool {
	p.mu.Lock()
	reply, ok := p.pending[msg.ID]
	if ok {
		delete(p.pending, msg.ID)
	}
	p.mu.Unlock()

	if ok {
		reply <- msg
	}
	return ok
}

// emit publishes a page event to subscribers
func (p *remoteProvider) emit(name string, data json.RawMessage) bool {
	switch name {
	case wallet.EventAccountsChanged:
		p.accounts.Send(data)
	case wallet.EventChainChanged:
		p.chains.Send(data)
	default:
		return false
	}
	return true
}

// shutdown fails pending requests and tells subscribers the wallet is gone
func (p *remoteProvider) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for id, reply := range p.pending {
		close(reply)
		delete(p.pending, id)
	}
	p.mu.Unlock()

	p.accounts.Send(json.RawMessage(`[]`))
}
