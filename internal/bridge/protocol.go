package bridge

import (
	"encoding/json"

	"github.com/vaporfund/staking-widget/internal/wallet"
)

// Message types exchanged with the page
const (
	TypeHello    = "hello"    // page -> core, announces the page's wallet
	TypeRequest  = "request"  // core -> page, a provider call
	TypeResponse = "response" // page -> core, the result of a request
	TypeEvent    = "event"    // page -> core, an accountsChanged/chainChanged push
	TypePing     = "ping"
	TypePong     = "pong"
)

// Message is one websocket frame of the wallet bridge protocol
type Message struct {
	Type   string           `json:"type"`
	ID     uint64           `json:"id,omitempty"`
	Method string           `json:"method,omitempty"`
	Params []any            `json:"params,omitempty"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *wallet.RPCError `json:"error,omitempty"`
	Event  string           `json:"event,omitempty"`
	Data   json.RawMessage  `json:"data,omitempty"`
}

// Hello is the payload of a hello message
type Hello struct {
	Wallet string `json:"wallet,omitempty"` // e.g. "MetaMask"
	Origin string `json:"origin,omitempty"`
}
