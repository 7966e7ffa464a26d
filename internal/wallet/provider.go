package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
)

// Provider events
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
)

// EIP-1193 provider error codes
const (
	CodeUserRejected       = 4001
	CodeUnauthorized       = 4100
	CodeUnsupportedMethod  = 4200
	CodeDisconnected       = 4900
	CodeUnrecognizedChain  = 4902
	CodeInvalidParams      = -32602
	CodeInternalError      = -32603
	CodeMethodNotSupported = -32601
)

// Provider is an EIP-1193 wallet: a request channel plus push events.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Request performs a JSON-RPC call. Provider-side failures are *RPCError.
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	// Subscribe delivers the JSON payload of every event of the given name to ch
	// until the subscription is released.
	Subscribe(event string, ch chan<- json.RawMessage) (ethereum.Subscription, error)
}

// RPCError is an error reported by the wallet provider
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// NewRPCError creates a provider error
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// IsUserRejection reports whether err means the user declined the request
// in the wallet, either by code 4001 or by the wallet's wording.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == CodeUserRejected {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied")
}

// IsUnrecognizedChain reports whether err means the wallet does not know the chain
func IsUnrecognizedChain(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == CodeUnrecognizedChain
}

// ProviderLocator finds the injected provider. Providers can appear after
// the widget starts, so callers poll Provider and also wait on Ready.
type ProviderLocator interface {
	// Provider returns the current provider, or nil when none is available
	Provider() Provider
	// Ready is closed once a provider becomes available
	Ready() <-chan struct{}
}

// ProviderSlot is a ProviderLocator whose provider is installed at runtime,
// for example by the websocket bridge when a page attaches its wallet.
type ProviderSlot struct {
	mu       sync.RWMutex
	provider Provider
	ready    chan struct{}
	signaled bool
}

// NewProviderSlot creates an empty slot
func NewProviderSlot() *ProviderSlot {
	return &ProviderSlot{ready: make(chan struct{})}
}

// StaticLocator returns a slot already holding p
func StaticLocator(p Provider) *ProviderSlot {
	s := NewProviderSlot()
	s.Set(p)
	return s
}

// Set installs p. Installing a provider fires the ready signal; clearing it
// (nil) re-arms the signal for the next provider.
func (s *ProviderSlot) Set(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.provider = p
	switch {
	case p != nil && !s.signaled:
		close(s.ready)
		s.signaled = true
	case p == nil && s.signaled:
		s.ready = make(chan struct{})
		s.signaled = false
	}
}

// Provider returns the installed provider, if any
func (s *ProviderSlot) Provider() Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// Ready returns the current one-shot ready signal
func (s *ProviderSlot) Ready() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// requestAs performs a request and decodes the result into T
func requestAs[T any](ctx context.Context, p Provider, method string, params ...any) (T, error) {
	var out T
	raw, err := p.Request(ctx, method, params...)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", method, err)
	}
	return out, nil
}
