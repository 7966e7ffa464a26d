package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"

	"github.com/vaporfund/staking-widget/internal/chain"
	"github.com/vaporfund/staking-widget/internal/logging"
	"github.com/vaporfund/staking-widget/pkg/types"
)

// TxBackend is the RPC surface KeystoreProvider needs to build and broadcast
// transactions. *ethclient.Client implements it.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

// Dialer opens a TxBackend for an RPC URL
type Dialer func(ctx context.Context, rpcURL string) (TxBackend, error)

// DialEthclient is the default Dialer
func DialEthclient(ctx context.Context, rpcURL string) (TxBackend, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

// PassphraseFunc supplies the keystore password when the session asks for
// account access. Returning an error counts as the user declining.
type PassphraseFunc func(ctx context.Context) (string, error)

// KeystoreProviderConfig configures a KeystoreProvider
type KeystoreProviderConfig struct {
	Keystore       *Keystore
	Passphrase     PassphraseFunc
	Networks       []types.NetworkInfo // Chains known up front; the first is active
	GasLimitBuffer float64
	Dial           Dialer
}

// KeystoreProvider is a Provider backed by a local keystore account, giving
// the CLI the same wallet surface a browser extension gives a page.
type KeystoreProvider struct {
	keystore   *Keystore
	passphrase PassphraseFunc
	gasBuffer  float64
	dial       Dialer

	mu         sync.Mutex
	authorized bool
	chainID    uint64
	rpcURLs    map[uint64]string
	backends   map[uint64]TxBackend

	accountsFeed event.Feed
	chainFeed    event.Feed
}

// NewKeystoreProvider creates a provider for the keystore's account
func NewKeystoreProvider(cfg KeystoreProviderConfig) (*KeystoreProvider, error) {
	if cfg.Keystore == nil {
		return nil, fmt.Errorf("keystore is required")
	}
	if len(cfg.Networks) == 0 {
		return nil, fmt.Errorf("at least one network is required")
	}
	if cfg.Dial == nil {
		cfg.Dial = DialEthclient
	}

	p := &KeystoreProvider{
		keystore:   cfg.Keystore,
		passphrase: cfg.Passphrase,
		gasBuffer:  cfg.GasLimitBuffer,
		dial:       cfg.Dial,
		chainID:    cfg.Networks[0].ChainID,
		rpcURLs:    make(map[uint64]string),
		backends:   make(map[uint64]TxBackend),
	}
	for _, n := range cfg.Networks {
		p.rpcURLs[n.ChainID] = n.RPCURL
	}
	return p, nil
}

// Subscribe implements Provider
func (p *KeystoreProvider) Subscribe(name string, ch chan<- json.RawMessage) (ethereum.Subscription, error) {
	switch name {
	case EventAccountsChanged:
		return p.accountsFeed.Subscribe(ch), nil
	case EventChainChanged:
		return p.chainFeed.Subscribe(ch), nil
	default:
		return nil, NewRPCError(CodeUnsupportedMethod, "unsupported event "+name)
	}
}

// Request implements Provider
func (p *KeystoreProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	switch method {
	case "eth_requestAccounts":
		return p.requestAccounts(ctx)
	case "eth_accounts":
		p.mu.Lock()
		authorized := p.authorized
		p.mu.Unlock()
		if !authorized {
			return json.Marshal([]string{})
		}
		return json.Marshal([]string{p.keystore.Address().Hex()})
	case "eth_chainId":
		p.mu.Lock()
		chainID := p.chainID
		p.mu.Unlock()
		return json.Marshal(types.ChainIDHex(chainID))
	case "wallet_switchEthereumChain":
		return p.switchChain(params)
	case "wallet_addEthereumChain":
		return p.addChain(params)
	case "eth_sendTransaction":
		return p.sendTransaction(ctx, params)
	default:
		return nil, NewRPCError(CodeUnsupportedMethod, "unsupported method "+method)
	}
}

func (p *KeystoreProvider) requestAccounts(ctx context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	authorized := p.authorized
	p.mu.Unlock()

	if !authorized {
		if p.passphrase == nil {
			return nil, NewRPCError(CodeUserRejected, "User rejected the request.")
		}
		password, err := p.passphrase(ctx)
		if err != nil {
			return nil, NewRPCError(CodeUserRejected, "User rejected the request.")
		}
		if err := p.keystore.Unlock(password); err != nil {
			logging.Warn("keystore unlock failed", logging.Address(p.keystore.Address().Hex()))
			return nil, NewRPCError(CodeUserRejected, "User rejected the request.")
		}
		p.mu.Lock()
		p.authorized = true
		p.mu.Unlock()
	}
	return json.Marshal([]string{p.keystore.Address().Hex()})
}

// Lock forgets the decrypted key and announces an empty account list
func (p *KeystoreProvider) Lock() {
	p.mu.Lock()
	p.authorized = false
	p.mu.Unlock()

	if err := p.keystore.Lock(); err != nil {
		logging.Debug("keystore lock", logging.Err(err))
	}
	p.accountsFeed.Send(json.RawMessage(`[]`))
}

type chainParams struct {
	ChainID string   `json:"chainId"`
	RPCURLs []string `json:"rpcUrls"`
}

func decodeFirstParam[T any](params []any) (T, error) {
	var out T
	if len(params) == 0 {
		return out, NewRPCError(CodeInvalidParams, "missing params")
	}
	raw, err := json.Marshal(params[0])
	if err != nil {
		return out, NewRPCError(CodeInvalidParams, err.Error())
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, NewRPCError(CodeInvalidParams, err.Error())
	}
	return out, nil
}

func (p *KeystoreProvider) switchChain(params []any) (json.RawMessage, error) {
	args, err := decodeFirstParam[chainParams](params)
	if err != nil {
		return nil, err
	}
	chainID, err := types.ParseChainID(args.ChainID)
	if err != nil {
		return nil, NewRPCError(CodeInvalidParams, "invalid chainId")
	}

	p.mu.Lock()
	if _, known := p.rpcURLs[chainID]; !known {
		p.mu.Unlock()
		return nil, NewRPCError(CodeUnrecognizedChain, fmt.Sprintf("Unrecognized chain ID %q", args.ChainID))
	}
	changed := p.chainID != chainID
	p.chainID = chainID
	p.mu.Unlock()

	if changed {
		payload, _ := json.Marshal(types.ChainIDHex(chainID))
		p.chainFeed.Send(json.RawMessage(payload))
	}
	return json.RawMessage(`null`), nil
}

func (p *KeystoreProvider) addChain(params []any) (json.RawMessage, error) {
	args, err := decodeFirstParam[chainParams](params)
	if err != nil {
		return nil, err
	}
	chainID, err := types.ParseChainID(args.ChainID)
	if err != nil || len(args.RPCURLs) == 0 {
		return nil, NewRPCError(CodeInvalidParams, "chainId and rpcUrls are required")
	}

	p.mu.Lock()
	p.rpcURLs[chainID] = args.RPCURLs[0]
	delete(p.backends, chainID)
	p.mu.Unlock()
	return json.RawMessage(`null`), nil
}

func (p *KeystoreProvider) backend(ctx context.Context) (TxBackend, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	chainID := p.chainID
	if b, ok := p.backends[chainID]; ok {
		return b, chainID, nil
	}
	b, err := p.dial(ctx, p.rpcURLs[chainID])
	if err != nil {
		return nil, 0, fmt.Errorf("dial chain %d: %w", chainID, err)
	}
	p.backends[chainID] = b
	return b, chainID, nil
}

type txArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Data  string          `json:"data"`
	Value string          `json:"value,omitempty"`
}

func (p *KeystoreProvider) sendTransaction(ctx context.Context, params []any) (json.RawMessage, error) {
	p.mu.Lock()
	authorized := p.authorized
	p.mu.Unlock()
	if !authorized {
		return nil, NewRPCError(CodeUnauthorized, "The requested account has not been authorized by the user.")
	}

	args, err := decodeFirstParam[txArgs](params)
	if err != nil {
		return nil, err
	}
	if args.From != p.keystore.Address() {
		return nil, NewRPCError(CodeUnauthorized, "unknown sender "+args.From.Hex())
	}
	if args.To == nil {
		return nil, NewRPCError(CodeInvalidParams, "contract creation is not supported")
	}
	data, err := hexutil.Decode(args.Data)
	if err != nil {
		return nil, NewRPCError(CodeInvalidParams, "invalid data: "+err.Error())
	}
	value := new(big.Int)
	if args.Value != "" {
		if value, err = hexutil.DecodeBig(args.Value); err != nil {
			return nil, NewRPCError(CodeInvalidParams, "invalid value: "+err.Error())
		}
	}

	backend, chainID, err := p.backend(ctx)
	if err != nil {
		return nil, NewRPCError(CodeDisconnected, err.Error())
	}

	nonce, err := backend.PendingNonceAt(ctx, args.From)
	if err != nil {
		return nil, NewRPCError(CodeInternalError, "failed to get nonce: "+err.Error())
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, NewRPCError(CodeInternalError, "failed to get gas price: "+err.Error())
	}
	gas, err := backend.EstimateGas(ctx, ethereum.CallMsg{From: args.From, To: args.To, Data: data, Value: value})
	if err != nil {
		return nil, NewRPCError(CodeInternalError, "execution reverted: "+err.Error())
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       args.To,
		Value:    value,
		Gas:      chain.ApplyGasBuffer(gas, p.gasBuffer),
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := p.keystore.ks.SignTx(p.keystore.account, tx, new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, NewRPCError(CodeUnauthorized, "failed to sign: "+err.Error())
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, NewRPCError(CodeInternalError, "failed to broadcast: "+err.Error())
	}

	logging.Info("transaction broadcast",
		logging.TxHash(signed.Hash().Hex()),
		logging.ChainID(chainID),
		"to", args.To.Hex())
	return json.Marshal(signed.Hash().Hex())
}
