package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vaporfund/staking-widget/internal/logging"
	"github.com/vaporfund/staking-widget/internal/metrics"
	"github.com/vaporfund/staking-widget/internal/util"
	"github.com/vaporfund/staking-widget/pkg/types"
)

// Connection failure messages shown to the user
const (
	MsgNoWallet         = "No Web3 wallet detected. Please install MetaMask or another Web3 wallet."
	MsgConnectRejected  = "Connection request rejected by user"
	MsgConnectFailed    = "Failed to connect wallet"
	MsgNoAccounts       = "Wallet returned no accounts"
	defaultDetectWait   = 3 * time.Second
	defaultDetectPoll   = 100 * time.Millisecond
	subscriptionBufSize = 8
)

// ErrNotConnected is returned by Account when no wallet session is active
var ErrNotConnected = errors.New("wallet not connected")

// SessionOptions configures a SessionManager
type SessionOptions struct {
	DetectTimeout time.Duration // How long Connect waits for a provider (default 3s)
	PollInterval  time.Duration // How often Connect polls for a provider (default 100ms)
	Metrics       *metrics.Collector
}

// SessionManager tracks which wallet account is connected and on which chain.
//
// Provider events (account and chain changes) are applied as they arrive,
// including while Connect or a stake workflow is in flight. A caller that
// reads Account at the start of a multi-step operation keeps using that
// account even if the wallet switches mid-way.
type SessionManager struct {
	locator ProviderLocator
	opts    SessionOptions

	mu        sync.RWMutex
	state     types.WalletState
	lastErr   *types.WidgetError
	provider  Provider
	watch     *eventWatcher
	listeners map[int]func(types.WalletState)
	nextID    int
	closed    bool
}

// NewSessionManager creates a session in the disconnected state
func NewSessionManager(locator ProviderLocator, opts SessionOptions) *SessionManager {
	if opts.DetectTimeout <= 0 {
		opts.DetectTimeout = defaultDetectWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultDetectPoll
	}
	return &SessionManager{
		locator:   locator,
		opts:      opts,
		listeners: make(map[int]func(types.WalletState)),
	}
}

// State returns a snapshot of the session
func (m *SessionManager) State() types.WalletState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the classified error of the last failed Connect, or nil
func (m *SessionManager) LastError() *types.WidgetError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Account returns the connected address
func (m *SessionManager) Account() (common.Address, error) {
	addr, ok := m.State().Account()
	if !ok {
		return common.Address{}, ErrNotConnected
	}
	return addr, nil
}

// Provider returns the provider of the active session, or nil
func (m *SessionManager) Provider() Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.state.IsConnected {
		return nil
	}
	return m.provider
}

// OnChange registers fn to receive every state transition. The returned
// function removes the listener. fn runs on the goroutine that made the
// change and must not call Connect, Disconnect or Close itself.
func (m *SessionManager) OnChange(fn func(types.WalletState)) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Connect locates the provider, requests account access and reads the chain.
// It never returns an error: failures are recorded in the returned state and
// in LastError. If Connect calls overlap, the last one to settle wins.
func (m *SessionManager) Connect(ctx context.Context) types.WalletState {
	m.update(func(s *types.WalletState) {
		s.IsConnecting = true
		s.Error = ""
	})

	provider, err := m.detect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return m.fail(types.WrapWidgetError(types.ErrWalletNotConnected, MsgConnectFailed, err))
		}
		return m.fail(types.NewWidgetError(types.ErrWalletNotConnected, MsgNoWallet))
	}

	accounts, err := requestAs[[]string](ctx, provider, "eth_requestAccounts")
	if err != nil {
		return m.fail(classifyConnectError(err))
	}
	if len(accounts) == 0 || !common.IsHexAddress(accounts[0]) {
		return m.fail(types.NewWidgetError(types.ErrWalletNotConnected, MsgNoAccounts))
	}

	chainHex, err := requestAs[string](ctx, provider, "eth_chainId")
	if err != nil {
		return m.fail(classifyConnectError(err))
	}
	chainID, err := types.ParseChainID(chainHex)
	if err != nil {
		return m.fail(types.WrapWidgetError(types.ErrWalletNotConnected, MsgConnectFailed, err))
	}

	address := common.HexToAddress(accounts[0]).Hex()
	watch, err := newEventWatcher(m, provider)
	if err != nil {
		logging.Warn("wallet events unavailable", logging.Err(err))
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		watch.stop()
		return m.State()
	}
	previous := m.watch
	m.watch = watch
	m.provider = provider
	m.lastErr = nil
	m.state = types.WalletState{
		Address:     address,
		ChainID:     chainID,
		IsConnected: true,
	}
	state, listeners := m.state, m.snapshotListeners()
	m.mu.Unlock()

	previous.stop()
	m.opts.Metrics.ObserveWalletConnect("")
	logging.Info("wallet connected", logging.Address(address), logging.ChainID(chainID))
	notify(listeners, state)
	return state
}

// detect waits for the locator to produce a provider, polling at a fixed
// interval and listening for the ready signal, until the detection timeout.
func (m *SessionManager) detect(ctx context.Context) (Provider, error) {
	if p := m.locator.Provider(); p != nil {
		return p, nil
	}
	logging.Debug("wallet provider not available yet, waiting", "timeout", m.opts.DetectTimeout)

	deadline := time.NewTimer(m.opts.DetectTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(m.opts.PollInterval)
	defer poll.Stop()
	ready := m.locator.Ready()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("no provider after %s", m.opts.DetectTimeout)
		case <-ready:
			ready = nil
		case <-poll.C:
		}
		if p := m.locator.Provider(); p != nil {
			return p, nil
		}
	}
}

// fail resets the session to disconnected with the error recorded
func (m *SessionManager) fail(werr *types.WidgetError) types.WalletState {
	m.mu.Lock()
	previous := m.watch
	m.watch = nil
	m.provider = nil
	m.lastErr = werr
	m.state = types.WalletState{Error: werr.Message}
	state, listeners := m.state, m.snapshotListeners()
	m.mu.Unlock()

	previous.stop()
	m.opts.Metrics.ObserveWalletConnect(string(werr.Code))
	logging.Warn("wallet connection failed", "code", werr.Code, logging.Err(werr))
	notify(listeners, state)
	return state
}

func classifyConnectError(err error) *types.WidgetError {
	if IsUserRejection(err) {
		return types.WrapWidgetError(types.ErrTransactionRejected, MsgConnectRejected, err)
	}
	msg := MsgConnectFailed
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Message != "" {
		msg = rpcErr.Message
	}
	return types.WrapWidgetError(types.ErrWalletNotConnected, msg, err)
}

// Disconnect resets the session locally and releases event subscriptions.
// The wallet itself is not contacted; it cannot be made to revoke access.
func (m *SessionManager) Disconnect() {
	m.reset()
	logging.Info("wallet disconnected")
}

func (m *SessionManager) reset() {
	m.mu.Lock()
	previous := m.watch
	m.watch = nil
	m.provider = nil
	m.lastErr = nil
	m.state = types.WalletState{}
	state, listeners := m.state, m.snapshotListeners()
	m.mu.Unlock()

	previous.stop()
	notify(listeners, state)
}

// SwitchToNetwork asks the wallet to change chain, registering the chain
// first when the wallet does not know it. The chain id is re-read only after
// the switch succeeded.
func (m *SessionManager) SwitchToNetwork(ctx context.Context, network types.Network) error {
	info, err := network.Info()
	if err != nil {
		return err
	}
	failed := func(cause error) error {
		logging.Warn("network switch failed", logging.Network(string(network)), logging.Err(cause))
		return types.WrapWidgetError(types.ErrNetwork, fmt.Sprintf("Failed to switch to %s", network), cause)
	}

	provider := m.locator.Provider()
	if provider == nil {
		return failed(errors.New("no wallet provider"))
	}

	chainHex := types.ChainIDHex(info.ChainID)
	switchParams := map[string]string{"chainId": chainHex}

	_, err = provider.Request(ctx, "wallet_switchEthereumChain", switchParams)
	if IsUnrecognizedChain(err) {
		_, err = provider.Request(ctx, "wallet_addEthereumChain", map[string]any{
			"chainId":           chainHex,
			"chainName":         info.Name,
			"rpcUrls":           []string{info.RPCURL},
			"blockExplorerUrls": []string{info.BlockExplorer},
		})
		if err != nil {
			return failed(err)
		}
		_, err = provider.Request(ctx, "wallet_switchEthereumChain", switchParams)
	}
	if err != nil {
		return failed(err)
	}

	current, err := requestAs[string](ctx, provider, "eth_chainId")
	if err != nil {
		return failed(err)
	}
	chainID, err := types.ParseChainID(current)
	if err != nil {
		return failed(err)
	}

	m.update(func(s *types.WalletState) { s.ChainID = chainID })
	logging.Info("network switched", logging.Network(string(network)), logging.ChainID(chainID))
	return nil
}

// Close releases subscriptions and stops accepting new sessions
func (m *SessionManager) Close() {
	m.mu.Lock()
	m.closed = true
	previous := m.watch
	m.watch = nil
	m.mu.Unlock()

	previous.stop()
}

// update applies fn to the state and notifies listeners
func (m *SessionManager) update(fn func(*types.WalletState)) {
	m.mu.Lock()
	fn(&m.state)
	state, listeners := m.state, m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, state)
}

// The caller must hold mu.
func (m *SessionManager) snapshotListeners() []func(types.WalletState) {
	out := make([]func(types.WalletState), 0, len(m.listeners))
	for _, fn := range m.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(types.WalletState), state types.WalletState) {
	for _, fn := range listeners {
		fn(state)
	}
}

// handleAccounts applies an accountsChanged push from w. It reports whether
// the session ended.
func (m *SessionManager) handleAccounts(w *eventWatcher, payload json.RawMessage) bool {
	var accounts []string
	if err := json.Unmarshal(payload, &accounts); err != nil {
		logging.Warn("ignoring malformed accountsChanged event", logging.Err(err))
		return false
	}

	m.mu.Lock()
	if m.watch != w {
		m.mu.Unlock()
		return true
	}
	if len(accounts) == 0 {
		m.watch = nil
		m.provider = nil
		m.lastErr = nil
		m.state = types.WalletState{}
	} else if common.IsHexAddress(accounts[0]) {
		m.state.Address = common.HexToAddress(accounts[0]).Hex()
	}
	state, listeners := m.state, m.snapshotListeners()
	m.mu.Unlock()

	if len(accounts) == 0 {
		logging.Info("wallet reported no accounts, session ended")
	} else {
		logging.Info("wallet account changed", logging.Address(state.Address))
	}
	notify(listeners, state)
	return len(accounts) == 0
}

// handleChain applies a chainChanged push from w
func (m *SessionManager) handleChain(w *eventWatcher, payload json.RawMessage) {
	chainID, err := types.ParseChainID(string(payload))
	if err != nil {
		logging.Warn("ignoring malformed chainChanged event", logging.Err(err))
		return
	}

	m.mu.Lock()
	if m.watch != w {
		m.mu.Unlock()
		return
	}
	m.state.ChainID = chainID
	state, listeners := m.state, m.snapshotListeners()
	m.mu.Unlock()

	logging.Info("wallet chain changed", logging.ChainID(chainID))
	notify(listeners, state)
}

// eventWatcher forwards provider pushes for one connected session
type eventWatcher struct {
	accounts chan json.RawMessage
	chains   chan json.RawMessage
	subs     []ethereum.Subscription
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newEventWatcher(m *SessionManager, p Provider) (*eventWatcher, error) {
	w := &eventWatcher{
		accounts: make(chan json.RawMessage, subscriptionBufSize),
		chains:   make(chan json.RawMessage, subscriptionBufSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	accSub, err := p.Subscribe(EventAccountsChanged, w.accounts)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", EventAccountsChanged, err)
	}
	chainSub, err := p.Subscribe(EventChainChanged, w.chains)
	if err != nil {
		accSub.Unsubscribe()
		return nil, fmt.Errorf("subscribe %s: %w", EventChainChanged, err)
	}
	w.subs = []ethereum.Subscription{accSub, chainSub}

	util.SafeGoWithName("wallet-session-events", func() {
		defer close(w.done)
		defer w.unsubscribe()
		for {
			select {
			case <-w.quit:
				return
			case payload := <-w.accounts:
				if m.handleAccounts(w, payload) {
					return
				}
			case payload := <-w.chains:
				m.handleChain(w, payload)
			case err := <-accSub.Err():
				if err != nil {
					logging.Warn("accountsChanged subscription failed", logging.Err(err))
				}
				return
			case err := <-chainSub.Err():
				if err != nil {
					logging.Warn("chainChanged subscription failed", logging.Err(err))
				}
				return
			}
		}
	})
	return w, nil
}

func (w *eventWatcher) unsubscribe() {
	for _, s := range w.subs {
		s.Unsubscribe()
	}
}

// stop releases the subscriptions and waits for the forwarding goroutine.
// It is safe on a nil watcher and safe to call more than once.
func (w *eventWatcher) stop() {
	if w == nil {
		return
	}
	w.once.Do(func() { close(w.quit) })
	<-w.done
}
