package widget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vaporfund/staking-widget/internal/logging"
	"github.com/vaporfund/staking-widget/internal/staking"
	"github.com/vaporfund/staking-widget/internal/util"
	"github.com/vaporfund/staking-widget/internal/wallet"
	"github.com/vaporfund/staking-widget/pkg/types"
)

// Messages of the instance level failures
const (
	MsgStrategiesFailed = "Failed to load staking strategies"
	MsgTokensFailed     = "Failed to load supported tokens"
	MsgNoStrategy       = "Please select a staking strategy"
)

// Metadata is the backend surface an instance reads from.
// *client.APIClient implements it.
type Metadata interface {
	GetStrategies(ctx context.Context) ([]types.Strategy, error)
	GetTokens(ctx context.Context) ([]types.Token, error)
	UpdateAPIKey(apiKey string)
}

// Deps are the components a Builder wires for one instance
type Deps struct {
	Session      *wallet.SessionManager
	Orchestrator *staking.Orchestrator
	Metadata     Metadata
	Network      types.NetworkInfo
	// Close releases anything the builder opened (RPC clients, caches). Optional.
	Close func()
}

// Instance is one initialized widget: a wallet session, a staking
// orchestrator and the metadata it presents.
type Instance struct {
	deps Deps

	mu         sync.RWMutex
	opts       Options
	strategies []types.Strategy
	selected   string
	token      *types.Token
	balance    decimal.Decimal

	removeListener func()
	refreshes      sync.WaitGroup
	closeOnce      sync.Once
}

func newInstance(opts Options, deps Deps) *Instance {
	inst := &Instance{opts: opts, deps: deps}
	inst.removeListener = deps.Session.OnChange(inst.onWalletChange)
	return inst
}

// Options returns the options the instance runs with
func (i *Instance) Options() Options {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.opts
}

// Container returns the handle the instance is registered under
func (i *Instance) Container() string {
	return i.Options().Container
}

// Session returns the wallet session
func (i *Instance) Session() *wallet.SessionManager {
	return i.deps.Session
}

// Orchestrator returns the staking orchestrator
func (i *Instance) Orchestrator() *staking.Orchestrator {
	return i.deps.Orchestrator
}

// Network returns the network the instance stakes on
func (i *Instance) Network() types.NetworkInfo {
	return i.deps.Network
}

// Connect connects the wallet. The balance of the default token is
// refreshed in the background once the session is established.
func (i *Instance) Connect(ctx context.Context) types.WalletState {
	return i.deps.Session.Connect(ctx)
}

// Disconnect drops the wallet session
func (i *Instance) Disconnect() {
	i.deps.Session.Disconnect()
}

// LoadStrategies fetches the strategy listing and selects the configured
// default strategy, or the first listed one when none is configured.
func (i *Instance) LoadStrategies(ctx context.Context) ([]types.Strategy, error) {
	strategies, err := i.deps.Metadata.GetStrategies(ctx)
	if err != nil {
		logging.Warn("failed to load strategies", "container", i.Container(), logging.Err(err))
		return nil, wrapAs(err, MsgStrategiesFailed)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.strategies = strategies
	switch {
	case i.opts.DefaultStrategy != "":
		i.selected = i.opts.DefaultStrategy
	case len(strategies) > 0:
		i.selected = strategies[0].ID
	default:
		i.selected = ""
	}
	return append([]types.Strategy(nil), strategies...), nil
}

// Strategies returns the last loaded strategy listing
func (i *Instance) Strategies() []types.Strategy {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]types.Strategy(nil), i.strategies...)
}

// SelectedStrategy returns the id of the selected strategy, or ""
func (i *Instance) SelectedStrategy() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.selected
}

// SelectStrategy selects a listed strategy
func (i *Instance) SelectStrategy(id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, s := range i.strategies {
		if s.ID == id {
			i.selected = id
			return nil
		}
	}
	return fmt.Errorf("unknown strategy %q", id)
}

// Tokens returns the backend's token listing
func (i *Instance) Tokens(ctx context.Context) ([]types.Token, error) {
	tokens, err := i.deps.Metadata.GetTokens(ctx)
	if err != nil {
		return nil, wrapAs(err, MsgTokensFailed)
	}
	return tokens, nil
}

// ResolveToken finds a whitelisted token by symbol, case-insensitively. An
// empty symbol resolves the instance's default token.
func (i *Instance) ResolveToken(ctx context.Context, symbol string) (types.Token, error) {
	if symbol == "" {
		symbol = i.Options().DefaultToken
	}
	tokens, err := i.deps.Metadata.GetTokens(ctx)
	if err != nil {
		return types.Token{}, wrapAs(err, MsgTokensFailed)
	}
	for _, t := range tokens {
		if strings.EqualFold(t.Symbol, symbol) && t.IsWhitelisted && common.IsHexAddress(t.Address) {
			return t, nil
		}
	}
	return types.Token{}, types.NewWidgetError(types.ErrUnknown, fmt.Sprintf("Token %s is not supported", symbol))
}

// DefaultToken resolves the default token once and remembers it
func (i *Instance) DefaultToken(ctx context.Context) (types.Token, error) {
	i.mu.RLock()
	cached := i.token
	i.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	token, err := i.ResolveToken(ctx, "")
	if err != nil {
		return types.Token{}, err
	}
	i.mu.Lock()
	i.token = &token
	i.mu.Unlock()
	return token, nil
}

// Balance returns the last refreshed balance of the default token
func (i *Instance) Balance() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.balance
}

// RefreshBalance re-reads the connected account's balance of the default token
func (i *Instance) RefreshBalance(ctx context.Context) (decimal.Decimal, error) {
	token, err := i.DefaultToken(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := i.deps.Orchestrator.AccountBalance(ctx, common.HexToAddress(token.Address))
	if err != nil {
		return decimal.Zero, err
	}
	i.mu.Lock()
	i.balance = balance
	i.mu.Unlock()
	return balance, nil
}

// Stake stakes amount of the default token into the selected strategy
func (i *Instance) Stake(ctx context.Context, amount string) (*types.Transaction, error) {
	strategy := i.SelectedStrategy()
	if strategy == "" {
		return nil, types.NewWidgetError(types.ErrUnknown, MsgNoStrategy)
	}
	token, err := i.DefaultToken(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := i.deps.Orchestrator.Stake(ctx, types.StakeRequest{
		TokenAddress: common.HexToAddress(token.Address),
		Amount:       amount,
		StrategyID:   strategy,
	})
	if err != nil {
		return nil, err
	}
	i.refreshInBackground()
	return tx, nil
}

// UpdateAPIKey re-keys the metadata client
func (i *Instance) UpdateAPIKey(apiKey string) {
	i.mu.Lock()
	if i.opts.APIKey == apiKey {
		i.mu.Unlock()
		return
	}
	i.opts.APIKey = apiKey
	i.token = nil
	i.mu.Unlock()
	i.deps.Metadata.UpdateAPIKey(apiKey)
}

func (i *Instance) onWalletChange(state types.WalletState) {
	if state.IsConnected {
		i.refreshInBackground()
		return
	}
	if !state.IsConnecting {
		i.mu.Lock()
		i.balance = decimal.Zero
		i.mu.Unlock()
	}
}

func (i *Instance) refreshInBackground() {
	util.SafeGoTracked(&i.refreshes, "balance-refresh", func() {
		ctx, cancel := context.WithTimeout(context.Background(), balanceRefreshTimeout)
		defer cancel()
		if _, err := i.RefreshBalance(ctx); err != nil {
			logging.Debug("balance refresh failed", "container", i.Container(), logging.Err(err))
		}
	})
}

// close stops listening to the wallet and waits for background work
func (i *Instance) close() {
	i.closeOnce.Do(func() {
		i.removeListener()
		i.deps.Session.Close()
		i.refreshes.Wait()
		i.deps.Orchestrator.Wait()
		if i.deps.Close != nil {
			i.deps.Close()
		}
	})
}

// wrapAs keeps a classified error's code and replaces its message
func wrapAs(err error, message string) *types.WidgetError {
	var we *types.WidgetError
	if errors.As(err, &we) {
		return types.WrapWidgetError(we.Code, message, err)
	}
	return types.WrapWidgetError(types.ErrUnknown, message, err)
}
