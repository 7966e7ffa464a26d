// Package staking runs the approve-then-deposit workflow against the
// staking contract on behalf of the connected wallet.
package staking

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/vaporfund/staking-widget/internal/chain"
	"github.com/vaporfund/staking-widget/internal/logging"
	"github.com/vaporfund/staking-widget/internal/metrics"
	"github.com/vaporfund/staking-widget/internal/util"
	"github.com/vaporfund/staking-widget/internal/wallet"
	"github.com/vaporfund/staking-widget/pkg/types"
)

// Failure messages of the workflow steps
const (
	MsgWalletNotConnected = "Wallet not connected"
	MsgBalanceFailed      = "Failed to fetch balance"
	MsgApproveFailed      = "Failed to approve token"
	MsgApproveRejected    = "Token approval was rejected by user"
	MsgStakeFailed        = "Failed to stake tokens"
	MsgStakeRejected      = "Transaction was rejected by user"
)

const defaultReferralTimeout = 10 * time.Second

// AccountSource yields the connected wallet account.
// *wallet.SessionManager implements it.
type AccountSource interface {
	Account() (common.Address, error)
}

// TokenContract is the ERC-20 surface the workflow needs.
// *chain.TokenContract implements it.
type TokenContract interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	Symbol(ctx context.Context, token common.Address) (string, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	ApproveAndWait(ctx context.Context, token, owner, spender common.Address, amount *big.Int) (*gethtypes.Receipt, error)
}

// StakingContract is the deposit surface the workflow needs.
// *chain.StakingContract implements it.
type StakingContract interface {
	Address() common.Address
	DepositAndWait(ctx context.Context, from, token common.Address, amount *big.Int) (*gethtypes.Receipt, error)
}

// ReferralTracker reports confirmed stakes to the backend.
// *client.APIClient implements it.
type ReferralTracker interface {
	TrackReferral(ctx context.Context, req types.ReferralTrackingRequest) error
}

// Config wires an Orchestrator
type Config struct {
	Session         AccountSource
	Tokens          TokenContract
	Staking         StakingContract
	Referrals       ReferralTracker // Optional
	ReferralCode    string          // Reports are sent only when set
	ReferralTimeout time.Duration   // Per report, default 10s
	Bounds          Bounds
	OnSuccess       func(*types.Transaction)
	OnError         func(*types.WidgetError)
	Metrics         *metrics.Collector
	Now             func() time.Time
}

// Orchestrator executes stake requests. Each public call that fails invokes
// OnError exactly once with the error it returns; each successful Stake
// invokes OnSuccess once.
//
// The wallet account is read once at the start of a call and used for every
// step. If the wallet switches account or chain while a call is in flight,
// the call still completes against the account it started with.
type Orchestrator struct {
	cfg Config

	staking   atomic.Bool
	approving atomic.Bool
	reports   sync.WaitGroup
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Session == nil || cfg.Tokens == nil || cfg.Staking == nil {
		return nil, errors.New("session, token contract and staking contract are required")
	}
	if cfg.Bounds.Min.IsZero() && cfg.Bounds.Max.IsZero() {
		cfg.Bounds = DefaultBounds()
	}
	if cfg.ReferralTimeout <= 0 {
		cfg.ReferralTimeout = defaultReferralTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg}, nil
}

// IsStaking reports whether a Stake call is in flight
func (o *Orchestrator) IsStaking() bool {
	return o.staking.Load()
}

// IsApproving reports whether an approval is waiting for confirmation
func (o *Orchestrator) IsApproving() bool {
	return o.approving.Load()
}

// Bounds returns the configured stake limits
func (o *Orchestrator) Bounds() Bounds {
	return o.cfg.Bounds
}

// Spender returns the staking contract address approvals are granted to
func (o *Orchestrator) Spender() common.Address {
	return o.cfg.Staking.Address()
}

// report hands err to the error handler and returns it
func (o *Orchestrator) report(err *types.WidgetError) *types.WidgetError {
	if o.cfg.OnError != nil {
		o.cfg.OnError(err)
	}
	return err
}

// GetBalance reads owner's balance of token in whole token units
func (o *Orchestrator) GetBalance(ctx context.Context, token, owner common.Address) (decimal.Decimal, error) {
	balance, _, werr := o.balance(ctx, token, owner)
	if werr != nil {
		return decimal.Zero, o.report(werr)
	}
	return balance, nil
}

// AccountBalance reads the connected account's balance of token
func (o *Orchestrator) AccountBalance(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	owner, err := o.cfg.Session.Account()
	if err != nil {
		return decimal.Zero, o.report(types.WrapWidgetError(types.ErrContract, MsgWalletNotConnected, err))
	}
	return o.GetBalance(ctx, token, owner)
}

func (o *Orchestrator) balance(ctx context.Context, token, owner common.Address) (decimal.Decimal, uint8, *types.WidgetError) {
	decimals, err := o.cfg.Tokens.Decimals(ctx, token)
	if err != nil {
		return decimal.Zero, 0, types.WrapWidgetError(types.ErrContract, MsgBalanceFailed, err)
	}
	raw, err := o.cfg.Tokens.BalanceOf(ctx, token, owner)
	if err != nil {
		return decimal.Zero, 0, types.WrapWidgetError(types.ErrContract, MsgBalanceFailed, err)
	}
	return chain.FormatUnits(raw, decimals), decimals, nil
}

// NeedsApproval reports whether the staking contract's allowance over
// owner's token is below amount. Any failure to find out counts as true:
// approving again is harmless, depositing without allowance is not.
func (o *Orchestrator) NeedsApproval(ctx context.Context, token common.Address, amount string, owner common.Address) bool {
	decimals, err := o.cfg.Tokens.Decimals(ctx, token)
	if err != nil {
		logging.Debug("allowance check failed, assuming approval is needed", logging.Err(err))
		return true
	}
	return o.needsApproval(ctx, token, amount, decimals, owner)
}

func (o *Orchestrator) needsApproval(ctx context.Context, token common.Address, amount string, decimals uint8, owner common.Address) bool {
	want, err := chain.ParseUnits(amount, decimals)
	if err != nil {
		return true
	}
	allowance, err := o.cfg.Tokens.Allowance(ctx, token, owner, o.cfg.Staking.Address())
	if err != nil {
		logging.Debug("allowance check failed, assuming approval is needed", logging.Err(err))
		return true
	}
	return allowance.Cmp(want) < 0
}

// Approve grants the staking contract an allowance of amount over the
// connected account's token and waits for the approval to confirm.
func (o *Orchestrator) Approve(ctx context.Context, token common.Address, amount string) error {
	owner, err := o.cfg.Session.Account()
	if err != nil {
		return o.report(types.WrapWidgetError(types.ErrWalletNotConnected, MsgWalletNotConnected, err))
	}
	decimals, err := o.cfg.Tokens.Decimals(ctx, token)
	if err != nil {
		return o.report(types.WrapWidgetError(types.ErrContract, MsgApproveFailed, err))
	}
	if werr := o.approve(ctx, token, owner, amount, decimals); werr != nil {
		return o.report(werr)
	}
	return nil
}

func (o *Orchestrator) approve(ctx context.Context, token, owner common.Address, amount string, decimals uint8) *types.WidgetError {
	value, err := chain.ParseUnits(amount, decimals)
	if err != nil {
		return types.WrapWidgetError(types.ErrAmountTooLow, MsgInvalidAmount, err)
	}

	o.approving.Store(true)
	defer o.approving.Store(false)

	receipt, err := o.cfg.Tokens.ApproveAndWait(ctx, token, owner, o.cfg.Staking.Address(), value)
	if err != nil {
		o.cfg.Metrics.ObserveApproval(false)
		logging.Audit(logging.AuditEvent{
			Operation: "token_approved",
			Actor:     owner.Hex(),
			Target:    token.Hex(),
			Result:    "failure",
			Details:   err.Error(),
		})
		if wallet.IsUserRejection(err) {
			return types.WrapWidgetError(types.ErrTransactionRejected, MsgApproveRejected, err)
		}
		return types.WrapWidgetError(types.ErrContract, MsgApproveFailed, err)
	}

	o.cfg.Metrics.ObserveApproval(true)
	logging.Audit(logging.AuditEvent{
		Operation: "token_approved",
		Actor:     owner.Hex(),
		Target:    token.Hex(),
		Result:    "success",
		Details:   fmt.Sprintf("amount=%s tx=%s", amount, receipt.TxHash.Hex()),
	})
	return nil
}

// Stake validates the request, approves the staking contract when its
// allowance is short, deposits and waits for the deposit to confirm.
//
// It returns either a Transaction or a *types.WidgetError, never both.
// Nothing is retried: a failed call can simply be made again.
func (o *Orchestrator) Stake(ctx context.Context, req types.StakeRequest) (*types.Transaction, error) {
	o.staking.Store(true)
	defer o.staking.Store(false)

	tx, werr := o.stake(ctx, req)
	if werr != nil {
		o.cfg.Metrics.ObserveStake(string(werr.Code))
		logging.Warn("stake failed",
			"code", werr.Code,
			"token", req.TokenAddress.Hex(),
			"amount", req.Amount,
			logging.Err(werr))
		return nil, o.report(werr)
	}

	o.cfg.Metrics.ObserveStake("")
	if o.cfg.OnSuccess != nil {
		o.cfg.OnSuccess(tx)
	}
	return tx, nil
}

func (o *Orchestrator) stake(ctx context.Context, req types.StakeRequest) (*types.Transaction, *types.WidgetError) {
	owner, err := o.cfg.Session.Account()
	if err != nil {
		return nil, types.WrapWidgetError(types.ErrWalletNotConnected, MsgWalletNotConnected, err)
	}

	// The balance is re-read here even if the caller displayed one, and
	// this reading is the one validated against.
	balance, decimals, werr := o.balance(ctx, req.TokenAddress, owner)
	if werr != nil {
		return nil, werr
	}
	if werr := ValidateStakeAmount(req.Amount, balance, o.cfg.Bounds); werr != nil {
		return nil, werr
	}
	value, err := chain.ParseUnits(req.Amount, decimals)
	if err != nil {
		return nil, types.WrapWidgetError(types.ErrAmountTooLow, MsgInvalidAmount, err)
	}

	if o.needsApproval(ctx, req.TokenAddress, req.Amount, decimals, owner) {
		logging.Info("requesting token approval",
			logging.Address(owner.Hex()),
			"token", req.TokenAddress.Hex(),
			"amount", req.Amount)
		if werr := o.approve(ctx, req.TokenAddress, owner, req.Amount, decimals); werr != nil {
			return nil, werr
		}
	}

	receipt, err := o.cfg.Staking.DepositAndWait(ctx, owner, req.TokenAddress, value)
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Operation: "stake_deposited",
			Actor:     owner.Hex(),
			Target:    req.TokenAddress.Hex(),
			Result:    "failure",
			Details:   err.Error(),
		})
		if wallet.IsUserRejection(err) {
			return nil, types.WrapWidgetError(types.ErrTransactionRejected, MsgStakeRejected, err)
		}
		return nil, types.WrapWidgetError(types.ErrContract, MsgStakeFailed, err)
	}

	symbol, err := o.cfg.Tokens.Symbol(ctx, req.TokenAddress)
	if err != nil {
		// The deposit is final at this point; a missing symbol must not turn it into a failure.
		logging.Warn("token symbol unavailable", "token", req.TokenAddress.Hex(), logging.Err(err))
		symbol = req.TokenAddress.Hex()
	}

	tx := &types.Transaction{
		Hash:        receipt.TxHash.Hex(),
		Amount:      req.Amount,
		Token:       symbol,
		Strategy:    req.StrategyID,
		Timestamp:   o.cfg.Now().Unix(),
		ReferralFee: "0",
	}
	logging.Audit(logging.AuditEvent{
		Operation: "stake_deposited",
		Actor:     owner.Hex(),
		Target:    req.TokenAddress.Hex(),
		Result:    "success",
		Details:   fmt.Sprintf("amount=%s strategy=%s tx=%s", req.Amount, req.StrategyID, tx.Hash),
	})

	o.trackReferral(ctx, tx)
	return tx, nil
}

// trackReferral reports tx in the background. Failures are logged and
// dropped; they never affect the stake result.
func (o *Orchestrator) trackReferral(ctx context.Context, tx *types.Transaction) {
	if o.cfg.ReferralCode == "" || o.cfg.Referrals == nil {
		return
	}
	req := types.ReferralTrackingRequest{
		ReferralCode: o.cfg.ReferralCode,
		TxHash:       tx.Hash,
		Amount:       tx.Amount,
		Fee:          tx.ReferralFee,
	}
	reportCtx := context.WithoutCancel(ctx)

	util.SafeGoTracked(&o.reports, "referral-report", func() {
		ctx, cancel := context.WithTimeout(reportCtx, o.cfg.ReferralTimeout)
		defer cancel()

		if err := o.cfg.Referrals.TrackReferral(ctx, req); err != nil {
			o.cfg.Metrics.ObserveReferralReport(false)
			logging.Warn("failed to track referral",
				"referral_code", req.ReferralCode,
				logging.TxHash(req.TxHash),
				logging.Err(err))
			return
		}
		o.cfg.Metrics.ObserveReferralReport(true)
		logging.Info("referral tracked",
			"referral_code", req.ReferralCode,
			logging.TxHash(req.TxHash))
	})
}

// Wait blocks until every pending referral report has finished
func (o *Orchestrator) Wait() {
	o.reports.Wait()
}
