package staking

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	dto "github.com/prometheus/client_model/go"

	"github.com/vaporfund/staking-widget/internal/chain"
	"github.com/vaporfund/staking-widget/internal/metrics"
	"github.com/vaporfund/staking-widget/internal/wallet"
	"github.com/vaporfund/staking-widget/pkg/types"
)

var (
	usdc      = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	vaultAddr = common.HexToAddress("0x508e7698c9fE9214b2aaF3Da5149849CbCBeE009")
	user      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	fixedNow  = time.Unix(1_700_000_000, 0)
)

func units(amount string) *big.Int {
	v, err := chain.ParseUnits(amount, 6)
	if err != nil {
		panic(err)
	}
	return v
}

type fakeSession struct {
	addr common.Address
	err  error
}

func (s fakeSession) Account() (common.Address, error) {
	return s.addr, s.err
}

type fakeReferrals struct {
	mu      sync.Mutex
	calls   []types.ReferralTrackingRequest
	err     error
	release chan struct{} // when set, TrackReferral blocks until it is closed
}

func (f *fakeReferrals) TrackReferral(ctx context.Context, req types.ReferralTrackingRequest) error {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.err
}

func (f *fakeReferrals) recorded() []types.ReferralTrackingRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ReferralTrackingRequest(nil), f.calls...)
}

type fixture struct {
	tokens    *chain.TokenContract
	vault     *chain.StakingContract
	referrals *fakeReferrals
	metrics   *metrics.Collector
	orch      *Orchestrator

	mu        sync.Mutex
	successes []*types.Transaction
	failures  []*types.WidgetError
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		tokens:    chain.NewMockTokenContract(),
		referrals: &fakeReferrals{},
		metrics:   metrics.NewCollector(),
	}
	f.vault = chain.NewMockStakingContract(f.tokens, vaultAddr)
	f.tokens.SetMockToken(usdc, "USDC", 6)
	f.tokens.SetMockBalance(usdc, user, units("1000"))

	cfg := Config{
		Session:      fakeSession{addr: user},
		Tokens:       f.tokens,
		Staking:      f.vault,
		Referrals:    f.referrals,
		ReferralCode: "FRIEND10",
		Metrics:      f.metrics,
		Now:          func() time.Time { return fixedNow },
		OnSuccess: func(tx *types.Transaction) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.successes = append(f.successes, tx)
		},
		OnError: func(err *types.WidgetError) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.failures = append(f.failures, err)
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	orch, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	f.orch = orch
	t.Cleanup(orch.Wait)
	return f
}

func (f *fixture) stake(amount string) (*types.Transaction, error) {
	return f.orch.Stake(context.Background(), types.StakeRequest{
		TokenAddress: usdc,
		Amount:       amount,
		StrategyID:   "stable-yield",
	})
}

func (f *fixture) handlerCounts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.successes), len(f.failures)
}

// counter reads a counter series by its result label and, when non-empty, its code label.
func (f *fixture) counter(t *testing.T, name, result, code string) float64 {
	t.Helper()
	families, err := f.metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue(m, "result") == result && labelValue(m, "code") == code {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	if _, err := NewOrchestrator(Config{}); err == nil {
		t.Error("expected error without collaborators")
	}
}

func TestNewOrchestrator_DefaultBounds(t *testing.T) {
	f := newFixture(t, nil)
	b := f.orch.Bounds()
	if b.Min.String() != "10" || b.Max.String() != "100000" {
		t.Errorf("default bounds = %s..%s", b.Min, b.Max)
	}
	if f.orch.Spender() != vaultAddr {
		t.Errorf("Spender() = %s", f.orch.Spender().Hex())
	}
}

func TestStake_WithSufficientAllowance(t *testing.T) {
	f := newFixture(t, nil)
	f.tokens.SetMockAllowance(usdc, user, vaultAddr, units("1000"))

	tx, err := f.stake("100")
	if err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if f.tokens.MockCalls("approve") != 0 {
		t.Error("approve must not be called when the allowance covers the amount")
	}

	if !strings.HasPrefix(tx.Hash, "0x") || len(tx.Hash) != 66 {
		t.Errorf("unexpected hash %q", tx.Hash)
	}
	want := types.Transaction{
		Hash:        tx.Hash,
		Amount:      "100",
		Token:       "USDC",
		Strategy:    "stable-yield",
		Timestamp:   fixedNow.Unix(),
		ReferralFee: "0",
	}
	if *tx != want {
		t.Errorf("Transaction = %+v, want %+v", *tx, want)
	}

	deposited, _ := f.vault.Deposits(context.Background(), user, usdc)
	if deposited.Cmp(units("100")) != 0 {
		t.Errorf("vault recorded %s", deposited)
	}
	if s, e := f.handlerCounts(); s != 1 || e != 0 {
		t.Errorf("handlers called success=%d error=%d", s, e)
	}
}

func TestStake_ApprovesBeforeDeposit(t *testing.T) {
	f := newFixture(t, nil)
	f.tokens.SetMockAllowance(usdc, user, vaultAddr, units("50"))

	if !f.orch.NeedsApproval(context.Background(), usdc, "100", user) {
		t.Fatal("allowance 50 < 100 should need approval")
	}

	// The mock vault reverts deposits without allowance, so success proves
	// the approval landed first.
	if _, err := f.stake("100"); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if f.tokens.MockCalls("approve") != 1 || f.tokens.MockCalls("depositToken") != 1 {
		t.Errorf("approve=%d deposit=%d", f.tokens.MockCalls("approve"), f.tokens.MockCalls("depositToken"))
	}

	remaining, _ := f.tokens.Allowance(context.Background(), usdc, user, vaultAddr)
	if remaining.Sign() != 0 {
		t.Errorf("approval should be exactly the stake amount, %s left", remaining)
	}
}

func TestStake_ValidationFailuresTouchNothing(t *testing.T) {
	tests := []struct {
		amount string
		code   types.ErrorCode
	}{
		{"5", types.ErrAmountTooLow},
		{"abc", types.ErrAmountTooLow},
		{"10.1234567", types.ErrAmountTooLow},
		{"200000", types.ErrAmountTooHigh},
		{"5000", types.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			f := newFixture(t, nil)

			tx, err := f.stake(tt.amount)
			if tx != nil {
				t.Error("failed stake returned a transaction")
			}
			if types.CodeOf(err) != tt.code {
				t.Errorf("code = %s, want %s", types.CodeOf(err), tt.code)
			}
			if f.tokens.MockCalls("allowance")+f.tokens.MockCalls("approve")+f.tokens.MockCalls("depositToken") != 0 {
				t.Error("validation failure must not reach approval or deposit")
			}
			if _, e := f.handlerCounts(); e != 1 {
				t.Errorf("error handler called %d times", e)
			}
		})
	}
}

func TestStake_FailuresReportExactlyOnce(t *testing.T) {
	rejected := wallet.NewRPCError(wallet.CodeUserRejected, "User denied transaction signature")
	tests := []struct {
		name    string
		session fakeSession
		setup   func(f *fixture)
		code    types.ErrorCode
		deposit int
	}{
		{
			name:    "no wallet",
			session: fakeSession{err: wallet.ErrNotConnected},
			code:    types.ErrWalletNotConnected,
		},
		{
			name:  "balance read fails",
			setup: func(f *fixture) { f.tokens.SetMockError("balanceOf", errors.New("rpc unavailable")) },
			code:  types.ErrContract,
		},
		{
			name:  "approval rejected",
			setup: func(f *fixture) { f.tokens.SetMockError("approve", rejected) },
			code:  types.ErrTransactionRejected,
		},
		{
			name:  "approval reverted",
			setup: func(f *fixture) { f.tokens.SetMockRevert("approve", true) },
			code:  types.ErrContract,
		},
		{
			name: "deposit rejected",
			setup: func(f *fixture) {
				f.tokens.SetMockAllowance(usdc, user, vaultAddr, units("1000"))
				f.tokens.SetMockError("depositToken", rejected)
			},
			code:    types.ErrTransactionRejected,
			deposit: 1,
		},
		{
			name: "deposit reverted",
			setup: func(f *fixture) {
				f.tokens.SetMockAllowance(usdc, user, vaultAddr, units("1000"))
				f.tokens.SetMockRevert("depositToken", true)
			},
			code:    types.ErrContract,
			deposit: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(c *Config) {
				if tt.session != (fakeSession{}) {
					c.Session = tt.session
				}
			})
			if tt.setup != nil {
				tt.setup(f)
			}

			tx, err := f.stake("100")
			if tx != nil {
				t.Fatal("failed stake returned a transaction")
			}
			we, ok := types.AsWidgetError(err)
			if !ok {
				t.Fatalf("expected WidgetError, got %T %v", err, err)
			}
			if we.Code != tt.code {
				t.Errorf("code = %s, want %s", we.Code, tt.code)
			}
			if got := f.tokens.MockCalls("depositToken"); got != tt.deposit {
				t.Errorf("deposit attempted %d times, want %d", got, tt.deposit)
			}
			if s, e := f.handlerCounts(); s != 0 || e != 1 {
				t.Errorf("handlers called success=%d error=%d", s, e)
			}
			if f.failures[0] != we {
				t.Error("error handler must receive the returned error")
			}
			if len(f.referrals.recorded()) != 0 {
				t.Error("failed stake must not be reported as a referral")
			}
		})
	}
}

func TestStake_ReferralFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, nil)
	f.referrals.err = types.NewWidgetError(types.ErrNetwork, "")

	tx, err := f.stake("100")
	if err != nil {
		t.Fatalf("Stake: %v", err)
	}
	f.orch.Wait()

	calls := f.referrals.recorded()
	if len(calls) != 1 {
		t.Fatalf("expected one referral report, got %d", len(calls))
	}
	want := types.ReferralTrackingRequest{ReferralCode: "FRIEND10", TxHash: tx.Hash, Amount: "100", Fee: "0"}
	if calls[0] != want {
		t.Errorf("reported %+v, want %+v", calls[0], want)
	}
	if _, e := f.handlerCounts(); e != 0 {
		t.Error("referral failure reached the error handler")
	}
	if got := f.counter(t, "vaporwidget_referral_reports_total", "failure", ""); got != 1 {
		t.Errorf("referral failure counter = %v", got)
	}
}

func TestStake_ReferralDoesNotBlock(t *testing.T) {
	f := newFixture(t, nil)
	f.referrals.release = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := f.stake("100"); err != nil {
			t.Errorf("Stake: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stake waited for the referral report")
	}

	close(f.referrals.release)
	f.orch.Wait()
	if len(f.referrals.recorded()) != 1 {
		t.Error("referral report was not sent")
	}
}

func TestStake_ReferralOutlivesCallerContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := f.orch.Stake(ctx, types.StakeRequest{TokenAddress: usdc, Amount: "100"}); err != nil {
		t.Fatal(err)
	}
	cancel()
	f.orch.Wait()

	if len(f.referrals.recorded()) != 1 {
		t.Error("cancelling the caller context dropped the referral report")
	}
}

func TestStake_NoReferralCode(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ReferralCode = "" })
	if _, err := f.stake("100"); err != nil {
		t.Fatal(err)
	}
	f.orch.Wait()
	if len(f.referrals.recorded()) != 0 {
		t.Error("no referral code, but a report was sent")
	}
}

func TestStake_SymbolFailureAfterDeposit(t *testing.T) {
	f := newFixture(t, nil)
	f.tokens.SetMockError("symbol", errors.New("symbol() reverted"))

	tx, err := f.stake("100")
	if err != nil {
		t.Fatalf("a confirmed deposit must not fail: %v", err)
	}
	if tx.Token != usdc.Hex() {
		t.Errorf("Token = %q, want the address fallback", tx.Token)
	}
}

func TestStake_Metrics(t *testing.T) {
	f := newFixture(t, nil)
	f.stake("100")
	f.stake("5")

	if got := f.counter(t, "vaporwidget_stakes_total", "success", ""); got != 1 {
		t.Errorf("success counter = %v", got)
	}
	if got := f.counter(t, "vaporwidget_stakes_total", "failure", string(types.ErrAmountTooLow)); got != 1 {
		t.Errorf("AMOUNT_TOO_LOW counter = %v", got)
	}
}

func TestNeedsApproval(t *testing.T) {
	tests := []struct {
		name      string
		allowance string
		amount    string
		readErr   error
		want      bool
	}{
		{"allowance short", "50", "100", nil, true},
		{"allowance exact", "100", "100", nil, false},
		{"allowance ample", "1000", "100", nil, false},
		{"read fails", "1000", "100", errors.New("rpc down"), true},
		{"unparseable amount", "1000", "lots", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.tokens.SetMockAllowance(usdc, user, vaultAddr, units(tt.allowance))
			if tt.readErr != nil {
				f.tokens.SetMockError("allowance", tt.readErr)
			}
			if got := f.orch.NeedsApproval(context.Background(), usdc, tt.amount, user); got != tt.want {
				t.Errorf("NeedsApproval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNeedsApproval_DecimalsFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.tokens.SetMockAllowance(usdc, user, vaultAddr, units("1000"))
	f.tokens.SetMockError("decimals", errors.New("no code at address"))

	if !f.orch.NeedsApproval(context.Background(), usdc, "100", user) {
		t.Error("expected fail-safe true")
	}
}

func TestGetBalance(t *testing.T) {
	f := newFixture(t, nil)
	f.tokens.SetMockBalance(usdc, user, units("1234.5"))

	balance, err := f.orch.GetBalance(context.Background(), usdc, user)
	if err != nil {
		t.Fatal(err)
	}
	if balance.String() != "1234.5" {
		t.Errorf("balance = %s", balance)
	}

	f.tokens.SetMockError("balanceOf", errors.New("execution reverted"))
	_, err = f.orch.GetBalance(context.Background(), usdc, user)
	if types.CodeOf(err) != types.ErrContract {
		t.Errorf("expected CONTRACT_ERROR, got %v", err)
	}
	if _, e := f.handlerCounts(); e != 1 {
		t.Errorf("error handler called %d times", e)
	}
}

func TestAccountBalance_NoSession(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Session = fakeSession{err: wallet.ErrNotConnected} })

	_, err := f.orch.AccountBalance(context.Background(), usdc)
	if types.CodeOf(err) != types.ErrContract {
		t.Errorf("expected CONTRACT_ERROR, got %v", err)
	}
	if !errors.Is(err, wallet.ErrNotConnected) {
		t.Error("the session fault should be wrapped")
	}
}

func TestApprove(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t, nil)
		if err := f.orch.Approve(context.Background(), usdc, "250"); err != nil {
			t.Fatal(err)
		}
		allowance, _ := f.tokens.Allowance(context.Background(), usdc, user, vaultAddr)
		if allowance.Cmp(units("250")) != 0 {
			t.Errorf("allowance = %s", allowance)
		}
		if f.orch.IsApproving() {
			t.Error("IsApproving should be false after Approve returns")
		}
	})

	t.Run("rejected", func(t *testing.T) {
		f := newFixture(t, nil)
		f.tokens.SetMockError("approve", errors.New("MetaMask: User rejected the request"))
		err := f.orch.Approve(context.Background(), usdc, "250")
		if types.CodeOf(err) != types.ErrTransactionRejected {
			t.Errorf("expected TRANSACTION_REJECTED, got %v", err)
		}
		if _, e := f.handlerCounts(); e != 1 {
			t.Errorf("error handler called %d times", e)
		}
	})

	t.Run("no wallet", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.Session = fakeSession{err: wallet.ErrNotConnected} })
		if err := f.orch.Approve(context.Background(), usdc, "250"); types.CodeOf(err) != types.ErrWalletNotConnected {
			t.Errorf("expected WALLET_NOT_CONNECTED, got %v", err)
		}
	})
}
