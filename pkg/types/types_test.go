package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestWidgetError_DefaultMessage(t *testing.T) {
	err := NewWidgetError(ErrInvalidAPIKey, "")
	if err.Message != "Invalid API key. Please check your configuration" {
		t.Errorf("unexpected message: %q", err.Message)
	}
	if err.Error() != "INVALID_API_KEY: Invalid API key. Please check your configuration" {
		t.Errorf("unexpected Error(): %q", err.Error())
	}
}

func TestWidgetError_WrapAndUnwrap(t *testing.T) {
	cause := errors.New("execution reverted")
	err := WrapWidgetError(ErrContract, "Failed to stake tokens", cause)

	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
	if !errors.Is(err, &WidgetError{Code: ErrContract}) {
		t.Error("expected code match via errors.Is")
	}
	if errors.Is(err, &WidgetError{Code: ErrNetwork}) {
		t.Error("different code should not match")
	}
}

func TestAsWidgetError_ThroughWrapping(t *testing.T) {
	inner := NewWidgetError(ErrAmountTooLow, "Minimum stake amount is $10")
	wrapped := fmt.Errorf("submit: %w", inner)

	we, ok := AsWidgetError(wrapped)
	if !ok {
		t.Fatal("expected to extract WidgetError")
	}
	if we.Code != ErrAmountTooLow {
		t.Errorf("got code %s", we.Code)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"foreign", errors.New("boom"), ErrUnknown},
		{"widget", NewWidgetError(ErrNetwork, ""), ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorCode_IsValid(t *testing.T) {
	if !ErrContract.IsValid() {
		t.Error("CONTRACT_ERROR should be valid")
	}
	if ErrorCode("INIT_ERROR").IsValid() {
		t.Error("INIT_ERROR is not part of the taxonomy")
	}
}

func TestNetworkInfo(t *testing.T) {
	info, err := NetworkSepolia.Info()
	if err != nil {
		t.Fatalf("Info() error: %v", err)
	}
	if info.ChainID != 11155111 {
		t.Errorf("sepolia chain id = %d", info.ChainID)
	}

	_, err = Network("goerli").Info()
	if CodeOf(err) != ErrInvalidNetwork {
		t.Errorf("expected INVALID_NETWORK, got %v", err)
	}
}

func TestNetworkByChainID(t *testing.T) {
	n, ok := NetworkByChainID(1)
	if !ok || n != NetworkMainnet {
		t.Errorf("chain 1 resolved to %q, %v", n, ok)
	}
	if _, ok := NetworkByChainID(5); ok {
		t.Error("chain 5 should not resolve")
	}
}

func TestChainIDHexRoundTrip(t *testing.T) {
	for _, id := range []uint64{1, 11155111, 8453} {
		got, err := ParseChainID(ChainIDHex(id))
		if err != nil {
			t.Fatalf("ParseChainID(%s): %v", ChainIDHex(id), err)
		}
		if got != id {
			t.Errorf("round trip %d -> %d", id, got)
		}
	}
	if ChainIDHex(11155111) != "0xaa36a7" {
		t.Errorf("unexpected hex %s", ChainIDHex(11155111))
	}
}

func TestParseChainID_QuotedAndDecimal(t *testing.T) {
	got, err := ParseChainID(`"0x1"`)
	if err != nil || got != 1 {
		t.Errorf(`ParseChainID("0x1") = %d, %v`, got, err)
	}
	got, err = ParseChainID("137")
	if err != nil || got != 137 {
		t.Errorf("ParseChainID(137) = %d, %v", got, err)
	}
	if _, err := ParseChainID("0xzz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestWalletState_Account(t *testing.T) {
	var s WalletState
	if _, ok := s.Account(); ok {
		t.Error("zero state should have no account")
	}

	s = WalletState{Address: "0x1111111111111111111111111111111111111111", IsConnected: true}
	addr, ok := s.Account()
	if !ok {
		t.Fatal("expected account")
	}
	if addr.Hex() != "0x1111111111111111111111111111111111111111" {
		t.Errorf("unexpected address %s", addr.Hex())
	}

	s.IsConnected = false
	if _, ok := s.Account(); ok {
		t.Error("disconnected state should have no account")
	}
}

func TestTxURL(t *testing.T) {
	info := SupportedNetworks[NetworkMainnet]
	if got := info.TxURL("0xabc"); got != "https://etherscan.io/tx/0xabc" {
		t.Errorf("TxURL = %s", got)
	}
}
