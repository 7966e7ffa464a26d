package wallet

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestProviderSlot_ReadySignal(t *testing.T) {
	slot := NewProviderSlot()
	if slot.Provider() != nil {
		t.Fatal("new slot should be empty")
	}

	ready := slot.Ready()
	select {
	case <-ready:
		t.Fatal("ready fired without a provider")
	default:
	}

	p := newFakeProvider(testAddr, "0x1")
	slot.Set(p)
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("ready did not fire after Set")
	}
	if slot.Provider() != p {
		t.Error("slot returned a different provider")
	}

	slot.Set(nil)
	select {
	case <-slot.Ready():
		t.Error("clearing the slot should re-arm the ready signal")
	default:
	}

	// A second provider fires the new signal.
	slot.Set(p)
	select {
	case <-slot.Ready():
	default:
		t.Error("ready did not fire for the second provider")
	}
}

func TestIsUserRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"code 4001", NewRPCError(CodeUserRejected, "whatever"), true},
		{"wrapped 4001", fmt.Errorf("approve: %w", NewRPCError(CodeUserRejected, "x")), true},
		{"user rejected wording", errors.New("User rejected the transaction"), true},
		{"user denied wording", errors.New("MetaMask: User denied transaction signature"), true},
		{"other code", NewRPCError(CodeInternalError, "boom"), false},
		{"plain error", errors.New("insufficient funds"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserRejection(tt.err); got != tt.want {
				t.Errorf("IsUserRejection(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsUnrecognizedChain(t *testing.T) {
	if !IsUnrecognizedChain(NewRPCError(CodeUnrecognizedChain, "unknown")) {
		t.Error("4902 should be recognized")
	}
	if IsUnrecognizedChain(NewRPCError(CodeUserRejected, "no")) {
		t.Error("4001 is not an unknown chain")
	}
	if IsUnrecognizedChain(nil) {
		t.Error("nil is not an unknown chain")
	}
}

func TestRPCError_Error(t *testing.T) {
	err := NewRPCError(CodeUnauthorized, "not authorized")
	if err.Error() != "provider error 4100: not authorized" {
		t.Errorf("Error() = %q", err.Error())
	}
}
