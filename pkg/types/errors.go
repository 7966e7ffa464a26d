package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a WidgetError.
type ErrorCode string

const (
	ErrWalletNotConnected  ErrorCode = "WALLET_NOT_CONNECTED"
	ErrInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	ErrAmountTooLow        ErrorCode = "AMOUNT_TOO_LOW"
	ErrAmountTooHigh       ErrorCode = "AMOUNT_TOO_HIGH"
	ErrTransactionRejected ErrorCode = "TRANSACTION_REJECTED"
	ErrNetwork             ErrorCode = "NETWORK_ERROR"
	ErrInvalidAPIKey       ErrorCode = "INVALID_API_KEY"
	ErrInvalidNetwork      ErrorCode = "INVALID_NETWORK"
	ErrContract            ErrorCode = "CONTRACT_ERROR"
	ErrUnknown             ErrorCode = "UNKNOWN_ERROR"
)

// defaultMessages are shown when no more specific message is available.
var defaultMessages = map[ErrorCode]string{
	ErrWalletNotConnected:  "Please connect your wallet to continue",
	ErrInsufficientBalance: "Insufficient token balance",
	ErrAmountTooLow:        "Please enter a valid amount",
	ErrAmountTooHigh:       "Amount exceeds the maximum stake",
	ErrTransactionRejected: "Transaction was rejected by user",
	ErrNetwork:             "Network error. Please try again",
	ErrInvalidAPIKey:       "Invalid API key. Please check your configuration",
	ErrInvalidNetwork:      "Please switch to the correct network",
	ErrContract:            "Smart contract error. Please try again",
	ErrUnknown:             "An unexpected error occurred",
}

// IsValid reports whether c is one of the known codes.
func (c ErrorCode) IsValid() bool {
	_, ok := defaultMessages[c]
	return ok
}

// DefaultMessage returns the generic human message for the code.
func (c ErrorCode) DefaultMessage() string {
	if msg, ok := defaultMessages[c]; ok {
		return msg
	}
	return defaultMessages[ErrUnknown]
}

// WidgetError is the structured error surfaced to widget callers.
// It is constructed once at the point of failure and never mutated.
type WidgetError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

// NewWidgetError creates a WidgetError; an empty message uses the code default.
func NewWidgetError(code ErrorCode, message string) *WidgetError {
	if message == "" {
		message = code.DefaultMessage()
	}
	return &WidgetError{Code: code, Message: message}
}

// WrapWidgetError creates a WidgetError carrying cause as its details.
func WrapWidgetError(code ErrorCode, message string, cause error) *WidgetError {
	we := NewWidgetError(code, message)
	if cause != nil {
		we.Details = cause
	}
	return we
}

func (e *WidgetError) Error() string {
	if cause, ok := e.Details.(error); ok {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying fault when the details hold one.
func (e *WidgetError) Unwrap() error {
	if cause, ok := e.Details.(error); ok {
		return cause
	}
	return nil
}

// Is matches another WidgetError by code, so errors.Is(err, &WidgetError{Code: c}) works.
func (e *WidgetError) Is(target error) bool {
	t, ok := target.(*WidgetError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// AsWidgetError extracts a WidgetError from an error chain.
func AsWidgetError(err error) (*WidgetError, bool) {
	var we *WidgetError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// CodeOf returns the code of err, ErrUnknown for foreign errors and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if we, ok := AsWidgetError(err); ok {
		return we.Code
	}
	return ErrUnknown
}
