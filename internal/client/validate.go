package client

import "regexp"

var (
	apiKeyRe  = regexp.MustCompile(`^pk_(live|test)_[A-Za-z0-9]{32}$`)
	addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	txHashRe  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// IsValidAPIKeyFormat reports whether key looks like a widget API key
// (pk_live_ or pk_test_ followed by 32 alphanumerics).
func IsValidAPIKeyFormat(key string) bool {
	return apiKeyRe.MatchString(key)
}

// IsTestAPIKey reports whether key is a test-mode key
func IsTestAPIKey(key string) bool {
	return IsValidAPIKeyFormat(key) && key[3:7] == "test"
}

// IsValidAddress reports whether s is a 0x-prefixed 20-byte hex address
func IsValidAddress(s string) bool {
	return addressRe.MatchString(s)
}

// IsValidTxHash reports whether s is a 0x-prefixed 32-byte hex hash
func IsValidTxHash(s string) bool {
	return txHashRe.MatchString(s)
}
