package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// sensitiveKeyPatterns lists substrings that indicate a log attribute key holds a secret value.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"private_key",
	"authorization",
}

// apiKeyPattern matches widget API keys (pk_live_* or pk_test_*).
var apiKeyPattern = regexp.MustCompile(`\bpk_(live|test)_[A-Za-z0-9]+`)

// bearerPattern matches an Authorization header value.
var bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]+`)

// ethPrivateKeyPattern matches Ethereum-style private keys (0x followed by 64 hex chars).
// Transaction hashes have the same shape, so keys carrying them are exempt (see hashKeys).
var ethPrivateKeyPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{64}\b`)

// hashKeys are attribute keys whose 32-byte hex values are public hashes.
var hashKeys = []string{"hash", "tx"}

// RedactingHandler wraps an slog.Handler and redacts sensitive values before they
// are passed to the inner handler.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler creates a RedactingHandler that wraps the given inner handler.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

// Enabled reports whether the inner handler handles records at the given level.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle redacts sensitive attribute values and forwards the record to the inner handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	var redacted []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		redacted = append(redacted, redactAttr(a))
		return true
	})

	newRecord := slog.NewRecord(r.Time, r.Level, redactString(r.Message, false), r.PC)
	newRecord.AddAttrs(redacted...)

	return h.inner.Handle(ctx, newRecord)
}

// WithAttrs returns a new handler with the given attributes redacted.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

// WithGroup returns a new handler with the given group name.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

// redactAttr returns a copy of the attribute with its value redacted if necessary.
func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)

	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(key, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		out := make([]any, len(attrs))
		for i, ga := range attrs {
			out[i] = redactAttr(ga)
		}
		return slog.Group(a.Key, out...)
	}

	if a.Value.Kind() == slog.KindString {
		val := a.Value.String()
		redacted := redactString(val, isHashKey(key))
		if redacted != val {
			return slog.String(a.Key, redacted)
		}
	}

	return a
}

func isHashKey(key string) bool {
	for _, k := range hashKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

// redactString scans a string value and replaces known secret patterns.
func redactString(val string, allowHashes bool) string {
	// API keys keep their prefix and first 8 characters
	val = apiKeyPattern.ReplaceAllStringFunc(val, func(match string) string {
		parts := strings.SplitN(match, "_", 3)
		if len(parts) < 3 {
			return match
		}
		rest := parts[2]
		if len(rest) <= 8 {
			return parts[0] + "_" + parts[1] + "_..."
		}
		return parts[0] + "_" + parts[1] + "_" + rest[:8] + "..."
	})

	val = bearerPattern.ReplaceAllString(val, "Bearer [REDACTED]")

	if !allowHashes {
		val = ethPrivateKeyPattern.ReplaceAllStringFunc(val, func(match string) string {
			return match[:6] + "..." + match[len(match)-4:]
		})
	}

	return val
}

// EnableRedaction wraps the current global logger with a RedactingHandler.
func EnableRedaction() {
	mu.Lock()
	defer mu.Unlock()

	handler := defaultLogger.Handler()
	if _, ok := handler.(*RedactingHandler); ok {
		return
	}
	defaultLogger = slog.New(NewRedactingHandler(handler))
}

// NewRedactingLogger creates a new slog.Logger with redaction enabled.
func NewRedactingLogger(inner slog.Handler) *slog.Logger {
	return slog.New(NewRedactingHandler(inner))
}
