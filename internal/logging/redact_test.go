package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newTestRedactingLogger(buf *bytes.Buffer) *slog.Logger {
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewRedactingHandler(inner))
}

func TestRedact_NormalValuesPassThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf)

	logger.Info("stake submitted",
		"amount", "250.5",
		"strategy", "eth-lido",
		"token_symbol", "USDC",
	)

	output := buf.String()
	for _, expected := range []string{"250.5", "eth-lido", "USDC"} {
		if !strings.Contains(output, expected) {
			t.Errorf("expected output to contain %q, got: %s", expected, output)
		}
	}
	if strings.Contains(output, "[REDACTED]") {
		t.Errorf("normal values should not be redacted, got: %s", output)
	}
}

func TestRedact_APIKeys(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		contains string
		absent   string
	}{
		{
			name:     "live key",
			value:    "pk_live_abcdefgh12345678ijklmnop87654321",
			contains: "pk_live_abcdefgh...",
			absent:   "ijklmnop87654321",
		},
		{
			name:     "test key inside sentence",
			value:    "rejected key pk_test_ZYXWVUTS99999999aaaaaaaa11111111 by backend",
			contains: "pk_test_ZYXWVUTS...",
			absent:   "99999999aaaaaaaa",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newTestRedactingLogger(&buf).Info("api", "detail", tt.value)
			output := buf.String()
			if !strings.Contains(output, tt.contains) {
				t.Errorf("expected %q in output: %s", tt.contains, output)
			}
			if strings.Contains(output, tt.absent) {
				t.Errorf("expected %q to be redacted: %s", tt.absent, output)
			}
		})
	}
}

func TestRedact_SensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	newTestRedactingLogger(&buf).Info("unlock",
		"keystore_password", "hunter2",
		"Authorization", "Bearer abc",
	)

	output := buf.String()
	if strings.Contains(output, "hunter2") || strings.Contains(output, "Bearer abc") {
		t.Errorf("sensitive keys should be redacted: %s", output)
	}
}

func TestRedact_BearerInMessageAndValue(t *testing.T) {
	var buf bytes.Buffer
	newTestRedactingLogger(&buf).Warn("request failed with Bearer pk_sess.token-value",
		"header", "bearer another.secret")

	output := buf.String()
	if strings.Contains(output, "pk_sess.token-value") || strings.Contains(output, "another.secret") {
		t.Errorf("bearer credentials should be redacted: %s", output)
	}
}

func TestRedact_PrivateKeyButNotTxHash(t *testing.T) {
	const hex64 = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf)
	logger.Info("imported", "key_material", hex64)
	if strings.Contains(buf.String(), hex64) {
		t.Errorf("private key shaped value should be redacted: %s", buf.String())
	}

	buf.Reset()
	logger.Info("deposit confirmed", "tx_hash", hex64)
	if !strings.Contains(buf.String(), hex64) {
		t.Errorf("tx hashes must stay readable: %s", buf.String())
	}
}

func TestRedact_WithAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf).
		With("api_key", "pk_live_abcdefgh12345678ijklmnop87654321").
		WithGroup("req")

	logger.Info("call", slog.Group("auth", slog.String("password", "s3cret")))

	output := buf.String()
	if strings.Contains(output, "ijklmnop87654321") {
		t.Errorf("WithAttrs values should be redacted: %s", output)
	}
	if strings.Contains(output, "s3cret") {
		t.Errorf("grouped password should be redacted: %s", output)
	}
}

func TestEnableRedaction_Idempotent(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	EnableRedaction()
	EnableRedaction()

	if _, ok := Logger().Handler().(*RedactingHandler); !ok {
		t.Fatal("expected redacting handler")
	}
	if inner, ok := Logger().Handler().(*RedactingHandler).inner.(*RedactingHandler); ok {
		t.Errorf("handler double-wrapped: %T", inner)
	}

	Info("key", "v", "pk_live_abcdefgh12345678ijklmnop87654321")
	if strings.Contains(buf.String(), "ijklmnop87654321") {
		t.Errorf("global logger should redact after EnableRedaction: %s", buf.String())
	}
}
