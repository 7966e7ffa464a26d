package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestConfigure_JSON(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	Configure(&buf, "info", "json")

	Info("wallet connected", "chain_id", 11155111)
	Debug("polling for provider")

	output := buf.String()
	if !strings.Contains(output, `"msg":"wallet connected"`) {
		t.Errorf("expected message in output, got: %s", output)
	}
	if !strings.Contains(output, `"chain_id":11155111`) {
		t.Errorf("expected chain_id field in JSON output, got: %s", output)
	}
	if strings.Contains(output, "polling") {
		t.Errorf("debug output should be filtered at info level, got: %s", output)
	}
}

func TestLogLevels_TextOutput(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	Configure(&buf, "debug", "text")

	tests := []struct {
		name    string
		logFunc func(string, ...any)
		level   string
	}{
		{"Debug", Debug, "DEBUG"},
		{"Info", Info, "INFO"},
		{"Warn", Warn, "WARN"},
		{"Error", Error, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc(tt.name + " staking message")
			output := buf.String()
			if !strings.Contains(output, tt.name+" staking message") {
				t.Errorf("expected message, got: %s", output)
			}
			if !strings.Contains(output, "level="+tt.level) {
				t.Errorf("expected level %s, got: %s", tt.level, output)
			}
		})
	}
}

func TestConfigure(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	Configure(&buf, "warn", "text")
	EnableRedaction()

	Info("hidden")
	Warn("shown", "api_key", "pk_live_abcdefgh12345678abcdefgh12345678")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("info should be filtered at warn level: %s", output)
	}
	if !strings.Contains(output, "shown") {
		t.Errorf("expected warn message: %s", output)
	}
	if strings.Contains(output, "12345678abcdefgh12345678") {
		t.Errorf("configured logger should redact API keys: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		attr slog.Attr
		key  string
		val  string
	}{
		{Address("0xabc"), "address", "0xabc"},
		{TxHash("0xdef"), "tx_hash", "0xdef"},
		{Network("sepolia"), "network", "sepolia"},
		{ChainID(1), "chain_id", "1"},
		{Component("staking"), "component", "staking"},
		{Err(errors.New("reverted")), "error", "reverted"},
		{Err(nil), "error", ""},
	}
	for _, tt := range tests {
		if tt.attr.Key != tt.key {
			t.Errorf("expected key %q, got %q", tt.key, tt.attr.Key)
		}
		if tt.attr.Value.String() != tt.val {
			t.Errorf("%s: expected value %q, got %q", tt.key, tt.val, tt.attr.Value.String())
		}
	}
}

func TestAudit(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	Configure(&buf, "info", "json")

	Audit(AuditEvent{
		Operation: "stake_deposited",
		Actor:     "0x1111111111111111111111111111111111111111",
		Target:    "0x2222222222222222222222222222222222222222",
		Result:    "success",
	})

	output := buf.String()
	for _, want := range []string{`"audit":true`, `"operation":"stake_deposited"`, `"result":"success"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in audit output: %s", want, output)
		}
	}
}
