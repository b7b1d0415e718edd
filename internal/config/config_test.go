package config

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "settings", "config.json")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(tempConfigPath(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.AppName != "keyturner" {
		t.Errorf("AppName = %q, want keyturner", cfg.AppName)
	}
	if cfg.AppID == 0 {
		t.Error("AppID is zero, want a generated id")
	}
	if cfg.ListenAddr() != "0.0.0.0:51001" {
		t.Errorf("ListenAddr = %q, want 0.0.0.0:51001", cfg.ListenAddr())
	}
	if cfg.Radio != "ble" {
		t.Errorf("Radio = %q, want ble", cfg.Radio)
	}
	if cfg.ScanTimeout != 5*time.Second || cfg.OperationTimeout != 30*time.Second {
		t.Errorf("timeouts = %v/%v, want 5s/30s", cfg.ScanTimeout, cfg.OperationTimeout)
	}
	if cfg.FindAttempts != 3 {
		t.Errorf("FindAttempts = %d, want 3", cfg.FindAttempts)
	}
	if _, err := cfg.Identity(); err != nil {
		t.Errorf("generated identity is invalid: %v", err)
	}
}

func TestSaveThenLoadKeepsIdentity(t *testing.T) {
	path := tempConfigPath(t)
	first, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	first.APIPort = 9000
	first.RefreshSchedule = "@every 15m"
	if err := Save(path, first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}

	second, err := Load(path)
	if err != nil {
		t.Fatalf("Load saved: %v", err)
	}
	if second.PrivateKey != first.PrivateKey || second.PublicKey != first.PublicKey || second.AppID != first.AppID {
		t.Error("identity changed across save and load")
	}
	if second.APIPort != 9000 || second.RefreshSchedule != "@every 15m" {
		t.Errorf("saved settings not loaded: port=%d schedule=%q", second.APIPort, second.RefreshSchedule)
	}
	if second.ScanTimeout != first.ScanTimeout {
		t.Errorf("ScanTimeout = %v, want %v", second.ScanTimeout, first.ScanTimeout)
	}
}

func TestLoadFillsMissingKeys(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"app_name": "frontdoor", "api_port": 8080, "unknown_key": true}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppName != "frontdoor" || cfg.APIPort != 8080 {
		t.Errorf("file values not applied: %q %d", cfg.AppName, cfg.APIPort)
	}
	if cfg.PrivateKey == "" || cfg.DBPath == "" {
		t.Error("missing keys were not filled with defaults")
	}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "unknown_key") {
		t.Error("unknown key survived save")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"app_name": `), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load of malformed file succeeded, want error")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KEYTURNER_API_PORT", "9090")
	t.Setenv("KEYTURNER_RADIO", "sim")
	t.Setenv("KEYTURNER_LOG_LEVEL", "debug")
	t.Setenv("KEYTURNER_SCAN_TIMEOUT", "2s")

	cfg, err := Load(tempConfigPath(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.APIPort)
	}
	if cfg.Radio != "sim" {
		t.Errorf("Radio = %q, want sim", cfg.Radio)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level = %v, want debug", cfg.Level())
	}
	if cfg.ScanTimeout != 2*time.Second {
		t.Errorf("ScanTimeout = %v, want 2s", cfg.ScanTimeout)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"KEYTURNER_RADIO", "zigbee"},
		{"KEYTURNER_API_PORT", "70000"},
		{"KEYTURNER_FIND_ATTEMPTS", "0"},
		{"KEYTURNER_REFRESH_SCHEDULE", "every tuesday"},
		{"KEYTURNER_PRIVATE_KEY", "not base64!"},
	}
	for _, tc := range tests {
		t.Run(tc.env, func(t *testing.T) {
			t.Setenv(tc.env, tc.value)
			if _, err := Load(tempConfigPath(t)); err == nil {
				t.Errorf("Load with %s=%q succeeded, want error", tc.env, tc.value)
			}
		})
	}
}

func TestValidateRejectsMismatchedKeys(t *testing.T) {
	cfg, err := Load(tempConfigPath(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	other, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	cfg.PublicKey = base64.StdEncoding.EncodeToString(other.PublicKey)

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Errorf("Validate error = %v, want key mismatch", err)
	}
}

func TestRedacted(t *testing.T) {
	cfg, err := Load(tempConfigPath(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := cfg.Redacted()
	if r.PrivateKey != "REDACTED" {
		t.Errorf("PrivateKey = %q, want REDACTED", r.PrivateKey)
	}
	if cfg.PrivateKey == "REDACTED" {
		t.Error("Redacted modified the original")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
}
