package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("AIDE_TEST_VAR", "secret123")
	defer os.Unsetenv("AIDE_TEST_VAR")

	got := ExpandEnvVars(`{"token": "${AIDE_TEST_VAR}"}`)
	if got != `{"token": "secret123"}` {
		t.Fatalf("expected substitution, got %s", got)
	}
}

func TestExpandEnvVarsDefault(t *testing.T) {
	os.Unsetenv("AIDE_MISSING_VAR")

	got := ExpandEnvVars(`${AIDE_MISSING_VAR:-fallback}`)
	if got != "fallback" {
		t.Fatalf("expected default value, got %s", got)
	}

	// No default and unset: pattern is preserved.
	got = ExpandEnvVars(`${AIDE_MISSING_VAR}`)
	if got != "${AIDE_MISSING_VAR}" {
		t.Fatalf("expected pattern preserved, got %s", got)
	}

	// An empty default is still a default.
	got = ExpandEnvVars(`${AIDE_MISSING_VAR:-}`)
	if got != "" {
		t.Fatalf("expected empty string for empty default, got %s", got)
	}
}

func TestExpandEnvVarsEmptyUsesDefault(t *testing.T) {
	os.Setenv("AIDE_EMPTY_VAR", "")
	defer os.Unsetenv("AIDE_EMPTY_VAR")

	got := ExpandEnvVars(`${AIDE_EMPTY_VAR:-backup}`)
	if got != "backup" {
		t.Fatalf("expected default for empty var, got %s", got)
	}
}

func TestDefaultsValidate(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Pipeline.MaxToolRounds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxToolRounds = 0")
	}

	cfg = Defaults()
	cfg.Heartbeat.QuietHoursStart = "25:00"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for malformed quiet hours")
	}

	cfg = Defaults()
	cfg.Model.FailoverChain = []string{"nonexistent"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown failover provider")
	}

	cfg = Defaults()
	cfg.Channels.FallbackOrder = []string{"carrier-pigeon"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown fallback channel")
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.Heartbeat.IntervalMinutes = 45
	cfg.Channels.Preferred = "discord"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Heartbeat.IntervalMinutes != 45 {
		t.Fatalf("expected intervalMinutes 45, got %d", loaded.Heartbeat.IntervalMinutes)
	}
	if loaded.Channels.Preferred != "discord" {
		t.Fatalf("expected preferred discord, got %s", loaded.Channels.Preferred)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestGetSetByPath(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "heartbeat.intervalMinutes")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if val.(float64) != 30 {
		t.Fatalf("expected 30, got %v", val)
	}

	if err := SetByPath(cfg, "heartbeat.intervalMinutes", "15"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if cfg.Heartbeat.IntervalMinutes != 15 {
		t.Fatalf("expected 15 after set, got %d", cfg.Heartbeat.IntervalMinutes)
	}

	// Set that breaks validation must be rejected.
	if err := SetByPath(cfg, "heartbeat.intervalMinutes", "0"); err == nil {
		t.Fatal("expected validation error")
	}
	if cfg.Heartbeat.IntervalMinutes != 15 {
		t.Fatal("failed set must not mutate the config")
	}

	if _, err := GetByPath(cfg, "no.such.path"); err == nil {
		t.Fatal("expected error for unknown path")
	}
}

func TestSanitizeMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "1234567890:AAHsecretsecretsecret"

	out, err := Sanitize(cfg)
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	channels := out["channels"].(map[string]interface{})
	telegram := channels["telegram"].(map[string]interface{})
	token := telegram["token"].(string)
	if strings.Contains(token, "secret") {
		t.Fatalf("token not masked: %s", token)
	}
}

func TestListPaths(t *testing.T) {
	paths, err := ListPaths(Defaults())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := map[string]bool{
		"memory.semanticWeight":     false,
		"heartbeat.quietHoursStart": false,
		"channels.preferred":        false,
	}
	for _, p := range paths {
		if _, ok := want[p]; ok {
			want[p] = true
		}
	}
	for p, seen := range want {
		if !seen {
			t.Fatalf("expected path %s in listing", p)
		}
	}
}
