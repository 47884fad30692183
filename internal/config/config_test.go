package config

import (
	"strings"
	"testing"
)

func TestValidate_DevNeedsNothing(t *testing.T) {
	cfg := &Config{Env: "development"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("dev config should validate, got %v", err)
	}
}

func TestValidate_ProductionRequiresSigningKey(t *testing.T) {
	cfg := &Config{Env: "production", DatabaseURL: "postgres://x"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "AUTH_SIGNING_KEY") {
		t.Errorf("expected signing key error, got %v", err)
	}

	cfg.AuthSigningKey = "short"
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Errorf("expected key length error, got %v", err)
	}
}

func TestValidate_ProductionRequiresDatabase(t *testing.T) {
	cfg := &Config{
		Env:            "production",
		AuthSigningKey: strings.Repeat("k", 32),
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("expected database error, got %v", err)
	}

	cfg.DatabaseURL = "postgres://localhost/ledger"
	if err := cfg.Validate(); err != nil {
		t.Errorf("complete production config should validate, got %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port == "" {
		t.Error("expected default port")
	}
	if cfg.DBMaxConns <= 0 {
		t.Error("expected default max conns")
	}
}
