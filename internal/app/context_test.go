package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"secretsanta/internal/config"
)

func TestResolveConfigDefaultsAndOverrides(t *testing.T) {
	ws := t.TempDir()
	cfg, err := ResolveConfig(ws, Overrides{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Event.Name != "Secret Santa" || cfg.Admin.Password != "" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if err := RequireAdminPassword(cfg); err == nil {
		t.Fatal("expected missing admin password error")
	}

	if err := os.WriteFile(config.Path(ws), []byte(config.GenerateDefault("Team party")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = ResolveConfig(ws, Overrides{AdminPassword: " hohoho ", Locale: "en"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Event.Name != "Team party" || cfg.Admin.Password != "hohoho" || cfg.Locale() != "en" {
		t.Fatalf("resolved = %+v", cfg)
	}
	if err := RequireAdminPassword(cfg); err != nil {
		t.Fatal(err)
	}

	cfg, err = ResolveConfig(ws, Overrides{EventName: "  Office party  "})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Event.Name != "Office party" || cfg.Locale() != "ru" {
		t.Fatalf("event name override = %+v", cfg.Event)
	}
}

func TestResolveConfigRejectsInvalidOverride(t *testing.T) {
	if _, err := ResolveConfig(t.TempDir(), Overrides{Locale: "not a locale!"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestResolveConfigRejectsBrokenFile(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "santa.yml"), []byte("event: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ResolveConfig(ws, Overrides{}); err == nil {
		t.Fatal("expected yaml error")
	}
}

func TestTokenIssuer(t *testing.T) {
	cfg := config.Default("x")
	if TokenIssuer(cfg, "  ") != nil {
		t.Fatal("empty secret must disable tokens")
	}
	iss := TokenIssuer(cfg, "secret")
	if iss == nil || iss.TTL != time.Duration(config.DefaultTokenTTLHours)*time.Hour {
		t.Fatalf("issuer = %+v", iss)
	}
}
