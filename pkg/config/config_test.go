// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	t.Setenv(key, value)
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, envUpstreamURL, "http://upstream.internal:9000")
	setEnv(t, envAuthMode, AuthModeBypass)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("listen addr: got %q want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.Upstream.String() != "http://upstream.internal:9000" {
		t.Errorf("upstream: got %q", cfg.Upstream.String())
	}
	if cfg.Session.Backend != SessionBackendMemory {
		t.Errorf("session backend: got %q", cfg.Session.Backend)
	}
	if cfg.Session.TTL != defaultSessionTTL {
		t.Errorf("session ttl: got %v", cfg.Session.TTL)
	}
	if cfg.Session.CookieName != defaultSessionCookie {
		t.Errorf("cookie name: got %q", cfg.Session.CookieName)
	}
	if cfg.RequestTimeout != defaultRequestTimeout {
		t.Errorf("request timeout: got %v", cfg.RequestTimeout)
	}
	if cfg.ServerWriteTimeout != 0 {
		t.Errorf("write timeout must default to unlimited, got %v", cfg.ServerWriteTimeout)
	}
}

func TestLoadRequiresUpstream(t *testing.T) {
	setEnv(t, envUpstreamURL, "")
	setEnv(t, envAuthMode, AuthModeBypass)

	if _, err := Load(""); err == nil {
		t.Fatal("expected error without upstream")
	}
}

func TestLoadRejectsRelativeUpstream(t *testing.T) {
	setEnv(t, envUpstreamURL, "upstream.internal/path")
	setEnv(t, envAuthMode, AuthModeBypass)

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for relative upstream")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := strings.Join([]string{
		"listen: 0.0.0.0:9999",
		"upstream: http://from-file:1234",
		"log_level: debug",
		"auth:",
		"  mode: bypass",
		"session:",
		"  backend: sqlite",
		"  sqlite_path: /tmp/sessions.db",
		"  ttl: 1h",
	}, "\n")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	setEnv(t, envListenAddr, "127.0.0.1:7777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:7777" {
		t.Errorf("env must win over file, got %q", cfg.ListenAddr)
	}
	if cfg.Upstream.String() != "http://from-file:1234" {
		t.Errorf("file upstream not used: %q", cfg.Upstream.String())
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("file log level not used: %q", cfg.LogLevel)
	}
	if cfg.Session.Backend != SessionBackendSQLite {
		t.Errorf("file session backend not used: %q", cfg.Session.Backend)
	}
	if cfg.Session.SQLitePath != "/tmp/sessions.db" {
		t.Errorf("file sqlite path not used: %q", cfg.Session.SQLitePath)
	}
	if cfg.Session.TTL != time.Hour {
		t.Errorf("file ttl not used: %v", cfg.Session.TTL)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	setEnv(t, envUpstreamURL, "http://upstream.internal:9000")
	setEnv(t, envAuthMode, AuthModeBypass)

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file must be tolerated: %v", err)
	}
}

func TestValidateAuthModes(t *testing.T) {
	base := func() Config {
		return Config{
			AuthMode: AuthModeBypass,
			Session: SessionConfig{
				Backend:    SessionBackendMemory,
				TTL:        time.Hour,
				CookieName: "mcp_session",
			},
		}
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("bypass config must validate: %v", err)
	}

	cfg = base()
	cfg.AuthMode = AuthModeOIDC
	if err := cfg.Validate(); err == nil {
		t.Fatal("oidc mode without issuer must fail")
	}
	cfg.OIDC = OIDCConfig{
		IssuerURL:    "https://issuer.example.com",
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8090/callback",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete oidc config must validate: %v", err)
	}

	cfg = base()
	cfg.AuthMode = AuthModeBearer
	if err := cfg.Validate(); err == nil {
		t.Fatal("bearer mode without issuer must fail")
	}
	cfg.Bearer = BearerConfig{Issuer: "https://issuer.example.com", Audience: "mcp"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete bearer config must validate: %v", err)
	}

	cfg = base()
	cfg.AuthMode = "saml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown auth mode must fail")
	}
}

func TestValidateSessionBackends(t *testing.T) {
	cfg := Config{
		AuthMode: AuthModeBypass,
		Session: SessionConfig{
			Backend:    SessionBackendRedis,
			TTL:        time.Hour,
			CookieName: "mcp_session",
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("redis backend without url must fail")
	}
	cfg.Session.RedisURL = "redis://localhost:6379/0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("redis backend with url must validate: %v", err)
	}

	cfg.Session.Backend = SessionBackendSQLite
	cfg.Session.SQLitePath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("sqlite backend without path must fail")
	}
}

func TestValidateSigningPairs(t *testing.T) {
	cfg := Config{
		AuthMode: AuthModeBypass,
		APIKey:   "key-only",
		Session: SessionConfig{
			Backend:    SessionBackendMemory,
			TTL:        time.Hour,
			CookieName: "mcp_session",
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("api key without secret must fail")
	}
	cfg.APISecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("key and secret together must validate: %v", err)
	}
}
