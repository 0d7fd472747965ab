// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package config loads proxy runtime settings. Values come from an optional
// YAML file overlaid by environment variables; the environment always wins.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envListenAddr         = "MCP_LISTEN_ADDR"
	envUpstreamURL        = "MCP_UPSTREAM_URL"
	envAuthMode           = "MCP_AUTH_MODE"
	envAPIKey             = "MCP_API_KEY"
	envAPISecret          = "MCP_API_SECRET"
	envOIDCIssuer         = "MCP_OIDC_ISSUER"
	envOIDCClientID       = "MCP_OIDC_CLIENT_ID"
	envOIDCClientSecret   = "MCP_OIDC_CLIENT_SECRET"
	envOIDCRedirectURL    = "MCP_OIDC_REDIRECT_URL"
	envOIDCScopes         = "MCP_OIDC_SCOPES"
	envBearerIssuer       = "MCP_BEARER_ISSUER"
	envBearerAudience     = "MCP_BEARER_AUDIENCE"
	envSessionBackend     = "MCP_SESSION_BACKEND"
	envSessionTTL         = "MCP_SESSION_TTL"
	envSessionCookie      = "MCP_SESSION_COOKIE"
	envSessionRedisURL    = "MCP_SESSION_REDIS_URL"
	envSessionRedisPrefix = "MCP_SESSION_REDIS_PREFIX"
	envSessionSQLitePath  = "MCP_SESSION_SQLITE_PATH"
	envRequestTimeout     = "MCP_REQUEST_TIMEOUT"
	envInsecureSkipVerify = "MCP_UPSTREAM_INSECURE"
	envLogLevel           = "MCP_LOG_LEVEL"
	envServerReadTimeout  = "MCP_SERVER_READ_TIMEOUT"
	envServerWriteTimeout = "MCP_SERVER_WRITE_TIMEOUT"
	envServerIdleTimeout  = "MCP_SERVER_IDLE_TIMEOUT"
	envGracefulShutdown   = "MCP_GRACEFUL_SHUTDOWN"

	defaultListenAddr         = "127.0.0.1:8090"
	defaultAuthMode           = "oidc"
	defaultSessionBackend     = "memory"
	defaultSessionTTL         = 24 * time.Hour
	defaultSessionCookie      = "mcp_session"
	defaultRedisPrefix        = "session:"
	defaultRequestTimeout     = 15 * time.Second
	defaultLogLevel           = "info"
	defaultServerReadTimeout  = 30 * time.Second
	defaultServerWriteTimeout = 0 // unlimited so SSE streams are not cut off
	defaultServerIdleTimeout  = 120 * time.Second
	defaultGracefulShutdown   = 10 * time.Second
)

// Auth modes accepted by the proxy.
const (
	AuthModeOIDC   = "oidc"
	AuthModeBearer = "bearer"
	AuthModeBypass = "bypass"
)

// Session backends accepted by the proxy.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
	SessionBackendSQLite = "sqlite"
)

// OIDCConfig carries the settings for the browser-based authorization flow.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// BearerConfig carries the settings for access-token validation.
type BearerConfig struct {
	Issuer   string
	Audience string
}

// SessionConfig selects and tunes the session store backend.
type SessionConfig struct {
	Backend     string
	TTL         time.Duration
	CookieName  string
	RedisURL    string
	RedisPrefix string
	SQLitePath  string
}

// Config captures runtime settings for the proxy.
type Config struct {
	ListenAddr              string
	Upstream                *url.URL
	AuthMode                string
	APIKey                  string
	APISecret               string
	OIDC                    OIDCConfig
	Bearer                  BearerConfig
	Session                 SessionConfig
	RequestTimeout          time.Duration
	InsecureSkipVerify      bool
	LogLevel                string
	ServerReadTimeout       time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	GracefulShutdownTimeout time.Duration
}

// Load reads configuration from the optional YAML file at path (empty string
// skips the file) and the environment, validates it, and returns the result.
func Load(path string) (Config, error) {
	file, err := loadFile(path)
	if err != nil {
		return Config{}, err
	}

	upstreamRaw := getString(envUpstreamURL, file.Upstream)
	if upstreamRaw == "" {
		return Config{}, errors.New("MCP_UPSTREAM_URL is required")
	}
	upstream, err := url.Parse(upstreamRaw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MCP_UPSTREAM_URL: %w", err)
	}
	if !upstream.IsAbs() {
		return Config{}, errors.New("MCP_UPSTREAM_URL must be absolute (scheme://host)")
	}

	cfg := Config{
		ListenAddr: getString(envListenAddr, fallback(file.Listen, defaultListenAddr)),
		Upstream:   upstream,
		AuthMode:   strings.ToLower(getString(envAuthMode, fallback(file.Auth.Mode, defaultAuthMode))),
		APIKey:     getString(envAPIKey, file.Auth.APIKey),
		APISecret:  getString(envAPISecret, file.Auth.APISecret),
		OIDC: OIDCConfig{
			IssuerURL:    getString(envOIDCIssuer, file.Auth.OIDC.Issuer),
			ClientID:     getString(envOIDCClientID, file.Auth.OIDC.ClientID),
			ClientSecret: getString(envOIDCClientSecret, file.Auth.OIDC.ClientSecret),
			RedirectURL:  getString(envOIDCRedirectURL, file.Auth.OIDC.RedirectURL),
			Scopes:       getScopes(envOIDCScopes, file.Auth.OIDC.Scopes),
		},
		Bearer: BearerConfig{
			Issuer:   getString(envBearerIssuer, file.Auth.Bearer.Issuer),
			Audience: getString(envBearerAudience, file.Auth.Bearer.Audience),
		},
		Session: SessionConfig{
			Backend:     strings.ToLower(getString(envSessionBackend, fallback(file.Session.Backend, defaultSessionBackend))),
			TTL:         getDuration(envSessionTTL, fallbackDuration(file.Session.TTL, defaultSessionTTL)),
			CookieName:  getString(envSessionCookie, fallback(file.Session.Cookie, defaultSessionCookie)),
			RedisURL:    getString(envSessionRedisURL, file.Session.RedisURL),
			RedisPrefix: getString(envSessionRedisPrefix, fallback(file.Session.RedisPrefix, defaultRedisPrefix)),
			SQLitePath:  getString(envSessionSQLitePath, file.Session.SQLitePath),
		},
		RequestTimeout:          getDuration(envRequestTimeout, defaultRequestTimeout),
		InsecureSkipVerify:      getBool(envInsecureSkipVerify, false),
		LogLevel:                strings.ToLower(getString(envLogLevel, fallback(file.LogLevel, defaultLogLevel))),
		ServerReadTimeout:       getDuration(envServerReadTimeout, defaultServerReadTimeout),
		ServerWriteTimeout:      getDuration(envServerWriteTimeout, defaultServerWriteTimeout),
		ServerIdleTimeout:       getDuration(envServerIdleTimeout, defaultServerIdleTimeout),
		GracefulShutdownTimeout: getDuration(envGracefulShutdown, defaultGracefulShutdown),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func fallback(val, def string) string {
	if strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return def
}

func fallbackDuration(val, def time.Duration) time.Duration {
	if val > 0 {
		return val
	}
	return def
}

func getScopes(key string, fileScopes []string) []string {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		parts := strings.Split(raw, ",")
		scopes := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				scopes = append(scopes, s)
			}
		}
		return scopes
	}
	if len(fileScopes) > 0 {
		return fileScopes
	}
	return []string{"openid", "profile", "email"}
}

func getString(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
