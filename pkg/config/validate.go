// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"errors"
	"fmt"
)

// Validate checks cross-field constraints after loading. Field presence
// requirements depend on the selected auth mode and session backend.
func (c Config) Validate() error {
	switch c.AuthMode {
	case AuthModeOIDC:
		if c.OIDC.IssuerURL == "" {
			return errors.New("oidc auth mode requires MCP_OIDC_ISSUER")
		}
		if c.OIDC.ClientID == "" {
			return errors.New("oidc auth mode requires MCP_OIDC_CLIENT_ID")
		}
		if c.OIDC.ClientSecret == "" {
			return errors.New("oidc auth mode requires MCP_OIDC_CLIENT_SECRET")
		}
		if c.OIDC.RedirectURL == "" {
			return errors.New("oidc auth mode requires MCP_OIDC_REDIRECT_URL")
		}
	case AuthModeBearer:
		if c.Bearer.Issuer == "" {
			return errors.New("bearer auth mode requires MCP_BEARER_ISSUER")
		}
		if c.Bearer.Audience == "" {
			return errors.New("bearer auth mode requires MCP_BEARER_AUDIENCE")
		}
	case AuthModeBypass:
		// Nothing to check; bypass injects a static identity.
	default:
		return fmt.Errorf("unsupported auth mode %q (supported: oidc, bearer, bypass)", c.AuthMode)
	}

	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if c.Session.RedisURL == "" {
			return errors.New("redis session backend requires MCP_SESSION_REDIS_URL")
		}
	case SessionBackendSQLite:
		if c.Session.SQLitePath == "" {
			return errors.New("sqlite session backend requires MCP_SESSION_SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unsupported session backend %q (supported: memory, redis, sqlite)", c.Session.Backend)
	}

	if c.Session.TTL < 0 {
		return errors.New("session TTL cannot be negative")
	}
	if c.Session.CookieName == "" {
		return errors.New("session cookie name cannot be empty")
	}

	// HMAC upstream signing is optional but requires both halves.
	if (c.APIKey == "") != (c.APISecret == "") {
		return errors.New("MCP_API_KEY and MCP_API_SECRET must be set together")
	}

	return nil
}
