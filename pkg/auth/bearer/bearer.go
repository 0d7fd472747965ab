// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package bearer validates OAuth 2.1 bearer access tokens for clients that
// authenticate per-request instead of through the browser flow. Keys are
// fetched from the issuer's JWKS endpoint and refreshed automatically.
package bearer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/auth"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/config"
)

// ErrUnauthorized indicates the token failed signature, issuer, audience, or
// time validation.
var ErrUnauthorized = errors.New("bearer: unauthorized")

const leeway = 60 * time.Second

// Validator checks RFC 9068-style access tokens against the configured
// issuer and audience.
type Validator struct {
	issuer   string
	audience string
	keyfunc  jwt.Keyfunc
	parser   *jwt.Parser
}

// NewValidator discovers the issuer's JWKS endpoint and starts the
// auto-refreshing key set behind the validator.
func NewValidator(ctx context.Context, cfg config.BearerConfig) (*Validator, error) {
	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover issuer: %w", err)
	}

	var meta struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("decode discovery metadata: %w", err)
	}
	if meta.JWKSURI == "" {
		return nil, errors.New("issuer metadata carries no jwks_uri")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JWKSURI})
	if err != nil {
		return nil, fmt.Errorf("load jwks: %w", err)
	}

	return &Validator{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		keyfunc:  kf.Keyfunc,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithLeeway(leeway),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Validate parses and verifies a raw token, returning the caller identity.
func (v *Validator) Validate(ctx context.Context, raw string) (auth.Identity, error) {
	claims := jwt.MapClaims{}
	tok, err := v.parser.ParseWithClaims(raw, claims, v.keyfunc)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !tok.Valid {
		return auth.Identity{}, ErrUnauthorized
	}

	var id auth.Identity
	if sub, ok := claims["sub"].(string); ok {
		id.ID = sub
	}
	if id.ID == "" {
		return auth.Identity{}, fmt.Errorf("%w: token carries no subject", ErrUnauthorized)
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		id.Name = name
	}
	return id, nil
}

// TokenValidator is the contract Middleware enforces; satisfied by
// *Validator and by test fakes.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (auth.Identity, error)
}

// Middleware enforces a Bearer token on every request, issuing the
// WWW-Authenticate challenge on failure.
func Middleware(v TokenValidator, logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("component", "bearer-auth").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := tokenFromHeader(r)
			if !ok {
				challenge(w, "missing bearer token")
				return
			}

			identity, err := v.Validate(r.Context(), raw)
			if err != nil {
				log.Debug().Err(err).Msg("token rejected")
				challenge(w, "invalid token")
				return
			}

			identity.SetHeaders(r.Header)
			ctx := auth.WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromHeader(r *http.Request) (string, bool) {
	value := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func challenge(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="mcp-oidc-proxy"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
