// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package oidc implements the browser-based OpenID Connect authorization
// code flow with PKCE, storing authenticated users in the session store and
// gating proxied routes on a session cookie.
package oidc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/config"
)

// Client wraps provider discovery, the OAuth2 code exchange, and ID token
// verification.
type Client struct {
	provider *gooidc.Provider
	oauth2   oauth2.Config
	verifier *gooidc.IDTokenVerifier
	httpc    *http.Client
}

// Token is the verified outcome of a code exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
	Claims       map[string]any
}

// NewClient discovers the provider configuration from the issuer URL.
func NewClient(ctx context.Context, cfg config.OIDCConfig) (*Client, error) {
	httpc := &http.Client{Timeout: 30 * time.Second}
	ctx = gooidc.ClientContext(ctx, httpc)

	provider, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}

	return &Client{
		provider: provider,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		httpc:    httpc,
	}, nil
}

// AuthCodeURL builds the authorization redirect with S256 PKCE parameters.
// It returns the URL together with the code verifier the callback must
// present during exchange.
func (c *Client) AuthCodeURL(state string) (authURL, codeVerifier string, err error) {
	codeVerifier, err = randomToken(32)
	if err != nil {
		return "", "", fmt.Errorf("generate code verifier: %w", err)
	}

	sum := sha256.Sum256([]byte(codeVerifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	authURL = c.oauth2.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return authURL, codeVerifier, nil
}

// Exchange trades the authorization code for tokens and verifies the ID
// token before handing claims back.
func (c *Client) Exchange(ctx context.Context, code, codeVerifier string) (*Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpc)

	tok, err := c.oauth2.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("token response carried no id_token")
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id token claims: %w", err)
	}

	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      rawIDToken,
		Expiry:       tok.Expiry,
		Claims:       claims,
	}, nil
}

// UserInfo queries the userinfo endpoint for claims missing from the ID
// token (some providers omit email there).
func (c *Client) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	info, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
	}))
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}

	var claims map[string]any
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode userinfo claims: %w", err)
	}
	return claims, nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
