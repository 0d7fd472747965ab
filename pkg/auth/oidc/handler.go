// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/auth"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/config"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/session"
)

// authFlowTTL bounds how long a login attempt may sit between the redirect
// to the provider and the callback.
const authFlowTTL = 10 * time.Minute

// authFlow is the one-time state stored between /login and /callback.
type authFlow struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserSession is the persisted record for an authenticated browser session.
type UserSession struct {
	Identity     auth.Identity  `json:"identity"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	IDToken      string         `json:"id_token"`
	ExpiresAt    time.Time      `json:"expires_at"`
	CreatedAt    time.Time      `json:"created_at"`
	Claims       map[string]any `json:"claims"`
}

// Handler serves the /login, /callback and /logout endpoints.
type Handler struct {
	client     *Client
	store      session.Store
	cookieName string
	sessionTTL time.Duration
	logger     zerolog.Logger
}

// NewHandler wires the OIDC relying-party client to the session store.
func NewHandler(ctx context.Context, cfg config.OIDCConfig, sess config.SessionConfig, store session.Store, logger zerolog.Logger) (*Handler, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Handler{
		client:     client,
		store:      store,
		cookieName: sess.CookieName,
		sessionTTL: sess.TTL,
		logger:     logger.With().Str("component", "oidc").Logger(),
	}, nil
}

// Login starts the authorization code flow.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := randomToken(32)
	if err != nil {
		h.logger.Error().Err(err).Msg("generate state failed")
		writeError(w, http.StatusInternalServerError, "failed to start login")
		return
	}

	authURL, codeVerifier, err := h.client.AuthCodeURL(state)
	if err != nil {
		h.logger.Error().Err(err).Msg("build authorization url failed")
		writeError(w, http.StatusInternalServerError, "failed to start login")
		return
	}

	flow := authFlow{
		State:        state,
		CodeVerifier: codeVerifier,
		RedirectURI:  r.URL.Query().Get("redirect_uri"),
		CreatedAt:    time.Now(),
	}
	if err := h.store.Create(r.Context(), flowKey(state), flow, authFlowTTL); err != nil {
		h.logger.Error().Err(err).Msg("store auth flow failed")
		writeError(w, http.StatusInternalServerError, "failed to start login")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the flow: state check, code exchange, session creation.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Warn().
			Str("error", errParam).
			Str("description", q.Get("error_description")).
			Msg("authorization server returned error")
		writeError(w, http.StatusBadRequest, errParam)
		return
	}

	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		writeError(w, http.StatusBadRequest, "missing state or code")
		return
	}

	var flow authFlow
	if err := h.store.Get(r.Context(), flowKey(state), &flow); err != nil {
		h.logger.Warn().Err(err).Msg("auth flow lookup failed")
		writeError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}
	// One-time use regardless of the exchange outcome.
	if err := h.store.Delete(r.Context(), flowKey(state)); err != nil {
		h.logger.Warn().Err(err).Msg("delete auth flow failed")
	}

	tok, err := h.client.Exchange(r.Context(), code, flow.CodeVerifier)
	if err != nil {
		h.logger.Error().Err(err).Msg("code exchange failed")
		writeError(w, http.StatusInternalServerError, "failed to exchange authorization code")
		return
	}

	identity := identityFromClaims(tok.Claims)
	if identity.Email == "" {
		if claims, err := h.client.UserInfo(r.Context(), tok.AccessToken); err != nil {
			h.logger.Warn().Err(err).Msg("userinfo lookup failed")
		} else {
			if email, ok := claims["email"].(string); ok {
				identity.Email = email
			}
			if name, ok := claims["name"].(string); ok && identity.Name == "" {
				identity.Name = name
			}
		}
	}

	sessionID := uuid.NewString()
	userSession := UserSession{
		Identity:     identity,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      tok.IDToken,
		ExpiresAt:    tok.Expiry,
		CreatedAt:    time.Now(),
		Claims:       tok.Claims,
	}
	if err := h.store.Create(r.Context(), sessionID, userSession, h.sessionTTL); err != nil {
		h.logger.Error().Err(err).Msg("store user session failed")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(h.sessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info().
		Str("user_id", identity.ID).
		Str("email", identity.Email).
		Msg("user authenticated")

	redirect := flow.RedirectURI
	if redirect == "" {
		redirect = "/"
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// Logout deletes the stored session and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cookieName); err == nil && cookie.Value != "" {
		if err := h.store.Delete(r.Context(), cookie.Value); err != nil {
			h.logger.Warn().Err(err).Msg("delete session failed")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

func flowKey(state string) string {
	return "auth:" + state
}

func identityFromClaims(claims map[string]any) auth.Identity {
	var id auth.Identity
	if sub, ok := claims["sub"].(string); ok {
		id.ID = sub
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		id.Name = name
	}
	return id
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
