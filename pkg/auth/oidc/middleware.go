// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package oidc

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/auth"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/session"
)

// Middleware gates requests on a valid session cookie. Authenticated
// requests get the identity attached to the context and stamped onto the
// forwarded headers.
func Middleware(store session.Store, cookieName string, logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("component", "oidc-auth").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			var userSession UserSession
			if err := store.Get(r.Context(), cookie.Value, &userSession); err != nil {
				log.Debug().Err(err).Msg("session lookup failed")
				writeError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			// The provider token expiring invalidates the session even when
			// the store entry is still live.
			if !userSession.ExpiresAt.IsZero() && time.Now().After(userSession.ExpiresAt) {
				if err := store.Delete(r.Context(), cookie.Value); err != nil {
					log.Warn().Err(err).Msg("delete expired session failed")
				}
				writeError(w, http.StatusUnauthorized, "session expired")
				return
			}

			userSession.Identity.SetHeaders(r.Header)
			ctx := auth.WithIdentity(r.Context(), userSession.Identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
