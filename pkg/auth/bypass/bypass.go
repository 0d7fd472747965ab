// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package bypass disables authentication for local development by injecting
// a fixed identity into every request.
package bypass

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/auth"
)

// DefaultIdentity is the mock user forwarded in bypass mode.
var DefaultIdentity = auth.Identity{
	ID:    "bypass-user",
	Email: "bypass@example.com",
	Name:  "Bypass User",
}

// Middleware stamps the mock identity onto every request without touching
// the session store.
func Middleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("component", "bypass-auth").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			DefaultIdentity.SetHeaders(r.Header)
			ctx := auth.WithIdentity(r.Context(), DefaultIdentity)

			log.Debug().Str("user_id", DefaultIdentity.ID).Msg("bypass auth")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
