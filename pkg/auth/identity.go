// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package auth carries the pieces shared by every authentication mode: the
// resolved user identity, the headers it is forwarded under, and the HMAC
// signer for upstreams that demand signed requests.
package auth

import (
	"context"
	"net/http"
)

// Identity headers injected into proxied requests so the upstream can
// attribute calls to the authenticated user.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// Identity describes the authenticated caller.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SetHeaders stamps the identity headers onto an outbound request, replacing
// any client-supplied values so identities cannot be spoofed.
func (id Identity) SetHeaders(h http.Header) {
	h.Set(HeaderUserID, id.ID)
	h.Set(HeaderUserEmail, id.Email)
	h.Set(HeaderUserName, id.Name)
}

type identityKey struct{}

// WithIdentity stores the identity on the request context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom retrieves the identity placed by an auth middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
