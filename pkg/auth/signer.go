// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Headers attached to signed upstream requests.
const (
	HeaderAPIKey    = "x-api-key-id"
	HeaderSignature = "x-signature"
	HeaderTimestamp = "x-timestamp"
)

// Signer stamps HMAC auth headers onto proxied requests for upstream MCP
// servers that sit behind a signing gateway. It is optional; the proxy only
// signs when credentials are configured.
type Signer struct {
	Key    string
	Secret string
	Now    func() time.Time
}

// NewSigner constructs a signer with the provided key/secret pair.
func NewSigner(key, secret string) *Signer {
	return &Signer{
		Key:    key,
		Secret: secret,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// AttachSignature injects auth headers computed over the method, target path,
// and a fresh timestamp.
func (s *Signer) AttachSignature(req *http.Request) error {
	if s.Key == "" || s.Secret == "" {
		return fmt.Errorf("signer key and secret must be set")
	}

	timestamp := s.Now().Format(time.RFC3339)

	payload := strings.Join([]string{
		req.Method,
		req.URL.Path,
		timestamp,
	}, "\n")

	mac := hmac.New(sha256.New, []byte(s.Secret))
	if _, err := mac.Write([]byte(payload)); err != nil {
		return fmt.Errorf("compute signature: %w", err)
	}

	req.Header.Set(HeaderAPIKey, s.Key)
	req.Header.Set(HeaderSignature, hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set(HeaderTimestamp, timestamp)

	return nil
}
