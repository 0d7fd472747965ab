// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/auth"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/config"
)

// hopHeaders lists standard hop-by-hop headers that must be stripped before a
// request is proxied so the upstream connection semantics remain correct.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

const (
	breakerThreshold = 5
	breakerTimeout   = 30 * time.Second

	maxRetries     = 2
	retryBaseDelay = 100 * time.Millisecond
)

// Proxy forwards MCP requests to the upstream server. JSON-RPC POSTs are
// buffered so error bodies can be logged; event-stream responses are pumped
// through unbuffered with a flush per line.
type Proxy struct {
	// cfg keeps runtime knobs such as the upstream URL and timeouts.
	cfg config.Config
	// client performs buffered upstream requests.
	client *http.Client
	// streamClient performs streaming requests; it carries no timeout so
	// long-lived SSE connections are never cut off by the proxy.
	streamClient *http.Client
	// signer optionally injects HMAC headers for signing upstreams.
	signer *auth.Signer
	// breaker guards the upstream against hammering a dead target.
	breaker *Breaker
	// logger emits structured logs for observability.
	logger zerolog.Logger
	// baseURL is the parsed upstream address used to resolve inbound paths.
	baseURL *url.URL
}

// New constructs a Proxy backed by an http.Client configured with sensible
// connection pooling defaults and the provided runtime configuration.
func New(cfg config.Config) (*Proxy, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, // nolint:gosec -- opt-in for development scenarios
		},
	}

	logger := log.With().Str("component", "proxy").Logger()

	var signer *auth.Signer
	if cfg.APIKey != "" && cfg.APISecret != "" {
		signer = auth.NewSigner(cfg.APIKey, cfg.APISecret)
	}

	handler := &Proxy{
		cfg:          cfg,
		client:       &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		streamClient: &http.Client{Transport: transport},
		signer:       signer,
		breaker:      NewBreaker(breakerThreshold, breakerTimeout, logger),
		logger:       logger,
		baseURL:      cloneURL(cfg.Upstream),
	}

	return handler, nil
}

// ServeHTTP routes the request either through the buffered forwarding path
// or the streaming passthrough, guarded by the circuit breaker.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	event := p.logger.With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Logger()

	if !p.breaker.Allow() {
		event.Warn().Msg("breaker open; rejecting request")
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	// Respond locally for discovery metadata probes to avoid noisy upstream 404s.
	if r.Method == http.MethodGet && isDiscoveryPath(r.URL.Path) {
		http.NotFound(w, r)
		event.Debug().Msg("discovery metadata not available; returning 404")
		return
	}

	if isStreamingRequest(r) {
		p.streamUpstream(w, r, event)
		return
	}

	resp, err := p.forwardRequest(r, event)
	if err != nil {
		p.breaker.RecordFailure()
		status := http.StatusBadGateway
		var httpErr *httpError
		if errors.As(err, &httpErr) {
			status = httpErr.Status
		}
		http.Error(w, http.StatusText(status), status)
		event.Error().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("request failed")
		return
	}
	p.breaker.RecordSuccess()

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			event.Error().
				Err(closeErr).
				Msg("close upstream response body failed")
		}
	}()

	// Default to streaming the upstream body unless we need to inspect errors.
	var bodyReader io.Reader = resp.Body
	if resp.StatusCode >= http.StatusBadRequest {
		const maxLogBody = 64 * 1024 // limit to a manageable payload for logs.
		payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxLogBody))
		if readErr != nil {
			event.Error().
				Err(readErr).
				Int("status", resp.StatusCode).
				Msg("failed to read upstream error body")
		} else {
			event.Warn().
				Int("status", resp.StatusCode).
				Bytes("upstream_body", payload).
				Msg("upstream returned error")
			bodyReader = bytes.NewReader(payload)
		}
	}

	cleanHopHeaders(resp.Header)
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, copyErr := io.Copy(w, bodyReader); copyErr != nil {
		event.Error().
			Err(copyErr).
			Dur("duration", time.Since(start)).
			Msg("stream response failed")
		return
	}

	event.Info().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request proxied")
}

// forwardRequest clones the inbound request, augments headers, signs it, and
// returns the upstream response for the caller to stream back. Idempotent
// methods are retried on connection errors with a short backoff.
func (p *Proxy) forwardRequest(r *http.Request, event zerolog.Logger) (*http.Response, error) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	defer func() {
		if err := r.Body.Close(); err != nil {
			event.Error().
				Err(err).
				Msg("close request body failed")
		}
	}()

	attempts := 1
	if isIdempotent(r.Method) {
		attempts += maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			event.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("retrying upstream request")
			select {
			case <-r.Context().Done():
				return nil, &httpError{Status: http.StatusGatewayTimeout, Err: r.Context().Err()}
			case <-time.After(delay):
			}
		}

		resp, err := p.sendUpstream(r, bodyBytes)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var httpErr *httpError
		if errors.As(err, &httpErr) {
			// Timeouts and cancellations are not retried.
			return nil, err
		}
	}

	return nil, lastErr
}

func (p *Proxy) sendUpstream(r *http.Request, body []byte) (*http.Response, error) {
	targetURL := p.singleJoiningURL(r.URL)

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	copyHeaders(upstreamReq.Header, r.Header)
	cleanHopHeaders(upstreamReq.Header)
	augmentForwardHeaders(upstreamReq.Header, r)
	upstreamReq.Host = targetURL.Host

	if p.signer != nil {
		if err := p.signer.AttachSignature(upstreamReq); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

func classifyTransportError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &httpError{Status: http.StatusGatewayTimeout, Err: err}
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &httpError{Status: http.StatusGatewayTimeout, Err: err}
		}
	}
	return fmt.Errorf("perform upstream request: %w", err)
}

// isIdempotent reports whether the method may be retried safely. JSON-RPC
// POSTs never are: the upstream could have processed the call.
func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// isStreamingRequest detects clients asking for a server-sent event stream.
func isStreamingRequest(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// isDiscoveryPath identifies well-known OAuth discovery URL probes.
func isDiscoveryPath(path string) bool {
	return strings.HasPrefix(path, "/.well-known/oauth-authorization-server")
}

// singleJoiningURL resolves the incoming path relative to the configured base.
func (p *Proxy) singleJoiningURL(requestURL *url.URL) *url.URL {
	ref := &url.URL{
		Path:     requestURL.Path,
		RawPath:  requestURL.RawPath,
		RawQuery: requestURL.RawQuery,
		Fragment: requestURL.Fragment,
	}
	return p.baseURL.ResolveReference(ref)
}

// cloneURL makes a shallow copy of the provided URL pointer.
func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}

// copyHeaders appends all headers from src into dst.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// cleanHopHeaders removes hop-by-hop headers that should not be forwarded.
func cleanHopHeaders(h http.Header) {
	for k := range hopHeaders {
		h.Del(k)
	}
}

// augmentForwardHeaders ensures X-Forwarded-* headers capture client metadata.
func augmentForwardHeaders(h http.Header, r *http.Request) {
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		prior := r.Header.Get("X-Forwarded-For")
		if prior != "" {
			clientIP = prior + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		h.Set("X-Forwarded-Proto", scheme)
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
	h.Set("X-Forwarded-Host", r.Host)
}

// Health probes the upstream root so the health endpoint can report on the
// target. Any response, including an error status, counts as reachable.
func (p *Proxy) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL.String(), nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream unreachable: %w", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return resp.Body.Close()
}

// httpError wraps a status code with the underlying error from the upstream round trip.
type httpError struct {
	Status int   // Status preserves the HTTP status to emit downstream.
	Err    error // Err retains the original cause for logging.
}

// Error implements the error interface for httpError.
func (e *httpError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Status, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *httpError) Unwrap() error {
	return e.Err
}
