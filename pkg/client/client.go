// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package client implements a session-scoped JSON-RPC client for MCP
// endpoints fronted by the proxy. Two addressing modes are supported: the
// path-scoped legacy SSE endpoints (/sse/sessions/{id}/messages) and the
// header-scoped streamable endpoint (/mcp/ with Mcp-Session-Id).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/jsonrpc"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/sse"
)

// ProtocolVersion is the MCP protocol revision advertised during initialize.
const ProtocolVersion = "2024-11-05"

var (
	// ErrSessionCreation indicates the server did not return a usable session
	// identifier.
	ErrSessionCreation = errors.New("client: session creation failed")
	// ErrNoSession indicates a message was sent before any session existed.
	ErrNoSession = errors.New("client: no active session")
	// ErrTransport indicates a non-success HTTP status from the server.
	ErrTransport = errors.New("client: transport error")
)

// Info identifies this client to the server during initialize.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Client talks JSON-RPC to a single MCP endpoint. The session identifier is
// held as an explicit field so independent sessions never share state; a
// Client is not safe for concurrent use.
type Client struct {
	baseURL   string
	httpc     *http.Client
	logger    zerolog.Logger
	info      Info
	sessionID string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithLogger attaches a structured logger; the default discards output.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithInfo overrides the client identity sent during initialize.
func WithInfo(info Info) Option {
	return func(c *Client) { c.info = info }
}

// New builds a Client for the given proxy base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   http.DefaultClient,
		logger:  zerolog.Nop(),
		info:    Info{Name: "mcp-probe", Version: "1.0.0"},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the currently held session identifier, if any.
func (c *Client) SessionID() string {
	return c.sessionID
}

// CreateSession asks the server for a new session and stores the returned
// identifier for subsequent calls.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sse/sessions", nil)
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionCreation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: unexpected status %d", ErrSessionCreation, resp.StatusCode)
	}

	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrSessionCreation, err)
	}
	if payload.SessionID == "" {
		return "", fmt.Errorf("%w: response carried no sessionId", ErrSessionCreation)
	}

	c.sessionID = payload.SessionID
	c.logger.Debug().Str("session_id", c.sessionID).Msg("session created")
	return c.sessionID, nil
}

// Send posts a JSON-RPC message to the active path-scoped session and returns
// the parsed response. Fails with ErrNoSession before CreateSession succeeds.
func (c *Client) Send(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	if c.sessionID == "" {
		return nil, ErrNoSession
	}
	url := fmt.Sprintf("%s/sse/sessions/%s/messages", c.baseURL, c.sessionID)
	return c.post(ctx, url, msg, nil)
}

// Connect opens the header-scoped event stream, stores the session id the
// server assigned, and hands the stream to the caller.
func (c *Client) Connect(ctx context.Context) (*sse.Stream, error) {
	stream, err := sse.Open(ctx, c.httpc, c.baseURL+"/mcp/")
	if err != nil {
		return nil, err
	}
	c.sessionID = stream.SessionID
	c.logger.Debug().Str("session_id", c.sessionID).Msg("stream opened")
	return stream, nil
}

// Post sends a JSON-RPC message to the header-scoped endpoint, tagging it
// with the Mcp-Session-Id header.
func (c *Client) Post(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	if c.sessionID == "" {
		return nil, ErrNoSession
	}
	headers := http.Header{}
	headers.Set(sse.HeaderSessionID, c.sessionID)
	return c.post(ctx, c.baseURL+"/mcp/", msg, headers)
}

func (c *Client) post(ctx context.Context, url string, msg *jsonrpc.Message, headers http.Header) (*jsonrpc.Message, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vv := range headers {
		for _, v := range vv {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var reply jsonrpc.Message
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &reply, nil
}
