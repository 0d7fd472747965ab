// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package client

import (
	"context"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/jsonrpc"
)

// Request ids mirror the fixed correlation numbers used by the protocol
// handshake: initialize is always 1, tools/list 2, tools/call 3.
const (
	idInitialize = 1
	idListTools  = 2
	idCallTool   = 3
)

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Info           `json:"clientInfo"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Initialize performs the MCP handshake, advertising the protocol version and
// client identity.
func (c *Client) Initialize(ctx context.Context) (*jsonrpc.Message, error) {
	msg, err := jsonrpc.NewRequest(idInitialize, "initialize", initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.info,
	})
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, msg)
}

// ListTools asks the server for its tool catalog.
func (c *Client) ListTools(ctx context.Context) (*jsonrpc.Message, error) {
	msg, err := jsonrpc.NewRequest(idListTools, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, msg)
}

// CallTool invokes a named remote tool with the given arguments.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*jsonrpc.Message, error) {
	msg, err := jsonrpc.NewRequest(idCallTool, "tools/call", callToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, msg)
}

// FetchURL invokes the remote "fetch" tool against the given URL.
func (c *Client) FetchURL(ctx context.Context, url string) (*jsonrpc.Message, error) {
	return c.CallTool(ctx, "fetch", map[string]any{"url": url})
}
