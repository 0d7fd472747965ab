// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package jsonrpc holds the minimal JSON-RPC 2.0 message model exchanged with
// MCP servers. Every request carrying an id expects exactly one correlated
// response; notifications omit the id and expect none.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version emitted or accepted.
const Version = "2.0"

// Message is a JSON-RPC 2.0 request, response, or notification.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      *int64          `json:"id,omitempty"`
}

// Error is the error object carried by failed responses.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface so RPC failures can be wrapped.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request message with the given id, method, and params.
// Params must marshal to a JSON object or array.
func NewRequest(id int64, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
		ID:      &id,
	}, nil
}

// NewNotification builds a message without an id; the server must not reply.
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

// IsRequest reports whether the message is a call expecting a response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// IsNotification reports whether the message is a fire-and-forget call.
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// IsResponse reports whether the message correlates to an earlier request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil && (m.Result != nil || m.Error != nil)
}

// UnmarshalResult decodes the result payload into v. Returns the embedded
// error object when the response carries one.
func (m *Message) UnmarshalResult(v any) error {
	if m.Error != nil {
		return m.Error
	}
	if m.Result == nil {
		return fmt.Errorf("jsonrpc: message has no result")
	}
	return json.Unmarshal(m.Result, v)
}
