// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/jsonrpc"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/sse"
)

func TestCreateSessionStoresServerID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sse/sessions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "abc-123"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	id, err := c.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id != "abc-123" {
		t.Fatalf("unexpected session id: %q", id)
	}
	if c.SessionID() != "abc-123" {
		t.Fatalf("session id not stored: %q", c.SessionID())
	}
}

func TestCreateSessionRejectsEmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.CreateSession(context.Background()); !errors.Is(err, ErrSessionCreation) {
		t.Fatalf("expected ErrSessionCreation, got %v", err)
	}
}

func TestCreateSessionFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.CreateSession(context.Background()); !errors.Is(err, ErrSessionCreation) {
		t.Fatalf("expected ErrSessionCreation, got %v", err)
	}
}

func TestSendBeforeSessionFails(t *testing.T) {
	c := New("http://127.0.0.1:1")

	msg, err := jsonrpc.NewRequest(1, "initialize", nil)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if _, err := c.Send(context.Background(), msg); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if _, err := c.Post(context.Background(), msg); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for Post, got %v", err)
	}
}

// mcpServer decodes the posted message and records it before replying.
func mcpServer(t *testing.T, received *jsonrpc.Message) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/sse/sessions":
			json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-1"})
		default:
			if err := json.NewDecoder(r.Body).Decode(received); err != nil {
				t.Errorf("decode posted message: %v", err)
			}
			id := int64(0)
			if received.ID != nil {
				id = *received.ID
			}
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      id,
				"result":  map[string]any{},
			})
		}
	}))
}

func TestInitializePayload(t *testing.T) {
	var received jsonrpc.Message
	srv := mcpServer(t, &received)
	defer srv.Close()

	c := New(srv.URL, WithInfo(Info{Name: "probe-test", Version: "0.1.0"}))
	if _, err := c.CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if received.Method != "initialize" {
		t.Fatalf("unexpected method: %q", received.Method)
	}
	if received.ID == nil || *received.ID != 1 {
		t.Fatalf("initialize must use id 1, got %v", received.ID)
	}

	var params initializeParams
	if err := json.Unmarshal(received.Params, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.ProtocolVersion != ProtocolVersion {
		t.Fatalf("unexpected protocol version: %q", params.ProtocolVersion)
	}
	if params.ClientInfo.Name != "probe-test" {
		t.Fatalf("client info not advertised: %+v", params.ClientInfo)
	}
}

func TestListToolsPayload(t *testing.T) {
	var received jsonrpc.Message
	srv := mcpServer(t, &received)
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := c.ListTools(context.Background()); err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	if received.Method != "tools/list" {
		t.Fatalf("unexpected method: %q", received.Method)
	}
	if received.ID == nil || *received.ID != 2 {
		t.Fatalf("tools/list must use id 2, got %v", received.ID)
	}
}

func TestFetchURLPayload(t *testing.T) {
	var received jsonrpc.Message
	srv := mcpServer(t, &received)
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := c.FetchURL(context.Background(), "https://example.com/page"); err != nil {
		t.Fatalf("FetchURL: %v", err)
	}

	if received.Method != "tools/call" {
		t.Fatalf("unexpected method: %q", received.Method)
	}
	if received.ID == nil || *received.ID != 3 {
		t.Fatalf("tools/call must use id 3, got %v", received.ID)
	}

	var params callToolParams
	if err := json.Unmarshal(received.Params, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.Name != "fetch" {
		t.Fatalf("unexpected tool name: %q", params.Name)
	}
	if got := params.Arguments["url"]; got != "https://example.com/page" {
		t.Fatalf("unexpected url argument: %v", got)
	}
}

func TestSendTargetsSessionPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sse/sessions" {
			json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-42"})
			return
		}
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": map[string]any{}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if gotPath != "/sse/sessions/sess-42/messages" {
		t.Fatalf("unexpected message path: %q", gotPath)
	}
}

func TestConnectAndPostUseHeaderSession(t *testing.T) {
	var postedHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mcp/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set(sse.HeaderSessionID, "hdr-7")
			w.WriteHeader(http.StatusOK)
		case http.MethodPost:
			postedHeader = r.Header.Get(sse.HeaderSessionID)
			json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": map[string]any{}})
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	stream, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer stream.Close()

	if c.SessionID() != "hdr-7" {
		t.Fatalf("stream session id not adopted: %q", c.SessionID())
	}

	msg, err := jsonrpc.NewRequest(1, "initialize", nil)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if _, err := c.Post(context.Background(), msg); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if postedHeader != "hdr-7" {
		t.Fatalf("post missing session header: %q", postedHeader)
	}
}

func TestPostSurfacesTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sse/sessions" {
			json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-1"})
			return
		}
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := c.Initialize(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}
