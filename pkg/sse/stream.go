// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package sse consumes the server-sent event stream exposed by an MCP
// endpoint. The stream is server-driven and non-restartable: the consumer may
// stop reading at any point and close the connection without any protocol
// level acknowledgment.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// HeaderSessionID carries the server-assigned session identifier on the
	// streaming GET response and on subsequent POST requests.
	HeaderSessionID = "Mcp-Session-Id"

	contentTypeEventStream = "text/event-stream"
)

var (
	// ErrMissingSessionID indicates the streaming response lacked the
	// Mcp-Session-Id header.
	ErrMissingSessionID = errors.New("sse: missing session id header")
	// ErrMalformedEvent indicates event data that does not parse as JSON.
	ErrMalformedEvent = errors.New("sse: malformed event data")
	// ErrTransport indicates a non-success HTTP status while opening the stream.
	ErrTransport = errors.New("sse: transport error")
)

// Stream is an open server-sent event connection.
type Stream struct {
	// SessionID is the identifier extracted from the response headers.
	SessionID string
	body      io.ReadCloser
	scanner   *bufio.Scanner
}

// Open issues a streaming GET request against url and extracts the session
// identifier from the response headers. The caller owns the returned Stream
// and must Close it.
func Open(ctx context.Context, client *http.Client, url string) (*Stream, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", contentTypeEventStream)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
	}

	sessionID := resp.Header.Get(HeaderSessionID)
	if sessionID == "" {
		resp.Body.Close()
		return nil, ErrMissingSessionID
	}

	return NewStream(resp.Body, sessionID), nil
}

// NewStream wraps an already-open event stream body. Used by Open and by
// tests that feed a fixed stream.
func NewStream(body io.ReadCloser, sessionID string) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{
		SessionID: sessionID,
		body:      body,
		scanner:   scanner,
	}
}

// Next blocks until the next complete event arrives. It returns io.EOF once
// the server closes the stream. Comment lines and unknown fields are skipped;
// event data is delivered raw regardless of whether it is valid JSON.
func (s *Stream) Next() (Event, error) {
	var (
		ev       Event
		dataSeen bool
		data     []string
	)

	for s.scanner.Scan() {
		line := s.scanner.Text()

		// A blank line dispatches the accumulated event.
		if line == "" {
			if dataSeen || ev.Name != "" || ev.ID != "" {
				if ev.Name == "" {
					ev.Name = "message"
				}
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			continue
		}

		// Lines starting with a colon are comments (keepalives).
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
			dataSeen = true
		case "id":
			ev.ID = value
		}
	}

	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read stream: %w", err)
	}

	// Flush a trailing event that was not followed by a blank line.
	if dataSeen || ev.Name != "" {
		if ev.Name == "" {
			ev.Name = "message"
		}
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}

	return Event{}, io.EOF
}

// Close tears down the underlying connection. Safe to call while a reader is
// blocked in Next; the pending read fails and the stream ends.
func (s *Stream) Close() error {
	return s.body.Close()
}
