// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package proxy forwards MCP traffic to the configured upstream server.
// JSON-RPC requests are buffered so upstream error bodies can be logged and
// relayed, event-stream responses are passed through with a flush per line,
// and a circuit breaker shields a struggling upstream. Requests may
// optionally be HMAC-signed for upstreams that require it.
package proxy
