// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// streamUpstream forwards an event-stream request without buffering. Each
// line from the upstream is flushed immediately so clients see events as
// they happen; the connection lives until either side disconnects.
func (p *Proxy) streamUpstream(w http.ResponseWriter, r *http.Request, event zerolog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		event.Error().Msg("response writer does not support flushing for SSE")
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	targetURL := p.singleJoiningURL(r.URL)

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), r.Body)
	if err != nil {
		event.Error().Err(err).Msg("build upstream stream request failed")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	copyHeaders(upstreamReq.Header, r.Header)
	cleanHopHeaders(upstreamReq.Header)
	augmentForwardHeaders(upstreamReq.Header, r)
	upstreamReq.Host = targetURL.Host

	if p.signer != nil {
		if err := p.signer.AttachSignature(upstreamReq); err != nil {
			event.Error().Err(err).Msg("sign stream request failed")
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}
	}

	resp, err := p.streamClient.Do(upstreamReq)
	if err != nil {
		p.breaker.RecordFailure()
		event.Error().Err(err).Msg("open upstream stream failed")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	p.breaker.RecordSuccess()
	defer resp.Body.Close()

	cleanHopHeaders(resp.Header)
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	flusher.Flush()

	// Non-stream responses (e.g. the upstream rejecting the subscription)
	// are relayed as-is.
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		if _, err := io.Copy(w, resp.Body); err != nil {
			event.Error().Err(err).Msg("relay non-stream response failed")
		}
		return
	}

	start := time.Now()
	event.Info().Msg("event stream opened")

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(line); werr != nil {
				event.Debug().Err(werr).Msg("client disconnected from stream")
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				event.Error().Err(err).Msg("read upstream stream failed")
			}
			break
		}
	}

	event.Info().
		Dur("duration", time.Since(start)).
		Msg("event stream closed")
}
