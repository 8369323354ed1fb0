// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/parlor-chat/parlor/lib/netutil"
)

// heartbeatInterval is how often idle streams send a keepalive so
// clients and intermediaries don't tear down a quiet connection.
const heartbeatInterval = 30 * time.Second

// handleStream serves the live event tail over Server-Sent Events.
// History is not replayed here: clients fetch /api/history first, and
// the hub's attach-then-tail ordering makes the two join seamlessly.
// The stream ends when the client disconnects or the hub drops this
// subscriber as too slow.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	subscription := s.hub.Attach()
	defer subscription.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-subscription.Events():
			if !ok {
				// Dropped by the hub as a slow consumer.
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("encoding stream event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleWebSocket serves the live event tail over a WebSocket, one
// JSON text message per event. Like the SSE stream it carries only
// the live tail.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// The client never sends application data; CloseRead surfaces
	// client disconnect through the returned context.
	ctx := conn.CloseRead(r.Context())

	subscription := s.hub.Attach()
	defer subscription.Close()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-subscription.Events():
			if !ok {
				conn.Close(websocket.StatusTryAgainLater, "too slow")
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("encoding stream event", "error", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				if !netutil.IsExpectedCloseError(err) {
					s.logger.Debug("websocket write failed", "error", err)
				}
				return
			}
		case <-heartbeat.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
