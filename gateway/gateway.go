// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway accepts outbound "send text" requests from any
// caller and serializes them through the active session. Failures come
// back as structured results with stable error codes; nothing from
// this package panics or leaks protocol internals past the boundary.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/parlor-chat/parlor/session"
)

// Error codes carried in Result. These cross the external boundary, so
// they are stable and deliberately non-sensitive.
const (
	CodeEmptyMessage = "empty_message"
	CodeNotConnected = "not_connected"
	CodeTransient    = "transient"
)

// Result is the outcome of a send. When OK is false, Code holds one of
// the Code constants and Message a short human-readable reason.
type Result struct {
	OK      bool   `json:"ok"`
	EventID string `json:"event_id,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Gateway serializes message sends through the session machine. One
// send is in flight at a time; ordering between concurrent callers is
// whatever the mutex gives, which is safe if not fair.
type Gateway struct {
	machine *session.Machine
	logger  *slog.Logger

	mu sync.Mutex
}

func New(machine *session.Machine, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{machine: machine, logger: logger}
}

// Send posts the text to the watched room. Transient failures are
// reported, not retried: an automatic retry could deliver the message
// twice.
func (g *Gateway) Send(ctx context.Context, text string) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	eventID, err := g.machine.Send(ctx, text)
	if err == nil {
		return Result{OK: true, EventID: eventID.String()}
	}

	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		return Result{Code: CodeEmptyMessage, Message: "message is empty"}
	case errors.Is(err, session.ErrNotConnected):
		return Result{Code: CodeNotConnected, Message: "no active session"}
	default:
		g.logger.Error("send failed", "error", err)
		return Result{Code: CodeTransient, Message: "send failed, try again"}
	}
}
