// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

// Package web is the browser-facing HTTP surface of the bridge. It is
// a thin transport layer: every handler translates a request into one
// of the abstract operations (unlock, start, stop, attach, send) and
// a response, with the bridge logic itself living in the vault,
// session, hub, and gateway packages.
//
// Live events reach the browser two ways: an SSE stream at
// /api/stream and a WebSocket at /api/ws. Both serve the live tail
// only; clients fetch /api/history first and the hub's
// attach-then-tail ordering guarantees the two views join without gap
// or duplicate.
//
// Responses never carry secrets, stack traces, or protocol internals.
package web
