// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

// Package session drives the single chat-room session through an
// explicit state machine: Idle → Connecting → Active → Disconnecting →
// Idle, with a transient Failed phase on login or sync error that
// auto-returns to Idle. Whether Start, Stop, and Send are legal is a
// pure function of the current phase; there are no ad hoc connection
// booleans.
//
// An Active session runs one background goroutine long-polling the
// homeserver's /sync endpoint. Room messages are turned into events
// and delivered on the machine's Events channel, which must have
// exactly one consumer (the hub ingest pump). The channel is closed
// when the session leaves Active, ending the consumer's range loop
// cleanly.
package session
