// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging implements the subset of the Matrix client-server
// API that the bridge needs: password login, alias resolution, room
// join, idempotent message send, history backfill, long-poll /sync,
// and logout.
//
// [Client] is the unauthenticated entry point — it holds the
// homeserver URL and HTTP transport. [Client.Login] returns a
// [Session], which owns the access token (in an mmap-backed
// secret.Buffer, locked against swap and excluded from core dumps)
// and performs all authenticated calls.
//
// Server errors arrive as [*MatrixError] values carrying the Matrix
// errcode and HTTP status; callers classify them with [IsMatrixError]
// or errors.As. Passwords and tokens are converted to heap strings
// only at the JSON serialization boundary.
//
// The package deliberately speaks the plain (unencrypted) client-server
// API. End-to-end encryption, device verification, and cross-signing
// are homeserver/protocol concerns outside the bridge.
package messaging
