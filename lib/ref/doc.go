// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifier
// values: [RoomID], [RoomAlias], [UserID], and [EventID].
//
// Identifiers arrive from configuration and from homeserver responses
// as raw strings and are parsed into these types at the boundary.
// Parlor code never constructs room or event IDs by hand — they come
// from the homeserver via alias resolution, /sync responses, or send
// acknowledgements.
//
// All constructors validate the structural format (sigil prefix,
// ':server' suffix where the Matrix spec requires one). Once
// constructed, a ref is immutable. The zero value of every type is
// invalid; use IsZero to check. JSON marshaling uses the canonical
// string form via encoding.TextMarshaler.
package ref
