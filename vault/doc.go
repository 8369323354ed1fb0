// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault stores the room-account password encrypted at rest,
// keyed by an operator passphrase.
//
// The on-disk record is a CBOR document holding a version byte, a
// random argon2id salt, a random XChaCha20-Poly1305 nonce, and the
// ciphertext. Every Seal generates a fresh salt and nonce — records
// are replaced whole (temp file + rename) and never mutated in place,
// so a crash mid-write can never produce a torn record.
//
// Unlock derives the key with argon2id and attempts authenticated
// decryption. Every failure after the record has been read — corrupt
// CBOR, unsupported version, failed authentication — surfaces as the
// single opaque [ErrWrongPassphrase], so an attacker probing the
// endpoint cannot distinguish a bad passphrase from tampered data.
//
// Decrypted secrets are returned in mmap-backed secret.Buffers and
// are never logged. The passphrase itself is only ever read from a
// secret.Buffer.
package vault
