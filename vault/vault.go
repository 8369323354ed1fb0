// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/parlor-chat/parlor/lib/codec"
	"github.com/parlor-chat/parlor/lib/secret"
)

// recordVersion is the version byte carried in every vault record.
// Included as additional authenticated data (AAD) in the AEAD
// Seal/Open call, so tampering with the version causes authentication
// failure.
const recordVersion byte = 0x01

// saltSize is the size in bytes of the random argon2id salt. A fresh
// salt is generated on every Seal — salts are never reused across
// records.
const saltSize = 16

// keySize is the size in bytes of the derived encryption key.
const keySize = 32

// argon2id parameters. Deliberately slow: the vault is unlocked once
// per session start, never on a latency-sensitive path.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// ErrWrongPassphrase is returned by Unlock for every failure mode
// after the record has been read: wrong passphrase, corrupt record,
// unsupported version. The single opaque error avoids giving a
// probing caller an oracle for which of those occurred.
var ErrWrongPassphrase = errors.New("vault: wrong passphrase")

// ErrNoRecord is returned by Unlock when no vault record exists yet.
// The boundary layer uses this (via Exists) to require the account
// password on first login.
var ErrNoRecord = errors.New("vault: no record")

// record is the on-disk CBOR document.
type record struct {
	Version    byte   `cbor:"version"`
	Salt       []byte `cbor:"salt"`
	Nonce      []byte `cbor:"nonce"`
	Ciphertext []byte `cbor:"ciphertext"`
}

// Vault encrypts and decrypts the room-account password at rest.
type Vault struct {
	path   string
	logger *slog.Logger
}

// New creates a Vault storing its record at path. The parent directory
// must exist. If logger is nil, slog.Default() is used.
func New(path string, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{path: path, logger: logger}
}

// Path returns the record's filesystem location.
func (v *Vault) Path() string {
	return v.path
}

// Exists reports whether a vault record is already persisted. This
// gates first-run UX: when false, login requires the account password
// so a record can be created; when true, the passphrase alone unlocks
// it.
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// Seal encrypts secretValue under a key derived from passphrase and
// atomically replaces the on-disk record. A fresh random salt and
// nonce are generated on every call. Both buffers are borrowed (read,
// not closed) — the caller retains ownership.
func (v *Vault) Seal(secretValue, passphrase *secret.Buffer) error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("vault: generating salt: %w", err)
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return fmt.Errorf("vault: creating cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("vault: generating nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, secretValue.Bytes(), []byte{recordVersion})

	data, err := codec.Marshal(record{
		Version:    recordVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return fmt.Errorf("vault: encoding record: %w", err)
	}

	if err := writeAtomic(v.path, data); err != nil {
		return err
	}

	v.logger.Info("vault record written", "path", v.path)
	return nil
}

// Unlock reads the record, derives the key from passphrase and the
// stored salt, and returns the decrypted secret in an mmap-backed
// buffer the caller must close. Returns ErrNoRecord when no record
// exists, and ErrWrongPassphrase for every other failure.
func (v *Vault) Unlock(passphrase *secret.Buffer) (*secret.Buffer, error) {
	data, err := os.ReadFile(v.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("vault: reading record: %w", err)
	}

	// From here on, every failure is the opaque ErrWrongPassphrase:
	// a corrupt record and a wrong passphrase must be
	// indistinguishable to the caller.
	var stored record
	if err := codec.Unmarshal(data, &stored); err != nil {
		return nil, ErrWrongPassphrase
	}
	if stored.Version != recordVersion ||
		len(stored.Salt) != saltSize ||
		len(stored.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrWrongPassphrase
	}

	key, err := deriveKey(passphrase, stored.Salt)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, stored.Nonce, stored.Ciphertext, []byte{stored.Version})
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	// Move the plaintext into mmap-backed memory immediately.
	// NewFromBytes zeros the heap copy.
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("vault: protecting decrypted secret: %w", err)
	}
	return buffer, nil
}

// deriveKey runs argon2id over the passphrase and salt. The derived
// key is returned in an mmap-backed buffer; the intermediate heap
// copy is zeroed.
func deriveKey(passphrase *secret.Buffer, salt []byte) (*secret.Buffer, error) {
	derived := argon2.IDKey(passphrase.Bytes(), salt, argonTime, argonMemory, argonThreads, keySize)
	buffer, err := secret.NewFromBytes(derived)
	if err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("vault: protecting derived key: %w", err)
	}
	return buffer, nil
}

// writeAtomic writes data to a temporary file in the record's
// directory, fsyncs it, and renames it into place. Readers never see
// a partial record, even across a crash mid-write.
func writeAtomic(path string, data []byte) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("vault: creating temporary record: %w", err)
	}

	// Write, sync, close — in that order. If any step fails, remove
	// the temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("vault: writing temporary record: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("vault: syncing temporary record: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("vault: closing temporary record: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("vault: renaming record into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss
	// between rename and the OS flushing directory metadata.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}
