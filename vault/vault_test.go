// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/parlor-chat/parlor/lib/secret"
)

func testBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString(value)
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func testVault(t *testing.T) *Vault {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "vault.cbor"), nil)
}

func TestSealUnlock_RoundTrip(t *testing.T) {
	vault := testVault(t)

	if vault.Exists() {
		t.Error("Exists() = true before first Seal")
	}

	if err := vault.Seal(testBuffer(t, "account-password"), testBuffer(t, "pw1")); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if !vault.Exists() {
		t.Error("Exists() = false after Seal")
	}

	unlocked, err := vault.Unlock(testBuffer(t, "pw1"))
	if err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	defer unlocked.Close()

	if got := unlocked.String(); got != "account-password" {
		t.Errorf("Unlock() = %q, want %q", got, "account-password")
	}
}

func TestUnlock_WrongPassphrase(t *testing.T) {
	vault := testVault(t)
	if err := vault.Seal(testBuffer(t, "s"), testBuffer(t, "correct")); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	_, err := vault.Unlock(testBuffer(t, "incorrect"))
	if !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Unlock(wrong) error = %v, want ErrWrongPassphrase", err)
	}
}

func TestUnlock_NoRecord(t *testing.T) {
	vault := testVault(t)
	_, err := vault.Unlock(testBuffer(t, "pw"))
	if !errors.Is(err, ErrNoRecord) {
		t.Errorf("Unlock(empty vault) error = %v, want ErrNoRecord", err)
	}
}

func TestUnlock_CorruptRecord(t *testing.T) {
	vault := testVault(t)
	if err := vault.Seal(testBuffer(t, "s"), testBuffer(t, "pw")); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	// Flip a byte in the stored record. Corruption must surface as the
	// same opaque error as a wrong passphrase.
	data, err := os.ReadFile(vault.Path())
	if err != nil {
		t.Fatalf("reading record: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(vault.Path(), data, 0600); err != nil {
		t.Fatalf("writing corrupted record: %v", err)
	}

	_, err = vault.Unlock(testBuffer(t, "pw"))
	if !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Unlock(corrupt) error = %v, want ErrWrongPassphrase", err)
	}
}

func TestUnlock_GarbageRecord(t *testing.T) {
	vault := testVault(t)
	if err := os.WriteFile(vault.Path(), []byte("not cbor at all"), 0600); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}

	_, err := vault.Unlock(testBuffer(t, "pw"))
	if !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Unlock(garbage) error = %v, want ErrWrongPassphrase", err)
	}
}

func TestSeal_FreshSaltAndNonce(t *testing.T) {
	vault := testVault(t)

	if err := vault.Seal(testBuffer(t, "same-secret"), testBuffer(t, "same-pw")); err != nil {
		t.Fatalf("first Seal() error: %v", err)
	}
	first, err := os.ReadFile(vault.Path())
	if err != nil {
		t.Fatalf("reading first record: %v", err)
	}

	if err := vault.Seal(testBuffer(t, "same-secret"), testBuffer(t, "same-pw")); err != nil {
		t.Fatalf("second Seal() error: %v", err)
	}
	second, err := os.ReadFile(vault.Path())
	if err != nil {
		t.Fatalf("reading second record: %v", err)
	}

	if string(first) == string(second) {
		t.Error("re-sealing identical secret+passphrase produced identical records (salt/nonce reuse)")
	}

	// The replaced record still unlocks.
	unlocked, err := vault.Unlock(testBuffer(t, "same-pw"))
	if err != nil {
		t.Fatalf("Unlock() after re-seal error: %v", err)
	}
	defer unlocked.Close()
	if unlocked.String() != "same-secret" {
		t.Errorf("Unlock() = %q after re-seal", unlocked.String())
	}
}

func TestSeal_ReplacesAtomically(t *testing.T) {
	vault := testVault(t)
	if err := vault.Seal(testBuffer(t, "v1"), testBuffer(t, "pw")); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if err := vault.Seal(testBuffer(t, "v2"), testBuffer(t, "pw")); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	// No temp file left behind.
	if _, err := os.Stat(vault.Path() + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temporary record still present after Seal: %v", err)
	}

	unlocked, err := vault.Unlock(testBuffer(t, "pw"))
	if err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	defer unlocked.Close()
	if unlocked.String() != "v2" {
		t.Errorf("Unlock() = %q, want %q", unlocked.String(), "v2")
	}
}

func TestRecordPermissions(t *testing.T) {
	vault := testVault(t)
	if err := vault.Seal(testBuffer(t, "s"), testBuffer(t, "pw")); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	info, err := os.Stat(vault.Path())
	if err != nil {
		t.Fatalf("stat record: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("record mode = %o, want 0600", mode)
	}
}
