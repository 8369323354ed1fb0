// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"fmt"

	"github.com/parlor-chat/parlor/lib/codec"
	"github.com/parlor-chat/parlor/lib/secret"
)

// credentialsRecord is the plaintext layout sealed into the vault:
// the account username alongside its password, so a passphrase unlock
// yields everything a session start needs.
type credentialsRecord struct {
	Username string `cbor:"username"`
	Password string `cbor:"password"`
}

// SealCredentials encrypts the username/password pair under the
// passphrase and persists the record, replacing any existing one.
func (v *Vault) SealCredentials(username string, password, passphrase *secret.Buffer) error {
	encoded, err := codec.Marshal(credentialsRecord{
		Username: username,
		Password: password.String(),
	})
	if err != nil {
		return fmt.Errorf("vault: encoding credentials: %w", err)
	}

	// Move the plaintext into a locked buffer; NewFromBytes zeros the
	// encoded slice.
	plaintext, err := secret.NewFromBytes(encoded)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	defer plaintext.Close()

	return v.Seal(plaintext, passphrase)
}

// UnlockCredentials decrypts the stored record and returns the
// username and password. The caller owns the returned buffer and must
// Close it after use.
func (v *Vault) UnlockCredentials(passphrase *secret.Buffer) (username string, password *secret.Buffer, err error) {
	plaintext, err := v.Unlock(passphrase)
	if err != nil {
		return "", nil, err
	}
	defer plaintext.Close()

	var record credentialsRecord
	if err := codec.Unmarshal(plaintext.Bytes(), &record); err != nil {
		// A record that decrypts but doesn't decode was sealed by
		// something else entirely; present it the same as any other
		// integrity failure.
		return "", nil, ErrWrongPassphrase
	}

	password, err = secret.NewFromString(record.Password)
	if err != nil {
		return "", nil, fmt.Errorf("vault: %w", err)
	}
	return record.Username, password, nil
}
