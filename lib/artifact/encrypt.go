// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of the master payload encryption key
// and of every derived per-payload key.
const KeySize = 32

// sealedVersion is the version byte prepended to every sealed payload.
// It is included as additional authenticated data in the AEAD call, so
// tampering with it causes authentication failure rather than a
// confusing decrypt of mismatched format.
const sealedVersion byte = 0x01

// sealedOverhead is the byte overhead per sealed payload: 1 (version)
// + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const sealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfoPayload is the HKDF-SHA256 info prefix for per-payload key
// derivation. Changing it invalidates all sealed payloads.
var hkdfInfoPayload = []byte("relic.payload.enc.v1")

// derivePayloadKey derives the per-payload encryption key from the
// master key and the payload's content hash. Every payload is sealed
// under its own key; compromise of one derived key exposes one
// payload. The same hash always derives the same key, so deduplicated
// writes remain deduplicated at rest.
func derivePayloadKey(masterKey []byte, hash Hash) ([]byte, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("master key is %d bytes, want %d", len(masterKey), KeySize)
	}

	info := make([]byte, 0, len(hkdfInfoPayload)+len(hash))
	info = append(info, hkdfInfoPayload...)
	info = append(info, hash[:]...)

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, info), key); err != nil {
		return nil, fmt.Errorf("deriving payload key: %w", err)
	}
	return key, nil
}

// sealPayload encrypts plaintext under the per-payload key derived
// from masterKey and hash. The content hash is bound in as
// authenticated data: a sealed payload cannot be swapped under a
// different hash without failing to open. Output layout:
//
//	version(1) || nonce(24) || ciphertext+tag
func sealPayload(masterKey []byte, hash Hash, plaintext []byte) ([]byte, error) {
	key, err := derivePayloadKey(masterKey, hash)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("initializing payload cipher: %w", err)
	}

	sealed := make([]byte, 1+chacha20poly1305.NonceSizeX, len(plaintext)+sealedOverhead)
	sealed[0] = sealedVersion
	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating payload nonce: %w", err)
	}

	return aead.Seal(sealed, nonce, plaintext, sealAAD(hash)), nil
}

// openPayload reverses sealPayload. Any tampering with the version
// byte, nonce, or ciphertext, or a mismatched content hash, fails
// authentication and is reported as an integrity violation.
func openPayload(masterKey []byte, hash Hash, sealed []byte) ([]byte, error) {
	if len(sealed) < sealedOverhead {
		return nil, fmt.Errorf("%w: sealed payload %s is %d bytes, shorter than the %d-byte envelope",
			ErrIntegrity, FormatRef(hash), len(sealed), sealedOverhead)
	}
	if sealed[0] != sealedVersion {
		return nil, fmt.Errorf("%w: sealed payload %s has version %d, want %d",
			ErrIntegrity, FormatRef(hash), sealed[0], sealedVersion)
	}

	key, err := derivePayloadKey(masterKey, hash)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("initializing payload cipher: %w", err)
	}

	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[1+chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, sealAAD(hash))
	if err != nil {
		return nil, fmt.Errorf("%w: opening sealed payload %s: %v", ErrIntegrity, FormatRef(hash), err)
	}
	return plaintext, nil
}

// sealAAD builds the additional authenticated data for a payload: the
// version byte followed by the content hash.
func sealAAD(hash Hash) []byte {
	aad := make([]byte, 0, 1+len(hash))
	aad = append(aad, sealedVersion)
	aad = append(aad, hash[:]...)
	return aad
}
