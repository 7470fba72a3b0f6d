// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest. All artifact identities are this
// size; the hex encoding is the canonical external form.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures the same input bytes produce different hashes in
// different contexts, so a payload hash can never collide with a hash
// computed in another domain over the same bytes.
type domainKey [32]byte

// contentDomainKey is the domain for document content hashes. The
// byte values are the ASCII encoding of the domain name, zero-padded
// to 32 bytes: readable in hex dumps without sacrificing any
// cryptographic property. Changing this key invalidates every stored
// artifact identity.
var contentDomainKey = domainKey{
	'r', 'e', 'l', 'i', 'c', '.', 'd', 'o', 'c', 'u', 'm', 'e', 'n', 't', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashContent computes the content-domain BLAKE3 keyed hash of raw
// document content. This is the artifact's primary key: two documents
// with identical content are the same artifact.
func HashContent(content []byte) Hash {
	return keyedHash(contentDomainKey, content)
}

// FormatHash returns the hex-encoded string form of a hash. This is
// the canonical format used in the snapshot, logs, and CLI output.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing artifact hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("artifact hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// FormatRef returns the short artifact reference for a content hash:
// the "doc-" prefix followed by the first 12 hex characters. Used in
// log lines and CLI output where the full 64 characters are noise.
func FormatRef(hash Hash) string {
	return "doc-" + hex.EncodeToString(hash[:6])
}

// keyedHash computes the BLAKE3 keyed hash of data under the given
// domain key.
func keyedHash(key domainKey, data []byte) Hash {
	// NewKeyed requires exactly 32 bytes, which domainKey guarantees.
	// The error is only returned for wrong key length, so this cannot
	// fail with our fixed-size type.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
