// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the canonical serialization for everything
// Relic persists: document payloads, index records, and the metadata
// snapshot.
//
// The format is CBOR (RFC 8949) with Core Deterministic Encoding.
// Determinism matters here more than it usually does: document content
// hashes are computed over encoded bytes, so two encodings of the same
// logical document must be byte-identical or content addressing breaks.
//
// Struct types use json struct tags: fxamacker/cbor falls back to
// json tags, so the same types round-trip through both encoders and
// the snapshot field names stay compatible with the JSON schema of
// earlier store generations.
package codec
