// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relic-foundation/relic/lib/codec"
)

// Metadata keys with store-level meaning. Everything else in a
// document's metadata map is opaque to the store.
const (
	// MetaTransformer names the transformer that produced the
	// document. Stamped by the CachingInterceptor when it is
	// constructed with a transformer name; matched by
	// Selector.TransformedBy.
	MetaTransformer = "transformer"

	// MetaSource is the origin of the document (a URL, a path).
	// Matched by Selector.SourcePrefix.
	MetaSource = "source"
)

// Document is the in-transit form of an artifact: what transformers
// consume and produce, and what the store persists. An Artifact is a
// Document's durable projection.
type Document struct {
	// ID is the caller-assigned logical identity. It is stable across
	// re-processing of "the same" input and may repeat across versions
	// (a changed document keeps its ID but gets a new content hash).
	// Generated as a UUID by EnsureID when the caller leaves it empty.
	ID string

	// Hash is the content-domain BLAKE3 hash of Content. The zero
	// value means "not yet computed"; EnsureHash fills it in.
	Hash Hash

	// ParentHashes are the content hashes of the artifacts this
	// document was derived from, in derivation order. Multiple parents
	// are legal (a merge transformer); together the edges form a DAG.
	ParentHashes []Hash

	// Metadata is free-form. See MetaTransformer and MetaSource for
	// the keys the store itself understands.
	Metadata map[string]any

	// Content is the raw document content.
	Content []byte
}

// EnsureID assigns a fresh UUID as the logical id if none is set.
func (d *Document) EnsureID() {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
}

// EnsureHash computes the content hash if it is still the zero value.
func (d *Document) EnsureHash() {
	var zero Hash
	if d.Hash == zero {
		d.Hash = HashContent(d.Content)
	}
}

// HasParent reports whether hash appears in the document's parent list.
func (d *Document) HasParent(hash Hash) bool {
	for _, parent := range d.ParentHashes {
		if parent == hash {
			return true
		}
	}
	return false
}

// wireDocument is the serialized payload form. Field names match the
// snapshot record schema so payload files and the snapshot speak the
// same vocabulary.
type wireDocument struct {
	CustomID    string         `json:"custom_id"`
	UUID        string         `json:"uuid"`
	ParentUUIDs []string       `json:"parent_uuids"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Content     []byte         `json:"content"`
}

// MarshalDocument encodes a document to its canonical payload bytes
// (deterministic CBOR). The document's hash field must already be
// computed; callers go through EnsureHash or Layer.Add.
func MarshalDocument(d Document) ([]byte, error) {
	wire := wireDocument{
		CustomID:    d.ID,
		UUID:        FormatHash(d.Hash),
		ParentUUIDs: formatHashes(d.ParentHashes),
		Metadata:    d.Metadata,
		Content:     d.Content,
	}
	data, err := codec.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding document %s: %w", d.ID, err)
	}
	return data, nil
}

// UnmarshalDocument decodes canonical payload bytes back into a
// Document.
func UnmarshalDocument(data []byte) (Document, error) {
	var wire wireDocument
	if err := codec.Unmarshal(data, &wire); err != nil {
		return Document{}, fmt.Errorf("decoding document: %w", err)
	}

	hash, err := ParseHash(wire.UUID)
	if err != nil {
		return Document{}, fmt.Errorf("decoding document %s: %w", wire.CustomID, err)
	}
	parents, err := parseHashes(wire.ParentUUIDs)
	if err != nil {
		return Document{}, fmt.Errorf("decoding document %s: %w", wire.CustomID, err)
	}

	return Document{
		ID:           wire.CustomID,
		Hash:         hash,
		ParentHashes: parents,
		Metadata:     wire.Metadata,
		Content:      wire.Content,
	}, nil
}

// Record is the persisted projection of one stored document version:
// everything the index holds about an artifact, minus the content
// itself. Records are immutable once added.
type Record struct {
	ID           string
	Hash         Hash
	ParentHashes []Hash
	Metadata     map[string]any
	StoredAt     time.Time
}

// recordOf builds the index record for a document stamped at the given
// time.
func recordOf(d Document, storedAt time.Time) Record {
	return Record{
		ID:           d.ID,
		Hash:         d.Hash,
		ParentHashes: d.ParentHashes,
		Metadata:     d.Metadata,
		StoredAt:     storedAt,
	}
}

// identityBytes returns the deterministic encoding of everything that
// defines a record's identity, which is all fields except StoredAt.
// Two adds
// of the same document are idempotent even though the second arrives
// with a later timestamp.
func (r Record) identityBytes() ([]byte, error) {
	return codec.Marshal(wireDocument{
		CustomID:    r.ID,
		UUID:        FormatHash(r.Hash),
		ParentUUIDs: formatHashes(r.ParentHashes),
		Metadata:    r.Metadata,
	})
}

func formatHashes(hashes []Hash) []string {
	if len(hashes) == 0 {
		return nil
	}
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = FormatHash(h)
	}
	return out
}

func parseHashes(hexStrings []string) ([]Hash, error) {
	if len(hexStrings) == 0 {
		return nil, nil
	}
	out := make([]Hash, len(hexStrings))
	for i, s := range hexStrings {
		hash, err := ParseHash(s)
		if err != nil {
			return nil, err
		}
		out[i] = hash
	}
	return out, nil
}
