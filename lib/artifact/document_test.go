// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"testing"
	"time"
)

func TestEnsureIDGeneratesOnce(t *testing.T) {
	d := Document{Content: []byte("x")}
	d.EnsureID()
	if d.ID == "" {
		t.Fatal("EnsureID left the id empty")
	}
	assigned := d.ID
	d.EnsureID()
	if d.ID != assigned {
		t.Error("EnsureID replaced an existing id")
	}
}

func TestEnsureHashMatchesContent(t *testing.T) {
	d := Document{Content: []byte("hash me")}
	d.EnsureHash()
	if d.Hash != HashContent(d.Content) {
		t.Error("EnsureHash does not match HashContent")
	}
}

func TestDocumentWireRoundTrip(t *testing.T) {
	parent := HashContent([]byte("the parent"))
	d := Document{
		ID:           "doc-1",
		ParentHashes: []Hash{parent},
		Metadata:     map[string]any{MetaSource: "file:///a.txt", "pages": uint64(12)},
		Content:      []byte("document body"),
	}
	d.EnsureHash()

	data, err := MarshalDocument(d)
	if err != nil {
		t.Fatalf("MarshalDocument failed: %v", err)
	}
	got, err := UnmarshalDocument(data)
	if err != nil {
		t.Fatalf("UnmarshalDocument failed: %v", err)
	}

	if got.ID != d.ID || got.Hash != d.Hash {
		t.Error("identity fields did not round-trip")
	}
	if len(got.ParentHashes) != 1 || got.ParentHashes[0] != parent {
		t.Error("parent hashes did not round-trip")
	}
	if !bytes.Equal(got.Content, d.Content) {
		t.Error("content did not round-trip")
	}
	// Positive CBOR integers decode to uint64 under an any-typed target.
	if pages, _ := got.Metadata["pages"].(uint64); pages != 12 {
		t.Errorf("metadata pages = %v, want 12", got.Metadata["pages"])
	}
}

func TestMarshalDocumentDeterministic(t *testing.T) {
	d := Document{
		ID:       "doc-1",
		Metadata: map[string]any{"b": "2", "a": "1", "c": "3"},
		Content:  []byte("stable bytes"),
	}
	d.EnsureHash()

	first, err := MarshalDocument(d)
	if err != nil {
		t.Fatal(err)
	}
	for range 8 {
		again, err := MarshalDocument(d)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("MarshalDocument is not deterministic")
		}
	}
}

func TestRecordIdentityIgnoresStoredAt(t *testing.T) {
	d := Document{ID: "doc-1", Content: []byte("x"), Metadata: map[string]any{"k": "v"}}
	d.EnsureHash()

	early := recordOf(d, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	late := recordOf(d, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))

	same, err := sameIdentity(early, late)
	if err != nil {
		t.Fatal(err)
	}
	if !same {
		t.Error("records differing only in StoredAt have different identities")
	}

	renamed := late
	renamed.ID = "doc-2"
	same, err = sameIdentity(early, renamed)
	if err != nil {
		t.Fatal(err)
	}
	if same {
		t.Error("records with different ids share an identity")
	}
}
