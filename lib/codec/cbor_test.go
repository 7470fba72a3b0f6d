// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	// Maps are the adversarial case: Go map iteration order is
	// randomized, so only a deterministic encoder produces stable
	// bytes across calls.
	value := map[string]any{
		"source":      "https://example.com/a",
		"transformer": "splitter",
		"page":        int64(3),
		"tags":        []any{"x", "y"},
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	for i := 0; i < 16; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal (iteration %d) failed: %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding is not deterministic: %x vs %x", first, again)
		}
	}
}

func TestUnmarshalAnyUsesStringKeyedMaps(t *testing.T) {
	encoded, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded any
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded top-level type = %T, want map[string]any", decoded)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Fatalf("decoded nested type = %T, want map[string]any", top["nested"])
	}
}

func TestRoundTripStruct(t *testing.T) {
	type record struct {
		ID      string         `json:"custom_id"`
		Parents []string       `json:"parent_uuids"`
		Meta    map[string]any `json:"metadata"`
	}

	in := record{
		ID:      "doc-1",
		Parents: []string{"aa", "bb"},
		Meta:    map[string]any{"source": "s"},
	}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out record
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if out.ID != in.ID || len(out.Parents) != 2 || out.Parents[0] != "aa" {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if out.Meta["source"] != "s" {
		t.Errorf("metadata round trip mismatch: %+v", out.Meta)
	}
}
