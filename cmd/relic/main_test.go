// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relic-foundation/relic/lib/artifact"
)

// relic invokes the CLI entry point against a store rooted in dir.
func relic(t *testing.T, dir string, args ...string) error {
	t.Helper()
	t.Setenv("RELIC_CONFIG", "")
	return run(append([]string{"--root", dir}, args...))
}

func TestUnknownCommand(t *testing.T) {
	err := relic(t, t.TempDir(), "frobnicate")
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected unknown command error, got %v", err)
	}
}

func TestNoCommand(t *testing.T) {
	if err := relic(t, t.TempDir()); err == nil {
		t.Error("expected error when no command is given")
	}
}

func TestInitCreatesLayout(t *testing.T) {
	root := t.TempDir()
	if err := relic(t, root, "init"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "payloads")); err != nil {
		t.Errorf("payload directory missing: %v", err)
	}
}

func TestInitGenKey(t *testing.T) {
	root := t.TempDir()
	if err := relic(t, root, "init", "--gen-key"); err != nil {
		t.Fatalf("init --gen-key failed: %v", err)
	}

	keyPath := filepath.Join(root, "master.key")
	data, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatalf("key file missing: %v", err)
	}
	if len(strings.TrimSpace(string(data))) != 2*artifact.KeySize {
		t.Errorf("key file holds %d hex chars, want %d", len(strings.TrimSpace(string(data))), 2*artifact.KeySize)
	}

	// Re-running must not overwrite an existing key.
	if err := relic(t, root, "init", "--gen-key"); err == nil {
		t.Error("second init --gen-key succeeded, want refusal")
	}
}

func TestAddCatRoundTrip(t *testing.T) {
	root := t.TempDir()
	content := []byte("the document body\n")

	inputPath := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(inputPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := relic(t, root, "add", "--id", "doc-one", inputPath); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	// Resolve the stored hash through the library to drive cat.
	layer, err := artifact.Open(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	records := layer.Records(artifact.SelectByIDs("doc-one"))
	if len(records) != 1 {
		t.Fatalf("stored %d records, want 1", len(records))
	}
	if source, _ := records[0].Metadata[artifact.MetaSource].(string); source != inputPath {
		t.Errorf("source metadata = %q, want input path", source)
	}

	outputPath := filepath.Join(t.TempDir(), "output.txt")
	ref := artifact.FormatRef(records[0].Hash)
	if err := relic(t, root, "cat", "-o", outputPath, ref); err != nil {
		t.Fatalf("cat failed: %v", err)
	}
	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Errorf("cat wrote %q, want %q", got, content)
	}
}

func TestExistsExitStatus(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(inputPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := relic(t, root, "add", "--id", "present", inputPath); err != nil {
		t.Fatal(err)
	}

	if err := relic(t, root, "exists", "-q", "present"); err != nil {
		t.Errorf("exists for a stored id failed: %v", err)
	}
	if err := relic(t, root, "exists", "-q", "present", "absent"); err == nil {
		t.Error("exists succeeded though one id is absent")
	}
}

func TestRmAndGC(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(inputPath, []byte("doomed content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := relic(t, root, "add", "--id", "doomed", inputPath); err != nil {
		t.Fatal(err)
	}

	// Non-cascading remove leaves the payload for gc.
	if err := relic(t, root, "rm", "--id", "doomed"); err != nil {
		t.Fatalf("rm failed: %v", err)
	}
	if err := relic(t, root, "exists", "-q", "doomed"); err == nil {
		t.Error("removed id still exists")
	}

	if err := relic(t, root, "gc"); err != nil {
		t.Fatalf("gc failed: %v", err)
	}

	layer, err := artifact.Open(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	reclaimed, err := layer.SweepOrphans()
	if err != nil {
		t.Fatal(err)
	}
	if len(reclaimed) != 0 {
		t.Errorf("gc left %d orphans behind", len(reclaimed))
	}
}

func TestRmRequiresSelector(t *testing.T) {
	if err := relic(t, t.TempDir(), "rm"); err == nil {
		t.Error("rm with no selector succeeded")
	}
}

func TestParseMetadata(t *testing.T) {
	metadata, err := parseMetadata([]string{"lang=en", "pages=12"})
	if err != nil {
		t.Fatalf("parseMetadata failed: %v", err)
	}
	if metadata["lang"] != "en" || metadata["pages"] != "12" {
		t.Errorf("parseMetadata = %v", metadata)
	}

	if _, err := parseMetadata([]string{"missing-separator"}); err == nil {
		t.Error("malformed pair accepted")
	}
}
