// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T, opts ...FSStoreOption) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	return store
}

func TestStorePutGet(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("chapter one: the store")
	hash := HashContent(payload)

	if err := store.Put(hash, payload); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(hash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Get returned %q, want %q", got, payload)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(HashContent([]byte("never stored")))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get of missing payload returned %v, want ErrNotFound", err)
	}
}

func TestStorePutIdempotent(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("written twice")
	hash := HashContent(payload)

	if err := store.Put(hash, payload); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(hash, payload); err != nil {
		t.Errorf("second identical Put failed: %v", err)
	}
}

func TestStorePutRejectsMismatch(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("the real content")
	hash := HashContent(payload)

	if err := store.Put(hash, payload); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(hash, []byte("an impostor")); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Put with mismatched bytes returned %v, want ErrIntegrity", err)
	}
}

func TestStoreExists(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("present")
	hash := HashContent(payload)

	if store.Exists(hash) {
		t.Error("Exists true before Put")
	}
	if err := store.Put(hash, payload); err != nil {
		t.Fatal(err)
	}
	if !store.Exists(hash) {
		t.Error("Exists false after Put")
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("short-lived")
	hash := HashContent(payload)

	if err := store.Put(hash, payload); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(hash); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Exists(hash) {
		t.Error("payload still exists after Delete")
	}

	// Deleting again is not an error.
	if err := store.Delete(hash); err != nil {
		t.Errorf("Delete of absent payload failed: %v", err)
	}
}

func TestStoreHashes(t *testing.T) {
	store := newTestStore(t)

	payloads := [][]byte{
		[]byte("first"),
		[]byte("second"),
		[]byte("third"),
	}
	want := make(map[Hash]bool, len(payloads))
	for _, p := range payloads {
		hash := HashContent(p)
		if err := store.Put(hash, p); err != nil {
			t.Fatal(err)
		}
		want[hash] = true
	}

	hashes, err := store.Hashes()
	if err != nil {
		t.Fatalf("Hashes failed: %v", err)
	}
	if len(hashes) != len(want) {
		t.Fatalf("Hashes returned %d entries, want %d", len(hashes), len(want))
	}
	for _, hash := range hashes {
		if !want[hash] {
			t.Errorf("Hashes returned unexpected hash %s", FormatRef(hash))
		}
	}
}

func TestStoreHashesSkipsStrayFiles(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("the only real payload")
	hash := HashContent(payload)
	if err := store.Put(hash, payload); err != nil {
		t.Fatal(err)
	}

	stray := filepath.Join(root, payloadDir, "notes.txt")
	if err := os.WriteFile(stray, []byte("editor droppings"), 0o644); err != nil {
		t.Fatal(err)
	}

	hashes, err := store.Hashes()
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 1 || hashes[0] != hash {
		t.Errorf("Hashes = %v, want exactly [%s]", hashes, FormatRef(hash))
	}
}

func TestStoreShardedLayout(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("check my path")
	hash := HashContent(payload)
	if err := store.Put(hash, payload); err != nil {
		t.Fatal(err)
	}

	hexString := FormatHash(hash)
	wantPath := filepath.Join(root, payloadDir, hexString[:2], hexString[2:4], hexString+payloadExt)
	if _, err := os.Stat(wantPath); err != nil {
		t.Errorf("payload not at sharded path %s: %v", wantPath, err)
	}
}

func TestStoreCompressionRoundTrip(t *testing.T) {
	// Highly repetitive content exercises the compressed paths end to
	// end through Put and Get.
	payload := bytes.Repeat([]byte("compressible document text. "), 200)
	hash := HashContent(payload)

	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			store := newTestStore(t, WithCompression(tag))
			if err := store.Put(hash, payload); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			got, err := store.Get(hash)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Error("round trip mismatch")
			}
		})
	}
}

func TestStoreEncryptedRoundTrip(t *testing.T) {
	key := testMasterKey(t)
	store := newTestStore(t, WithEncryptionKey(key))

	payload := []byte("sealed at rest")
	hash := HashContent(payload)

	if err := store.Put(hash, payload); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := store.Get(hash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("round trip mismatch")
	}

	// Plaintext must not appear in the on-disk file.
	hexString := FormatHash(hash)
	onDisk, err := os.ReadFile(filepath.Join(store.root, payloadDir, hexString[:2], hexString[2:4], hexString+payloadExt))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(onDisk, payload) {
		t.Error("on-disk payload contains plaintext")
	}
	if onDisk[0] != formatSealed {
		t.Errorf("on-disk format byte = %d, want %d", onDisk[0], formatSealed)
	}
}

func TestStoreSealedPayloadNeedsKey(t *testing.T) {
	root := t.TempDir()
	key := testMasterKey(t)

	sealed, err := NewFSStore(root, WithEncryptionKey(key))
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("locked away")
	hash := HashContent(payload)
	if err := sealed.Put(hash, payload); err != nil {
		t.Fatal(err)
	}

	plain, err := NewFSStore(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := plain.Get(hash); !errors.Is(err, ErrIntegrity) {
		t.Errorf("keyless Get of sealed payload returned %v, want ErrIntegrity", err)
	}
}

func TestStoreRejectsBadKeySize(t *testing.T) {
	_, err := NewFSStore(t.TempDir(), WithEncryptionKey([]byte("too short")))
	if err == nil {
		t.Fatal("NewFSStore accepted a short encryption key")
	}
	if !strings.Contains(err.Error(), "32") {
		t.Errorf("error %q does not name the expected key size", err)
	}
}

func TestStoreDetectsCorruption(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	if err != nil {
		t.Fatal(err)
	}

	payload := bytes.Repeat([]byte("about to be damaged. "), 100)
	hash := HashContent(payload)
	if err := store.Put(hash, payload); err != nil {
		t.Fatal(err)
	}

	hexString := FormatHash(hash)
	path := filepath.Join(root, payloadDir, hexString[:2], hexString[2:4], hexString+payloadExt)
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Truncate to just the header: the compressed body is gone.
	if err := os.WriteFile(path, onDisk[:plainHeaderSize], 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(hash); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Get of truncated payload returned %v, want ErrIntegrity", err)
	}
}

func TestStoreDiskUsage(t *testing.T) {
	store := newTestStore(t)

	empty, err := store.DiskUsage()
	if err != nil {
		t.Fatal(err)
	}
	if empty != 0 {
		t.Errorf("DiskUsage of empty store = %d, want 0", empty)
	}

	for _, content := range []string{"first payload", "second payload"} {
		payload := []byte(content)
		if err := store.Put(HashContent(payload), payload); err != nil {
			t.Fatal(err)
		}
	}

	used, err := store.DiskUsage()
	if err != nil {
		t.Fatal(err)
	}
	if used <= 0 {
		t.Errorf("DiskUsage = %d after two puts, want > 0", used)
	}
}
