// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ContentStore persists raw serialized document payloads keyed by
// content hash. Put is idempotent for identical payloads and rejects a
// hash collision with differing bytes; Get fails with ErrNotFound for
// an absent hash. A payload is durable and visible to Get as soon as
// Put returns; there is no eventual-consistency window. Physical
// layout is opaque to callers.
type ContentStore interface {
	Put(hash Hash, payload []byte) error
	Get(hash Hash) ([]byte, error)
	Exists(hash Hash) bool
}

// GCStore extends ContentStore with the operations garbage collection
// needs: deleting a payload and enumerating what is on disk. The
// filesystem store implements it; a read-only or remote backing store
// may choose not to.
type GCStore interface {
	ContentStore
	Delete(hash Hash) error
	Hashes() ([]Hash, error)
}

// Directory names within the content store root.
const (
	payloadDir = "payloads"
	tmpDir     = "tmp"
)

// payloadExt is the extension for payload files. Temp files never
// carry it, so a crash mid-write can only leave files a directory scan
// ignores.
const payloadExt = ".bin"

// Payload file format bytes. The leading byte selects the envelope;
// the plain envelope is followed by a compression tag, a 4-byte
// big-endian uncompressed size, and the compressed bytes. The sealed
// envelope wraps the entire plain envelope in XChaCha20-Poly1305.
// These values are format constants.
const (
	formatPlain  byte = 0x01
	formatSealed byte = 0x02
)

// plainHeaderSize is format byte + compression tag + uncompressed size.
const plainHeaderSize = 1 + 1 + 4

// FSStore is a ContentStore backed by a local filesystem directory:
// one payload file per content hash, sharded two levels deep by hash
// prefix, written via temp-file-then-rename so a concurrent reader
// never observes a partial payload.
//
// FSStore is safe for concurrent use: distinct hashes write distinct
// files, and same-hash races are resolved by the idempotency check
// plus atomic rename.
type FSStore struct {
	root        string
	masterKey   []byte         // nil means payloads are stored unsealed
	compression CompressionTag // used when fixedCompression is set
	fixedTag    bool
}

// FSStoreOption configures an FSStore.
type FSStoreOption func(*FSStore)

// WithEncryptionKey enables at-rest payload sealing under the given
// 32-byte master key. Each payload is sealed with a key derived from
// the master key and the payload's content hash.
func WithEncryptionKey(key []byte) FSStoreOption {
	return func(s *FSStore) { s.masterKey = key }
}

// WithCompression pins the compression algorithm instead of probing
// each payload. Incompressible payloads still fall back to
// CompressionNone.
func WithCompression(tag CompressionTag) FSStoreOption {
	return func(s *FSStore) {
		s.compression = tag
		s.fixedTag = true
	}
}

// NewFSStore creates an FSStore rooted at the given directory. The
// directory structure is created if it does not exist.
func NewFSStore(root string, opts ...FSStoreOption) (*FSStore, error) {
	store := &FSStore{root: root}
	for _, opt := range opts {
		opt(store)
	}

	if store.masterKey != nil && len(store.masterKey) != KeySize {
		return nil, fmt.Errorf("encryption key is %d bytes, want %d", len(store.masterKey), KeySize)
	}

	for _, dir := range []string{
		root,
		filepath.Join(root, payloadDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	return store, nil
}

// Put writes a payload keyed by its content hash. Putting the same
// hash with identical bytes is a no-op; putting it with different
// bytes fails with ErrIntegrity, because a hash that maps to two
// payloads would break content addressing for every consumer.
func (s *FSStore) Put(hash Hash, payload []byte) error {
	finalPath := s.payloadPath(hash)

	if _, err := os.Stat(finalPath); err == nil {
		existing, err := s.Get(hash)
		if err != nil {
			return fmt.Errorf("verifying existing payload %s: %w", FormatRef(hash), err)
		}
		if bytes.Equal(existing, payload) {
			return nil
		}
		return fmt.Errorf("%w: payload %s already stored with different content",
			ErrIntegrity, FormatRef(hash))
	}

	encoded, err := s.encodePayload(hash, payload)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating payload shard directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "payload-*")
	if err != nil {
		return fmt.Errorf("creating temp payload file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(encoded); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing payload %s: %w", FormatRef(hash), err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp payload file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming payload to %s: %w", finalPath, err)
	}

	success = true
	return nil
}

// Get reads the payload stored under hash. Returns ErrNotFound
// (wrapped) if no payload exists for the hash.
func (s *FSStore) Get(hash Hash) ([]byte, error) {
	encoded, err := os.ReadFile(s.payloadPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: payload %s", ErrNotFound, FormatRef(hash))
		}
		return nil, fmt.Errorf("reading payload %s: %w", FormatRef(hash), err)
	}
	return s.decodePayload(hash, encoded)
}

// Exists reports whether a payload is stored under hash.
func (s *FSStore) Exists(hash Hash) bool {
	_, err := os.Stat(s.payloadPath(hash))
	return err == nil
}

// Delete removes the payload stored under hash. Deleting an absent
// payload is not an error, since GC sweeps may race with earlier sweeps.
func (s *FSStore) Delete(hash Hash) error {
	if err := os.Remove(s.payloadPath(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing payload %s: %w", FormatRef(hash), err)
	}
	return nil
}

// Hashes enumerates the content hashes of every payload on disk. This
// reads only filenames, never payload bytes. Files that do not parse
// as hash-named payloads (crash leftovers in tmp, stray files) are
// skipped.
func (s *FSStore) Hashes() ([]Hash, error) {
	var hashes []Hash

	err := filepath.WalkDir(filepath.Join(s.root, payloadDir), func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		name := entry.Name()
		if !strings.HasSuffix(name, payloadExt) {
			return nil
		}
		hash, err := ParseHash(strings.TrimSuffix(name, payloadExt))
		if err != nil {
			return nil
		}

		hashes = append(hashes, hash)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning payload directory: %w", err)
	}

	return hashes, nil
}

// DiskUsage returns the total on-disk size of all payload files in
// bytes. Like Hashes, it reads only directory entries.
func (s *FSStore) DiskUsage() (int64, error) {
	var total int64

	err := filepath.WalkDir(filepath.Join(s.root, payloadDir), func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), payloadExt) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning payload directory: %w", err)
	}

	return total, nil
}

// encodePayload builds the on-disk bytes for a payload: compression
// header plus compressed data, optionally sealed.
func (s *FSStore) encodePayload(hash Hash, payload []byte) ([]byte, error) {
	if len(payload) > int(^uint32(0)) {
		return nil, fmt.Errorf("payload %s is %d bytes, exceeding the format limit", FormatRef(hash), len(payload))
	}

	var (
		compressed []byte
		tag        CompressionTag
		err        error
	)
	if s.fixedTag {
		compressed, err = CompressPayload(payload, s.compression)
		tag = s.compression
		if IsIncompressible(err) {
			compressed, tag, err = payload, CompressionNone, nil
		}
	} else {
		compressed, tag, err = CompressPayloadAuto(payload)
	}
	if err != nil {
		return nil, fmt.Errorf("compressing payload %s: %w", FormatRef(hash), err)
	}

	body := make([]byte, plainHeaderSize, plainHeaderSize+len(compressed))
	body[0] = formatPlain
	body[1] = byte(tag)
	binary.BigEndian.PutUint32(body[2:6], uint32(len(payload)))
	body = append(body, compressed...)

	if s.masterKey == nil {
		return body, nil
	}

	sealed, err := sealPayload(s.masterKey, hash, body)
	if err != nil {
		return nil, fmt.Errorf("sealing payload %s: %w", FormatRef(hash), err)
	}
	return append([]byte{formatSealed}, sealed...), nil
}

// decodePayload reverses encodePayload.
func (s *FSStore) decodePayload(hash Hash, encoded []byte) ([]byte, error) {
	if len(encoded) == 0 {
		return nil, fmt.Errorf("%w: payload %s is empty on disk", ErrIntegrity, FormatRef(hash))
	}

	body := encoded
	if body[0] == formatSealed {
		if s.masterKey == nil {
			return nil, fmt.Errorf("%w: payload %s is sealed but the store has no encryption key",
				ErrIntegrity, FormatRef(hash))
		}
		opened, err := openPayload(s.masterKey, hash, body[1:])
		if err != nil {
			return nil, err
		}
		body = opened
	}

	if len(body) < plainHeaderSize || body[0] != formatPlain {
		return nil, fmt.Errorf("%w: payload %s has a malformed header", ErrIntegrity, FormatRef(hash))
	}

	tag := CompressionTag(body[1])
	uncompressedSize := int(binary.BigEndian.Uint32(body[2:6]))

	payload, err := DecompressPayload(body[plainHeaderSize:], tag, uncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing payload %s: %v", ErrIntegrity, FormatRef(hash), err)
	}
	return payload, nil
}

// payloadPath returns the sharded filesystem path for a payload:
// payloads/a3/f9/a3f9b2c1....bin
func (s *FSStore) payloadPath(hash Hash) string {
	hexString := FormatHash(hash)
	return filepath.Join(s.root, payloadDir, hexString[:2], hexString[2:4], hexString+payloadExt)
}
