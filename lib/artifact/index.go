// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/relic-foundation/relic/lib/codec"
)

// Index is the in-memory metadata index: one record per stored
// artifact, with secondary indexes by content hash, logical id, and
// parent hash. Selector queries scan the record set in insertion
// order (deterministic, restartable); the secondary indexes serve
// existence checks and child resolution without a scan.
//
// Index guards its own state with a read-write mutex, so concurrent
// readers and a writer are safe within one process. The snapshot file
// is shared between processes; closing the lost-update race the
// first-generation prototype documented requires holding the
// snapshot's exclusive file lock across the whole load-mutate-save
// cycle, which Layer does for every mutation. Save and LoadIndex on
// their own only guarantee that a reader never observes a
// half-written file.
type Index struct {
	mu       sync.RWMutex
	records  []*Record // insertion order; selector scan order
	byHash   map[Hash]*Record
	byID     map[string][]*Record // per-id insertion order; most recent last
	byParent map[Hash][]*Record
}

// NewIndex returns an empty index ready for use.
func NewIndex() *Index {
	return &Index{
		byHash:   make(map[Hash]*Record),
		byID:     make(map[string][]*Record),
		byParent: make(map[Hash][]*Record),
	}
}

// snapshot is the persisted form of the index. Field names are the
// interop contract: they match the schema the first-generation store
// wrote ({artifacts: [{custom_id, uuid, parent_uuids, metadata}]}),
// extended with the stored-at stamp.
type snapshot struct {
	Artifacts []snapshotRecord `json:"artifacts"`
}

type snapshotRecord struct {
	CustomID    string         `json:"custom_id"`
	UUID        string         `json:"uuid"`
	ParentUUIDs []string       `json:"parent_uuids"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	StoredAt    time.Time      `json:"stored_at"`
}

// LoadIndex reads a snapshot file and builds the index. A missing
// snapshot is not an error; it is an empty store on first run. The
// read happens under a shared file lock so it cannot interleave with
// a writer's load-mutate-save cycle.
func LoadIndex(path string) (*Index, error) {
	fileLock := flock.New(lockPath(path))
	if err := fileLock.RLock(); err != nil {
		return nil, fmt.Errorf("%w: locking snapshot %s: %w", ErrPersistence, path, err)
	}
	defer fileLock.Unlock()

	records, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}

	index := NewIndex()
	for _, r := range records {
		index.insert(r)
	}
	return index, nil
}

// readSnapshot reads and decodes a snapshot file without any locking;
// the caller holds the appropriate file lock. A missing file decodes
// to an empty record set.
func readSnapshot(path string) ([]*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading snapshot %s: %w", ErrPersistence, path, err)
	}

	var snap snapshot
	if err := codec.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: decoding snapshot %s: %w", ErrPersistence, path, err)
	}

	records := make([]*Record, 0, len(snap.Artifacts))
	for _, wire := range snap.Artifacts {
		hash, err := ParseHash(wire.UUID)
		if err != nil {
			return nil, fmt.Errorf("%w: snapshot record %q: %w", ErrPersistence, wire.CustomID, err)
		}
		parents, err := parseHashes(wire.ParentUUIDs)
		if err != nil {
			return nil, fmt.Errorf("%w: snapshot record %q: %w", ErrPersistence, wire.CustomID, err)
		}
		records = append(records, &Record{
			ID:           wire.CustomID,
			Hash:         hash,
			ParentHashes: parents,
			Metadata:     wire.Metadata,
			StoredAt:     wire.StoredAt,
		})
	}
	return records, nil
}

// reload replaces the index contents with whatever the snapshot on
// disk holds. The caller must hold the snapshot's exclusive file lock:
// reload is the first half of a load-mutate-save cycle, and running it
// unlocked reintroduces the lost-update race it exists to prevent.
func (idx *Index) reload(path string) error {
	records, err := readSnapshot(path)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.records = idx.records[:0]
	clear(idx.byHash)
	clear(idx.byID)
	clear(idx.byParent)
	for _, r := range records {
		idx.insert(r)
	}
	return nil
}

// Save atomically persists the index to the snapshot path under the
// snapshot's exclusive file lock. Note that Save alone blindly
// overwrites whatever is on disk: a writer sharing the snapshot with
// other processes must reload under the lock before saving, which is
// what Layer's mutation cycle does.
func (idx *Index) Save(path string) error {
	fileLock := flock.New(lockPath(path))
	if err := fileLock.Lock(); err != nil {
		return fmt.Errorf("%w: locking snapshot %s: %w", ErrPersistence, path, err)
	}
	defer fileLock.Unlock()

	return idx.saveLocked(path)
}

// saveLocked persists the index without acquiring the file lock; the
// caller holds it. Encode, write to a temp file in the same directory,
// rename: a concurrent LoadIndex sees either the old snapshot or the
// new one, never a partial write.
func (idx *Index) saveLocked(path string) error {
	idx.mu.RLock()
	snap := snapshot{Artifacts: make([]snapshotRecord, 0, len(idx.records))}
	for _, r := range idx.records {
		snap.Artifacts = append(snap.Artifacts, snapshotRecord{
			CustomID:    r.ID,
			UUID:        FormatHash(r.Hash),
			ParentUUIDs: formatHashes(r.ParentHashes),
			Metadata:    r.Metadata,
			StoredAt:    r.StoredAt,
		})
	}
	idx.mu.RUnlock()

	data, err := codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: encoding snapshot: %w", ErrPersistence, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: creating snapshot directory: %w", ErrPersistence, err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), "snapshot-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp snapshot: %w", ErrPersistence, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("%w: writing snapshot: %w", ErrPersistence, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: closing temp snapshot: %w", ErrPersistence, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: renaming snapshot to %s: %w", ErrPersistence, path, err)
	}

	success = true
	return nil
}

// Add inserts a record. The content hash is the primary key: adding a
// hash that is already indexed is a no-op when the record is identical
// (idempotent add; the original stored-at stamp is kept) and fails
// with ErrDuplicate when any identity field differs. Overwriting is
// the explicit Upsert path.
func (idx *Index) Add(r Record) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.byHash[r.Hash]; ok {
		same, err := sameIdentity(*existing, r)
		if err != nil {
			return err
		}
		if same {
			return nil
		}
		return fmt.Errorf("%w: hash %s already indexed as %q", ErrDuplicate, FormatRef(r.Hash), existing.ID)
	}

	idx.insert(&r)
	return nil
}

// Upsert inserts a record, replacing any existing record with the same
// content hash. This is the opt-in overwrite mode; silent overwrite on
// Add would corrupt content-addressing guarantees.
func (idx *Index) Upsert(r Record) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.byHash[r.Hash]; ok {
		idx.unlink(existing)
	}
	idx.insert(&r)
}

// ExistsByID reports, order-preserved, whether each logical id has at
// least one indexed record.
func (idx *Index) ExistsByID(ids []string) []bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]bool, len(ids))
	for i, id := range ids {
		results[i] = len(idx.byID[id]) > 0
	}
	return results
}

// ExistsByHash reports, order-preserved, whether each content hash is
// indexed.
func (idx *Index) ExistsByHash(hashes []Hash) []bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]bool, len(hashes))
	for i, hash := range hashes {
		_, results[i] = idx.byHash[hash]
	}
	return results
}

// Get returns the record for a content hash.
func (idx *Index) Get(hash Hash) (Record, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	r, ok := idx.byHash[hash]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Latest returns the most recently added record for a logical id.
// Multiple hashes may share an id over time (reprocessing); the last
// insertion wins.
func (idx *Index) Latest(id string) (Record, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	records := idx.byID[id]
	if len(records) == 0 {
		return Record{}, false
	}
	return *records[len(records)-1], true
}

// Select returns the content hashes of records matching the selector,
// in insertion order. Re-invoking with the same selector yields the
// same result set modulo intervening writes. An empty selector matches
// nothing.
func (idx *Index) Select(sel Selector) []Hash {
	if sel.Empty() {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matches []Hash
	for _, r := range idx.records {
		if sel.Matches(*r) {
			matches = append(matches, r.Hash)
		}
	}
	return matches
}

// Select returns the hashes; Records returns full copies of the
// matching records, in insertion order, for listings that need
// metadata and timestamps without loading payloads.
func (idx *Index) Records(sel Selector) []Record {
	if sel.Empty() {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matches []Record
	for _, r := range idx.records {
		if sel.Matches(*r) {
			matches = append(matches, *r)
		}
	}
	return matches
}

// ResolveRef resolves a short ref (doc-<12 hex>) to the full content
// hash it abbreviates. Fails with ErrNotFound when nothing matches and
// with an ambiguity error when more than one record shares the short
// form.
func (idx *Index) ResolveRef(short string) (Hash, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var (
		found Hash
		count int
	)
	for _, r := range idx.records {
		if FormatRef(r.Hash) == short {
			found = r.Hash
			count++
		}
	}
	switch count {
	case 0:
		return Hash{}, fmt.Errorf("%w: ref %s", ErrNotFound, short)
	case 1:
		return found, nil
	default:
		return Hash{}, fmt.Errorf("ref %s is ambiguous: %d artifacts share it", short, count)
	}
}

// Children returns the hashes of records that list the given hash as a
// parent, in insertion order. This is the cache-hit resolution path;
// it reads the parent index instead of scanning.
func (idx *Index) Children(hash Hash) []Hash {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	children := idx.byParent[hash]
	if len(children) == 0 {
		return nil
	}
	out := make([]Hash, len(children))
	for i, r := range children {
		out[i] = r.Hash
	}
	return out
}

// Remove deletes every record matching the selector and returns how
// many were removed. Records not matched by the selector are never
// touched. Payload deletion is the caller's business (Layer.Remove
// offers a cascading mode).
func (idx *Index) Remove(sel Selector) int {
	if sel.Empty() {
		return 0
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var doomed []*Record
	for _, r := range idx.records {
		if sel.Matches(*r) {
			doomed = append(doomed, r)
		}
	}
	for _, r := range doomed {
		idx.unlink(r)
	}
	return len(doomed)
}

// Len returns the number of indexed records.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.records)
}

// IndexStats holds aggregate counts across all indexed records.
type IndexStats struct {
	Total         int
	ByTransformer map[string]int
}

// Stats returns aggregate counts for CLI and monitoring output.
func (idx *Index) Stats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := IndexStats{
		Total:         len(idx.records),
		ByTransformer: make(map[string]int),
	}
	for _, r := range idx.records {
		if name, ok := r.Metadata[MetaTransformer].(string); ok && name != "" {
			stats.ByTransformer[name]++
		}
	}
	return stats
}

// insert links a record into the primary slice and all secondary
// indexes. Caller holds the write lock.
func (idx *Index) insert(r *Record) {
	idx.records = append(idx.records, r)
	idx.byHash[r.Hash] = r
	idx.byID[r.ID] = append(idx.byID[r.ID], r)
	for _, parent := range r.ParentHashes {
		idx.byParent[parent] = append(idx.byParent[parent], r)
	}
}

// unlink removes a record from the primary slice and all secondary
// indexes. Caller holds the write lock.
func (idx *Index) unlink(r *Record) {
	delete(idx.byHash, r.Hash)
	idx.records = removeRecord(idx.records, r)

	if remaining := removeRecord(idx.byID[r.ID], r); len(remaining) > 0 {
		idx.byID[r.ID] = remaining
	} else {
		delete(idx.byID, r.ID)
	}
	for _, parent := range r.ParentHashes {
		if remaining := removeRecord(idx.byParent[parent], r); len(remaining) > 0 {
			idx.byParent[parent] = remaining
		} else {
			delete(idx.byParent, parent)
		}
	}
}

// removeRecord filters one record pointer out of a slice, preserving
// order.
func removeRecord(records []*Record, target *Record) []*Record {
	for i, r := range records {
		if r == target {
			return append(records[:i], records[i+1:]...)
		}
	}
	return records
}

// sameIdentity compares two records ignoring their stored-at stamps,
// via the deterministic encoding (free-form metadata rules out a
// field-by-field comparison).
func sameIdentity(a, b Record) (bool, error) {
	aBytes, err := a.identityBytes()
	if err != nil {
		return false, fmt.Errorf("encoding record %q: %w", a.ID, err)
	}
	bBytes, err := b.identityBytes()
	if err != nil {
		return false, fmt.Errorf("encoding record %q: %w", b.ID, err)
	}
	return bytes.Equal(aBytes, bBytes), nil
}

// lockPath returns the lock-file path guarding a snapshot. The lock is
// a separate file because the snapshot itself is replaced by rename,
// which would silently detach any lock held on the old inode.
func lockPath(snapshotPath string) string {
	return snapshotPath + ".lock"
}
