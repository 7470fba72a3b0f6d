// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/relic-foundation/relic/lib/clock"
)

// SnapshotFile is the index snapshot's filename within a store root.
const SnapshotFile = "metadata.cbor"

// FetchMode controls how Documents handles a record whose payload
// fails to load or decode. The choice is part of the interface, not an
// implicit behavior: streaming consumers usually want to keep going,
// anything that needs completeness must fail fast.
type FetchMode int

const (
	// FetchSkipDamaged logs and skips records whose payload cannot be
	// resolved, and streams the rest.
	FetchSkipDamaged FetchMode = iota

	// FetchFailFast yields the first resolution error and stops.
	FetchFailFast
)

// Layer composes a ContentStore and an Index into the unit the rest of
// the pipeline depends on: transactional-enough adds (payload first,
// then metadata, then snapshot, so the index never references a
// payload that failed to write, and an orphaned payload is
// reclaimable),
// selector queries that stream documents, and selector-driven removal
// with optional payload cascade.
//
// All mutations are serialized by an internal write mutex within the
// process and by the snapshot's exclusive file lock across processes:
// every mutation reloads the snapshot, applies its batch, and saves,
// all while holding the lock, so one writer never discards another's
// records. Reads serve the in-memory index, which is as fresh as this
// layer's last mutation; a layer that only reads sees the snapshot as
// it was at Open.
type Layer struct {
	store         ContentStore
	index         *Index
	snapshotPath  string
	clk           clock.Clock
	logger        *slog.Logger
	verifyParents bool

	// writeMu serializes Add, Remove, and SweepOrphans within the
	// process; the snapshot file lock does the same across processes.
	writeMu sync.Mutex
}

// LayerOption configures a Layer.
type LayerOption func(*Layer)

// WithClock sets the time source for stored-at stamps. Defaults to the
// real clock.
func WithClock(clk clock.Clock) LayerOption {
	return func(l *Layer) { l.clk = clk }
}

// WithLogger sets the logger used by the skip-and-continue streaming
// path. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) LayerOption {
	return func(l *Layer) { l.logger = logger }
}

// WithVerifyParents makes Add fail with ErrIntegrity when a document
// references a parent hash that is neither already indexed nor written
// earlier in the same batch. Off by default: pipeline roots are source
// documents that were never persisted, so dangling parents at the DAG
// roots are legal.
func WithVerifyParents() LayerOption {
	return func(l *Layer) { l.verifyParents = true }
}

// NewLayer composes a content store and an index. The snapshot is
// persisted to snapshotPath after every mutating operation.
func NewLayer(store ContentStore, index *Index, snapshotPath string, opts ...LayerOption) *Layer {
	layer := &Layer{
		store:        store,
		index:        index,
		snapshotPath: snapshotPath,
	}
	for _, opt := range opts {
		opt(layer)
	}
	if layer.clk == nil {
		layer.clk = clock.Real()
	}
	if layer.logger == nil {
		layer.logger = slog.Default()
	}
	return layer
}

// Open is the convenience constructor for the common case: a
// filesystem store rooted at root with the snapshot alongside the
// payloads. Store options configure compression and encryption.
func Open(root string, storeOpts []FSStoreOption, layerOpts ...LayerOption) (*Layer, error) {
	store, err := NewFSStore(root, storeOpts...)
	if err != nil {
		return nil, err
	}
	snapshotPath := filepath.Join(root, SnapshotFile)
	index, err := LoadIndex(snapshotPath)
	if err != nil {
		return nil, err
	}
	return NewLayer(store, index, snapshotPath, layerOpts...), nil
}

// commit runs one load-mutate-save cycle under the snapshot's
// exclusive file lock. The reload brings in anything other processes
// saved since this layer last held the lock, so the save at the end
// never discards another writer's records. When mutate fails the
// snapshot on disk is left as the reload found it.
func (l *Layer) commit(mutate func() error) error {
	fileLock := flock.New(lockPath(l.snapshotPath))
	if err := fileLock.Lock(); err != nil {
		return fmt.Errorf("%w: locking snapshot %s: %w", ErrPersistence, l.snapshotPath, err)
	}
	defer fileLock.Unlock()

	if err := l.index.reload(l.snapshotPath); err != nil {
		return err
	}
	if err := mutate(); err != nil {
		return err
	}
	return l.index.saveLocked(l.snapshotPath)
}

// Add persists a batch of documents: for each, the payload goes to the
// content store keyed by its hash, then the metadata record joins the
// index; one snapshot save closes the batch. Documents are updated in
// place with generated ids and computed hashes, so callers see the
// identities the store assigned.
//
// Identity conflicts are checked against the index before anything is
// written: re-adding a hash under a different logical id or metadata
// fails with ErrDuplicate, and ErrIntegrity stays reserved for payloads
// that are actually damaged. If the metadata append or the snapshot
// save fails after a payload write succeeded, the payload is an
// orphan, reclaimable by SweepOrphans. The index never references a
// hash whose payload write failed.
func (l *Layer) Add(documents []Document) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	return l.commit(func() error {
		batch := make(map[Hash]struct{}, len(documents))

		for i := range documents {
			d := &documents[i]
			d.EnsureID()
			d.EnsureHash()

			if l.verifyParents {
				if err := l.checkParents(d, batch); err != nil {
					return err
				}
			}

			// Identity conflicts surface here, before any write. An
			// identical re-add falls through: Put and index.Add are
			// both no-ops for it, and the original stored-at stamp
			// stands.
			if existing, ok := l.index.Get(d.Hash); ok {
				same, err := sameIdentity(existing, recordOf(*d, existing.StoredAt))
				if err != nil {
					return err
				}
				if !same {
					return fmt.Errorf("%w: hash %s already stored as %q",
						ErrDuplicate, FormatRef(d.Hash), existing.ID)
				}
			}

			payload, err := MarshalDocument(*d)
			if err != nil {
				return err
			}
			if err := l.store.Put(d.Hash, payload); err != nil {
				return fmt.Errorf("writing payload for %q: %w", d.ID, err)
			}
			if err := l.index.Add(recordOf(*d, l.clk.Now())); err != nil {
				return fmt.Errorf("indexing %q: %w", d.ID, err)
			}
			batch[d.Hash] = struct{}{}
		}

		return nil
	})
}

// Exists reports, order-preserved, whether each logical id already has
// at least one stored artifact.
func (l *Layer) Exists(ids []string) []bool {
	return l.index.ExistsByID(ids)
}

// ExistsByHash reports, order-preserved, whether each content hash is
// stored.
func (l *Layer) ExistsByHash(hashes []Hash) []bool {
	return l.index.ExistsByHash(hashes)
}

// Get resolves a single document by content hash, verifying that the
// payload still matches its address.
func (l *Layer) Get(hash Hash) (Document, error) {
	return l.fetch(hash)
}

// Documents streams the documents matching the selector: hashes are
// resolved from the index, then payloads load and decode one at a
// time. The iterator is restartable: ranging again re-runs the
// selection. In FetchSkipDamaged mode a record whose payload fails to
// resolve is logged and skipped; in FetchFailFast mode the error is
// yielded and iteration stops.
func (l *Layer) Documents(sel Selector, mode FetchMode) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for _, hash := range l.index.Select(sel) {
			doc, err := l.fetch(hash)
			if err != nil {
				if mode == FetchFailFast {
					yield(Document{}, err)
					return
				}
				l.logger.Warn("skipping damaged artifact",
					"ref", FormatRef(hash),
					"error", err,
				)
				continue
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// Children resolves the documents derived from the given hash: the
// artifacts whose parent list contains it, in insertion order. This is
// the cache-hit path, so completeness matters: any resolution failure
// is returned rather than skipped.
func (l *Layer) Children(hash Hash) ([]Document, error) {
	childHashes := l.index.Children(hash)
	documents := make([]Document, 0, len(childHashes))
	for _, childHash := range childHashes {
		doc, err := l.fetch(childHash)
		if err != nil {
			return nil, fmt.Errorf("resolving child of %s: %w", FormatRef(hash), err)
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

// Remove deletes every index record matching the selector and returns
// the count. With cascade set, the matched payloads are deleted too;
// without it they become orphans for a later SweepOrphans. Records not
// matched by the selector are never touched.
func (l *Layer) Remove(sel Selector, cascade bool) (int, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	var (
		doomed  []Hash
		removed int
	)
	err := l.commit(func() error {
		doomed = l.index.Select(sel)
		removed = l.index.Remove(sel)
		return nil
	})
	if err != nil {
		return removed, err
	}

	if cascade {
		gcStore, ok := l.store.(GCStore)
		if !ok {
			return removed, fmt.Errorf("content store does not support payload deletion")
		}
		for _, hash := range doomed {
			if err := gcStore.Delete(hash); err != nil {
				return removed, err
			}
		}
	}

	return removed, nil
}

// SweepOrphans deletes payloads whose hash no longer appears in the
// index: the leftovers of failed adds and non-cascading removes.
// Returns the hashes it reclaimed. The sweep runs as a full mutation
// cycle so it judges orphanhood against the freshest snapshot and no
// concurrent adder can index a payload mid-sweep.
func (l *Layer) SweepOrphans() ([]Hash, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	gcStore, ok := l.store.(GCStore)
	if !ok {
		return nil, fmt.Errorf("content store does not support payload enumeration")
	}

	var reclaimed []Hash
	err := l.commit(func() error {
		onDisk, err := gcStore.Hashes()
		if err != nil {
			return err
		}
		for _, hash := range onDisk {
			if _, indexed := l.index.Get(hash); indexed {
				continue
			}
			if err := gcStore.Delete(hash); err != nil {
				return err
			}
			reclaimed = append(reclaimed, hash)
		}
		return nil
	})
	return reclaimed, err
}

// Records returns copies of the index records matching the selector,
// in insertion order. No payloads are loaded.
func (l *Layer) Records(sel Selector) []Record {
	return l.index.Records(sel)
}

// Resolve turns a textual artifact reference into a content hash. Full
// 64-character hex is parsed directly; the short doc-<12 hex> form is
// resolved against the index.
func (l *Layer) Resolve(ref string) (Hash, error) {
	if hash, err := ParseHash(ref); err == nil {
		return hash, nil
	}
	return l.index.ResolveRef(ref)
}

// Stats returns aggregate counts from the index.
func (l *Layer) Stats() IndexStats {
	return l.index.Stats()
}

// DiskUsage returns total payload bytes on disk, or 0 when the backing
// store cannot report sizes.
func (l *Layer) DiskUsage() (int64, error) {
	type sizer interface {
		DiskUsage() (int64, error)
	}
	s, ok := l.store.(sizer)
	if !ok {
		return 0, nil
	}
	return s.DiskUsage()
}

// fetch loads and decodes one document, verifying content addressing
// both ways: the decoded document must carry the requested hash, and
// its content must still hash to it.
func (l *Layer) fetch(hash Hash) (Document, error) {
	payload, err := l.store.Get(hash)
	if err != nil {
		return Document{}, err
	}

	doc, err := UnmarshalDocument(payload)
	if err != nil {
		return Document{}, fmt.Errorf("%w: payload %s: %v", ErrIntegrity, FormatRef(hash), err)
	}
	if doc.Hash != hash {
		return Document{}, fmt.Errorf("%w: payload %s carries hash %s", ErrIntegrity, FormatRef(hash), FormatRef(doc.Hash))
	}
	if computed := HashContent(doc.Content); computed != hash {
		return Document{}, fmt.Errorf("%w: payload %s content hashes to %s", ErrIntegrity, FormatRef(hash), FormatRef(computed))
	}
	return doc, nil
}

// checkParents enforces write-time provenance resolution: every parent
// must be indexed already or written earlier in this batch.
func (l *Layer) checkParents(d *Document, batch map[Hash]struct{}) error {
	for _, parent := range d.ParentHashes {
		if _, inBatch := batch[parent]; inBatch {
			continue
		}
		if _, indexed := l.index.Get(parent); indexed {
			continue
		}
		return fmt.Errorf("%w: document %q references unknown parent %s",
			ErrIntegrity, d.ID, FormatRef(parent))
	}
	return nil
}
