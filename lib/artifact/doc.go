// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact implements Relic's content-addressed artifact store:
// the persistence layer for document-processing pipelines that makes a
// transformation step idempotent and skip-on-repeat.
//
// The package is organized in layers, each usable independently:
//
//   - Hashing: BLAKE3 in domain-separated keyed mode. A document's
//     content hash is its identity; the hash domain prevents payload
//     hashes from ever colliding with hashes computed elsewhere over
//     the same bytes.
//
//   - Documents: the in-transit form a pipeline moves around (logical
//     id, content hash, parent hashes, free-form metadata, raw content).
//     Canonical serialization is deterministic CBOR via lib/codec, so
//     the same logical document always encodes to the same bytes.
//
//   - ContentStore: one payload file per content hash, sharded two
//     levels deep, written via temp-file-then-rename. Payloads are
//     transparently compressed (zstd or LZ4, probed per payload) and
//     optionally sealed with XChaCha20-Poly1305 under a per-payload
//     key derived from a master key and the content hash.
//
//   - Index: the in-memory metadata index. One record per artifact
//     (logical id, hash, parent hashes, metadata, stored-at), with
//     secondary indexes by hash, id, and parent hash. Selector queries
//     combine clauses with OR semantics and short-circuit per record.
//     The index persists as a single atomic snapshot; a file lock
//     guards the load-mutate-save cycle against concurrent processes.
//
//   - Layer: composes ContentStore and Index into the unit the rest of
//     the pipeline depends on. Add writes payload, then metadata, then
//     the snapshot; a payload whose later metadata write failed is an
//     orphan, reclaimable by SweepOrphans, but the index never points
//     at a payload that failed to write.
//
//   - CachingInterceptor: wraps an opaque Transformer. Inputs whose
//     logical id is already indexed skip the transformer and resolve
//     previously stored children by parent hash; fresh inputs run the
//     transformer and have their outputs persisted with provenance
//     back to the input. Output order mirrors input order.
//
// Artifacts are immutable: changed output means a new content hash and
// a new artifact. Deletion is an explicit, selector-driven operation
// (Layer.Remove, optionally cascading to payloads), never a side
// effect.
package artifact
