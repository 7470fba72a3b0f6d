// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import "errors"

// Error taxonomy. Callers test with errors.Is; everything below may
// arrive wrapped with operation context.
//
// Transformer errors are deliberately absent: the CachingInterceptor
// returns them exactly as the transformer raised them, unwrapped and
// unretried. Retry policy belongs to the pipeline, not this store.
var (
	// ErrNotFound is returned when a lookup by hash or logical id has
	// no match: a missing payload file, an unindexed hash.
	ErrNotFound = errors.New("artifact not found")

	// ErrIntegrity is returned when content addressing is violated: a
	// put for an existing hash with different payload bytes, a payload
	// whose content no longer matches its hash on read, or (with
	// parent verification enabled) a record referencing a parent hash
	// that resolves to nothing.
	ErrIntegrity = errors.New("artifact integrity violation")

	// ErrDuplicate is returned when adding a record whose content hash
	// is already indexed under a different logical id, parents, or
	// metadata. Re-adding an identical record is a no-op, not an
	// error; overwriting is the explicit, opt-in Upsert path.
	ErrDuplicate = errors.New("duplicate artifact record")

	// ErrPersistence is returned when reading or writing the index
	// snapshot fails. The underlying I/O error is wrapped alongside.
	ErrPersistence = errors.New("snapshot persistence failure")
)
