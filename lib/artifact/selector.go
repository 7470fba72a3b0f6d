// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"strings"
	"time"
)

// Selector is a structured query over the metadata index. Each field
// is an independent optional clause; a record matches the selector if
// ANY supplied clause matches it (OR semantics across clauses,
// first-match short-circuits per record). An absent clause is simply
// not evaluated: it never matches everything and never matches
// nothing on its own. The zero-value Selector matches no records.
//
// OR across clauses is a deliberate, behavior-changing choice: a
// selector naming both ids and parent hashes returns the union of both
// matches, not the intersection.
type Selector struct {
	// IDs matches records by logical id.
	IDs map[string]struct{}

	// Hashes matches records by content hash.
	Hashes map[Hash]struct{}

	// ParentHashes matches records any of whose parent hashes is in
	// the set.
	ParentHashes map[Hash]struct{}

	// TransformedBy matches records whose MetaTransformer metadata
	// equals this name exactly.
	TransformedBy string

	// SourcePrefix matches records whose MetaSource metadata starts
	// with this prefix.
	SourcePrefix string

	// StoredAfter and StoredBefore bound the record's stored-at time.
	// Together they form one clause: when either is set, a record
	// matches the clause if it lies after StoredAfter (exclusive, when
	// set) and before StoredBefore (exclusive, when set).
	StoredAfter  time.Time
	StoredBefore time.Time
}

// SelectByIDs builds a selector matching the given logical ids.
func SelectByIDs(ids ...string) Selector {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Selector{IDs: set}
}

// SelectByHashes builds a selector matching the given content hashes.
func SelectByHashes(hashes ...Hash) Selector {
	set := make(map[Hash]struct{}, len(hashes))
	for _, hash := range hashes {
		set[hash] = struct{}{}
	}
	return Selector{Hashes: set}
}

// SelectByParents builds a selector matching records derived from any
// of the given parent hashes.
func SelectByParents(parents ...Hash) Selector {
	set := make(map[Hash]struct{}, len(parents))
	for _, hash := range parents {
		set[hash] = struct{}{}
	}
	return Selector{ParentHashes: set}
}

// Empty reports whether no clause is supplied. An empty selector
// matches nothing.
func (s Selector) Empty() bool {
	return len(s.IDs) == 0 &&
		len(s.Hashes) == 0 &&
		len(s.ParentHashes) == 0 &&
		s.TransformedBy == "" &&
		s.SourcePrefix == "" &&
		s.StoredAfter.IsZero() &&
		s.StoredBefore.IsZero()
}

// Matches evaluates the selector against one record, returning on the
// first clause that matches.
func (s Selector) Matches(r Record) bool {
	if len(s.IDs) > 0 {
		if _, ok := s.IDs[r.ID]; ok {
			return true
		}
	}

	if len(s.Hashes) > 0 {
		if _, ok := s.Hashes[r.Hash]; ok {
			return true
		}
	}

	if len(s.ParentHashes) > 0 {
		for _, parent := range r.ParentHashes {
			if _, ok := s.ParentHashes[parent]; ok {
				return true
			}
		}
	}

	if s.TransformedBy != "" {
		if name, ok := r.Metadata[MetaTransformer].(string); ok && name == s.TransformedBy {
			return true
		}
	}

	if s.SourcePrefix != "" {
		if source, ok := r.Metadata[MetaSource].(string); ok && strings.HasPrefix(source, s.SourcePrefix) {
			return true
		}
	}

	if !s.StoredAfter.IsZero() || !s.StoredBefore.IsZero() {
		inRange := true
		if !s.StoredAfter.IsZero() && !r.StoredAt.After(s.StoredAfter) {
			inRange = false
		}
		if !s.StoredBefore.IsZero() && !r.StoredAt.Before(s.StoredBefore) {
			inRange = false
		}
		if inRange {
			return true
		}
	}

	return false
}
