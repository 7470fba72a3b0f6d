// Copyright 2026 The Relic Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"context"
	"fmt"
)

// Transformer is one opaque document-processing step: parsing,
// splitting, enrichment. Implementations may be expensive or
// non-deterministic (network calls, model inference), which is why the
// interceptor caches at the input boundary instead of assuming
// anything about transformer determinism.
//
// The context bounds the only step in this system with unbounded
// external latency; store operations carry no timeout of their own.
type Transformer interface {
	Transform(ctx context.Context, documents []Document) ([]Document, error)
}

// CachingInterceptor wraps a Transformer and makes it idempotent per
// input: an input whose logical id was already processed skips the
// transformer and returns the previously stored children; a fresh
// input runs the transformer and has its outputs persisted with
// provenance back to the input's hash.
//
// Dedup is keyed on the input's identity, not the transformer's
// behavior: with opaque transformers, caching at the input boundary is
// the only safe, general strategy.
type CachingInterceptor struct {
	layer       *Layer
	transformer Transformer
	name        string
}

// InterceptorOption configures a CachingInterceptor.
type InterceptorOption func(*CachingInterceptor)

// WithTransformerName stamps the name into each output's
// MetaTransformer metadata, making the step's outputs addressable by
// Selector.TransformedBy.
func WithTransformerName(name string) InterceptorOption {
	return func(ci *CachingInterceptor) { ci.name = name }
}

// NewCachingInterceptor wraps a transformer with the caching layer.
func NewCachingInterceptor(layer *Layer, transformer Transformer, opts ...InterceptorOption) *CachingInterceptor {
	ci := &CachingInterceptor{
		layer:       layer,
		transformer: transformer,
	}
	for _, opt := range opts {
		opt(ci)
	}
	return ci
}

// Transform is the caching transformation step.
//
// For each input, in order:
//   - its logical id and content hash are filled in if absent;
//   - if the id has no stored artifact yet, the wrapped transformer
//     runs on that single document, each output gains the input's hash
//     as a parent (and, by default, the input's logical id, which is
//     what makes the cache hit on the next run), and the
//     outputs are persisted;
//   - if the id is already stored, the previously persisted children
//     of the input's hash are resolved instead and the transformer is
//     not invoked.
//
// The result preserves input ordering: each input's contribution,
// fresh or cached, occupies its source position, and an input with
// several outputs contributes them contiguously.
//
// Transformer errors are returned exactly as raised: never wrapped,
// caught, or retried here. Retry policy belongs to the caller.
func (ci *CachingInterceptor) Transform(ctx context.Context, documents []Document) ([]Document, error) {
	ids := make([]string, len(documents))
	for i := range documents {
		documents[i].EnsureID()
		documents[i].EnsureHash()
		ids[i] = documents[i].ID
	}

	existence := ci.layer.Exists(ids)

	var results []Document
	for i := range documents {
		input := documents[i]

		if existence[i] {
			children, err := ci.layer.Children(input.Hash)
			if err != nil {
				return nil, fmt.Errorf("resolving cached outputs for %q: %w", input.ID, err)
			}
			results = append(results, children...)
			continue
		}

		outputs, err := ci.transformer.Transform(ctx, []Document{input})
		if err != nil {
			return nil, err
		}

		for j := range outputs {
			ci.stampOutput(&outputs[j], input)
		}
		if err := ci.layer.Add(outputs); err != nil {
			return nil, fmt.Errorf("persisting outputs of %q: %w", input.ID, err)
		}
		results = append(results, outputs...)
	}

	return results, nil
}

// stampOutput links one transformer output back to its input: parent
// hash, inherited logical id (outputs that carry their own id keep
// it), and the transformer name when configured.
func (ci *CachingInterceptor) stampOutput(output *Document, input Document) {
	if !output.HasParent(input.Hash) {
		output.ParentHashes = append(output.ParentHashes, input.Hash)
	}
	if output.ID == "" {
		output.ID = input.ID
	}
	if ci.name != "" {
		if output.Metadata == nil {
			output.Metadata = make(map[string]any)
		}
		output.Metadata[MetaTransformer] = ci.name
	}
}
