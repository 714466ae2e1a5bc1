package searchspace

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/tunelab/sweep/pkg/trialstore"
)

// Registry resolves search-space definitions against the store with
// lookup-or-insert semantics: a definition structurally equal to one already
// persisted resolves to the existing record, otherwise the canonical form is
// inserted once and its new identity returned.
//
// Concurrent resolvers of the same new definition converge on a single
// winner through the store's fingerprint SETNX; the loser discards its own
// insert and adopts the winner's record.
type Registry struct {
	store *trialstore.Client
}

// NewRegistry creates a registry backed by the given store client.
func NewRegistry(store *trialstore.Client) *Registry {
	return &Registry{store: store}
}

// Resolve returns the persisted search space for the given definition,
// inserting it first if no structurally equal space exists. Resolve is
// idempotent and safe under concurrent callers.
func (r *Registry) Resolve(ctx context.Context, def Definition) (*SearchSpace, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search space: %w", err)
	}

	canonical, err := def.Canonical()
	if err != nil {
		return nil, err
	}
	fingerprint, err := def.Fingerprint()
	if err != nil {
		return nil, err
	}

	// Fast path: a structurally equal space already owns the fingerprint.
	if id, err := r.store.LookupSpaceByFingerprint(ctx, fingerprint); err == nil {
		return r.Get(ctx, id)
	} else if !errors.Is(err, trialstore.ErrSpaceNotFound) {
		return nil, err
	}

	// Insert our candidate, then race for the fingerprint.
	id, err := r.store.InsertSpace(ctx, &trialstore.SpaceRecord{
		Fingerprint: fingerprint,
		Payload:     string(canonical),
	})
	if err != nil {
		return nil, err
	}

	owner, won, err := r.store.ClaimSpaceFingerprint(ctx, fingerprint, id)
	if err != nil {
		return nil, err
	}
	if !won {
		// Another resolver inserted the same definition first. Discard our
		// candidate record and adopt the winner's identity so jobs tagged by
		// either caller filter into the same aggregation queries.
		if err := r.store.DeleteSpace(ctx, id); err != nil {
			log.Printf("[SearchSpace] Failed to discard duplicate space %s: %v", id, err)
		}
		return r.Get(ctx, owner)
	}

	return &SearchSpace{ID: id, Definition: def}, nil
}

// Get loads and decodes a persisted search space by identity.
func (r *Registry) Get(ctx context.Context, spaceID string) (*SearchSpace, error) {
	record, err := r.store.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	def, err := ParseDefinition(record.Payload)
	if err != nil {
		return nil, fmt.Errorf("space %s: %w", spaceID, err)
	}
	return &SearchSpace{ID: record.ID, Definition: def}, nil
}
