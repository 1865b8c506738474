// Package graph defines the store contract the ingestion core relies on: a
// merge-by-natural-key upsert primitive plus an atomic per-paper commit. The
// Neo4j implementation is the production backend; the memory implementation
// backs tests and local runs.
package graph

import (
	"context"
	"errors"

	types "github.com/yungbote/scholargraph-backend/internal/domain"
)

// ErrTxFailed wraps store-level transaction failures. The ingester treats
// these as retryable; everything already applied in the failed attempt has
// been rolled back.
var ErrTxFailed = errors.New("graph transaction failed")

// PaperCommit is one paper's full contribution. CommitPaper applies it
// atomically: either every upsert lands or none do. Upserts are
// "merge-by-natural-key, then unconditionally set all mutable properties",
// so a re-commit of the same paper overwrites stale values instead of being
// ignored.
type PaperCommit struct {
	PaperID       string
	Entities      []*types.CanonicalEntity
	Relationships []*types.PerPaperRelationship
	ReviewFlags   []*types.ReviewFlag
}

type Store interface {
	// GetEntity returns the current canonical entity, or (nil, nil) when the
	// key has never been written.
	GetEntity(ctx context.Context, t types.EntityType, canonicalName string) (*types.CanonicalEntity, error)

	// ListCanonicalNames returns every canonical name of the given type, used
	// to warm the canonicalizer registry at boot.
	ListCanonicalNames(ctx context.Context, t types.EntityType) ([]string, error)

	// CommitPaper applies one paper's contribution in a single transaction.
	CommitPaper(ctx context.Context, commit *PaperCommit) error

	// ListRelationships returns all committed per-paper relationships.
	ListRelationships(ctx context.Context) ([]*types.PerPaperRelationship, error)

	// PutAggregates overwrites the aggregated relationship for each pair.
	PutAggregates(ctx context.Context, aggs []*types.AggregatedRelationship) error

	// ListAggregates returns the current aggregated relationships.
	ListAggregates(ctx context.Context) ([]*types.AggregatedRelationship, error)
}
