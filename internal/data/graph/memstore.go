package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	types "github.com/yungbote/scholargraph-backend/internal/domain"
)

// MemStore is an in-memory Store for tests and GRAPH_BACKEND=memory local
// runs. CommitPaper stages every write into a scratch copy and swaps it in
// under the lock only when all writes succeed, matching the all-or-nothing
// contract of the Neo4j backend.
type MemStore struct {
	mu       sync.RWMutex
	entities map[string]*types.CanonicalEntity
	rels     map[string]*types.PerPaperRelationship
	aggs     map[string]*types.AggregatedRelationship
	flags    []*types.ReviewFlag

	// CommitHook, when set, runs before each staged write (1-based step
	// counter across the commit). Returning an error aborts the commit with
	// nothing applied. Used by tests to verify atomicity.
	CommitHook func(step int) error
}

func NewMemStore() *MemStore {
	return &MemStore{
		entities: map[string]*types.CanonicalEntity{},
		rels:     map[string]*types.PerPaperRelationship{},
		aggs:     map[string]*types.AggregatedRelationship{},
	}
}

func (s *MemStore) GetEntity(ctx context.Context, t types.EntityType, canonicalName string) (*types.CanonicalEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[types.EntityKey(t, canonicalName)]
	if !ok {
		return nil, nil
	}
	return copyEntity(e), nil
}

func (s *MemStore) ListCanonicalNames(ctx context.Context, t types.EntityType) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0)
	for _, e := range s.entities {
		if e.EntityType == t {
			names = append(names, e.CanonicalName)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemStore) CommitPaper(ctx context.Context, commit *PaperCommit) error {
	if commit == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stagedEntities := map[string]*types.CanonicalEntity{}
	stagedRels := map[string]*types.PerPaperRelationship{}
	stagedFlags := make([]*types.ReviewFlag, 0, len(commit.ReviewFlags))
	step := 0

	for _, e := range commit.Entities {
		if e == nil || e.CanonicalName == "" {
			continue
		}
		step++
		if s.CommitHook != nil {
			if err := s.CommitHook(step); err != nil {
				return fmt.Errorf("%w: %v", ErrTxFailed, err)
			}
		}
		stagedEntities[e.Key()] = copyEntity(e)
	}
	for _, r := range commit.Relationships {
		if r == nil {
			continue
		}
		step++
		if s.CommitHook != nil {
			if err := s.CommitHook(step); err != nil {
				return fmt.Errorf("%w: %v", ErrTxFailed, err)
			}
		}
		cp := *r
		stagedRels[r.Key()] = &cp
	}
	for _, f := range commit.ReviewFlags {
		if f == nil {
			continue
		}
		step++
		if s.CommitHook != nil {
			if err := s.CommitHook(step); err != nil {
				return fmt.Errorf("%w: %v", ErrTxFailed, err)
			}
		}
		cp := *f
		stagedFlags = append(stagedFlags, &cp)
	}

	for k, e := range stagedEntities {
		s.entities[k] = e
	}
	// Reprocessing a paper replaces its relationship set: rows this paper
	// previously reported but no longer does are pruned. Other papers' rows
	// are never touched.
	if commit.PaperID != "" {
		for k, r := range s.rels {
			if r.PaperID != commit.PaperID {
				continue
			}
			if _, ok := stagedRels[k]; !ok {
				delete(s.rels, k)
			}
		}
	}
	for k, r := range stagedRels {
		s.rels[k] = r
	}
	s.flags = append(s.flags, stagedFlags...)
	return nil
}

func (s *MemStore) ListRelationships(ctx context.Context) ([]*types.PerPaperRelationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.PerPaperRelationship, 0, len(s.rels))
	for _, r := range s.rels {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *MemStore) PutAggregates(ctx context.Context, aggs []*types.AggregatedRelationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range aggs {
		if a == nil {
			continue
		}
		cp := *a
		s.aggs[a.Key()] = &cp
	}
	return nil
}

func (s *MemStore) ListAggregates(ctx context.Context) ([]*types.AggregatedRelationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.AggregatedRelationship, 0, len(s.aggs))
	for _, a := range s.aggs {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// EntityCount and RelationshipCount are test helpers.
func (s *MemStore) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

func (s *MemStore) RelationshipCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rels)
}

func (s *MemStore) ReviewFlags() []*types.ReviewFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.ReviewFlag, len(s.flags))
	copy(out, s.flags)
	return out
}

func copyEntity(e *types.CanonicalEntity) *types.CanonicalEntity {
	cp := *e
	cp.Aliases = append([]string(nil), e.Aliases...)
	if e.Attributes != nil {
		cp.Attributes = make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}
