package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yungbote/scholargraph-backend/internal/data/graph"
	types "github.com/yungbote/scholargraph-backend/internal/domain"
	"github.com/yungbote/scholargraph-backend/internal/platform/envutil"
	"github.com/yungbote/scholargraph-backend/internal/platform/logger"
)

// Ingester orchestrates validate -> canonicalize -> resolve -> score for one
// paper's record set and commits the result as a single atomic unit. Entity-
// and relationship-level problems never abort a paper; only store-level
// transaction failures do, and those roll the whole paper back.
type Ingester struct {
	log   *logger.Logger
	store graph.Store
	canon *Canonicalizer
	calc  *StrengthCalculator

	defaultStrategy  Strategy
	policy           map[types.EntityType]Strategy
	stubSoftFailures bool
	maxRetries       int
	txTimeout        time.Duration
}

type IngesterOption func(*Ingester)

// WithConflictPolicy overrides the resolution strategy for one entity type.
func WithConflictPolicy(t types.EntityType, s Strategy) IngesterOption {
	return func(ing *Ingester) { ing.policy[t] = s }
}

func WithDefaultStrategy(s Strategy) IngesterOption {
	return func(ing *Ingester) { ing.defaultStrategy = s }
}

func NewIngester(log *logger.Logger, store graph.Store, canon *Canonicalizer, calc *StrengthCalculator, opts ...IngesterOption) *Ingester {
	ing := &Ingester{
		log:              log.With("component", "Ingester"),
		store:            store,
		canon:            canon,
		calc:             calc,
		defaultStrategy:  StrategyHighestConfidence,
		policy:           map[types.EntityType]Strategy{},
		stubSoftFailures: envutil.Bool("INGEST_STUB_SOFT_FAILURES", true),
		maxRetries:       envutil.Int("INGEST_MAX_RETRIES", 3),
		txTimeout:        envutil.Duration("GRAPH_TX_TIMEOUT", 30*time.Second),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// WarmRegistry seeds the canonicalizer with names already committed, so the
// similarity fallback sees the full graph after a restart. Best-effort: the
// store's unique key keeps correctness even with a cold cache.
func (ing *Ingester) WarmRegistry(ctx context.Context) {
	for _, t := range []types.EntityType{
		types.EntityTheory, types.EntityMethod, types.EntityPhenomenon,
		types.EntityVariable, types.EntitySoftware, types.EntityAuthor,
	} {
		names, err := ing.store.ListCanonicalNames(ctx, t)
		if err != nil {
			ing.log.Warn("registry warm failed", "entity_type", string(t), "error", err)
			continue
		}
		ing.canon.Warm(t, names)
	}
}

// IngestPaper processes one paper's raw records end to end. Re-ingesting the
// same paper updates existing rows in place rather than duplicating them, and
// drops relationship rows the new extraction no longer reports.
func (ing *Ingester) IngestPaper(ctx context.Context, paperID string, records []*types.RawRecord) (*types.IngestResult, error) {
	result := &types.IngestResult{
		PaperID:      paperID,
		State:        types.StateExtracted,
		SoftFailures: []types.SoftFailure{},
		ReviewFlags:  []types.ReviewFlag{},
		Errors:       []string{},
	}
	if paperID == "" {
		result.State = types.StateIngestionFailed
		result.Errors = append(result.Errors, "empty paper_id")
		return result, fmt.Errorf("ingest: empty paper_id")
	}

	type canonicalRecord struct {
		rec       *types.RawRecord
		canonical string
	}
	kept := make([]canonicalRecord, 0, len(records))

	for _, rec := range records {
		if rec == nil {
			continue
		}
		rec.PaperID = paperID

		v := Validate(rec)
		use := v.Record
		if !v.OK() {
			result.SoftFailures = append(result.SoftFailures, *v.Failure)
			if !ing.stubSoftFailures {
				continue
			}
			use = v.Fallback
		}
		if use == nil {
			continue
		}

		canonical, err := ing.canon.Canonicalize(use.EntityType, use.RawName)
		if err != nil {
			if errors.Is(err, ErrEmptyName) {
				ing.log.Warn("dropping record with empty name",
					"paper_id", paperID,
					"entity_type", string(use.EntityType),
				)
				result.Errors = append(result.Errors, fmt.Sprintf("%s record dropped: %v", use.EntityType, err))
				continue
			}
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		kept = append(kept, canonicalRecord{rec: use, canonical: canonical})
	}
	result.State = types.StateValidated

	// Collapse same-paper duplicates of one canonical entity before touching
	// the store.
	candidates := map[string]*types.CanonicalEntity{}
	order := make([]string, 0, len(kept))
	for _, cr := range kept {
		cand := ing.entityFromRecord(cr.rec, cr.canonical)
		key := cand.Key()
		if existing, ok := candidates[key]; ok {
			res := Resolve(existing, cand, StrategyMerge, paperID)
			if res.Flag != nil {
				result.ReviewFlags = append(result.ReviewFlags, *res.Flag)
			}
			candidates[key] = res.Entity
			continue
		}
		candidates[key] = cand
		order = append(order, key)
	}

	// Resolve against the graph's current state.
	commit := &graph.PaperCommit{PaperID: paperID}
	for _, key := range order {
		cand := candidates[key]
		existing, err := ing.store.GetEntity(ctx, cand.EntityType, cand.CanonicalName)
		if err != nil {
			result.State = types.StateIngestionFailed
			result.Errors = append(result.Errors, err.Error())
			return result, fmt.Errorf("ingest %s: read entity: %w", paperID, err)
		}
		if existing == nil {
			commit.Entities = append(commit.Entities, cand)
			continue
		}
		res := Resolve(existing, cand, ing.strategyFor(cand.EntityType), paperID)
		if res.Flag != nil {
			result.ReviewFlags = append(result.ReviewFlags, *res.Flag)
			flag := *res.Flag
			commit.ReviewFlags = append(commit.ReviewFlags, &flag)
		}
		if res.Entity != nil {
			commit.Entities = append(commit.Entities, res.Entity)
		}
	}
	result.State = types.StateConflictResolved

	// Score every Theory x Phenomenon co-occurrence in this paper and keep
	// the pairs that clear the connection threshold.
	bestRel := map[string]*types.PerPaperRelationship{}
	for _, t := range kept {
		if t.rec.EntityType != types.EntityTheory {
			continue
		}
		for _, p := range kept {
			if p.rec.EntityType != types.EntityPhenomenon {
				continue
			}
			strength, factors := ing.calc.CalculateStrength(ctx, t.rec, p.rec)
			if !ShouldCreateConnection(strength, ing.calc.MinStrength()) {
				continue
			}
			rel := &types.PerPaperRelationship{
				SubjectKey:    types.EntityKey(types.EntityTheory, t.canonical),
				Predicate:     types.PredicateExplainsPhenomenon,
				ObjectKey:     types.EntityKey(types.EntityPhenomenon, p.canonical),
				PaperID:       paperID,
				Factors:       factors,
				TotalStrength: strength,
				Role:          t.rec.AttrString("role"),
				Section:       t.rec.AttrString("section"),
			}
			if prev, ok := bestRel[rel.Key()]; !ok || rel.TotalStrength > prev.TotalStrength {
				bestRel[rel.Key()] = rel
			}
		}
	}
	for _, key := range sortedRelKeys(bestRel) {
		commit.Relationships = append(commit.Relationships, bestRel[key])
	}

	if err := ing.commitWithRetry(ctx, commit); err != nil {
		result.State = types.StateIngestionFailed
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	result.State = types.StateCommitted
	result.Committed = true
	result.EntityCount = len(commit.Entities)
	result.RelationshipCount = len(commit.Relationships)

	ing.log.Info("paper committed",
		"paper_id", paperID,
		"entities", result.EntityCount,
		"relationships", result.RelationshipCount,
		"soft_failures", len(result.SoftFailures),
		"review_flags", len(result.ReviewFlags),
	)
	return result, nil
}

// commitWithRetry retries transient store failures with exponential backoff.
// Network retry is deliberately separate from the transaction's atomicity:
// each attempt is a fresh all-or-nothing commit.
func (ing *Ingester) commitWithRetry(ctx context.Context, commit *graph.PaperCommit) error {
	backoff := 500 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= ing.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		txCtx, cancel := context.WithTimeout(ctx, ing.txTimeout)
		err := ing.store.CommitPaper(txCtx, commit)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == ing.maxRetries {
			break
		}
		ing.log.Warn("paper commit retrying",
			"paper_id", commit.PaperID,
			"attempt", attempt+1,
			"max_retries", ing.maxRetries,
			"sleep", backoff.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("ingest %s: commit after %d attempts: %w", commit.PaperID, ing.maxRetries+1, lastErr)
}

func (ing *Ingester) entityFromRecord(rec *types.RawRecord, canonical string) *types.CanonicalEntity {
	aliases := append(ing.canon.Aliases(rec.EntityType, canonical), rec.RawName)
	var attrs map[string]any
	if rec.Attributes != nil {
		attrs = make(map[string]any, len(rec.Attributes))
		for k, v := range rec.Attributes {
			attrs[k] = v
		}
	}
	return &types.CanonicalEntity{
		EntityType:    rec.EntityType,
		CanonicalName: canonical,
		Aliases:       dedupeStrings(aliases),
		Attributes:    attrs,
		Confidence:    rec.Confidence(),
		UpdatedAt:     time.Now().UTC(),
	}
}

func (ing *Ingester) strategyFor(t types.EntityType) Strategy {
	if s, ok := ing.policy[t]; ok {
		return s
	}
	return ing.defaultStrategy
}

func sortedRelKeys(m map[string]*types.PerPaperRelationship) []string {
	keys := make(map[string]bool, len(m))
	for k := range m {
		keys[k] = true
	}
	return sortedKeys(keys)
}
