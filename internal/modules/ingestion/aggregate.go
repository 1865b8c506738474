package ingestion

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/yungbote/scholargraph-backend/internal/data/graph"
	types "github.com/yungbote/scholargraph-backend/internal/domain"
	"github.com/yungbote/scholargraph-backend/internal/platform/logger"
)

// AggregationEngine rebuilds cross-paper summary relationships from scratch.
// It is a single-writer batch pass: the mutex keeps overlapping recompute
// calls from interleaving, and the full-recompute shape makes repeated runs
// idempotent.
type AggregationEngine struct {
	log   *logger.Logger
	store graph.Store
	mu    sync.Mutex
}

func NewAggregationEngine(log *logger.Logger, store graph.Store) *AggregationEngine {
	return &AggregationEngine{
		log:   log.With("component", "AggregationEngine"),
		store: store,
	}
}

// RecomputeAggregations derives one AggregatedRelationship per distinct
// (subject_key, object_key) pair with at least one per-paper row, overwriting
// whatever aggregate existed before.
func (e *AggregationEngine) RecomputeAggregations(ctx context.Context) (*types.AggregationReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := &types.AggregationReport{StartedAt: time.Now().UTC()}

	rels, err := e.store.ListRelationships(ctx)
	if err != nil {
		return nil, err
	}

	grouped := map[string][]*types.PerPaperRelationship{}
	for _, r := range rels {
		if r == nil || r.SubjectKey == "" || r.ObjectKey == "" {
			continue
		}
		pairKey := r.SubjectKey + "|" + r.ObjectKey
		grouped[pairKey] = append(grouped[pairKey], r)
	}

	now := time.Now().UTC()
	aggs := make([]*types.AggregatedRelationship, 0, len(grouped))
	for _, rows := range grouped {
		aggs = append(aggs, aggregatePair(rows, now))
	}
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].Key() < aggs[j].Key() })

	if err := e.store.PutAggregates(ctx, aggs); err != nil {
		return nil, err
	}

	report.PairsUpdated = len(aggs)
	report.FinishedAt = time.Now().UTC()
	e.log.Info("aggregations recomputed",
		"pairs_updated", report.PairsUpdated,
		"per_paper_rows", len(rels),
		"elapsed", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report, nil
}

func aggregatePair(rows []*types.PerPaperRelationship, now time.Time) *types.AggregatedRelationship {
	agg := &types.AggregatedRelationship{
		SubjectKey:  rows[0].SubjectKey,
		ObjectKey:   rows[0].ObjectKey,
		MinStrength: math.Inf(1),
		MaxStrength: math.Inf(-1),
		UpdatedAt:   now,
	}

	papers := map[string]bool{}
	var sum float64
	var factorSum types.FactorScores
	for _, r := range rows {
		sum += r.TotalStrength
		if r.TotalStrength < agg.MinStrength {
			agg.MinStrength = r.TotalStrength
		}
		if r.TotalStrength > agg.MaxStrength {
			agg.MaxStrength = r.TotalStrength
		}
		factorSum.RoleWeight += r.Factors.RoleWeight
		factorSum.SectionScore += r.Factors.SectionScore
		factorSum.KeywordScore += r.Factors.KeywordScore
		factorSum.SemanticScore += r.Factors.SemanticScore
		factorSum.ExplicitBonus += r.Factors.ExplicitBonus
		if r.PaperID != "" {
			papers[r.PaperID] = true
		}
	}

	n := float64(len(rows))
	agg.AvgStrength = sum / n
	agg.AvgFactors = types.FactorScores{
		RoleWeight:    factorSum.RoleWeight / n,
		SectionScore:  factorSum.SectionScore / n,
		KeywordScore:  factorSum.KeywordScore / n,
		SemanticScore: factorSum.SemanticScore / n,
		ExplicitBonus: factorSum.ExplicitBonus / n,
	}

	var variance float64
	for _, r := range rows {
		d := r.TotalStrength - agg.AvgStrength
		variance += d * d
	}
	agg.StddevStrength = math.Sqrt(variance / n)

	agg.PaperIDs = sortedKeys(papers)
	agg.PaperCount = len(papers)
	return agg
}
