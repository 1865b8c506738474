package ingestion

import (
	"context"
	"math"
	"testing"

	"github.com/yungbote/scholargraph-backend/internal/data/graph"
	types "github.com/yungbote/scholargraph-backend/internal/domain"
)

func seedRelationships(t *testing.T, store *graph.MemStore, strengths map[string]float64) {
	t.Helper()
	subject := types.EntityKey(types.EntityTheory, "Resource-Based View")
	object := types.EntityKey(types.EntityPhenomenon, "Resource allocation patterns")
	for paperID, strength := range strengths {
		commit := &graph.PaperCommit{
			PaperID: paperID,
			Relationships: []*types.PerPaperRelationship{{
				SubjectKey:    subject,
				Predicate:     types.PredicateExplainsPhenomenon,
				ObjectKey:     object,
				PaperID:       paperID,
				Factors:       types.FactorScores{RoleWeight: strength},
				TotalStrength: strength,
			}},
		}
		if err := store.CommitPaper(context.Background(), commit); err != nil {
			t.Fatalf("seed %s: %v", paperID, err)
		}
	}
}

func TestRecomputeAggregations(t *testing.T) {
	store := graph.NewMemStore()
	seedRelationships(t, store, map[string]float64{"p1": 0.9, "p2": 0.7, "p3": 0.5})

	engine := NewAggregationEngine(testLogger(t), store)
	report, err := engine.RecomputeAggregations(context.Background())
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if report.PairsUpdated != 1 {
		t.Fatalf("expected 1 pair, got %d", report.PairsUpdated)
	}

	aggs, err := store.ListAggregates(context.Background())
	if err != nil {
		t.Fatalf("list aggregates: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(aggs))
	}
	agg := aggs[0]

	if math.Abs(agg.AvgStrength-0.7) > 1e-9 {
		t.Fatalf("avg: expected 0.7, got %v", agg.AvgStrength)
	}
	if agg.MinStrength != 0.5 || agg.MaxStrength != 0.9 {
		t.Fatalf("min/max: expected 0.5/0.9, got %v/%v", agg.MinStrength, agg.MaxStrength)
	}
	wantStddev := math.Sqrt(0.08 / 3)
	if math.Abs(agg.StddevStrength-wantStddev) > 1e-9 {
		t.Fatalf("stddev: expected %v, got %v", wantStddev, agg.StddevStrength)
	}
	if agg.PaperCount != 3 {
		t.Fatalf("paper count: expected 3, got %d", agg.PaperCount)
	}
	wantPapers := []string{"p1", "p2", "p3"}
	for i, p := range wantPapers {
		if agg.PaperIDs[i] != p {
			t.Fatalf("paper ids: expected %v, got %v", wantPapers, agg.PaperIDs)
		}
	}
	if math.Abs(agg.AvgFactors.RoleWeight-0.7) > 1e-9 {
		t.Fatalf("avg role factor: expected 0.7, got %v", agg.AvgFactors.RoleWeight)
	}
}

func TestRecomputeAggregationsIdempotent(t *testing.T) {
	store := graph.NewMemStore()
	seedRelationships(t, store, map[string]float64{"p1": 0.9, "p2": 0.7, "p3": 0.5})
	engine := NewAggregationEngine(testLogger(t), store)
	ctx := context.Background()

	if _, err := engine.RecomputeAggregations(ctx); err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	first, err := store.ListAggregates(ctx)
	if err != nil {
		t.Fatalf("list aggregates: %v", err)
	}

	report, err := engine.RecomputeAggregations(ctx)
	if err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	if report.PairsUpdated != 1 {
		t.Fatalf("rerun must still touch exactly 1 pair, got %d", report.PairsUpdated)
	}
	second, err := store.ListAggregates(ctx)
	if err != nil {
		t.Fatalf("list aggregates: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("aggregate count changed: %d -> %d", len(first), len(second))
	}
	if first[0].AvgStrength != second[0].AvgStrength || first[0].PaperCount != second[0].PaperCount {
		t.Fatalf("rerun changed derived values: %+v vs %+v", first[0], second[0])
	}
}

func TestRecomputeAggregationsEmptyStore(t *testing.T) {
	engine := NewAggregationEngine(testLogger(t), graph.NewMemStore())
	report, err := engine.RecomputeAggregations(context.Background())
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if report.PairsUpdated != 0 {
		t.Fatalf("expected 0 pairs, got %d", report.PairsUpdated)
	}
}

func TestRecomputeAggregationsSeparatesPairs(t *testing.T) {
	store := graph.NewMemStore()
	seedRelationships(t, store, map[string]float64{"p1": 0.8})

	other := &graph.PaperCommit{
		PaperID: "p2",
		Relationships: []*types.PerPaperRelationship{{
			SubjectKey:    types.EntityKey(types.EntityTheory, "Transaction Cost Economics"),
			Predicate:     types.PredicateExplainsPhenomenon,
			ObjectKey:     types.EntityKey(types.EntityPhenomenon, "Outsourcing decisions"),
			PaperID:       "p2",
			TotalStrength: 0.4,
		}},
	}
	if err := store.CommitPaper(context.Background(), other); err != nil {
		t.Fatalf("seed: %v", err)
	}

	engine := NewAggregationEngine(testLogger(t), store)
	report, err := engine.RecomputeAggregations(context.Background())
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if report.PairsUpdated != 2 {
		t.Fatalf("expected 2 pairs, got %d", report.PairsUpdated)
	}
}
