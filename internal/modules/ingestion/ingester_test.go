package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/scholargraph-backend/internal/data/graph"
	types "github.com/yungbote/scholargraph-backend/internal/domain"
)

func newTestIngester(t *testing.T, store graph.Store, opts ...IngesterOption) *Ingester {
	t.Helper()
	t.Setenv("INGEST_MAX_RETRIES", "0")
	log := testLogger(t)
	canon := NewCanonicalizer(log, nil)
	calc := NewStrengthCalculator(log, nil)
	return NewIngester(log, store, canon, calc, opts...)
}

func paperRecords() []*types.RawRecord {
	return []*types.RawRecord{
		{
			EntityType: types.EntityTheory,
			RawName:    "Resource-Based View (RBV)",
			Attributes: map[string]any{
				"role":          "primary",
				"section":       "introduction",
				"usage_context": "explains how firms allocate resources during financial crises",
				"confidence":    0.9,
			},
		},
		{
			EntityType: types.EntityPhenomenon,
			RawName:    "Resource allocation patterns during financial crises",
			Attributes: map[string]any{
				"section":     "introduction",
				"description": "how firms allocate resources during financial crises",
				"context":     "studied through firm investment decisions",
				"confidence":  0.8,
			},
		},
	}
}

func TestIngestPaperCommitsEntitiesAndRelationship(t *testing.T) {
	store := graph.NewMemStore()
	ing := newTestIngester(t, store)

	result, err := ing.IngestPaper(context.Background(), "p1", paperRecords())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.State != types.StateCommitted || !result.Committed {
		t.Fatalf("expected committed state, got %+v", result)
	}
	if result.EntityCount != 2 {
		t.Fatalf("expected 2 entities, got %d", result.EntityCount)
	}
	if result.RelationshipCount != 1 {
		t.Fatalf("expected 1 relationship, got %d", result.RelationshipCount)
	}

	rbv, err := store.GetEntity(context.Background(), types.EntityTheory, "Resource-Based View")
	if err != nil || rbv == nil {
		t.Fatalf("canonical theory missing: %v %v", rbv, err)
	}

	rels, err := store.ListRelationships(context.Background())
	if err != nil {
		t.Fatalf("list relationships: %v", err)
	}
	rel := rels[0]
	if rel.Predicate != types.PredicateExplainsPhenomenon {
		t.Fatalf("unexpected predicate %q", rel.Predicate)
	}
	if rel.TotalStrength < 0.3 {
		t.Fatalf("relationship below threshold should not exist: %v", rel.TotalStrength)
	}
}

func TestIngestPaperIdempotent(t *testing.T) {
	store := graph.NewMemStore()
	ing := newTestIngester(t, store)
	ctx := context.Background()

	if _, err := ing.IngestPaper(ctx, "p1", paperRecords()); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	firstEntities := store.EntityCount()
	firstRels, err := store.ListRelationships(ctx)
	if err != nil {
		t.Fatalf("list relationships: %v", err)
	}

	if _, err := ing.IngestPaper(ctx, "p1", paperRecords()); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if got := store.EntityCount(); got != firstEntities {
		t.Fatalf("entity count changed on re-ingest: %d -> %d", firstEntities, got)
	}
	secondRels, err := store.ListRelationships(ctx)
	if err != nil {
		t.Fatalf("list relationships: %v", err)
	}
	if len(secondRels) != len(firstRels) {
		t.Fatalf("relationship count changed on re-ingest: %d -> %d", len(firstRels), len(secondRels))
	}
	for i := range firstRels {
		if firstRels[i].Key() != secondRels[i].Key() {
			t.Fatalf("relationship keys changed: %q -> %q", firstRels[i].Key(), secondRels[i].Key())
		}
		if firstRels[i].TotalStrength != secondRels[i].TotalStrength {
			t.Fatalf("relationship strength changed on re-ingest: %v -> %v",
				firstRels[i].TotalStrength, secondRels[i].TotalStrength)
		}
	}
}

func TestIngestPaperReprocessingPrunesDroppedRelationships(t *testing.T) {
	store := graph.NewMemStore()
	ing := newTestIngester(t, store)
	ctx := context.Background()

	if _, err := ing.IngestPaper(ctx, "p1", paperRecords()); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := ing.IngestPaper(ctx, "p2", paperRecords()); err != nil {
		t.Fatalf("sibling ingest: %v", err)
	}
	if store.RelationshipCount() != 2 {
		t.Fatalf("expected 2 relationships before reprocessing, got %d", store.RelationshipCount())
	}

	// The reprocessed extraction no longer reports the theory, so p1's
	// relationship must go while p2's stays.
	phenOnly := paperRecords()[1:]
	result, err := ing.IngestPaper(ctx, "p1", phenOnly)
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if result.RelationshipCount != 0 {
		t.Fatalf("expected no relationships in reprocessed commit, got %d", result.RelationshipCount)
	}
	rels, err := store.ListRelationships(ctx)
	if err != nil {
		t.Fatalf("list relationships: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("stale relationship survived reprocessing: %d rows", len(rels))
	}
	if rels[0].PaperID != "p2" {
		t.Fatalf("wrong paper's relationship pruned: surviving row belongs to %q", rels[0].PaperID)
	}
}

func TestIngestPaperAtomicRollback(t *testing.T) {
	store := graph.NewMemStore()
	store.CommitHook = func(step int) error {
		if step > 2 {
			return errors.New("connection reset")
		}
		return nil
	}
	ing := newTestIngester(t, store)

	result, err := ing.IngestPaper(context.Background(), "p1", paperRecords())
	if err == nil {
		t.Fatal("expected commit failure")
	}
	if !errors.Is(err, graph.ErrTxFailed) {
		t.Fatalf("expected ErrTxFailed, got %v", err)
	}
	if result.State != types.StateIngestionFailed {
		t.Fatalf("expected ingestion_failed state, got %q", result.State)
	}
	if store.EntityCount() != 0 || store.RelationshipCount() != 0 {
		t.Fatalf("partial writes survived a failed commit: %d entities, %d relationships",
			store.EntityCount(), store.RelationshipCount())
	}
}

func TestIngestPaperSoftFailureKeepsStub(t *testing.T) {
	store := graph.NewMemStore()
	ing := newTestIngester(t, store)

	records := []*types.RawRecord{{
		EntityType: types.EntityTheory,
		RawName:    "Upper Echelons Theory",
		Attributes: map[string]any{"role": "central"},
	}}
	result, err := ing.IngestPaper(context.Background(), "p1", records)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(result.SoftFailures) != 1 {
		t.Fatalf("expected 1 soft failure, got %d", len(result.SoftFailures))
	}
	if !result.Committed {
		t.Fatal("soft failures must not abort the paper")
	}

	stub, err := store.GetEntity(context.Background(), types.EntityTheory, "Upper Echelons Theory")
	if err != nil || stub == nil {
		t.Fatalf("expected stub node for soft-failed record: %v %v", stub, err)
	}
	if store.RelationshipCount() != 0 {
		t.Fatal("stub theory must not produce relationships")
	}
}

func TestIngestPaperEmptyNameDropped(t *testing.T) {
	store := graph.NewMemStore()
	ing := newTestIngester(t, store)

	records := []*types.RawRecord{{EntityType: types.EntityMethod, RawName: "   "}}
	result, err := ing.IngestPaper(context.Background(), "p1", records)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(result.Errors) == 0 {
		t.Fatal("dropped record must be reported")
	}
	if store.EntityCount() != 0 {
		t.Fatal("empty-name record must not create an entity")
	}
}

func TestIngestPaperResolvesAgainstExistingEntity(t *testing.T) {
	store := graph.NewMemStore()
	seed := &graph.PaperCommit{
		PaperID: "p0",
		Entities: []*types.CanonicalEntity{{
			EntityType:    types.EntityTheory,
			CanonicalName: "Resource-Based View",
			Attributes:    map[string]any{"origin": "Barney 1991"},
			Confidence:    0.6,
		}},
	}
	if err := store.CommitPaper(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ing := newTestIngester(t, store)
	ing.WarmRegistry(context.Background())

	if _, err := ing.IngestPaper(context.Background(), "p1", paperRecords()); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	e, err := store.GetEntity(context.Background(), types.EntityTheory, "Resource-Based View")
	if err != nil || e == nil {
		t.Fatalf("entity missing: %v %v", e, err)
	}
	if e.Confidence != 0.9 {
		t.Fatalf("highest-confidence default must keep the 0.9 extraction, got %v", e.Confidence)
	}
}

func TestIngestPaperEmptyPaperID(t *testing.T) {
	store := graph.NewMemStore()
	ing := newTestIngester(t, store)

	result, err := ing.IngestPaper(context.Background(), "", paperRecords())
	if err == nil {
		t.Fatal("expected error for empty paper id")
	}
	if result.State != types.StateIngestionFailed {
		t.Fatalf("expected ingestion_failed, got %q", result.State)
	}
}
