package ingestion

import (
	"context"
	"math"
	"testing"

	types "github.com/yungbote/scholargraph-backend/internal/domain"
)

// fixedEmbedder returns canned vectors so the semantic factor is pinned to a
// known cosine similarity.
type fixedEmbedder struct {
	vecs [][]float32
}

func (f *fixedEmbedder) EmbedTexts(_ context.Context, _ []string) ([][]float32, error) {
	return f.vecs, nil
}

func workedTheory() *types.RawRecord {
	return &types.RawRecord{
		EntityType: types.EntityTheory,
		RawName:    "Resource-Based View",
		Attributes: map[string]any{
			"role":          "primary",
			"section":       "introduction",
			"usage_context": "explains how firms allocate resources during financial crises",
		},
	}
}

func workedPhenomenon() *types.RawRecord {
	return &types.RawRecord{
		EntityType: types.EntityPhenomenon,
		RawName:    "Resource allocation patterns during financial crises",
		Attributes: map[string]any{
			"section":     "introduction",
			"description": "how firms allocate resources during financial crises",
			"context":     "studied through firm investment decisions",
		},
	}
}

func TestCalculateStrengthWorkedScenario(t *testing.T) {
	// cosine([1,0],[0.6,0.8]) = 0.6, which lands in the 0.15 semantic bucket.
	emb := &fixedEmbedder{vecs: [][]float32{{1, 0}, {0.6, 0.8}}}
	calc := NewStrengthCalculator(testLogger(t), emb)

	strength, factors := calc.CalculateStrength(context.Background(), workedTheory(), workedPhenomenon())

	if factors.RoleWeight != 0.4 {
		t.Fatalf("role weight: expected 0.4, got %v", factors.RoleWeight)
	}
	if factors.SectionScore != 0.2 {
		t.Fatalf("section score: expected 0.2, got %v", factors.SectionScore)
	}
	if factors.KeywordScore != 0.1 {
		t.Fatalf("keyword score: expected 0.1, got %v", factors.KeywordScore)
	}
	if factors.SemanticScore != 0.15 {
		t.Fatalf("semantic score: expected 0.15, got %v", factors.SemanticScore)
	}
	if factors.ExplicitBonus != 0.08 {
		t.Fatalf("explicit bonus: expected 0.08, got %v", factors.ExplicitBonus)
	}
	if math.Abs(strength-0.93) > 1e-6 {
		t.Fatalf("total strength: expected 0.93, got %v", strength)
	}
}

func TestCalculateStrengthBoundsAndDecomposition(t *testing.T) {
	calc := NewStrengthCalculator(testLogger(t), nil)

	strength, factors := calc.CalculateStrength(context.Background(), workedTheory(), workedPhenomenon())
	if strength < 0 || strength > 1 {
		t.Fatalf("strength %v outside [0,1]", strength)
	}
	if math.Abs(strength-factors.Total()) > 1e-6 {
		t.Fatalf("strength %v does not equal factor sum %v", strength, factors.Total())
	}

	bounds := []struct {
		name string
		got  float64
		max  float64
	}{
		{"role", factors.RoleWeight, 0.4},
		{"section", factors.SectionScore, 0.2},
		{"keyword", factors.KeywordScore, 0.2},
		{"semantic", factors.SemanticScore, 0.2},
		{"explicit", factors.ExplicitBonus, 0.1},
	}
	for _, b := range bounds {
		if b.got < 0 || b.got > b.max {
			t.Fatalf("%s factor %v outside [0,%v]", b.name, b.got, b.max)
		}
	}
}

func TestCalculateStrengthMaxScoringInputStaysDecomposable(t *testing.T) {
	// primary role + same section + high keyword overlap + identical
	// embeddings + verbatim mention: the raw factors sum to 1.1, so the cap
	// must scale the breakdown, not just the total.
	emb := &fixedEmbedder{vecs: [][]float32{{1, 0}, {1, 0}}}
	calc := NewStrengthCalculator(testLogger(t), emb)

	theory := &types.RawRecord{
		EntityType: types.EntityTheory,
		RawName:    "Resource-Based View",
		Attributes: map[string]any{
			"role":          "primary",
			"section":       "introduction",
			"usage_context": "explains resource allocation patterns",
		},
	}
	phen := &types.RawRecord{
		EntityType: types.EntityPhenomenon,
		RawName:    "resource allocation patterns",
		Attributes: map[string]any{"section": "introduction"},
	}

	strength, factors := calc.CalculateStrength(context.Background(), theory, phen)
	if math.Abs(strength-1) > 1e-9 {
		t.Fatalf("expected capped strength 1.0, got %v", strength)
	}
	if math.Abs(strength-factors.Total()) > 1e-6 {
		t.Fatalf("strength %v does not equal factor sum %v", strength, factors.Total())
	}
	if factors.RoleWeight >= 0.4 || factors.ExplicitBonus >= 0.1 {
		t.Fatalf("factors must be scaled below their raw values, got %+v", factors)
	}
}

func TestCalculateStrengthFailSoft(t *testing.T) {
	calc := NewStrengthCalculator(testLogger(t), nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		theory *types.RawRecord
		phen   *types.RawRecord
	}{
		{"nil theory", nil, workedPhenomenon()},
		{"nil phenomenon", workedTheory(), nil},
		{
			"theory without role or usage",
			&types.RawRecord{EntityType: types.EntityTheory, RawName: "RBV"},
			workedPhenomenon(),
		},
		{
			"phenomenon without name",
			workedTheory(),
			&types.RawRecord{EntityType: types.EntityPhenomenon, RawName: "  "},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			strength, factors := calc.CalculateStrength(ctx, tc.theory, tc.phen)
			if strength != 0 {
				t.Fatalf("expected zero strength, got %v", strength)
			}
			if factors != (types.FactorScores{}) {
				t.Fatalf("expected zero factors, got %+v", factors)
			}
		})
	}
}

func TestCalculateStrengthEmbedderFailureFallsBack(t *testing.T) {
	// An embedder error must not zero the score; the n-gram fallback applies.
	calc := NewStrengthCalculator(testLogger(t), failingEmbedder{})
	strength, factors := calc.CalculateStrength(context.Background(), workedTheory(), workedPhenomenon())
	if strength <= 0 {
		t.Fatalf("expected positive strength via fallback, got %v", strength)
	}
	if math.Abs(strength-factors.Total()) > 1e-6 {
		t.Fatalf("strength %v does not equal factor sum %v", strength, factors.Total())
	}
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, context.DeadlineExceeded
}

func TestRoleWeightTable(t *testing.T) {
	cases := map[string]float64{
		"primary":     0.4,
		"supporting":  0.2,
		"extending":   0.15,
		"challenging": 0.1,
		"":            0,
		"central":     0,
	}
	for role, want := range cases {
		if got := roleWeight(role); got != want {
			t.Fatalf("roleWeight(%q): expected %v, got %v", role, want, got)
		}
	}
}

func TestSectionScore(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"introduction", "introduction", 0.2},
		{"introduction", "literature_review", 0.1},
		{"results", "discussion", 0.1},
		{"introduction", "results", 0.05},
		{"introduction", "appendix", 0},
		{"", "introduction", 0},
	}
	for _, tc := range cases {
		if got := sectionScore(tc.a, tc.b); got != tc.want {
			t.Fatalf("sectionScore(%q,%q): expected %v, got %v", tc.a, tc.b, tc.want, got)
		}
	}
}

func TestExplicitBonusVerbatimMention(t *testing.T) {
	got := explicitBonus("resource allocation", "the theory explains resource allocation in firms")
	if got != 0.1 {
		t.Fatalf("verbatim mention: expected 0.1, got %v", got)
	}
}

func TestShouldCreateConnection(t *testing.T) {
	if !ShouldCreateConnection(0.3, 0.3) {
		t.Fatal("strength equal to threshold must connect")
	}
	if ShouldCreateConnection(0.29, 0.3) {
		t.Fatal("strength below threshold must not connect")
	}
}
