package ingestion

import (
	"errors"
	"testing"

	types "github.com/yungbote/scholargraph-backend/internal/domain"
)

func TestCanonicalizeAbbreviationVariants(t *testing.T) {
	c := NewCanonicalizer(testLogger(t), nil)

	got, err := c.Canonicalize(types.EntityTheory, "RBV")
	if err != nil {
		t.Fatalf("canonicalize RBV: %v", err)
	}
	if got != "Resource-Based View" {
		t.Fatalf("expected Resource-Based View, got %q", got)
	}

	got, err = c.Canonicalize(types.EntityTheory, "Resource-Based View (RBV)")
	if err != nil {
		t.Fatalf("canonicalize parenthetical: %v", err)
	}
	if got != "Resource-Based View" {
		t.Fatalf("parenthetical variant should resolve to Resource-Based View, got %q", got)
	}

	got, err = c.Canonicalize(types.EntityTheory, "Adner's Resource-Based View")
	if err != nil {
		t.Fatalf("canonicalize possessive: %v", err)
	}
	if got == "Resource-Based View" {
		t.Fatal("more specific name must stay distinct from Resource-Based View")
	}
}

func TestCanonicalizeParentheticalFirstSighting(t *testing.T) {
	// Even with an empty registry, the rule table resolves the inner
	// abbreviation and maps the pair to the complete form.
	c := NewCanonicalizer(testLogger(t), nil)

	got, err := c.Canonicalize(types.EntityTheory, "Resource-Based View (RBV)")
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if got != "Resource-Based View" {
		t.Fatalf("expected Resource-Based View, got %q", got)
	}
}

func TestCanonicalizeSuffixStripping(t *testing.T) {
	c := NewCanonicalizer(testLogger(t), nil)

	if _, err := c.Canonicalize(types.EntityTheory, "Resource-Based View"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := c.Canonicalize(types.EntityTheory, "Resource-Based Perspective")
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if got != "Resource-Based View" {
		t.Fatalf("suffix variant should collapse, got %q", got)
	}
}

func TestCanonicalizeSimilarityFallback(t *testing.T) {
	c := NewCanonicalizer(testLogger(t), nil)

	if _, err := c.Canonicalize(types.EntityTheory, "Transaction Cost Economics"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := c.Canonicalize(types.EntityTheory, "Transaction Cost Economic")
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if got != "Transaction Cost Economics" {
		t.Fatalf("near-identical variant should map via similarity, got %q", got)
	}
}

func TestCanonicalizePhenomenonStaysConservative(t *testing.T) {
	c := NewCanonicalizer(testLogger(t), nil)

	first, err := c.Canonicalize(types.EntityPhenomenon, "Digital transformation")
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	same, err := c.Canonicalize(types.EntityPhenomenon, "  Digital  Transformation ")
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if same != first {
		t.Fatalf("whitespace variant should match: %q vs %q", same, first)
	}

	other, err := c.Canonicalize(types.EntityPhenomenon, "Digital transformation of supply chains")
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if other == first {
		t.Fatal("more specific phenomenon must stay distinct")
	}
}

func TestCanonicalizeEmptyName(t *testing.T) {
	c := NewCanonicalizer(testLogger(t), nil)
	if _, err := c.Canonicalize(types.EntityTheory, "   "); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestCanonicalizeAliasRecordingIdempotent(t *testing.T) {
	c := NewCanonicalizer(testLogger(t), nil)

	for i := 0; i < 3; i++ {
		if _, err := c.Canonicalize(types.EntityTheory, "RBV"); err != nil {
			t.Fatalf("canonicalize: %v", err)
		}
	}

	aliases := c.Aliases(types.EntityTheory, "Resource-Based View")
	count := 0
	for _, a := range aliases {
		if a == "RBV" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected RBV recorded exactly once, got %d in %v", count, aliases)
	}
}

func TestCanonicalizeWarmAndReset(t *testing.T) {
	c := NewCanonicalizer(testLogger(t), nil)
	c.Warm(types.EntityTheory, []string{"Institutional Theory"})

	got, err := c.Canonicalize(types.EntityTheory, "Institutional Theory")
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if got != "Institutional Theory" {
		t.Fatalf("warmed name should resolve to itself, got %q", got)
	}

	c.Reset()
	if got := c.Aliases(types.EntityTheory, "Institutional Theory"); got != nil {
		t.Fatalf("expected empty registry after reset, got %v", got)
	}
}
