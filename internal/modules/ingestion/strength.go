package ingestion

import (
	"context"
	"math"
	"strings"

	types "github.com/yungbote/scholargraph-backend/internal/domain"
	"github.com/yungbote/scholargraph-backend/internal/platform/envutil"
	"github.com/yungbote/scholargraph-backend/internal/platform/logger"
)

// Embedder produces sentence embeddings for the semantic factor. When nil
// (or failing), the calculator falls back to weighted character n-gram
// overlap; both paths feed the same score buckets.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// sectionOrder is the fixed ordering used for adjacency in the section
// factor.
var sectionOrder = map[string]int{
	"introduction":      0,
	"literature_review": 1,
	"methodology":       2,
	"results":           3,
	"discussion":        4,
}

// StrengthCalculator scores Theory-explains-Phenomenon connections. The
// total strength is the sum of five independently bounded factors, capped at
// 1.0, and the factor breakdown always sums to the returned total.
type StrengthCalculator struct {
	log         *logger.Logger
	embedder    Embedder
	minStrength float64
}

func NewStrengthCalculator(log *logger.Logger, embedder Embedder) *StrengthCalculator {
	return &StrengthCalculator{
		log:         log.With("component", "StrengthCalculator"),
		embedder:    embedder,
		minStrength: envutil.Float("CONNECTION_MIN_STRENGTH", 0.3),
	}
}

// CalculateStrength is fail-soft: malformed inputs yield (0, zero factors)
// rather than an error, and the caller simply skips the relationship.
func (s *StrengthCalculator) CalculateStrength(ctx context.Context, theory, phen *types.RawRecord) (float64, types.FactorScores) {
	if theory == nil || phen == nil {
		return 0, types.FactorScores{}
	}

	role := strings.ToLower(theory.AttrString("role"))
	usage := theory.AttrString("usage_context")
	if role == "" && usage == "" {
		return 0, types.FactorScores{}
	}

	phenName := phen.AttrString("phenomenon_name")
	if phenName == "" {
		phenName = strings.TrimSpace(phen.RawName)
	}
	if phenName == "" {
		return 0, types.FactorScores{}
	}

	phenText := strings.TrimSpace(strings.Join([]string{
		phenName,
		phen.AttrString("description"),
		phen.AttrString("context"),
	}, " "))

	factors := types.FactorScores{
		RoleWeight:    roleWeight(role),
		SectionScore:  sectionScore(theory.AttrString("section"), phen.AttrString("section")),
		KeywordScore:  keywordScore(usage, phenText),
		SemanticScore: s.semanticScore(ctx, usage, phenText),
		ExplicitBonus: explicitBonus(phenName, usage),
	}

	// The raw factor maxima sum to 1.1, so a maximal match can overshoot.
	// Capping at 1.0 scales the factors proportionally: the stored breakdown
	// always sums to the stored total.
	total := factors.Total()
	if total > 1 {
		scale := 1 / total
		factors.RoleWeight *= scale
		factors.SectionScore *= scale
		factors.KeywordScore *= scale
		factors.SemanticScore *= scale
		factors.ExplicitBonus *= scale
		total = 1
	}
	return total, factors
}

// ShouldCreateConnection is the pure threshold check used to decide whether
// a scored relationship is materialized at all.
func ShouldCreateConnection(strength, threshold float64) bool {
	return strength >= threshold
}

func (s *StrengthCalculator) MinStrength() float64 { return s.minStrength }

func roleWeight(role string) float64 {
	switch role {
	case "primary":
		return 0.4
	case "supporting":
		return 0.2
	case "extending":
		return 0.15
	case "challenging":
		return 0.1
	default:
		return 0
	}
}

func sectionScore(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	ia, okA := sectionOrder[a]
	ib, okB := sectionOrder[b]
	if !okA || !okB {
		return 0
	}
	switch {
	case a == b:
		return 0.2
	case ia-ib == 1 || ib-ia == 1:
		return 0.1
	default:
		return 0.05
	}
}

func keywordScore(usage, phenText string) float64 {
	j := jaccard(tokenize(usage), tokenize(phenText))
	switch {
	case j >= 0.5:
		return 0.2
	case j >= 0.2:
		return 0.1
	case j > 0:
		return 0.05
	default:
		return 0
	}
}

func (s *StrengthCalculator) semanticScore(ctx context.Context, usage, phenText string) float64 {
	if strings.TrimSpace(usage) == "" || strings.TrimSpace(phenText) == "" {
		return 0
	}

	sim := -1.0
	if s.embedder != nil {
		if vecs, err := s.embedder.EmbedTexts(ctx, []string{usage, phenText}); err == nil && len(vecs) == 2 {
			sim = cosine(vecs[0], vecs[1])
		} else if err != nil {
			s.log.Debug("embedding failed; using n-gram fallback", "error", err)
		}
	}
	if sim < 0 {
		sim = ngramSimilarity(usage, phenText)
	}

	switch {
	case sim >= 0.7:
		return 0.2
	case sim >= 0.5:
		return 0.15
	case sim >= 0.3:
		return 0.1
	case sim >= 0.1:
		return 0.05
	default:
		return 0
	}
}

// ngramSimilarity is the embeddings-free fallback: weighted character
// bigram/trigram Dice overlap.
func ngramSimilarity(a, b string) float64 {
	bi := diceCoefficient(charNGrams(a, 2), charNGrams(b, 2))
	tri := diceCoefficient(charNGrams(a, 3), charNGrams(b, 3))
	return 0.4*bi + 0.6*tri
}

func explicitBonus(phenName, usage string) float64 {
	name := strings.ToLower(strings.TrimSpace(phenName))
	text := strings.ToLower(usage)
	if name == "" || text == "" {
		return 0
	}
	if strings.Contains(text, name) {
		return 0.1
	}

	nameWords := sortedKeys(tokenize(phenName))
	if len(nameWords) == 0 {
		return 0
	}
	usageWords := sortedKeys(tokenize(usage))
	matched := 0
	for _, nw := range nameWords {
		for _, uw := range usageWords {
			if stemMatch(nw, uw) {
				matched++
				break
			}
		}
	}
	ratio := float64(matched) / float64(len(nameWords))
	switch {
	case ratio >= 0.8:
		return 0.08
	case ratio >= 0.5:
		return 0.05
	default:
		return 0
	}
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
