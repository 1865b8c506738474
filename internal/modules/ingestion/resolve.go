package ingestion

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/scholargraph-backend/internal/domain"
)

// Strategy selects how competing extractions of the same canonical entity are
// reconciled. Unknown strategies fall back to manual review rather than
// guessing.
type Strategy string

const (
	StrategyHighestConfidence Strategy = "highest_confidence"
	StrategyMostRecent        Strategy = "most_recent"
	StrategyMerge             Strategy = "merge"
	StrategyManualReview      Strategy = "manual_review"
)

// Resolution carries the record that should be written plus the reason it
// was chosen. Flag is non-nil when the incoming record was deferred to
// manual review; it must be persisted so the extraction is never silently
// dropped.
type Resolution struct {
	Entity *types.CanonicalEntity
	Reason string
	Flag   *types.ReviewFlag
}

// Resolve never returns an error: every input produces a usable resolution.
func Resolve(existing, incoming *types.CanonicalEntity, strategy Strategy, paperID string) Resolution {
	switch {
	case incoming == nil && existing == nil:
		return Resolution{Reason: "nothing to resolve"}
	case existing == nil:
		return Resolution{Entity: incoming, Reason: "no existing record"}
	case incoming == nil:
		return Resolution{Entity: existing, Reason: "no incoming record"}
	}

	switch strategy {
	case StrategyHighestConfidence:
		if incoming.Confidence >= existing.Confidence {
			return Resolution{
				Entity: withAliases(incoming, existing.Aliases),
				Reason: fmt.Sprintf("incoming confidence %.2f >= existing %.2f", incoming.Confidence, existing.Confidence),
			}
		}
		return Resolution{
			Entity: withAliases(existing, incoming.Aliases),
			Reason: fmt.Sprintf("existing confidence %.2f > incoming %.2f", existing.Confidence, incoming.Confidence),
		}

	case StrategyMostRecent:
		return Resolution{
			Entity: withAliases(incoming, existing.Aliases),
			Reason: "most recent extraction wins",
		}

	case StrategyMerge:
		if !compatible(existing, incoming) {
			return manualReview(existing, incoming, paperID, "merge refused: singular fields disagree")
		}
		return Resolution{Entity: merge(existing, incoming), Reason: "compatible records merged"}

	case StrategyManualReview:
		return manualReview(existing, incoming, paperID, "flagged for manual review")

	default:
		return manualReview(existing, incoming, paperID, fmt.Sprintf("unknown strategy %q", strategy))
	}
}

// compatible reports whether no singular-valued field disagrees between the
// two records. List-valued fields never conflict; they union under merge.
func compatible(a, b *types.CanonicalEntity) bool {
	if a.Attributes == nil || b.Attributes == nil {
		return true
	}
	for key, av := range a.Attributes {
		bv, ok := b.Attributes[key]
		if !ok {
			continue
		}
		if isListValue(av) || isListValue(bv) {
			continue
		}
		if fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

// merge unions list-valued fields and keeps the higher-confidence record's
// scalar fields, filling gaps from the other side.
func merge(existing, incoming *types.CanonicalEntity) *types.CanonicalEntity {
	hi, lo := incoming, existing
	if existing.Confidence > incoming.Confidence {
		hi, lo = existing, incoming
	}

	out := &types.CanonicalEntity{
		EntityType:    hi.EntityType,
		CanonicalName: hi.CanonicalName,
		Aliases:       dedupeStrings(append(append([]string{}, existing.Aliases...), incoming.Aliases...)),
		Attributes:    map[string]any{},
		Confidence:    hi.Confidence,
		UpdatedAt:     time.Now().UTC(),
	}
	for key, v := range lo.Attributes {
		out.Attributes[key] = v
	}
	for key, v := range hi.Attributes {
		if isListValue(v) {
			out.Attributes[key] = unionLists(lo.Attributes[key], v)
			continue
		}
		out.Attributes[key] = v
	}
	for key, v := range lo.Attributes {
		if isListValue(v) {
			out.Attributes[key] = unionLists(v, hi.Attributes[key])
		}
	}
	return out
}

func manualReview(existing, incoming *types.CanonicalEntity, paperID, reason string) Resolution {
	return Resolution{
		Entity: withAliases(existing, incoming.Aliases),
		Reason: reason,
		Flag: &types.ReviewFlag{
			ID:            uuid.New(),
			EntityType:    incoming.EntityType,
			CanonicalName: incoming.CanonicalName,
			PaperID:       paperID,
			Reason:        reason,
			Incoming:      incoming.Attributes,
			CreatedAt:     time.Now().UTC(),
		},
	}
}

// withAliases returns the record with the other side's aliases folded in;
// alias sets always union regardless of which record wins.
func withAliases(e *types.CanonicalEntity, extra []string) *types.CanonicalEntity {
	cp := *e
	cp.Aliases = dedupeStrings(append(append([]string{}, e.Aliases...), extra...))
	return &cp
}

func isListValue(v any) bool {
	switch v.(type) {
	case []any, []string:
		return true
	default:
		return false
	}
}

func unionLists(a, b any) []string {
	out := append(toStringList(a), toStringList(b)...)
	return dedupeStrings(out)
}

func toStringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string{}, t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			out = append(out, strings.TrimSpace(fmt.Sprint(it)))
		}
		return out
	default:
		return nil
	}
}
