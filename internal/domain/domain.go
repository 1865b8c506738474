package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type EntityType string

const (
	EntityTheory     EntityType = "theory"
	EntityMethod     EntityType = "method"
	EntityPhenomenon EntityType = "phenomenon"
	EntityVariable   EntityType = "variable"
	EntitySoftware   EntityType = "software"
	EntityAuthor     EntityType = "author"
)

const PredicateExplainsPhenomenon = "EXPLAINS_PHENOMENON"

// EntityKey is the natural key used for graph lookups: canonical names are
// unique per entity type, not globally.
func EntityKey(t EntityType, canonicalName string) string {
	return string(t) + ":" + canonicalName
}

// RawRecord is one LLM-extracted fact as delivered by the upstream extractor.
// Attributes are untrusted and may be absent or malformed.
type RawRecord struct {
	EntityType EntityType     `json:"entity_type"`
	RawName    string         `json:"raw_name"`
	PaperID    string         `json:"paper_id"`
	Attributes map[string]any `json:"attributes"`
}

// AttrString returns a trimmed string attribute, treating missing and
// non-string values as empty.
func (r *RawRecord) AttrString(key string) string {
	if r == nil || r.Attributes == nil {
		return ""
	}
	if s, ok := r.Attributes[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// AttrFloat returns a numeric attribute. JSON decoding yields float64; int is
// accepted for records built in code.
func (r *RawRecord) AttrFloat(key string) (float64, bool) {
	if r == nil || r.Attributes == nil {
		return 0, false
	}
	switch v := r.Attributes[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func (r *RawRecord) Confidence() float64 {
	f, ok := r.AttrFloat("confidence")
	if !ok {
		return 0
	}
	return f
}

// CanonicalEntity is the single graph node for all name-variants of one
// concept. It is created on first sighting and mutated afterwards, never
// replaced wholesale and never hard-deleted.
type CanonicalEntity struct {
	EntityType    EntityType     `json:"entity_type"`
	CanonicalName string         `json:"canonical_name"`
	Aliases       []string       `json:"aliases"`
	Attributes    map[string]any `json:"attributes"`
	Confidence    float64        `json:"confidence"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (e *CanonicalEntity) Key() string {
	return EntityKey(e.EntityType, e.CanonicalName)
}

// FactorScores is the explainable breakdown of a connection strength. The
// total strength equals the sum of the five factors within float tolerance.
type FactorScores struct {
	RoleWeight    float64 `json:"role_weight"`
	SectionScore  float64 `json:"section_score"`
	KeywordScore  float64 `json:"keyword_score"`
	SemanticScore float64 `json:"semantic_score"`
	ExplicitBonus float64 `json:"explicit_bonus"`
}

func (f FactorScores) Total() float64 {
	return f.RoleWeight + f.SectionScore + f.KeywordScore + f.SemanticScore + f.ExplicitBonus
}

// PerPaperRelationship is evidence from exactly one paper. It is a singleton
// per (subject_key, object_key, paper_id); re-ingesting the paper updates it
// in place.
type PerPaperRelationship struct {
	SubjectKey    string       `json:"subject_key"`
	Predicate     string       `json:"predicate"`
	ObjectKey     string       `json:"object_key"`
	PaperID       string       `json:"paper_id"`
	Factors       FactorScores `json:"factor_scores"`
	TotalStrength float64      `json:"total_strength"`
	Role          string       `json:"role"`
	Section       string       `json:"section"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (r *PerPaperRelationship) Key() string {
	return r.SubjectKey + "|" + r.ObjectKey + "|" + r.PaperID
}

// AggregatedRelationship is fully derived from the per-paper rows sharing
// (subject_key, object_key) and is rebuilt wholesale on every recompute.
type AggregatedRelationship struct {
	SubjectKey     string       `json:"subject_key"`
	ObjectKey      string       `json:"object_key"`
	AvgStrength    float64      `json:"avg_strength"`
	MinStrength    float64      `json:"min_strength"`
	MaxStrength    float64      `json:"max_strength"`
	StddevStrength float64      `json:"stddev_strength"`
	PaperCount     int          `json:"paper_count"`
	PaperIDs       []string     `json:"paper_ids"`
	AvgFactors     FactorScores `json:"averaged_factor_scores"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (a *AggregatedRelationship) Key() string {
	return a.SubjectKey + "|" + a.ObjectKey
}

// ReviewFlag records an incoming extraction that conflict resolution refused
// to apply automatically. The existing entity stays untouched; the incoming
// payload is preserved for manual review.
type ReviewFlag struct {
	ID            uuid.UUID      `json:"id"`
	EntityType    EntityType     `json:"entity_type"`
	CanonicalName string         `json:"canonical_name"`
	PaperID       string         `json:"paper_id"`
	Reason        string         `json:"reason"`
	Incoming      map[string]any `json:"incoming"`
	CreatedAt     time.Time      `json:"created_at"`
}

// SoftFailure marks a record that failed schema validation but was kept as a
// stub rather than lost.
type SoftFailure struct {
	EntityType EntityType `json:"entity_type"`
	RawName    string     `json:"raw_name"`
	PaperID    string     `json:"paper_id"`
	Fields     []string   `json:"fields"`
	Reason     string     `json:"reason"`
}

type PaperState string

const (
	StateExtracted        PaperState = "extracted"
	StateCanonicalized    PaperState = "canonicalized"
	StateValidated        PaperState = "validated"
	StateConflictResolved PaperState = "conflict_resolved"
	StateCommitted        PaperState = "committed"
	StateValidationFailed PaperState = "validation_failed"
	StateIngestionFailed  PaperState = "ingestion_failed"
)

// IngestResult reports one paper's ingestion attempt. Soft failures and
// review flags are observability, not errors; Committed is false only when
// the whole paper rolled back.
type IngestResult struct {
	PaperID           string        `json:"paper_id"`
	State             PaperState    `json:"state"`
	Committed         bool          `json:"committed"`
	EntityCount       int           `json:"entity_count"`
	RelationshipCount int           `json:"relationship_count"`
	SoftFailures      []SoftFailure `json:"soft_failures"`
	ReviewFlags       []ReviewFlag  `json:"review_flags"`
	Errors            []string      `json:"errors"`
}

type AggregationReport struct {
	PairsUpdated int       `json:"pairs_updated"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}
