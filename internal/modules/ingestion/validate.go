package ingestion

import (
	"fmt"
	"strings"

	types "github.com/yungbote/scholargraph-backend/internal/domain"
)

const (
	maxStringAttrLen  = 2000
	maxPhenomenonName = 200
	minPubYear        = 1900
	maxPubYear        = 2100
)

var theoryRoles = map[string]bool{
	"primary":     true,
	"supporting":  true,
	"extending":   true,
	"challenging": true,
}

// Validated is the outcome of schema validation. When Failure is nil the
// record passed as-is. Otherwise Fallback carries a minimal record (only the
// identifying fields) so the caller can still create a stub node instead of
// losing the entity.
type Validated struct {
	Record   *types.RawRecord
	Failure  *types.SoftFailure
	Fallback *types.RawRecord
}

func (v Validated) OK() bool { return v.Failure == nil }

// Validate checks a raw record against its per-type schema. Pure: it never
// panics and never logs; soft failures are returned as values.
func Validate(rec *types.RawRecord) Validated {
	if rec == nil {
		return Validated{Failure: &types.SoftFailure{Reason: "nil record"}}
	}

	var bad []string
	var reasons []string
	fail := func(field, reason string) {
		bad = append(bad, field)
		reasons = append(reasons, reason)
	}

	if strings.TrimSpace(rec.RawName) == "" {
		fail("raw_name", "missing raw_name")
	}

	switch rec.EntityType {
	case types.EntityTheory:
		role := strings.ToLower(rec.AttrString("role"))
		usage := rec.AttrString("usage_context")
		if role == "" && usage == "" {
			fail("role", "theory requires role or usage_context")
		} else if role != "" && !theoryRoles[role] {
			fail("role", fmt.Sprintf("unknown theory role %q", role))
		}
	case types.EntityPhenomenon:
		name := rec.AttrString("phenomenon_name")
		if name == "" {
			name = strings.TrimSpace(rec.RawName)
		}
		if n := len(name); n < 1 || n > maxPhenomenonName {
			fail("phenomenon_name", fmt.Sprintf("phenomenon_name length %d outside 1..%d", n, maxPhenomenonName))
		}
	case types.EntityMethod, types.EntityVariable, types.EntitySoftware, types.EntityAuthor:
		// Identifying name is the only hard requirement.
	default:
		fail("entity_type", fmt.Sprintf("unknown entity_type %q", rec.EntityType))
	}

	if rec.Attributes != nil {
		if conf, ok := rec.AttrFloat("confidence"); ok && (conf < 0 || conf > 1) {
			fail("confidence", fmt.Sprintf("confidence %v outside [0,1]", conf))
		}
		if year, ok := rec.AttrFloat("publication_year"); ok && (year < minPubYear || year > maxPubYear) {
			fail("publication_year", fmt.Sprintf("publication_year %v outside [%d,%d]", year, minPubYear, maxPubYear))
		}
		for key, v := range rec.Attributes {
			if s, ok := v.(string); ok && len(s) > maxStringAttrLen {
				fail(key, fmt.Sprintf("%s exceeds %d chars", key, maxStringAttrLen))
			}
		}
	}

	if len(bad) == 0 {
		return Validated{Record: rec}
	}

	return Validated{
		Failure: &types.SoftFailure{
			EntityType: rec.EntityType,
			RawName:    rec.RawName,
			PaperID:    rec.PaperID,
			Fields:     dedupeStrings(bad),
			Reason:     strings.Join(reasons, "; "),
		},
		Fallback: &types.RawRecord{
			EntityType: rec.EntityType,
			RawName:    rec.RawName,
			PaperID:    rec.PaperID,
		},
	}
}
