package ingestion

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	types "github.com/yungbote/scholargraph-backend/internal/domain"
	"github.com/yungbote/scholargraph-backend/internal/platform/envutil"
	"github.com/yungbote/scholargraph-backend/internal/platform/logger"
)

// ErrEmptyName is returned for empty/whitespace-only raw names. The caller
// drops the record and logs it.
var ErrEmptyName = errors.New("empty entity name")

// SimilarityFunc scores two entity names in [0,1]. Injectable so the fallback
// matching algorithm and threshold can be tuned against a name-variant corpus
// without touching the resolution order.
type SimilarityFunc func(a, b string) float64

// RuleTable is the static per-type mapping of known name variants (mostly
// abbreviations) to canonical names. Keys are matched after normalization.
type RuleTable struct {
	mappings map[types.EntityType]map[string]string
}

// DefaultRuleTable carries the abbreviation expansions that recur across
// management and IS research extractions.
func DefaultRuleTable() *RuleTable {
	t := &RuleTable{mappings: map[types.EntityType]map[string]string{}}
	for raw, canonical := range map[string]string{
		"rbv":   "Resource-Based View",
		"rbt":   "Resource-Based Theory",
		"tce":   "Transaction Cost Economics",
		"tam":   "Technology Acceptance Model",
		"utaut": "Unified Theory of Acceptance and Use of Technology",
		"sct":   "Social Cognitive Theory",
		"sdt":   "Self-Determination Theory",
		"dcv":   "Dynamic Capabilities View",
	} {
		t.Add(types.EntityTheory, raw, canonical)
	}
	for raw, canonical := range map[string]string{
		"sem": "Structural Equation Modeling",
		"ols": "Ordinary Least Squares Regression",
		"qca": "Qualitative Comparative Analysis",
	} {
		t.Add(types.EntityMethod, raw, canonical)
	}
	return t
}

func (t *RuleTable) Add(et types.EntityType, raw, canonical string) {
	key := normalizeName(raw)
	if key == "" || strings.TrimSpace(canonical) == "" {
		return
	}
	if t.mappings[et] == nil {
		t.mappings[et] = map[string]string{}
	}
	t.mappings[et][key] = strings.TrimSpace(canonical)
}

func (t *RuleTable) Lookup(et types.EntityType, name string) (string, bool) {
	m := t.mappings[et]
	if m == nil {
		return "", false
	}
	canonical, ok := m[normalizeName(name)]
	return canonical, ok
}

// LoadRuleTable reads additional mappings from a YAML file shaped as
//
//	theory:
//	  "RBV": "Resource-Based View"
//	method:
//	  "SEM": "Structural Equation Modeling"
//
// and merges them over the defaults.
func LoadRuleTable(path string) (*RuleTable, error) {
	t := DefaultRuleTable()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("canonical rules: read %s: %w", path, err)
	}
	var parsed map[string]map[string]string
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("canonical rules: parse %s: %w", path, err)
	}
	for et, pairs := range parsed {
		for rawName, canonical := range pairs {
			t.Add(types.EntityType(strings.ToLower(strings.TrimSpace(et))), rawName, canonical)
		}
	}
	return t, nil
}

type canonicalEntry struct {
	Name    string
	Aliases map[string]bool
}

// Canonicalizer maps variant entity names onto single canonical names. The
// registry is an in-process cache shared by all workers; the store's unique
// key constraint stays the source of truth if the cache is stale or reset.
type Canonicalizer struct {
	log      *logger.Logger
	rules    *RuleTable
	sim      SimilarityFunc
	minScore float64

	mu       sync.Mutex
	known    map[types.EntityType]map[string]*canonicalEntry // normalized name -> entry
	stripped map[types.EntityType]map[string]string          // suffix-stripped name -> canonical
}

type CanonicalizerOption func(*Canonicalizer)

func WithSimilarity(sim SimilarityFunc, minScore float64) CanonicalizerOption {
	return func(c *Canonicalizer) {
		c.sim = sim
		c.minScore = minScore
	}
}

func NewCanonicalizer(log *logger.Logger, rules *RuleTable, opts ...CanonicalizerOption) *Canonicalizer {
	if rules == nil {
		rules = DefaultRuleTable()
	}
	c := &Canonicalizer{
		log:      log.With("component", "Canonicalizer"),
		rules:    rules,
		sim:      TrigramJaccard,
		minScore: envutil.Float("CANONICAL_SIMILARITY_MIN_SCORE", 0.90),
		known:    map[types.EntityType]map[string]*canonicalEntry{},
		stripped: map[types.EntityType]map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Canonicalize resolves rawName to a canonical name for its type, registering
// new canonical names on first sighting. Resolution order: static rule table,
// parenthetical variants, suffix-stripped exact match, similarity fallback,
// first-seen-wins. Phenomenon names only get the conservative trimming rules
// so their specificity is preserved.
func (c *Canonicalizer) Canonicalize(et types.EntityType, rawName string) (string, error) {
	if strings.TrimSpace(rawName) == "" {
		return "", ErrEmptyName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Rule 1: static table.
	if canonical, ok := c.rules.Lookup(et, rawName); ok {
		return c.register(et, canonical, rawName), nil
	}

	// Exact match against a known canonical name (normalization only).
	if entry, ok := c.lookup(et, rawName); ok {
		return c.register(et, entry.Name, rawName), nil
	}

	if et == types.EntityPhenomenon {
		// Conservative path: no parenthetical or similarity matching.
		return c.register(et, strings.TrimSpace(rawName), rawName), nil
	}

	// Rule 2: parenthetical variants "A (B)".
	if outer, inner, ok := splitParenthetical(rawName); ok {
		for _, cand := range []string{outer, inner} {
			if canonical, ok := c.rules.Lookup(et, cand); ok {
				return c.register(et, canonical, rawName), nil
			}
			if entry, ok := c.lookup(et, cand); ok {
				return c.register(et, entry.Name, rawName), nil
			}
		}
	}

	// Rule 3: suffix-insensitive exact match. Only full equality of stripped
	// forms qualifies; substring containment of a more specific name must not
	// collapse it into the generic one.
	if canonical, ok := c.stripped[et][stripSuffixes(rawName)]; ok {
		return c.register(et, canonical, rawName), nil
	}

	// Rule 4: similarity fallback against all known canonical names.
	if c.sim != nil && c.minScore > 0 {
		best, bestScore := "", 0.0
		for _, entry := range c.known[et] {
			if score := c.sim(rawName, entry.Name); score > bestScore {
				best, bestScore = entry.Name, score
			}
		}
		if best != "" && bestScore >= c.minScore {
			c.log.Debug("similarity canonical match",
				"entity_type", string(et),
				"raw_name", rawName,
				"canonical", best,
				"score", bestScore,
			)
			return c.register(et, best, rawName), nil
		}
	}

	// Rule 5: first seen wins.
	return c.register(et, strings.TrimSpace(rawName), rawName), nil
}

// Aliases returns every raw name ever mapped to the canonical name.
func (c *Canonicalizer) Aliases(et types.EntityType, canonical string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lookup(et, canonical)
	if !ok {
		return nil
	}
	return sortedKeys(entry.Aliases)
}

// Warm seeds the registry with canonical names already in the store.
func (c *Canonicalizer) Warm(et types.EntityType, canonicalNames []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range canonicalNames {
		if strings.TrimSpace(name) == "" {
			continue
		}
		c.register(et, strings.TrimSpace(name), "")
	}
}

// Reset clears the registry. The cache is non-authoritative, so this is safe
// at any time; it exists for test isolation.
func (c *Canonicalizer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known = map[types.EntityType]map[string]*canonicalEntry{}
	c.stripped = map[types.EntityType]map[string]string{}
}

func (c *Canonicalizer) lookup(et types.EntityType, name string) (*canonicalEntry, bool) {
	entry, ok := c.known[et][normalizeName(name)]
	return entry, ok
}

func (c *Canonicalizer) register(et types.EntityType, canonical, rawName string) string {
	key := normalizeName(canonical)
	if c.known[et] == nil {
		c.known[et] = map[string]*canonicalEntry{}
		c.stripped[et] = map[string]string{}
	}
	entry, ok := c.known[et][key]
	if !ok {
		entry = &canonicalEntry{Name: canonical, Aliases: map[string]bool{}}
		c.known[et][key] = entry
		if sk := stripSuffixes(canonical); sk != "" {
			if _, exists := c.stripped[et][sk]; !exists {
				c.stripped[et][sk] = canonical
			}
		}
	}
	if raw := strings.TrimSpace(rawName); raw != "" && raw != entry.Name {
		entry.Aliases[raw] = true
	}
	return entry.Name
}

// suffixes the stripped-match rule removes from the tail of a name.
var canonicalSuffixes = []string{"theory", "framework", "perspective", "view"}

func stripSuffixes(name string) string {
	n := normalizeName(name)
	for changed := true; changed; {
		changed = false
		for _, suffix := range canonicalSuffixes {
			if strings.HasSuffix(n, " "+suffix) {
				n = strings.TrimSpace(strings.TrimSuffix(n, " "+suffix))
				changed = true
			}
		}
	}
	return n
}

func splitParenthetical(name string) (outer, inner string, ok bool) {
	s := strings.TrimSpace(name)
	if !strings.HasSuffix(s, ")") {
		return "", "", false
	}
	open := strings.LastIndex(s, "(")
	if open <= 0 {
		return "", "", false
	}
	outer = strings.TrimSpace(s[:open])
	inner = strings.TrimSpace(s[open+1 : len(s)-1])
	if outer == "" || inner == "" {
		return "", "", false
	}
	return outer, inner, true
}
