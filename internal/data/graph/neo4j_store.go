package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	types "github.com/yungbote/scholargraph-backend/internal/domain"
	"github.com/yungbote/scholargraph-backend/internal/platform/logger"
	"github.com/yungbote/scholargraph-backend/internal/platform/neo4jdb"
)

// Neo4jStore implements Store on the Neo4j driver. Every per-paper commit
// runs inside a single ExecuteWrite, and every upsert is MERGE-by-natural-key
// followed by an unconditional SET of mutable properties.
type Neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewNeo4jStore(client *neo4jdb.Client, log *logger.Logger) *Neo4jStore {
	return &Neo4jStore{client: client, log: log.With("component", "Neo4jStore")}
}

// InitSchema creates the uniqueness constraints the ingestion invariants rely
// on. Best-effort: restricted users may not be allowed to create schema.
func (s *Neo4jStore) InitSchema(ctx context.Context) {
	session := s.session(ctx)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT entity_type_name_unique IF NOT EXISTS FOR (e:Entity) REQUIRE (e.entity_type, e.canonical_name) IS UNIQUE`,
		`CREATE INDEX entity_key_idx IF NOT EXISTS FOR (e:Entity) ON (e.key)`,
		`CREATE CONSTRAINT review_flag_id_unique IF NOT EXISTS FOR (f:ReviewFlag) REQUIRE f.id IS UNIQUE`,
	}
	for _, stmt := range stmts {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			s.log.Warn("neo4j schema init failed (continuing)", "error", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

func (s *Neo4jStore) GetEntity(ctx context.Context, t types.EntityType, canonicalName string) (*types.CanonicalEntity, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {entity_type: $type, canonical_name: $name})
RETURN e.entity_type AS entity_type,
       e.canonical_name AS canonical_name,
       e.aliases AS aliases,
       e.attributes_json AS attributes_json,
       e.confidence AS confidence
`, map[string]any{"type": string(t), "name": canonicalName})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		return entityFromRecord(records[0]), nil
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j get entity: %w", err)
	}
	if out == nil {
		return nil, nil
	}
	return out.(*types.CanonicalEntity), nil
}

func (s *Neo4jStore) ListCanonicalNames(ctx context.Context, t types.EntityType) ([]string, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {entity_type: $type})
RETURN e.canonical_name AS name
ORDER BY name
`, map[string]any{"type": string(t)})
		if err != nil {
			return nil, err
		}
		names := make([]string, 0)
		for res.Next(ctx) {
			if v, ok := res.Record().Get("name"); ok {
				if name, ok := v.(string); ok && name != "" {
					names = append(names, name)
				}
			}
		}
		return names, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j list canonical names: %w", err)
	}
	return out.([]string), nil
}

func (s *Neo4jStore) CommitPaper(ctx context.Context, commit *PaperCommit) error {
	if commit == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	nodes := make([]map[string]any, 0, len(commit.Entities))
	for _, e := range commit.Entities {
		if e == nil || e.CanonicalName == "" {
			continue
		}
		nodes = append(nodes, map[string]any{
			"entity_type":     string(e.EntityType),
			"canonical_name":  e.CanonicalName,
			"key":             e.Key(),
			"aliases":         e.Aliases,
			"attributes_json": mustJSON(e.Attributes),
			"confidence":      e.Confidence,
			"updated_at":      now,
		})
	}

	// Cypher cannot parameterize relationship types, so rows are grouped per
	// predicate and each group runs its own statement.
	relsByPredicate := map[string][]map[string]any{}
	keepPairs := make([]string, 0, len(commit.Relationships))
	for _, r := range commit.Relationships {
		if r == nil || r.SubjectKey == "" || r.ObjectKey == "" {
			continue
		}
		if r.Predicate != types.PredicateExplainsPhenomenon {
			s.log.Warn("skipping relationship with unknown predicate", "predicate", r.Predicate)
			continue
		}
		keepPairs = append(keepPairs, r.SubjectKey+"|"+r.ObjectKey)
		relsByPredicate[r.Predicate] = append(relsByPredicate[r.Predicate], map[string]any{
			"subject_key":    r.SubjectKey,
			"object_key":     r.ObjectKey,
			"paper_id":       r.PaperID,
			"role_weight":    r.Factors.RoleWeight,
			"section_score":  r.Factors.SectionScore,
			"keyword_score":  r.Factors.KeywordScore,
			"semantic_score": r.Factors.SemanticScore,
			"explicit_bonus": r.Factors.ExplicitBonus,
			"total_strength": r.TotalStrength,
			"role":           r.Role,
			"section":        r.Section,
			"updated_at":     now,
		})
	}

	flags := make([]map[string]any, 0, len(commit.ReviewFlags))
	for _, f := range commit.ReviewFlags {
		if f == nil {
			continue
		}
		flags = append(flags, map[string]any{
			"id":             f.ID.String(),
			"entity_type":    string(f.EntityType),
			"canonical_name": f.CanonicalName,
			"paper_id":       f.PaperID,
			"reason":         f.Reason,
			"incoming_json":  mustJSON(f.Incoming),
			"created_at":     now,
		})
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(nodes) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (e:Entity {entity_type: n.entity_type, canonical_name: n.canonical_name})
SET e.key = n.key,
    e.aliases = n.aliases,
    e.attributes_json = n.attributes_json,
    e.confidence = n.confidence,
    e.updated_at = n.updated_at
`, map[string]any{"nodes": nodes})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		// Reprocessing replaces the paper's relationship set: rows the paper
		// previously reported but no longer does are deleted in the same
		// transaction.
		if commit.PaperID != "" {
			res, err := tx.Run(ctx, `
MATCH (a:Entity)-[e:EXPLAINS_PHENOMENON {paper_id: $paper_id}]->(b:Entity)
WHERE NOT ((a.key + '|' + b.key) IN $keep)
DELETE e
`, map[string]any{"paper_id": commit.PaperID, "keep": keepPairs})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if rows := relsByPredicate[types.PredicateExplainsPhenomenon]; len(rows) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rels AS r
MATCH (a:Entity {key: r.subject_key})
MATCH (b:Entity {key: r.object_key})
MERGE (a)-[e:EXPLAINS_PHENOMENON {paper_id: r.paper_id}]->(b)
SET e.role_weight = r.role_weight,
    e.section_score = r.section_score,
    e.keyword_score = r.keyword_score,
    e.semantic_score = r.semantic_score,
    e.explicit_bonus = r.explicit_bonus,
    e.total_strength = r.total_strength,
    e.role = r.role,
    e.section = r.section,
    e.updated_at = r.updated_at
`, map[string]any{"rels": rows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(flags) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $flags AS f
MERGE (r:ReviewFlag {id: f.id})
SET r.entity_type = f.entity_type,
    r.canonical_name = f.canonical_name,
    r.paper_id = f.paper_id,
    r.reason = f.reason,
    r.incoming_json = f.incoming_json,
    r.created_at = f.created_at
`, map[string]any{"flags": flags})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: commit paper %s: %v", ErrTxFailed, commit.PaperID, err)
	}
	return nil
}

func (s *Neo4jStore) ListRelationships(ctx context.Context) ([]*types.PerPaperRelationship, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a:Entity)-[e:EXPLAINS_PHENOMENON]->(b:Entity)
RETURN a.key AS subject_key, b.key AS object_key, e.paper_id AS paper_id,
       e.role_weight AS role_weight, e.section_score AS section_score,
       e.keyword_score AS keyword_score, e.semantic_score AS semantic_score,
       e.explicit_bonus AS explicit_bonus, e.total_strength AS total_strength,
       e.role AS role, e.section AS section
`, nil)
		if err != nil {
			return nil, err
		}
		rels := make([]*types.PerPaperRelationship, 0)
		for res.Next(ctx) {
			rec := res.Record()
			rels = append(rels, &types.PerPaperRelationship{
				SubjectKey: stringField(rec, "subject_key"),
				Predicate:  types.PredicateExplainsPhenomenon,
				ObjectKey:  stringField(rec, "object_key"),
				PaperID:    stringField(rec, "paper_id"),
				Factors: types.FactorScores{
					RoleWeight:    floatField(rec, "role_weight"),
					SectionScore:  floatField(rec, "section_score"),
					KeywordScore:  floatField(rec, "keyword_score"),
					SemanticScore: floatField(rec, "semantic_score"),
					ExplicitBonus: floatField(rec, "explicit_bonus"),
				},
				TotalStrength: floatField(rec, "total_strength"),
				Role:          stringField(rec, "role"),
				Section:       stringField(rec, "section"),
			})
		}
		return rels, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j list relationships: %w", err)
	}
	return out.([]*types.PerPaperRelationship), nil
}

func (s *Neo4jStore) PutAggregates(ctx context.Context, aggs []*types.AggregatedRelationship) error {
	if len(aggs) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows := make([]map[string]any, 0, len(aggs))
	for _, a := range aggs {
		if a == nil || a.SubjectKey == "" || a.ObjectKey == "" {
			continue
		}
		rows = append(rows, map[string]any{
			"subject_key":     a.SubjectKey,
			"object_key":      a.ObjectKey,
			"avg_strength":    a.AvgStrength,
			"min_strength":    a.MinStrength,
			"max_strength":    a.MaxStrength,
			"stddev_strength": a.StddevStrength,
			"paper_count":     int64(a.PaperCount),
			"paper_ids":       a.PaperIDs,
			"avg_role":        a.AvgFactors.RoleWeight,
			"avg_section":     a.AvgFactors.SectionScore,
			"avg_keyword":     a.AvgFactors.KeywordScore,
			"avg_semantic":    a.AvgFactors.SemanticScore,
			"avg_explicit":    a.AvgFactors.ExplicitBonus,
			"updated_at":      now,
		})
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $rows AS r
MATCH (a:Entity {key: r.subject_key})
MATCH (b:Entity {key: r.object_key})
MERGE (a)-[g:EXPLAINS_AGGREGATE]->(b)
SET g.avg_strength = r.avg_strength,
    g.min_strength = r.min_strength,
    g.max_strength = r.max_strength,
    g.stddev_strength = r.stddev_strength,
    g.paper_count = r.paper_count,
    g.paper_ids = r.paper_ids,
    g.avg_role = r.avg_role,
    g.avg_section = r.avg_section,
    g.avg_keyword = r.avg_keyword,
    g.avg_semantic = r.avg_semantic,
    g.avg_explicit = r.avg_explicit,
    g.updated_at = r.updated_at
`, map[string]any{"rows": rows})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: put aggregates: %v", ErrTxFailed, err)
	}
	return nil
}

func (s *Neo4jStore) ListAggregates(ctx context.Context) ([]*types.AggregatedRelationship, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a:Entity)-[g:EXPLAINS_AGGREGATE]->(b:Entity)
RETURN a.key AS subject_key, b.key AS object_key,
       g.avg_strength AS avg_strength, g.min_strength AS min_strength,
       g.max_strength AS max_strength, g.stddev_strength AS stddev_strength,
       g.paper_count AS paper_count, g.paper_ids AS paper_ids,
       g.avg_role AS avg_role, g.avg_section AS avg_section,
       g.avg_keyword AS avg_keyword, g.avg_semantic AS avg_semantic,
       g.avg_explicit AS avg_explicit
`, nil)
		if err != nil {
			return nil, err
		}
		aggs := make([]*types.AggregatedRelationship, 0)
		for res.Next(ctx) {
			rec := res.Record()
			aggs = append(aggs, &types.AggregatedRelationship{
				SubjectKey:     stringField(rec, "subject_key"),
				ObjectKey:      stringField(rec, "object_key"),
				AvgStrength:    floatField(rec, "avg_strength"),
				MinStrength:    floatField(rec, "min_strength"),
				MaxStrength:    floatField(rec, "max_strength"),
				StddevStrength: floatField(rec, "stddev_strength"),
				PaperCount:     int(intField(rec, "paper_count")),
				PaperIDs:       stringSliceField(rec, "paper_ids"),
				AvgFactors: types.FactorScores{
					RoleWeight:    floatField(rec, "avg_role"),
					SectionScore:  floatField(rec, "avg_section"),
					KeywordScore:  floatField(rec, "avg_keyword"),
					SemanticScore: floatField(rec, "avg_semantic"),
					ExplicitBonus: floatField(rec, "avg_explicit"),
				},
			})
		}
		return aggs, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j list aggregates: %w", err)
	}
	return out.([]*types.AggregatedRelationship), nil
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
}

func entityFromRecord(rec *neo4j.Record) *types.CanonicalEntity {
	e := &types.CanonicalEntity{
		EntityType:    types.EntityType(stringField(rec, "entity_type")),
		CanonicalName: stringField(rec, "canonical_name"),
		Aliases:       stringSliceField(rec, "aliases"),
		Confidence:    floatField(rec, "confidence"),
	}
	if raw := stringField(rec, "attributes_json"); raw != "" {
		var attrs map[string]any
		if json.Unmarshal([]byte(raw), &attrs) == nil {
			e.Attributes = attrs
		}
	}
	return e
}

func stringField(rec *neo4j.Record, name string) string {
	if v, ok := rec.Get(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func floatField(rec *neo4j.Record, name string) float64 {
	if v, ok := rec.Get(name); ok {
		switch t := v.(type) {
		case float64:
			return t
		case int64:
			return float64(t)
		}
	}
	return 0
}

func intField(rec *neo4j.Record, name string) int64 {
	if v, ok := rec.Get(name); ok {
		switch t := v.(type) {
		case int64:
			return t
		case float64:
			return int64(t)
		}
	}
	return 0
}

func stringSliceField(rec *neo4j.Record, name string) []string {
	v, ok := rec.Get(name)
	if !ok || v == nil {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mustJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
