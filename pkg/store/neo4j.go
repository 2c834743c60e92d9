package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/soundprediction/interrogato/pkg/types"
	"github.com/soundprediction/interrogato/pkg/utils"
)

// Neo4jStore implements KnowledgeStore against a Neo4j database holding the
// indexed graph: (:Entity), (:TextUnit), (:Community), (:CommunityReport)
// nodes and [:RELATED] relationships. All access is read-only.
type Neo4jStore struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore creates a new Neo4j-backed knowledge store.
func NewNeo4jStore(uri, username, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jStore{client: driver, database: database}, nil
}

func (s *Neo4jStore) read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		for res.Next(ctx) {
			rows = append(rows, res.Record().AsMap())
		}
		return rows, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTableUnavailable, err)
	}
	return result.([]map[string]any), nil
}

// Entity implements KnowledgeStore.
func (s *Neo4jStore) Entity(ctx context.Context, id string) (*types.Entity, error) {
	rows, err := s.read(ctx, `
		MATCH (e:Entity {id: $id})
		RETURN e.id AS id, e.title AS title, e.type AS type,
		       e.description AS description, e.rank AS rank,
		       e.text_unit_ids AS text_unit_ids, e.embedding AS embedding
	`, map[string]any{"id": id})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return entityFromRow(rows[0]), nil
}

// EntityByTitle implements KnowledgeStore.
func (s *Neo4jStore) EntityByTitle(ctx context.Context, title string) (*types.Entity, error) {
	rows, err := s.read(ctx, `
		MATCH (e:Entity)
		WHERE toLower(e.title) = toLower($title)
		RETURN e.id AS id, e.title AS title, e.type AS type,
		       e.description AS description, e.rank AS rank,
		       e.text_unit_ids AS text_unit_ids, e.embedding AS embedding
		LIMIT 1
	`, map[string]any{"title": title})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return entityFromRow(rows[0]), nil
}

// SimilarEntities implements KnowledgeStore. Candidate embeddings are pulled
// and scored client-side; install a vector index and push the scoring into
// Cypher when graphs outgrow this.
func (s *Neo4jStore) SimilarEntities(ctx context.Context, vector []float32, k int) ([]ScoredEntity, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}
	rows, err := s.read(ctx, `
		MATCH (e:Entity)
		WHERE e.embedding IS NOT NULL
		RETURN e.id AS id, e.title AS title, e.type AS type,
		       e.description AS description, e.rank AS rank,
		       e.text_unit_ids AS text_unit_ids, e.embedding AS embedding
	`, nil)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredEntity, 0, len(rows))
	for _, row := range rows {
		e := entityFromRow(row)
		if len(e.Embedding) == 0 {
			continue
		}
		scored = append(scored, ScoredEntity{Entity: e, Score: utils.CosineSimilarity(vector, e.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// RelationshipsFor implements KnowledgeStore.
func (s *Neo4jStore) RelationshipsFor(ctx context.Context, ids []string) ([]*types.Relationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.read(ctx, `
		MATCH (a:Entity)-[r:RELATED]->(b:Entity)
		WHERE a.id IN $ids OR b.id IN $ids
		RETURN r.id AS id, a.id AS source_id, b.id AS target_id,
		       r.description AS description, r.weight AS weight,
		       r.text_unit_ids AS text_unit_ids
	`, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}

	relationships := make([]*types.Relationship, 0, len(rows))
	for _, row := range rows {
		relationships = append(relationships, &types.Relationship{
			ID:          stringValue(row["id"]),
			SourceID:    stringValue(row["source_id"]),
			TargetID:    stringValue(row["target_id"]),
			Description: stringValue(row["description"]),
			Weight:      floatValue(row["weight"]),
			TextUnitIDs: stringsValue(row["text_unit_ids"]),
		})
	}
	return relationships, nil
}

// TextUnits implements KnowledgeStore.
func (s *Neo4jStore) TextUnits(ctx context.Context, ids []string) ([]*types.TextUnit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.read(ctx, `
		MATCH (t:TextUnit)
		WHERE t.id IN $ids
		RETURN t.id AS id, t.text AS text, t.tokens AS tokens,
		       t.entity_ids AS entity_ids, t.embedding AS embedding
	`, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	return textUnitsFromRows(rows), nil
}

// SimilarTextUnits implements KnowledgeStore.
func (s *Neo4jStore) SimilarTextUnits(ctx context.Context, vector []float32, k int) ([]ScoredTextUnit, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}
	rows, err := s.read(ctx, `
		MATCH (t:TextUnit)
		WHERE t.embedding IS NOT NULL
		RETURN t.id AS id, t.text AS text, t.tokens AS tokens,
		       t.entity_ids AS entity_ids, t.embedding AS embedding
	`, nil)
	if err != nil {
		return nil, err
	}

	units := textUnitsFromRows(rows)
	scored := make([]ScoredTextUnit, 0, len(units))
	for _, u := range units {
		if len(u.Embedding) == 0 {
			continue
		}
		scored = append(scored, ScoredTextUnit{TextUnit: u, Score: utils.CosineSimilarity(vector, u.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// CovariatesFor implements KnowledgeStore.
func (s *Neo4jStore) CovariatesFor(ctx context.Context, ids []string) ([]*types.Covariate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.read(ctx, `
		MATCH (c:Covariate)
		WHERE c.subject_id IN $ids
		RETURN c.id AS id, c.subject_id AS subject_id, c.type AS type
	`, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}

	covariates := make([]*types.Covariate, 0, len(rows))
	for _, row := range rows {
		covariates = append(covariates, &types.Covariate{
			ID:        stringValue(row["id"]),
			SubjectID: stringValue(row["subject_id"]),
			Type:      stringValue(row["type"]),
		})
	}
	return covariates, nil
}

// Communities implements KnowledgeStore.
func (s *Neo4jStore) Communities(ctx context.Context, level int) ([]*types.Community, error) {
	rows, err := s.read(ctx, `
		MATCH (c:Community)
		WHERE $level < 0 OR c.level = $level
		RETURN c.id AS id, c.level AS level, c.parent_id AS parent_id,
		       c.entity_ids AS entity_ids
	`, map[string]any{"level": level})
	if err != nil {
		return nil, err
	}

	communities := make([]*types.Community, 0, len(rows))
	for _, row := range rows {
		communities = append(communities, &types.Community{
			ID:        stringValue(row["id"]),
			Level:     intValue(row["level"]),
			ParentID:  stringValue(row["parent_id"]),
			EntityIDs: stringsValue(row["entity_ids"]),
		})
	}
	return communities, nil
}

// CommunityReports implements KnowledgeStore.
func (s *Neo4jStore) CommunityReports(ctx context.Context, level int) ([]*types.CommunityReport, error) {
	rows, err := s.read(ctx, `
		MATCH (r:CommunityReport)-[:SUMMARIZES]->(c:Community)
		WHERE $level < 0 OR c.level = $level
		RETURN r.id AS id, c.id AS community_id, r.title AS title,
		       r.summary AS summary, r.rank AS rank, r.full_content AS full_content
	`, map[string]any{"level": level})
	if err != nil {
		return nil, err
	}

	reports := make([]*types.CommunityReport, 0, len(rows))
	for _, row := range rows {
		reports = append(reports, &types.CommunityReport{
			ID:          stringValue(row["id"]),
			CommunityID: stringValue(row["community_id"]),
			Title:       stringValue(row["title"]),
			Summary:     stringValue(row["summary"]),
			Rank:        floatValue(row["rank"]),
			FullContent: stringValue(row["full_content"]),
		})
	}
	return reports, nil
}

// Close implements KnowledgeStore.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func entityFromRow(row map[string]any) *types.Entity {
	return &types.Entity{
		ID:          stringValue(row["id"]),
		Title:       stringValue(row["title"]),
		Type:        stringValue(row["type"]),
		Description: stringValue(row["description"]),
		Rank:        floatValue(row["rank"]),
		TextUnitIDs: stringsValue(row["text_unit_ids"]),
		Embedding:   vectorValue(row["embedding"]),
	}
}

func textUnitsFromRows(rows []map[string]any) []*types.TextUnit {
	units := make([]*types.TextUnit, 0, len(rows))
	for _, row := range rows {
		units = append(units, &types.TextUnit{
			ID:        stringValue(row["id"]),
			Text:      stringValue(row["text"]),
			Tokens:    intValue(row["tokens"]),
			EntityIDs: stringsValue(row["entity_ids"]),
			Embedding: vectorValue(row["embedding"]),
		})
	}
	return units
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func floatValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func intValue(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func stringsValue(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func vectorValue(v any) []float32 {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(items))
	for _, item := range items {
		switch n := item.(type) {
		case float64:
			out = append(out, float32(n))
		case float32:
			out = append(out, n)
		}
	}
	return out
}
