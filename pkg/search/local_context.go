package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/soundprediction/interrogato/pkg/embedder"
	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/store"
	"github.com/soundprediction/interrogato/pkg/types"
)

// LocalContextBuilder assembles entity-centric context: candidate entities
// resolved by similarity and exact title match, expanded to their direct
// relationships, source text units, and covariates, then packed greedily
// into per-category shares of the token budget.
type LocalContextBuilder struct {
	store    store.KnowledgeStore
	embedder embedder.Client
	counter  nlp.TokenCounter
	logger   *slog.Logger
}

// NewLocalContextBuilder creates a local context builder.
func NewLocalContextBuilder(knowledge store.KnowledgeStore, embed embedder.Client, counter nlp.TokenCounter, logger *slog.Logger) *LocalContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalContextBuilder{store: knowledge, embedder: embed, counter: counter, logger: logger}
}

// scoredCandidate carries an entity with its composite rank for packing.
type scoredCandidate struct {
	entity *types.Entity
	score  float64
}

// BuildContext resolves the query to candidate entities and packs the
// expanded neighborhood into the token budget. Missing records degrade the
// context rather than failing it; only an unreadable table is fatal.
func (b *LocalContextBuilder) BuildContext(ctx context.Context, query string, config ContextConfig) (*ContextBuilderResult, error) {
	config = config.withDefaults()
	result := &ContextBuilderResult{Records: map[string][]map[string]string{}}

	candidates, err := b.selectEntities(ctx, query, config)
	if err != nil {
		return nil, err
	}

	budget := config.MaxTokens
	entityShare := int(float64(budget) * config.EntityProportion)
	relationshipShare := int(float64(budget) * config.RelationshipProportion)
	textUnitShare := int(float64(budget) * config.TextUnitProportion)
	covariateShare := int(float64(budget) * config.CovariateProportion)

	entityByID := make(map[string]*types.Entity, len(candidates))
	entityIDs := make([]string, 0, len(candidates))
	entityRows := make([]map[string]string, 0, len(candidates))
	for _, cand := range candidates {
		entityByID[cand.entity.ID] = cand.entity
		entityIDs = append(entityIDs, cand.entity.ID)
		entityRows = append(entityRows, map[string]string{
			"id":          cand.entity.ID,
			"entity":      cand.entity.Title,
			"type":        cand.entity.Type,
			"description": cand.entity.Description,
			"rank":        fmt.Sprintf("%.2f", cand.entity.Rank),
		})
	}
	if chunk, rows := recordTable(b.counter, "Entities", []string{"id", "entity", "type", "description", "rank"}, entityRows, entityShare); chunk != "" {
		result.Chunks = append(result.Chunks, chunk)
		result.Records["entities"] = rows
	}

	relationshipRows, err := b.relationshipRows(ctx, entityIDs, entityByID)
	if err != nil {
		return nil, err
	}
	if chunk, rows := recordTable(b.counter, "Relationships", []string{"id", "source", "target", "description", "weight"}, relationshipRows, relationshipShare); chunk != "" {
		result.Chunks = append(result.Chunks, chunk)
		result.Records["relationships"] = rows
	}

	textUnitRows, err := b.textUnitRows(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if chunk, rows := recordTable(b.counter, "Sources", []string{"id", "text"}, textUnitRows, textUnitShare); chunk != "" {
		result.Chunks = append(result.Chunks, chunk)
		result.Records["sources"] = rows
	}

	covariateRows, err := b.covariateRows(ctx, entityIDs, entityByID)
	if err != nil {
		return nil, err
	}
	if chunk, rows := recordTable(b.counter, "Covariates", []string{"id", "subject", "type", "details"}, covariateRows, covariateShare); chunk != "" {
		result.Chunks = append(result.Chunks, chunk)
		result.Records["covariates"] = rows
	}

	b.logger.Debug("local context built",
		"entities", len(result.Records["entities"]),
		"relationships", len(result.Records["relationships"]),
		"sources", len(result.Records["sources"]))
	return result, nil
}

// selectEntities resolves the query to ranked candidate entities. Similarity
// results are merged with an exact title match; the composite score favors
// similarity, with graph rank as a secondary signal.
func (b *LocalContextBuilder) selectEntities(ctx context.Context, query string, config ContextConfig) ([]scoredCandidate, error) {
	var candidates []scoredCandidate
	seen := map[string]bool{}

	if b.embedder != nil {
		vector, err := b.embedder.EmbedSingle(ctx, query)
		if err != nil {
			// Similarity retrieval is lost; exact title match still applies.
			b.logger.Warn("query embedding failed, using title match only", "error", err)
		} else {
			scored, err := b.store.SimilarEntities(ctx, vector, config.TopKEntities)
			if err != nil {
				return nil, fmt.Errorf("entity similarity search: %w", err)
			}
			for _, s := range scored {
				candidates = append(candidates, scoredCandidate{entity: s.Entity, score: s.Score + s.Entity.Rank/100})
				seen[s.Entity.ID] = true
			}
		}
	}

	match, err := b.store.EntityByTitle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("entity title lookup: %w", err)
	}
	if match != nil && !seen[match.ID] {
		// An exact title hit outranks every similarity candidate.
		candidates = append(candidates, scoredCandidate{entity: match, score: 1 + match.Rank/100})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > config.TopKEntities {
		candidates = candidates[:config.TopKEntities]
	}
	return candidates, nil
}

func (b *LocalContextBuilder) relationshipRows(ctx context.Context, entityIDs []string, entityByID map[string]*types.Entity) ([]map[string]string, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	relationships, err := b.store.RelationshipsFor(ctx, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("relationship expansion: %w", err)
	}

	// Relationships between two selected entities rank above those with one
	// endpoint outside the selection; weight breaks ties within a band.
	inSelection := func(rel *types.Relationship) int {
		n := 0
		if entityByID[rel.SourceID] != nil {
			n++
		}
		if entityByID[rel.TargetID] != nil {
			n++
		}
		return n
	}
	sort.SliceStable(relationships, func(i, j int) bool {
		bi, bj := inSelection(relationships[i]), inSelection(relationships[j])
		if bi != bj {
			return bi > bj
		}
		return relationships[i].Weight > relationships[j].Weight
	})

	rows := make([]map[string]string, 0, len(relationships))
	for _, rel := range relationships {
		rows = append(rows, map[string]string{
			"id":          rel.ID,
			"source":      b.entityLabel(entityByID, rel.SourceID),
			"target":      b.entityLabel(entityByID, rel.TargetID),
			"description": rel.Description,
			"weight":      fmt.Sprintf("%.2f", rel.Weight),
		})
	}
	return rows, nil
}

func (b *LocalContextBuilder) entityLabel(entityByID map[string]*types.Entity, id string) string {
	if entity := entityByID[id]; entity != nil {
		return entity.Title
	}
	return id
}

// textUnitRows collects the source text units of the candidates in candidate
// order, deduplicated, so higher-ranked entities contribute first.
func (b *LocalContextBuilder) textUnitRows(ctx context.Context, candidates []scoredCandidate) ([]map[string]string, error) {
	var ids []string
	seen := map[string]bool{}
	for _, cand := range candidates {
		for _, id := range cand.entity.TextUnitIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	units, err := b.store.TextUnits(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("text unit lookup: %w", err)
	}
	rows := make([]map[string]string, 0, len(units))
	for _, unit := range units {
		rows = append(rows, map[string]string{"id": unit.ID, "text": unit.Text})
	}
	return rows, nil
}

func (b *LocalContextBuilder) covariateRows(ctx context.Context, entityIDs []string, entityByID map[string]*types.Entity) ([]map[string]string, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	covariates, err := b.store.CovariatesFor(ctx, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("covariate lookup: %w", err)
	}
	rows := make([]map[string]string, 0, len(covariates))
	for _, cov := range covariates {
		details := make([]string, 0, len(cov.Extra))
		for _, key := range sortedKeys(cov.Extra) {
			details = append(details, key+"="+cov.Extra[key])
		}
		rows = append(rows, map[string]string{
			"id":      cov.ID,
			"subject": b.entityLabel(entityByID, cov.SubjectID),
			"type":    cov.Type,
			"details": strings.Join(details, "; "),
		})
	}
	return rows, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
