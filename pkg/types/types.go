package types

import "errors"

// Validation errors
var (
	ErrEmptyID      = errors.New("id cannot be empty")
	ErrEmptyTitle   = errors.New("title cannot be empty")
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrInvalidRole  = errors.New("role must be one of system, user, assistant")
)

// Entity is a node in the knowledge graph.
type Entity struct {
	ID          string   `json:"id" parquet:"id"`
	Title       string   `json:"title" parquet:"title"`
	Type        string   `json:"type,omitempty" parquet:"type,optional"`
	Description string   `json:"description,omitempty" parquet:"description,optional"`
	Rank        float64  `json:"rank" parquet:"rank"`
	Communities []string `json:"communities,omitempty" parquet:"communities,list,optional"`
	TextUnitIDs []string `json:"text_unit_ids,omitempty" parquet:"text_unit_ids,list,optional"`

	// Embedding of the entity description; may be absent for entities the
	// pipeline failed to embed.
	Embedding []float32 `json:"embedding,omitempty" parquet:"embedding,list,optional"`

	Extra map[string]string `json:"extra,omitempty" parquet:"-"`
}

// Validate checks if the Entity has all required fields set.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if e.Title == "" {
		return ErrEmptyTitle
	}
	return nil
}

// Relationship is a directed edge between two entities.
type Relationship struct {
	ID          string  `json:"id" parquet:"id"`
	SourceID    string  `json:"source_id" parquet:"source_id"`
	TargetID    string  `json:"target_id" parquet:"target_id"`
	Description string  `json:"description,omitempty" parquet:"description,optional"`
	Weight      float64 `json:"weight" parquet:"weight"`
	TextUnitIDs []string `json:"text_unit_ids,omitempty" parquet:"text_unit_ids,list,optional"`

	Extra map[string]string `json:"extra,omitempty" parquet:"-"`
}

// Validate checks if the Relationship has all required fields set.
func (r *Relationship) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if r.SourceID == "" || r.TargetID == "" {
		return errors.New("relationship endpoints cannot be empty")
	}
	return nil
}

// Community is a cluster of related entities detected upstream.
type Community struct {
	ID              string   `json:"id" parquet:"id"`
	Level           int      `json:"level" parquet:"level"`
	ParentID        string   `json:"parent_id,omitempty" parquet:"parent_id,optional"`
	ChildIDs        []string `json:"child_ids,omitempty" parquet:"child_ids,list,optional"`
	EntityIDs       []string `json:"entity_ids,omitempty" parquet:"entity_ids,list,optional"`
	RelationshipIDs []string `json:"relationship_ids,omitempty" parquet:"relationship_ids,list,optional"`
}

// Finding is one observation inside a community report.
type Finding struct {
	Summary     string `json:"summary" parquet:"summary"`
	Explanation string `json:"explanation,omitempty" parquet:"explanation,optional"`
}

// CommunityReport is an LLM-generated summary of one community, written by
// the upstream pipeline. Rank reflects the community's estimated importance.
type CommunityReport struct {
	ID              string    `json:"id" parquet:"id"`
	CommunityID     string    `json:"community_id" parquet:"community_id"`
	Title           string    `json:"title" parquet:"title"`
	Summary         string    `json:"summary" parquet:"summary"`
	Findings        []Finding `json:"findings,omitempty" parquet:"findings,list,optional"`
	Rank            float64   `json:"rank" parquet:"rank"`
	RankExplanation string    `json:"rank_explanation,omitempty" parquet:"rank_explanation,optional"`
	FullContent     string    `json:"full_content,omitempty" parquet:"full_content,optional"`
}

// TextUnit is a chunk of source text the graph was extracted from.
type TextUnit struct {
	ID              string   `json:"id" parquet:"id"`
	Text            string   `json:"text" parquet:"text"`
	Tokens          int      `json:"tokens" parquet:"tokens"`
	DocumentIDs     []string `json:"document_ids,omitempty" parquet:"document_ids,list,optional"`
	EntityIDs       []string `json:"entity_ids,omitempty" parquet:"entity_ids,list,optional"`
	RelationshipIDs []string `json:"relationship_ids,omitempty" parquet:"relationship_ids,list,optional"`

	Embedding []float32 `json:"embedding,omitempty" parquet:"embedding,list,optional"`
}

// Validate checks if the TextUnit has all required fields set.
func (t *TextUnit) Validate() error {
	if t.ID == "" {
		return ErrEmptyID
	}
	if t.Text == "" {
		return ErrEmptyContent
	}
	return nil
}

// Covariate is a claim about an entity (subject), extracted upstream.
type Covariate struct {
	ID        string            `json:"id" parquet:"id"`
	SubjectID string            `json:"subject_id" parquet:"subject_id"`
	Type      string            `json:"type,omitempty" parquet:"type,optional"`
	Extra     map[string]string `json:"extra,omitempty" parquet:"-"`
}
