package memory

import "time"

// Extraction statuses for events.
const (
	ExtractionPending  = "pending"
	ExtractionComplete = "complete"
	ExtractionFailed   = "failed"
	ExtractionSkipped  = "skipped"
)

// Event is an immutable record of a single interaction. Only
// extraction_status, last_accessed, and relevance_score mutate after write.
type Event struct {
	ID               string
	Timestamp        time.Time
	Channel          string
	Direction        string
	EventType        string
	Content          string
	SessionKey       string
	ParentEventID    string
	PersonID         string
	ToolName         string
	ExtractionStatus string
	ContentEmbedding []float32
	RelevanceScore   float64
	LastAccessed     *time.Time
	Metadata         map[string]string
}

// Entity is a durable named thing, upserted by case-insensitive
// name-or-alias match.
type Entity struct {
	ID                   string
	Name                 string
	EntityType           string
	Aliases              []string
	Description          string
	NameEmbedding        []float32
	DescriptionEmbedding []float32
	SourceEventIDs       []string
	EventCount           int
	FirstSeen            time.Time
	LastSeen             time.Time
}

// Edge is a directed relation between two entities.
type Edge struct {
	ID             string
	SourceID       string
	TargetID       string
	Relation       string
	RelationType   string
	Strength       float64
	SourceEventIDs []string
	FirstSeen      time.Time
	LastSeen       time.Time
}

// Fact is an additive subject-predicate-object statement. Contradictions
// are represented by newer facts; existing rows are never overwritten.
type Fact struct {
	ID              string
	SubjectEntityID string
	Predicate       string
	ObjectText      string
	ObjectEntityID  string
	FactType        string
	Confidence      float64
	Strength        float64
	SourceEventIDs  []string
	ValidFrom       *time.Time
	ValidTo         *time.Time
	CreatedAt       time.Time
}

// SummaryNode is a lazily refreshed digest keyed by a unique string.
// The distinguished key "user_preferences" aggregates learnings.
type SummaryNode struct {
	ID                string
	NodeType          string
	Key               string
	ParentID          string
	Summary           string
	SummaryEmbedding  []float32
	EventsSinceUpdate int
	LastUpdated       time.Time
}

// PreferencesKey is the distinguished summary node aggregating learnings.
const PreferencesKey = "user_preferences"

// Sentiments for learnings.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Learning is a durable, decaying user preference or correction.
type Learning struct {
	ID               string
	Content          string
	Source           string
	Sentiment        string
	Confidence       float64
	ToolName         string
	Recommendation   string
	SupersededBy     string
	ContentEmbedding []float32
	CreatedAt        time.Time
	UpdatedAt        time.Time
	RelevanceScore   float64
	TimesAccessed    int
	LastAccessed     *time.Time
}

// Stats summarizes table sizes and backlog.
type Stats struct {
	Events             int `json:"events"`
	Entities           int `json:"entities"`
	Edges              int `json:"edges"`
	Facts              int `json:"facts"`
	SummaryNodes       int `json:"summary_nodes"`
	Learnings          int `json:"learnings"`
	PendingExtractions int `json:"pending_extractions"`
}

// ScoredEvent pairs an event with its similarity to a query embedding.
type ScoredEvent struct {
	Event      *Event
	Similarity float64
}

// ScoredEntity pairs an entity with its similarity to a query embedding.
type ScoredEntity struct {
	Entity     *Entity
	Similarity float64
}
