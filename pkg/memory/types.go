package memory

import (
	"time"
)

// Categories assigned by extractors.
const (
	CategoryPreference = "preference"
	CategoryKnowledge  = "knowledge"
	CategoryContext    = "context"
)

// EntityType tags what kind of concept an entity names.
type EntityType string

const (
	EntityPerson     EntityType = "person"
	EntityPlace      EntityType = "place"
	EntityTopic      EntityType = "topic"
	EntityPreference EntityType = "preference"
	EntityConcept    EntityType = "concept"
)

/*
MemoryItem is a unit of stored experience, one per ingested turn.
Entities holds canonical entity names; the entities themselves live in the
graph store.
*/
type MemoryItem struct {
	ID               string            `json:"id"`
	Text             string            `json:"text"`
	Embedding        []float32         `json:"embedding,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	Importance       float64           `json:"importance"`
	Entities         []string          `json:"entities,omitempty"`
	Category         string            `json:"category,omitempty"`
	SessionID        string            `json:"session_id,omitempty"`
	Role             string            `json:"role,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	GraphSyncPending bool              `json:"graph_sync_pending"`
}

/*
Entity is a named concept. Name is canonical and unique in a graph store,
Display keeps the surface form it was first seen with.
*/
type Entity struct {
	Name           string     `json:"name"`
	Display        string     `json:"display,omitempty"`
	Type           EntityType `json:"type"`
	FirstSeen      time.Time  `json:"first_seen"`
	LastReferenced time.Time  `json:"last_referenced"`
	Mentions       int        `json:"mentions"`
}

/*
Relation is a typed, directed edge between two entities.
*/
type Relation struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Type       string   `json:"type"`
	Confidence float64  `json:"confidence"`
	MemoryIDs  []string `json:"memory_ids,omitempty"`
}

/*
Turn is one conversational message handed to the writer.
*/
type Turn struct {
	Text       string            `json:"text"`
	Role       string            `json:"role,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp,omitempty"`
	Importance float64           `json:"importance,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

/*
Budget bounds a retrieval. Zero fields fall back to the configured default;
MaxTokens is only applied when positive.
*/
type Budget struct {
	MaxItems  int `json:"max_items,omitempty"`
	MaxTokens int `json:"max_tokens,omitempty"`
}

/*
Query is the input of a retrieval. Context lists entities recently mentioned
in the conversation.
*/
type Query struct {
	Text      string   `json:"text"`
	Context   []string `json:"context,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Budget    Budget   `json:"budget,omitempty"`
}

// Source records which retrieval path found an item.
type Source uint8

const (
	SourceVector Source = 1 << iota
	SourceGraph
)

func (source Source) Has(other Source) bool {
	return source&other != 0
}

/*
ScoredItem is a fused result: the score and the components it was built from.
*/
type ScoredItem struct {
	Item       MemoryItem `json:"item"`
	Score      float64    `json:"score"`
	Similarity float64    `json:"similarity"`
	Proximity  float64    `json:"proximity"`
	Recency    float64    `json:"recency"`
	Sources    Source     `json:"sources"`
}

/*
RetrievalResult is produced per query and never persisted. Degraded is set
when no store could contribute.
*/
type RetrievalResult struct {
	Items             []ScoredItem `json:"items"`
	Seeds             []string     `json:"seeds,omitempty"`
	Degraded          bool         `json:"degraded"`
	VectorUnavailable bool         `json:"vector_unavailable"`
	GraphUnavailable  bool         `json:"graph_unavailable"`
	GraphSkipped      bool         `json:"graph_skipped"`
}

// VectorHit is one nearest-neighbour match.
type VectorHit struct {
	Item       MemoryItem
	Similarity float64
}

// EntityHit is an entity reached by traversal at its shortest hop count.
type EntityHit struct {
	Entity Entity
	Hops   int
}

// GraphHit is a memory supporting one or more reached entities.
type GraphHit struct {
	Item     MemoryItem
	Hops     int
	Entities []string
}

/*
Extraction is what an extractor found in a piece of text. Importance and
Category are hints; zero values leave the writer's defaults in place.
*/
type Extraction struct {
	Entities   []Entity
	Relations  []Relation
	Category   string
	Importance float64
}

/*
PendingSync is the reconciliation queue entry for an item whose graph write
failed: everything needed to replay that write.
*/
type PendingSync struct {
	Item      MemoryItem `json:"item"`
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	QueuedAt  time.Time  `json:"queued_at"`
}

/*
Snapshot is a full dump of a graph store.
*/
type Snapshot struct {
	TakenAt   time.Time    `json:"taken_at"`
	Entities  []Entity     `json:"entities"`
	Relations []Relation   `json:"relations"`
	Memories  []MemoryItem `json:"memories"`
}

// GraphStats are counts reported by a graph store.
type GraphStats struct {
	Entities  int `json:"entities"`
	Relations int `json:"relations"`
	Memories  int `json:"memories"`
}
