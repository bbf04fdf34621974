// Package types - capability interfaces consumed by the ingestion core.
// Implementations live in internal/store, internal/llm, internal/embedding,
// and internal/chunker; the core depends only on these contracts.
package types

import (
	"context"
	"time"
)

// =============================================================================
// VECTOR COLLECTIONS
// =============================================================================

// Collection names the four fixed vector namespaces of a brain.
type Collection string

const (
	CollectionNodes         Collection = "nodes"
	CollectionRelationships Collection = "relationships"
	CollectionObservations  Collection = "observations"
	CollectionData          Collection = "data"
)

// Collections lists all vector collections in creation order.
var Collections = []Collection{
	CollectionNodes,
	CollectionRelationships,
	CollectionObservations,
	CollectionData,
}

// =============================================================================
// GRAPH STORE
// =============================================================================

// UpdateTarget selects whether UpdateProperties addresses a node or an edge.
type UpdateTarget string

const (
	UpdateNode         UpdateTarget = "node"
	UpdateRelationship UpdateTarget = "relationship"
)

// FlowKeyPair addresses the edges downstream of a predicate within one flow.
type FlowKeyPair struct {
	PredicateUUID string `json:"predicate_uuid"`
	FlowKey       string `json:"flow_key"`
}

// EntityFilters narrows SearchEntities.
type EntityFilters struct {
	UUIDs        []string
	Names        []string
	NameContains string
	Labels       []string
	Limit        int
}

// RelationshipFilters narrows SearchRelationships.
type RelationshipFilters struct {
	UUIDs             []string
	Names             []string
	FlowKeys          []string
	TailUUID          string
	TipUUID           string
	IncludeDeprecated bool
	Limit             int
}

// NodeFetchOptions controls GetNodesByUUID expansion.
type NodeFetchOptions struct {
	WithRelationships bool
	Depth             int
	OfTypes           []string
	Labels            []string
}

// SchemaInfo summarizes a brain's graph vocabulary.
type SchemaInfo struct {
	Labels        []string `json:"labels"`
	Relationships []string `json:"relationships"`
	EventNames    []string `json:"event_names"`
}

// GraphStore is the property-graph capability. All operations are
// brain-scoped; the store guarantees per-brain isolation and lazily creates
// a brain's database on first write. ExecuteOperation takes an opaque query
// string whose dialect the store decides; the core never parses it.
type GraphStore interface {
	AddNodes(ctx context.Context, brain string, nodes []*Node) error
	AddRelationship(ctx context.Context, brain string, rel *Predicate) error
	// MergeNodes upserts by (name, labels) identity and returns the resolved
	// nodes: existing uuids are preserved, new nodes keep their own.
	MergeNodes(ctx context.Context, brain string, nodes []*Node) ([]*Node, error)
	GetByUUID(ctx context.Context, brain, uuid string) (*Node, error)
	GetByUUIDs(ctx context.Context, brain string, uuids []string) ([]*Node, error)
	GetNodesByUUID(ctx context.Context, brain string, uuids []string, opts NodeFetchOptions) ([]*Node, []*Triple, error)
	GetNeighbors(ctx context.Context, brain string, uuids []string, ofTypes []string, limit int) ([]*Triple, error)
	// Get2ndDegreeHops snapshots the 2-hop neighborhood of the given nodes,
	// widened by vector-similar nodes above the threshold.
	Get2ndDegreeHops(ctx context.Context, brain string, uuids []string, similarityThreshold float64, vectors VectorStore) ([]*Triple, error)
	GetNextsByFlowKey(ctx context.Context, brain string, pairs []FlowKeyPair) ([]*Triple, error)
	SearchEntities(ctx context.Context, brain string, filters EntityFilters) ([]*Node, error)
	SearchRelationships(ctx context.Context, brain string, filters RelationshipFilters) ([]*Predicate, error)
	DeprecateRelationship(ctx context.Context, brain, uuid string) error
	UpdateProperties(ctx context.Context, brain, uuid string, target UpdateTarget, set map[string]interface{}, unset []string) error
	RemoveNodes(ctx context.Context, brain string, uuids []string) error
	RemoveRelationships(ctx context.Context, brain string, uuids []string) error
	GetSchema(ctx context.Context, brain string) (*SchemaInfo, error)
	ExecuteOperation(ctx context.Context, brain, rawQuery string) (string, error)
	Close() error
}

// =============================================================================
// VECTOR STORE
// =============================================================================

// VectorStore is the similarity-search capability. Four named collections
// per brain, fixed embedding dimension, cosine metric.
type VectorStore interface {
	AddVectors(ctx context.Context, vectors []*Vector, collection Collection, brain string) ([]string, error)
	SearchVectors(ctx context.Context, query *Vector, collection Collection, brain string, k int) ([]*Vector, error)
	GetByIDs(ctx context.Context, ids []string, collection Collection, brain string) ([]*Vector, error)
	// SearchSimilarByIDs finds stored vectors similar to the given ones,
	// excluding the inputs themselves.
	SearchSimilarByIDs(ctx context.Context, ids []string, collection Collection, brain string, minSimilarity float64, limit int) ([]*Vector, error)
	RemoveVectors(ctx context.Context, ids []string, collection Collection, brain string) error
	Close() error
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

// ListOptions pages document listings.
type ListOptions struct {
	Limit   int
	Skip    int
	Filters map[string]interface{}
}

// DocStore persists raw documents per brain plus the system brains registry.
type DocStore interface {
	SaveTextChunk(ctx context.Context, brain string, chunk *TextChunk) error
	SaveObservations(ctx context.Context, brain string, observations []*Observation) error
	SaveStructuredData(ctx context.Context, brain string, records []*StructuredData) error
	SaveKGChanges(ctx context.Context, brain string, changes []*KGChange) error
	GetTextChunkByID(ctx context.Context, brain, id string) (*TextChunk, error)
	GetObservationByID(ctx context.Context, brain, id string) (*Observation, error)
	GetStructuredDataByID(ctx context.Context, brain, id string) (*StructuredData, error)
	GetTextChunkList(ctx context.Context, brain string, opts ListOptions) ([]*TextChunk, error)
	GetObservationList(ctx context.Context, brain string, opts ListOptions) ([]*Observation, error)
	GetKGChangeList(ctx context.Context, brain string, opts ListOptions) ([]*KGChange, error)
	Search(ctx context.Context, brain, text string) ([]*TextChunk, error)
	// EnsureBrain records the brain in the system registry (idempotent).
	EnsureBrain(ctx context.Context, brain string) error
	ListBrains(ctx context.Context) ([]string, error)
	Close() error
}

// =============================================================================
// CACHE
// =============================================================================

// Cache is per-brain key/value with TTL plus the _tasks registry hash used
// by the task-status surface. Keys beginning with "task:" are mirrored into
// the _tasks hash with their creation time; GetTaskKeys lazily purges
// entries older than the retention window.
type Cache interface {
	Get(ctx context.Context, brain, key string) (string, bool, error)
	Set(ctx context.Context, brain, key, value string, expiresIn time.Duration) error
	Delete(ctx context.Context, brain, key string) error
	GetTaskKeys(ctx context.Context, brain string) ([]string, error)
	// Decr atomically decrements a counter and returns the new value.
	Decr(ctx context.Context, brain, counter string) (int64, error)
	Close() error
}

// =============================================================================
// LLM CLIENT
// =============================================================================

// UsageMetadata carries token usage for a single model response.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
	// ThinkingTokens counts reasoning tokens when the model reports them.
	ThinkingTokens int `json:"thinking_tokens,omitempty"`
	// CachedContentTokens counts input tokens served from prompt cache.
	CachedContentTokens int `json:"cached_content_tokens,omitempty"`
}

// ToolDefinition describes a tool offered to the model in a chat turn.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ToolResult is the outcome of executing a ToolCall, fed back to the model.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Chat roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
	RoleTool  = "tool"
)

// ChatMessage is one turn of agent message history.
type ChatMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ChatRequest is a multi-turn model invocation with optional tools.
type ChatRequest struct {
	System    string           `json:"system,omitempty"`
	Messages  []ChatMessage    `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

// ChatResponse is the model's reply to a ChatRequest.
type ChatResponse struct {
	Text       string        `json:"text"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	StopReason string        `json:"stop_reason,omitempty"`
	Usage      UsageMetadata `json:"usage"`
}

// LLMResponse is the model's reply to a single-prompt invocation.
type LLMResponse struct {
	Text  string        `json:"text"`
	Usage UsageMetadata `json:"usage"`
}

// LLMClient is the language-model capability. GenerateJSON retries
// internally on malformed output up to maxRetries before failing. Every
// response surfaces token usage.
type LLMClient interface {
	GenerateText(ctx context.Context, prompt string, maxTokens int) (*LLMResponse, error)
	GenerateJSON(ctx context.Context, prompt string, maxTokens, maxRetries int) (*LLMResponse, error)
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// =============================================================================
// EMBEDDER
// =============================================================================

// Embedder converts text to vectors. Transport errors are retried with
// backoff; on persistent failure implementations return a Vector with empty
// embeddings rather than an error, and downstream code skips vector writes.
type Embedder interface {
	EmbedText(ctx context.Context, text string) (*Vector, error)
	EmbedTexts(ctx context.Context, texts []string) ([]*Vector, error)
	Dimensions() int
	Name() string
}

// =============================================================================
// CHUNKER (boundary)
// =============================================================================

// Chunker splits text into semantic chunks for per-chunk ingestion.
type Chunker interface {
	Chunk(text string) []string
}
