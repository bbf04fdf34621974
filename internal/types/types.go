// Package types provides shared type definitions used across brain packages.
// This package exists to break import cycles between agents, ingestion, and
// the task runtime. Types here are foundational data structures with no
// complex dependencies.
package types

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// POLARITY & DIRECTION
// =============================================================================

// Polarity tags an entity as surplus, deficit, or neutral in its context.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNeutral  Polarity = "neutral"
)

// Valid reports whether p is one of the three known polarities.
func (p Polarity) Valid() bool {
	switch p {
	case PolarityPositive, PolarityNegative, PolarityNeutral:
		return true
	}
	return false
}

// Direction describes how an edge relates tail to tip.
type Direction string

const (
	DirectionOut     Direction = "out"
	DirectionIn      Direction = "in"
	DirectionNeutral Direction = "neutral"
)

// =============================================================================
// GRAPH ENTITIES
// =============================================================================

// Node is a vertex in a brain's property graph.
// uuid is globally unique within a brain; (name, labels) is the secondary
// identity used for MERGE-like upserts.
type Node struct {
	UUID        string                 `json:"uuid"`
	Labels      []string               `json:"labels"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Polarity    Polarity               `json:"polarity,omitempty"`
}

// NewNode creates a node with a fresh uuid and an initialized property map.
func NewNode(name string, labels ...string) *Node {
	return &Node{
		UUID:       uuid.NewString(),
		Name:       name,
		Labels:     labels,
		Properties: make(map[string]interface{}),
		Polarity:   PolarityNeutral,
	}
}

// IdentityKey returns the canonical (name, label-set) identity string used
// for MERGE upserts. Labels are sorted so ordering differences do not split
// identity.
func (n *Node) IdentityKey() string {
	labels := make([]string, len(n.Labels))
	copy(labels, n.Labels)
	sort.Strings(labels)
	return strings.ToLower(strings.TrimSpace(n.Name)) + "|" + strings.Join(labels, ":")
}

// HasLabel reports whether the node carries the given label.
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// IsEvent reports whether the node is an Event hub. Event nodes are
// instance-unique and must never be merged.
func (n *Node) IsEvent() bool {
	return n.HasLabel("EVENT")
}

// SetProperty assigns a property, initializing the map when needed.
func (n *Node) SetProperty(key string, value interface{}) {
	if n.Properties == nil {
		n.Properties = make(map[string]interface{})
	}
	n.Properties[key] = value
}

// VectorID returns the vector-store id persisted on the node, if any.
func (n *Node) VectorID() string {
	if n.Properties == nil {
		return ""
	}
	return ExtractString(n.Properties["v_id"])
}

// Predicate is a directed edge between two nodes. flow_key groups edges that
// were emitted together from a single Architect tool call.
type Predicate struct {
	UUID        string                 `json:"uuid"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Direction   Direction              `json:"direction"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	FlowKey     string                 `json:"flow_key,omitempty"`
	Amount      *float64               `json:"amount,omitempty"`
	TailUUID    string                 `json:"tail_uuid"`
	TipUUID     string                 `json:"tip_uuid"`
	LastUpdated time.Time              `json:"last_updated"`
	Deprecated  bool                   `json:"deprecated"`
}

// NewPredicate creates an outgoing edge with a fresh uuid.
func NewPredicate(name, tailUUID, tipUUID string) *Predicate {
	return &Predicate{
		UUID:        uuid.NewString(),
		Name:        name,
		Direction:   DirectionOut,
		Properties:  make(map[string]interface{}),
		TailUUID:    tailUUID,
		TipUUID:     tipUUID,
		LastUpdated: time.Now().UTC(),
	}
}

// SetProperty assigns a property, initializing the map when needed.
func (p *Predicate) SetProperty(key string, value interface{}) {
	if p.Properties == nil {
		p.Properties = make(map[string]interface{})
	}
	p.Properties[key] = value
}

// VectorID returns the vector-store id persisted on the edge, if any.
func (p *Predicate) VectorID() string {
	if p.Properties == nil {
		return ""
	}
	return ExtractString(p.Properties["v_id"])
}

// Triple is a fully resolved edge: both endpoint nodes plus the predicate.
// Used by relationship search results and neighborhood snapshots.
type Triple struct {
	Tail      Node      `json:"tail"`
	Predicate Predicate `json:"predicate"`
	Tip       Node      `json:"tip"`
}

// =============================================================================
// AGENT ENTITIES
// =============================================================================

// ScoutEntity is one atomic building block extracted from text by the Scout.
// Type maps to the node's primary label at ingestion time.
type ScoutEntity struct {
	UUID        string                 `json:"uuid"`
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Polarity    Polarity               `json:"polarity"`
}

// Labels returns the label set the entity maps to on the graph.
func (e *ScoutEntity) Labels() []string {
	if e.Type == "" {
		return nil
	}
	return []string{e.Type}
}

// ToNode converts the entity to a graph node, preserving uuid and properties.
func (e *ScoutEntity) ToNode() *Node {
	props := e.Properties
	if props == nil {
		props = make(map[string]interface{})
	}
	return &Node{
		UUID:        e.UUID,
		Labels:      e.Labels(),
		Name:        e.Name,
		Description: e.Description,
		Properties:  props,
		Polarity:    e.Polarity,
	}
}

// EntityRef identifies one endpoint of an ArchitectRelationship. It refers
// either to a Scout entity or to a node created by the same Architect run.
type EntityRef struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Labels returns the label set the referenced node carries.
func (r EntityRef) Labels() []string {
	if r.Type == "" {
		return nil
	}
	return []string{r.Type}
}

// ArchitectRelationship is one validated relationship emitted by the
// Architect. Tail is the source of the action, tip the destination; the
// Triangle of Attribution dictates which node plays which role.
type ArchitectRelationship struct {
	UUID        string                 `json:"uuid"`
	FlowKey     string                 `json:"flow_key"`
	Tail        EntityRef              `json:"tail"`
	Tip         EntityRef              `json:"tip"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
}

// Amount returns the numeric amount property carried by the relationship,
// if present.
func (r *ArchitectRelationship) Amount() (float64, bool) {
	if r.Properties == nil {
		return 0, false
	}
	return ExtractFloat64(r.Properties["amount"])
}

// SetProperty assigns a property, initializing the map when needed.
func (r *ArchitectRelationship) SetProperty(key string, value interface{}) {
	if r.Properties == nil {
		r.Properties = make(map[string]interface{})
	}
	r.Properties[key] = value
}

// =============================================================================
// DOCUMENT ENTITIES
// =============================================================================

// TextChunk is a persisted raw text chunk, embedded into the data collection.
type TextChunk struct {
	ID         string                 `json:"id"`
	Text       string                 `json:"text"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	InsertedAt time.Time              `json:"inserted_at"`
}

// Observation is an atomic statement about a target entity, tied to a source
// chunk or node via ResourceID.
type Observation struct {
	ID         string                 `json:"id"`
	Text       string                 `json:"text"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	ResourceID string                 `json:"resource_id,omitempty"`
	InsertedAt time.Time              `json:"inserted_at"`
}

// StructuredData is one structured record submitted for ingestion.
type StructuredData struct {
	ID                   string                 `json:"id"`
	JSONData             map[string]interface{} `json:"json_data"`
	Types                []string               `json:"types,omitempty"`
	IdentificationParams map[string]interface{} `json:"identification_params,omitempty"`
	TextualData          string                 `json:"textual_data,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
	InsertedAt           time.Time              `json:"inserted_at"`
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// KGChangeKind discriminates the audit-log variants.
type KGChangeKind string

const (
	KGChangeNodePropertiesUpdated  KGChangeKind = "node_properties_updated"
	KGChangeRelationshipDeprecated KGChangeKind = "relationship_deprecated"
	KGChangeRelationshipCreated    KGChangeKind = "relationship_created"
	KGChangeNodesMerged            KGChangeKind = "nodes_merged"
	KGChangeNodesRemoved           KGChangeKind = "nodes_removed"
)

// KGChange is one audit-log entry recording a graph rewrite with its
// before/after values.
type KGChange struct {
	ID         string                 `json:"id"`
	Kind       KGChangeKind           `json:"kind"`
	EntityUUID string                 `json:"entity_uuid"`
	Before     map[string]interface{} `json:"before,omitempty"`
	After      map[string]interface{} `json:"after,omitempty"`
	InsertedAt time.Time              `json:"inserted_at"`
}

// NewKGChange creates an audit entry with a fresh id.
func NewKGChange(kind KGChangeKind, entityUUID string) *KGChange {
	return &KGChange{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityUUID: entityUUID,
		InsertedAt: time.Now().UTC(),
	}
}

// Reverse returns the change that undoes this one. Applying the reverse of a
// node_properties_updated change restores the pre-change property values.
func (c *KGChange) Reverse() *KGChange {
	return &KGChange{
		ID:         uuid.NewString(),
		Kind:       c.Kind,
		EntityUUID: c.EntityUUID,
		Before:     c.After,
		After:      c.Before,
		InsertedAt: time.Now().UTC(),
	}
}

// =============================================================================
// VECTORS
// =============================================================================

// Vector is one vector-store record. An empty Embeddings slice is the
// "not embedded" sentinel: downstream code must skip vector writes for it.
type Vector struct {
	ID         string                 `json:"id"`
	Embeddings []float32              `json:"embeddings"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Distance   float64                `json:"distance,omitempty"`
}

// IsEmbedded reports whether the vector carries usable embeddings.
func (v *Vector) IsEmbedded() bool {
	return v != nil && len(v.Embeddings) > 0
}

// Similarity converts the stored cosine distance to a similarity score.
func (v *Vector) Similarity() float64 {
	return 1.0 - v.Distance
}
