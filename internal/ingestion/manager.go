// Package ingestion mediates between the agent pipeline and the persistent
// stores: it embeds nodes and edges, deduplicates by similarity, and writes
// to the graph and vector stores with idempotent upserts.
package ingestion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"brain/internal/logging"
	"brain/internal/types"
)

// Manager embeds and persists agent output. A per-run resolved cache keyed
// by node name avoids redundant embeddings within one batch.
type Manager struct {
	graph    types.GraphStore
	vectors  types.VectorStore
	embedder types.Embedder

	// dedupeThreshold is the cosine similarity above which a new edge
	// between the same endpoints counts as a duplicate.
	dedupeThreshold float64

	mu       sync.Mutex
	resolved map[string]string // lower(name) -> vector id
}

// NewManager creates an ingestion manager over the given stores.
func NewManager(graph types.GraphStore, vectors types.VectorStore, embedder types.Embedder, dedupeThreshold float64) *Manager {
	if dedupeThreshold <= 0 {
		dedupeThreshold = 0.90
	}
	return &Manager{
		graph:           graph,
		vectors:         vectors,
		embedder:        embedder,
		dedupeThreshold: dedupeThreshold,
		resolved:        make(map[string]string),
	}
}

// Result counts the outcome of one relationship batch.
type Result struct {
	NodesCreated int
	EdgesCreated int
	EdgesSkipped int
	Errors       []error
}

// resolvedVectorID returns the cached vector id for a node name, if this
// run already embedded it.
func (m *Manager) resolvedVectorID(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resolved[strings.ToLower(name)]
	return id, ok
}

func (m *Manager) rememberVectorID(name, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved[strings.ToLower(name)] = id
}

// ProcessNodeVectors embeds an entity's name into the nodes collection and
// records the vector id in its properties. Names already resolved in this
// run skip the embedding. An empty-embedding result skips the vector write
// without failing.
func (m *Manager) ProcessNodeVectors(ctx context.Context, entity *types.ScoutEntity, brain string) (string, error) {
	if entity.UUID == "" {
		entity.UUID = uuid.NewString()
	}

	if vID, ok := m.resolvedVectorID(entity.Name); ok {
		if entity.Properties == nil {
			entity.Properties = make(map[string]interface{})
		}
		entity.Properties["v_id"] = vID
		logging.IngestDebug("ProcessNodeVectors: %q already resolved this run", entity.Name)
		return entity.UUID, nil
	}

	vec, err := m.embedder.EmbedText(ctx, entity.Name)
	if err != nil {
		return "", fmt.Errorf("embed node %q: %w", entity.Name, err)
	}
	if !vec.IsEmbedded() {
		logging.Ingest("ProcessNodeVectors: %q not embedded, skipping vector write", entity.Name)
		return entity.UUID, nil
	}

	vec.Metadata = map[string]interface{}{
		"labels": entity.Labels(),
		"name":   entity.Name,
		"uuid":   entity.UUID,
	}
	ids, err := m.vectors.AddVectors(ctx, []*types.Vector{vec}, types.CollectionNodes, brain)
	if err != nil {
		return "", fmt.Errorf("store node vector for %q: %w", entity.Name, err)
	}
	if entity.Properties == nil {
		entity.Properties = make(map[string]interface{})
	}
	entity.Properties["v_id"] = ids[0]
	m.rememberVectorID(entity.Name, ids[0])
	return entity.UUID, nil
}

// ProcessRelVectors embeds a relationship's description into the
// relationships collection. Returns the relationship uuid and the vector id
// (empty when the embedding degraded).
func (m *Manager) ProcessRelVectors(ctx context.Context, rel *types.ArchitectRelationship, brain string) (string, string, error) {
	if rel.UUID == "" {
		rel.UUID = uuid.NewString()
	}
	text := rel.Description
	if strings.TrimSpace(text) == "" {
		text = fmt.Sprintf("%s %s %s", rel.Tail.Name, rel.Name, rel.Tip.Name)
	}

	vec, err := m.embedder.EmbedText(ctx, text)
	if err != nil {
		return "", "", fmt.Errorf("embed relationship %s: %w", rel.Name, err)
	}
	if !vec.IsEmbedded() {
		logging.Ingest("ProcessRelVectors: %s not embedded, skipping vector write", rel.Name)
		return rel.UUID, "", nil
	}

	vec.Metadata = map[string]interface{}{
		"uuid":      rel.UUID,
		"node_ids":  []string{rel.Tail.UUID, rel.Tip.UUID},
		"predicate": rel.Name,
	}
	ids, err := m.vectors.AddVectors(ctx, []*types.Vector{vec}, types.CollectionRelationships, brain)
	if err != nil {
		return "", "", fmt.Errorf("store relationship vector for %s: %w", rel.Name, err)
	}
	rel.SetProperty("v_id", ids[0])
	return rel.UUID, ids[0], nil
}

// ProcessRelationships persists one relationship batch: resolve endpoint
// nodes, embed only what is missing, suppress near-duplicate edges, then
// MERGE-upsert nodes and add the directional edges. Re-running the same
// batch is a no-op on the graph.
func (m *Manager) ProcessRelationships(ctx context.Context, brain string, rels []*types.ArchitectRelationship) (*Result, error) {
	result := &Result{}
	timer := logging.StartTimer(logging.CategoryIngest, "process_relationships")
	defer timer.Stop()

	for _, rel := range rels {
		if err := m.processOne(ctx, brain, rel, result); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", rel.Name, err))
			logging.IngestError("ProcessRelationships: %s: %v", rel.Name, err)
		}
	}

	logging.Ingest("ProcessRelationships: brain=%s batch=%d nodes_created=%d edges_created=%d edges_skipped=%d errors=%d",
		brain, len(rels), result.NodesCreated, result.EdgesCreated, result.EdgesSkipped, len(result.Errors))
	return result, nil
}

func (m *Manager) processOne(ctx context.Context, brain string, rel *types.ArchitectRelationship, result *Result) error {
	tailNode, tailCreated, err := m.resolveEndpoint(ctx, brain, &rel.Tail)
	if err != nil {
		return err
	}
	tipNode, tipCreated, err := m.resolveEndpoint(ctx, brain, &rel.Tip)
	if err != nil {
		return err
	}

	// Exact duplicate: same endpoints, same label, not deprecated.
	existing, err := m.graph.SearchRelationships(ctx, brain, types.RelationshipFilters{
		TailUUID: tailNode.UUID,
		TipUUID:  tipNode.UUID,
		Names:    []string{rel.Name},
	})
	if err != nil {
		return fmt.Errorf("duplicate probe: %w", err)
	}
	if len(existing) > 0 {
		result.EdgesSkipped++
		logging.IngestDebug("processOne: exact duplicate %s -[%s]-> %s", tailNode.Name, rel.Name, tipNode.Name)
		return nil
	}

	_, vRelID, err := m.ProcessRelVectors(ctx, rel, brain)
	if err != nil {
		return err
	}

	// Near-duplicate: a semantically similar edge between the same endpoint
	// pair, in either direction. On a hit the just-embedded vector is
	// removed so the store does not drift.
	if vRelID != "" {
		dup, err := m.nearDuplicate(ctx, brain, vRelID, tailNode.UUID, tipNode.UUID)
		if err != nil {
			return err
		}
		if dup {
			if err := m.vectors.RemoveVectors(ctx, []string{vRelID}, types.CollectionRelationships, brain); err != nil {
				logging.IngestError("processOne: failed to remove duplicate edge vector %s: %v", vRelID, err)
			}
			result.EdgesSkipped++
			logging.Ingest("processOne: near-duplicate edge suppressed %s -[%s]-> %s", tailNode.Name, rel.Name, tipNode.Name)
			return nil
		}
	}

	merged, err := m.graph.MergeNodes(ctx, brain, []*types.Node{tailNode, tipNode})
	if err != nil {
		m.cleanupVector(ctx, brain, vRelID)
		return fmt.Errorf("merge nodes: %w", err)
	}
	// MERGE may resolve to pre-existing uuids; the edge follows.
	rel.Tail.UUID = merged[0].UUID
	rel.Tip.UUID = merged[1].UUID

	edge := &types.Predicate{
		UUID:        rel.UUID,
		Name:        rel.Name,
		Description: rel.Description,
		Direction:   types.DirectionOut,
		Properties:  make(map[string]interface{}),
		FlowKey:     rel.FlowKey,
		TailUUID:    merged[0].UUID,
		TipUUID:     merged[1].UUID,
		LastUpdated: time.Now().UTC(),
	}
	for k, v := range rel.Properties {
		edge.Properties[k] = v
	}
	if amount, ok := rel.Amount(); ok {
		edge.Amount = &amount
	}

	if err := m.graph.AddRelationship(ctx, brain, edge); err != nil {
		m.cleanupVector(ctx, brain, vRelID)
		return fmt.Errorf("add relationship: %w", err)
	}
	result.EdgesCreated++
	if tailCreated {
		result.NodesCreated++
	}
	if tipCreated {
		result.NodesCreated++
	}
	return nil
}

// resolveEndpoint finds an existing node for the reference or prepares a
// new one (embedding its name). The bool reports whether the node is new.
func (m *Manager) resolveEndpoint(ctx context.Context, brain string, ref *types.EntityRef) (*types.Node, bool, error) {
	// By uuid first, then by (name, labels) identity.
	if ref.UUID != "" {
		if node, err := m.graph.GetByUUID(ctx, brain, ref.UUID); err == nil && node != nil {
			return node, false, nil
		}
	}
	found, err := m.graph.SearchEntities(ctx, brain, types.EntityFilters{
		Names:  []string{ref.Name},
		Labels: ref.Labels(),
		Limit:  1,
	})
	if err != nil {
		return nil, false, fmt.Errorf("lookup %q: %w", ref.Name, err)
	}
	if len(found) > 0 {
		ref.UUID = found[0].UUID
		return found[0], false, nil
	}

	entity := &types.ScoutEntity{
		UUID:     ref.UUID,
		Type:     ref.Type,
		Name:     ref.Name,
		Polarity: types.PolarityNeutral,
	}
	if _, err := m.ProcessNodeVectors(ctx, entity, brain); err != nil {
		return nil, false, err
	}
	ref.UUID = entity.UUID
	return entity.ToNode(), true, nil
}

// nearDuplicate reports whether a stored edge vector above the threshold
// connects the same endpoint pair in either direction.
func (m *Manager) nearDuplicate(ctx context.Context, brain, vRelID, tailUUID, tipUUID string) (bool, error) {
	similar, err := m.vectors.SearchSimilarByIDs(ctx, []string{vRelID}, types.CollectionRelationships, brain, m.dedupeThreshold, 10)
	if err != nil {
		return false, fmt.Errorf("similarity probe: %w", err)
	}
	for _, v := range similar {
		ids := types.ExtractStringSlice(v.Metadata["node_ids"])
		if len(ids) != 2 {
			continue
		}
		sameOrder := ids[0] == tailUUID && ids[1] == tipUUID
		reversed := ids[0] == tipUUID && ids[1] == tailUUID
		if sameOrder || reversed {
			return true, nil
		}
	}
	return false, nil
}

// cleanupVector removes an edge vector whose graph write failed, so no
// vector is left without a corresponding graph entity.
func (m *Manager) cleanupVector(ctx context.Context, brain, vRelID string) {
	if vRelID == "" {
		return
	}
	if err := m.vectors.RemoveVectors(ctx, []string{vRelID}, types.CollectionRelationships, brain); err != nil {
		logging.IngestError("cleanupVector: %v", err)
	}
}

// EmbedChunk embeds a raw text chunk into the data collection.
func (m *Manager) EmbedChunk(ctx context.Context, brain string, chunk *types.TextChunk) error {
	vec, err := m.embedder.EmbedText(ctx, chunk.Text)
	if err != nil {
		return fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
	}
	if !vec.IsEmbedded() {
		logging.Ingest("EmbedChunk: chunk %s not embedded, skipping vector write", chunk.ID)
		return nil
	}
	vec.Metadata = map[string]interface{}{"chunk_id": chunk.ID}
	_, err = m.vectors.AddVectors(ctx, []*types.Vector{vec}, types.CollectionData, brain)
	return err
}
