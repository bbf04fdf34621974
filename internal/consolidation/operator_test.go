package consolidation

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain/internal/agents"
	"brain/internal/ingestion"
	"brain/internal/store"
	"brain/internal/types"
)

type stubEmbedder struct{}

var _ types.Embedder = (*stubEmbedder)(nil)

func (stubEmbedder) EmbedText(ctx context.Context, text string) (*types.Vector, error) {
	sum := sha256.Sum256([]byte(text))
	emb := make([]float32, 8)
	for i := range emb {
		emb[i] = float32(sum[i]) + 1
	}
	return &types.Vector{Embeddings: emb}, nil
}

func (e stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]*types.Vector, error) {
	out := make([]*types.Vector, len(texts))
	for i, t := range texts {
		v, _ := e.EmbedText(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (stubEmbedder) Dimensions() int { return 8 }
func (stubEmbedder) Name() string    { return "stub" }

type testStores struct {
	graph   *store.GraphDB
	vectors *store.VectorDB
	docs    *store.DocDB
}

func newTestStores(t *testing.T) testStores {
	t.Helper()
	dir := t.TempDir()
	s := testStores{
		graph:   store.NewGraphDB(dir),
		vectors: store.NewVectorDB(dir),
		docs:    store.NewDocDB(dir),
	}
	t.Cleanup(func() {
		s.graph.Close()
		s.vectors.Close()
		s.docs.Close()
	})
	return s
}

func newOperator(t *testing.T) (*Operator, testStores) {
	t.Helper()
	s := newTestStores(t)
	manager := ingestion.NewManager(s.graph, s.vectors, stubEmbedder{}, 0.90)
	return NewOperator(s.graph, s.vectors, s.docs, manager), s
}

func node(uuid, name string, labels ...string) *types.Node {
	return &types.Node{UUID: uuid, Name: name, Labels: labels, Properties: map[string]interface{}{}}
}

func TestMergeNodesRemapsEdges(t *testing.T) {
	op, s := newOperator(t)
	ctx := context.Background()

	john := node("u-john", "John", "PERSON")
	johnny := node("u-johnny", "Johnny", "PERSON")
	acme := node("u-acme", "Acme", "COMPANY")
	require.NoError(t, s.graph.AddNodes(ctx, "b1", []*types.Node{john, johnny, acme}))

	edge := types.NewPredicate("WORKS_AT", johnny.UUID, acme.UUID)
	require.NoError(t, s.graph.AddRelationship(ctx, "b1", edge))

	err := op.Execute(ctx, "b1", &agents.ConsolidationTask{
		Op:           "merge_nodes",
		SurvivorUUID: john.UUID,
		MergeUUIDs:   []string{johnny.UUID},
		Reason:       "same person",
	})
	require.NoError(t, err)

	_, err = s.graph.GetByUUID(ctx, "b1", johnny.UUID)
	assert.Error(t, err, "the merged node is gone")

	edges, err := s.graph.SearchRelationships(ctx, "b1", types.RelationshipFilters{TailUUID: john.UUID})
	require.NoError(t, err)
	require.Len(t, edges, 1, "the edge follows the survivor")
	assert.Equal(t, edge.UUID, edges[0].UUID, "edge uuids stay stable across remaps")
	assert.Equal(t, acme.UUID, edges[0].TipUUID)

	changes, err := s.docs.GetKGChangeList(ctx, "b1", types.ListOptions{})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, types.KGChangeNodesMerged, changes[0].Kind)
	assert.Equal(t, john.UUID, changes[0].EntityUUID)
}

func TestMergeNodesRefusesEvents(t *testing.T) {
	op, s := newOperator(t)
	ctx := context.Background()

	hub := node("u-knew", "KNEW", "EVENT")
	other := node("u-met", "MET", "EVENT")
	require.NoError(t, s.graph.AddNodes(ctx, "b1", []*types.Node{hub, other}))

	err := op.Execute(ctx, "b1", &agents.ConsolidationTask{
		Op:           "merge_nodes",
		SurvivorUUID: hub.UUID,
		MergeUUIDs:   []string{other.UUID},
	})
	require.Error(t, err)

	_, err = s.graph.GetByUUID(ctx, "b1", other.UUID)
	assert.NoError(t, err, "no Event node was touched")
}

func TestMergeNodesDropsSelfLoops(t *testing.T) {
	op, s := newOperator(t)
	ctx := context.Background()

	a := node("u-a", "NYC", "CITY")
	b := node("u-b", "New York City", "CITY")
	require.NoError(t, s.graph.AddNodes(ctx, "b1", []*types.Node{a, b}))
	require.NoError(t, s.graph.AddRelationship(ctx, "b1", types.NewPredicate("SAME_AS", a.UUID, b.UUID)))

	err := op.Execute(ctx, "b1", &agents.ConsolidationTask{
		Op: "merge_nodes", SurvivorUUID: b.UUID, MergeUUIDs: []string{a.UUID},
	})
	require.NoError(t, err)

	edges, err := s.graph.SearchRelationships(ctx, "b1", types.RelationshipFilters{})
	require.NoError(t, err)
	assert.Empty(t, edges, "a merge-created self-loop is removed")
}

func TestUpdateNodeRecordsBeforeAfter(t *testing.T) {
	op, s := newOperator(t)
	ctx := context.Background()

	n := node("u-john", "John", "PERSON")
	n.Properties["title"] = "engineer"
	require.NoError(t, s.graph.AddNodes(ctx, "b1", []*types.Node{n}))

	err := op.Execute(ctx, "b1", &agents.ConsolidationTask{
		Op:       "update_node",
		NodeUUID: n.UUID,
		Set:      map[string]interface{}{"title": "manager"},
	})
	require.NoError(t, err)

	updated, err := s.graph.GetByUUID(ctx, "b1", n.UUID)
	require.NoError(t, err)
	assert.Equal(t, "manager", updated.Properties["title"])

	changes, err := s.docs.GetKGChangeList(ctx, "b1", types.ListOptions{})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, types.KGChangeNodePropertiesUpdated, changes[0].Kind)
	assert.Equal(t, "engineer", changes[0].Before["title"])
	assert.Equal(t, "manager", changes[0].After["title"])
}

func TestDeprecateRelationship(t *testing.T) {
	op, s := newOperator(t)
	ctx := context.Background()

	a := node("u-a", "A", "THING")
	b := node("u-b", "B", "THING")
	require.NoError(t, s.graph.AddNodes(ctx, "b1", []*types.Node{a, b}))
	edge := types.NewPredicate("RELATES_TO", a.UUID, b.UUID)
	require.NoError(t, s.graph.AddRelationship(ctx, "b1", edge))

	err := op.Execute(ctx, "b1", &agents.ConsolidationTask{
		Op:           "deprecate_relationship",
		Relationship: &types.ArchitectRelationship{UUID: edge.UUID},
		Reason:       "superseded",
	})
	require.NoError(t, err)

	live, err := s.graph.SearchRelationships(ctx, "b1", types.RelationshipFilters{})
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := s.graph.SearchRelationships(ctx, "b1", types.RelationshipFilters{IncludeDeprecated: true})
	require.NoError(t, err)
	assert.Len(t, all, 1, "deprecation hides, it does not delete")
}

func TestCreateRelationshipGoesThroughManager(t *testing.T) {
	op, s := newOperator(t)
	ctx := context.Background()

	err := op.Execute(ctx, "b1", &agents.ConsolidationTask{
		Op: "create_relationship",
		Relationship: &types.ArchitectRelationship{
			UUID: "r1", FlowKey: "f1",
			Tail: types.EntityRef{UUID: "u1", Name: "Dog", Type: "ANIMAL"},
			Tip:  types.EntityRef{UUID: "u2", Name: "Animal", Type: "CONCEPT"},
			Name: "IS_A", Description: "a dog is an animal",
		},
	})
	require.NoError(t, err)

	edges, err := s.graph.SearchRelationships(ctx, "b1", types.RelationshipFilters{Names: []string{"IS_A"}})
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestUnknownOpFails(t *testing.T) {
	op, _ := newOperator(t)
	err := op.Execute(context.Background(), "b1", &agents.ConsolidationTask{Op: "defragment"})
	assert.Error(t, err)
}
