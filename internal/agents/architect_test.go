package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain/internal/config"
	"brain/internal/types"
)

func triangleEntities() []*types.ScoutEntity {
	return []*types.ScoutEntity{
		entity("u1", "PERSON", "John"),
		entity("u2", "EVENT", "KNEW"),
		entity("u3", "UNIT", "Friends"),
		entity("u4", "CITY", "New York City"),
	}
}

func newTestArchitect(llm *fakeLLM, janitor *Janitor) *Architect {
	return NewArchitect(llm, janitor, config.DefaultIngestionConfig())
}

func TestArchitectToolerTriangleConstruction(t *testing.T) {
	// "John knew 12 new friends in New York City." -> Event hub with the
	// initiation, target, and context edges. No node named "12".
	llm := &fakeLLM{chatQueue: []*types.ChatResponse{
		{ToolCalls: []types.ToolCall{toolCall("get_remaining_entities_to_process", nil)}},
		{ToolCalls: []types.ToolCall{toolCall("create_relationship", map[string]interface{}{
			"relationships": []interface{}{
				relInput("u1", "John", "PERSON", "ACCOMPLISHED_ACTION", "u2", "KNEW", "EVENT", map[string]interface{}{"amount": 12.0}),
				relInput("u2", "KNEW", "EVENT", "TARGETED", "u3", "Friends", "UNIT", map[string]interface{}{"amount": 12.0}),
				relInput("u2", "KNEW", "EVENT", "OCCURRED_WITHIN", "u4", "New York City", "CITY", nil),
			},
		})}},
		{ToolCalls: []types.ToolCall{toolCall("mark_entities_as_used", map[string]interface{}{
			"entity_uuids": []interface{}{"u1", "u2", "u3", "u4"},
		})}},
	}}
	arch := newTestArchitect(llm, okJanitor())

	result, err := arch.Build(context.Background(), "John knew 12 new friends in New York City.", triangleEntities(), nil, "test-brain", "sess-1")
	require.NoError(t, err)
	require.Len(t, result.Relationships, 3)

	// One create_relationship call = one flow key across all three edges.
	flowKey := result.Relationships[0].FlowKey
	require.NotEmpty(t, flowKey)
	for _, r := range result.Relationships {
		assert.Equal(t, flowKey, r.FlowKey)
		assert.NotEqual(t, "12", r.Tail.Name)
		assert.NotEqual(t, "12", r.Tip.Name)
	}

	// Every endpoint resolves to a Scout entity; no new nodes were needed.
	known := map[string]bool{"u1": true, "u2": true, "u3": true, "u4": true}
	for _, r := range result.Relationships {
		assert.True(t, known[r.Tail.UUID], "tail %s must be a Scout entity", r.Tail.Name)
		assert.True(t, known[r.Tip.UUID], "tip %s must be a Scout entity", r.Tip.Name)
	}
	assert.Empty(t, result.NewNodes)

	// The quantity rides the initiation and target edges.
	amount, ok := result.Relationships[0].Amount()
	require.True(t, ok)
	assert.Equal(t, 12.0, amount)

	assert.Equal(t, 3, llm.chatCalls)
	assert.Positive(t, result.Usage.GrandTotal)
}

func TestArchitectZeroEntities(t *testing.T) {
	llm := &fakeLLM{}
	arch := newTestArchitect(llm, okJanitor())

	result, err := arch.Build(context.Background(), "some text", nil, nil, "test-brain", "")
	require.NoError(t, err)
	assert.Empty(t, result.Relationships)
	assert.Zero(t, llm.chatCalls, "zero entities means zero tool calls")
}

func TestArchitectRejectsRawNumberNodes(t *testing.T) {
	llm := &fakeLLM{chatQueue: []*types.ChatResponse{
		{ToolCalls: []types.ToolCall{toolCall("create_relationship", map[string]interface{}{
			"relationships": []interface{}{
				relInput("u2", "KNEW", "EVENT", "TARGETED", "", "12", "QUANTITY", nil),
			},
		})}},
		{ToolCalls: []types.ToolCall{toolCall("mark_entities_as_used", map[string]interface{}{
			"entity_uuids": []interface{}{"u1", "u2", "u3", "u4"},
		})}},
	}}
	arch := newTestArchitect(llm, okJanitor())

	result, err := arch.Build(context.Background(), "text", triangleEntities(), nil, "test-brain", "")
	require.NoError(t, err)
	assert.Empty(t, result.Relationships, "a raw-number endpoint is rejected, not committed")
}

func TestArchitectJanitorRepairLoop(t *testing.T) {
	// First create_relationship is rejected with instructions; the model
	// re-submits the corrected edge and the run converges.
	janitorLLM := &fakeLLM{jsonQueue: []string{
		`{"status": "ERROR", "wrong_relationships": [{"relationship": {"uuid": "bad-1", "tail": {"uuid": "u3"}, "tip": {"uuid": "u1"}, "name": "INVITED"}, "instructions": "swap tail and tip: John is the subject"}]}`,
		`{"status": "OK"}`,
	}}
	llm := &fakeLLM{chatQueue: []*types.ChatResponse{
		{ToolCalls: []types.ToolCall{{ID: "c1", Name: "create_relationship", Input: map[string]interface{}{
			"relationships": []interface{}{func() map[string]interface{} {
				m := relInput("u3", "Friends", "UNIT", "INVITED", "u1", "John", "PERSON", nil)
				m["uuid"] = "bad-1"
				return m
			}()},
		}}}},
		{ToolCalls: []types.ToolCall{toolCall("create_relationship", map[string]interface{}{
			"relationships": []interface{}{
				relInput("u1", "John", "PERSON", "INVITED", "u3", "Friends", "UNIT", nil),
			},
		})}},
		{ToolCalls: []types.ToolCall{toolCall("mark_entities_as_used", map[string]interface{}{
			"entity_uuids": []interface{}{"u1", "u2", "u3", "u4"},
		})}},
	}}
	arch := newTestArchitect(llm, NewJanitor(janitorLLM, 1))

	entities := triangleEntities()
	result, err := arch.Build(context.Background(), "John invited friends", entities, nil, "test-brain", "")
	require.NoError(t, err)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "u1", result.Relationships[0].Tail.UUID, "the repaired edge has John as tail")
	assert.Equal(t, "INVITED", result.Relationships[0].Name, "the label is preserved")
}

func TestArchitectIntroducesEventHub(t *testing.T) {
	// The model may create nodes beyond the Scout output: an Event hub sent
	// without a uuid is registered as a new node.
	llm := &fakeLLM{chatQueue: []*types.ChatResponse{
		{ToolCalls: []types.ToolCall{toolCall("create_relationship", map[string]interface{}{
			"relationships": []interface{}{
				relInput("u1", "John", "PERSON", "MADE", "", "PAYMENT", "EVENT", nil),
			},
		})}},
		{ToolCalls: []types.ToolCall{toolCall("mark_entities_as_used", map[string]interface{}{
			"entity_uuids": []interface{}{"u1", "u2", "u3", "u4"},
		})}},
	}}
	arch := newTestArchitect(llm, okJanitor())

	result, err := arch.Build(context.Background(), "John made a payment", triangleEntities(), nil, "test-brain", "")
	require.NoError(t, err)
	require.Len(t, result.Relationships, 1)
	require.Len(t, result.NewNodes, 1)
	assert.Equal(t, "PAYMENT", result.NewNodes[0].Name)
	assert.Equal(t, "EVENT", result.NewNodes[0].Type)
	assert.Equal(t, result.NewNodes[0].UUID, result.Relationships[0].Tip.UUID)
}

func TestArchitectRecursionCap(t *testing.T) {
	cfg := config.DefaultIngestionConfig()
	cfg.ToolRecursionCap = 2

	// The model keeps asking for the remaining entities without progress;
	// the hard cap stops the loop.
	llm := &fakeLLM{chatQueue: []*types.ChatResponse{
		{ToolCalls: []types.ToolCall{toolCall("get_remaining_entities_to_process", nil)}},
		{ToolCalls: []types.ToolCall{toolCall("get_remaining_entities_to_process", nil)}},
		{ToolCalls: []types.ToolCall{toolCall("get_remaining_entities_to_process", nil)}},
		{ToolCalls: []types.ToolCall{toolCall("get_remaining_entities_to_process", nil)}},
	}}
	arch := NewArchitect(llm, okJanitor(), cfg)

	result, err := arch.Build(context.Background(), "text", triangleEntities(), nil, "test-brain", "")
	require.NoError(t, err)
	assert.Empty(t, result.Relationships)
	assert.LessOrEqual(t, llm.chatCalls, 3)
}

func TestArchitectHistoryPruning(t *testing.T) {
	cfg := config.DefaultIngestionConfig()
	cfg.HistoryLimit = 5
	cfg.HistoryDrop = 2

	responses := make([]*types.ChatResponse, 6)
	for i := range responses {
		responses[i] = &types.ChatResponse{ToolCalls: []types.ToolCall{toolCall("check_used_entities", nil)}}
	}
	responses = append(responses, &types.ChatResponse{ToolCalls: []types.ToolCall{
		toolCall("mark_entities_as_used", map[string]interface{}{"entity_uuids": []interface{}{"u1", "u2", "u3", "u4"}}),
	}})
	llm := &fakeLLM{chatQueue: responses}
	arch := NewArchitect(llm, okJanitor(), cfg)

	_, err := arch.Build(context.Background(), "text", triangleEntities(), nil, "test-brain", "")
	require.NoError(t, err)

	require.NotNil(t, llm.lastChatReq)
	assert.LessOrEqual(t, len(llm.lastChatReq.Messages), cfg.HistoryLimit+2,
		"history stays bounded across iterations")
	assert.Contains(t, llm.lastChatReq.Messages[0].Content, "Connect the extracted entities",
		"the opening turn survives pruning")
}

func TestPruneHistoryKeepsToolTurnsPaired(t *testing.T) {
	st := &architectState{}
	st.history = append(st.history, types.ChatMessage{Role: types.RoleUser, Content: "opening"})
	for i := 0; i < 5; i++ {
		st.history = append(st.history,
			types.ChatMessage{Role: types.RoleModel, ToolCalls: []types.ToolCall{toolCall("check_used_entities", nil)}},
			types.ChatMessage{Role: types.RoleTool, ToolResults: []types.ToolResult{{Content: "[]"}}},
		)
	}

	// A naive cut at 1+drop would land on a tool-results message.
	st.pruneHistory(5, 3)

	require.Less(t, len(st.history), 11)
	assert.Equal(t, "opening", st.history[0].Content)
	for i, msg := range st.history {
		if msg.Role != types.RoleTool {
			continue
		}
		require.Greater(t, i, 0, "tool results never open the transcript")
		prev := st.history[i-1]
		assert.Equal(t, types.RoleModel, prev.Role, "tool results at %d follow their model turn", i)
		assert.NotEmpty(t, prev.ToolCalls, "tool results at %d have a calling turn", i)
	}
}

func TestArchitectSingleShot(t *testing.T) {
	llm := &fakeLLM{jsonQueue: []string{
		`{"new_nodes": [{"uuid": "ev-1", "type": "EVENT", "name": "KNEW"}],
		  "relationships": [
			{"tail": {"uuid": "u1", "name": "John", "type": "PERSON"}, "tip": {"uuid": "ev-1", "name": "KNEW", "type": "EVENT"}, "name": "ACCOMPLISHED_ACTION"},
			{"tail": {"uuid": "ev-1", "name": "KNEW", "type": "EVENT"}, "tip": {"uuid": "u3", "name": "Friends", "type": "UNIT"}, "name": "TARGETED", "properties": {"amount": 12}}
		  ]}`,
		`{"relationships": [
			{"tail": {"uuid": "ev-1", "name": "KNEW", "type": "EVENT"}, "tip": {"uuid": "u4", "name": "New York City", "type": "CITY"}, "name": "OCCURRED_WITHIN"}
		  ]}`,
	}}
	entities := []*types.ScoutEntity{
		entity("u1", "PERSON", "John"),
		entity("u3", "UNIT", "Friends"),
		entity("u4", "CITY", "New York City"),
	}
	arch := newTestArchitect(llm, okJanitor())

	result, err := arch.BuildSingleShot(context.Background(), "John knew 12 new friends in New York City.", entities, nil, "test-brain", "")
	require.NoError(t, err)
	require.Len(t, result.Relationships, 3)

	// Each iteration is one call and therefore one flow key.
	assert.Equal(t, result.Relationships[0].FlowKey, result.Relationships[1].FlowKey)
	assert.NotEqual(t, result.Relationships[0].FlowKey, result.Relationships[2].FlowKey)

	require.Len(t, result.NewNodes, 1)
	assert.Equal(t, "KNEW", result.NewNodes[0].Name)
	assert.Equal(t, 2, llm.jsonCalls, "terminates once all entities are connected")
}

func TestArchitectSingleShotIterationCap(t *testing.T) {
	cfg := config.DefaultIngestionConfig()
	cfg.ArchitectMaxIterations = 2

	llm := &fakeLLM{jsonQueue: []string{
		`{"relationships": []}`,
		`{"relationships": []}`,
		`{"relationships": []}`,
	}}
	arch := NewArchitect(llm, okJanitor(), cfg)

	_, err := arch.BuildSingleShot(context.Background(), "text", triangleEntities(), nil, "test-brain", "")
	require.NoError(t, err)
	assert.Equal(t, 2, llm.jsonCalls)
}
