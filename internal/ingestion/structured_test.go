package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain/internal/store"
	"brain/internal/types"
)

func TestFlattenPrefersTextualData(t *testing.T) {
	record := &types.StructuredData{
		TextualData: "John paid 30 euros.",
		JSONData:    map[string]interface{}{"ignored": true},
	}
	assert.Equal(t, "John paid 30 euros.", Flatten(record))
}

func TestFlattenJSONData(t *testing.T) {
	record := &types.StructuredData{
		JSONData: map[string]interface{}{
			"name":   "John",
			"email":  "john@example.com",
			"salary": map[string]interface{}{"amount": 4200, "currency": "EUR"},
			"tags":   []interface{}{"engineer", "remote"},
			"blank":  nil,
		},
	}
	flat := Flatten(record)
	assert.Contains(t, flat, "name: John")
	assert.Contains(t, flat, "email: john@example.com")
	assert.Contains(t, flat, "salary.amount: 4200")
	assert.Contains(t, flat, "salary.currency: EUR")
	assert.Contains(t, flat, "tags: engineer, remote")
	assert.NotContains(t, flat, "blank")

	// Deterministic ordering.
	assert.Equal(t, flat, Flatten(record))
}

func TestTargetingNode(t *testing.T) {
	record := &types.StructuredData{
		Types:                []string{"person", "Employee"},
		IdentificationParams: map[string]interface{}{"name": "John Doe", "employee_id": "E-42"},
	}
	node := TargetingNode(record)
	require.NotNil(t, node)
	assert.Equal(t, "John Doe", node.Name)
	assert.Equal(t, []string{"PERSON", "EMPLOYEE"}, node.Labels)
	assert.Equal(t, "E-42", node.Properties["employee_id"])
}

func TestTargetingNodeWithoutIdentity(t *testing.T) {
	assert.Nil(t, TargetingNode(&types.StructuredData{Types: []string{"PERSON"}}))
}

// scriptedLLM returns queued JSON responses for the observation generator.
type scriptedLLM struct {
	queue []string
	calls int
}

func (s *scriptedLLM) GenerateText(ctx context.Context, prompt string, maxTokens int) (*types.LLMResponse, error) {
	return s.GenerateJSON(ctx, prompt, maxTokens, 0)
}

func (s *scriptedLLM) GenerateJSON(ctx context.Context, prompt string, maxTokens, maxRetries int) (*types.LLMResponse, error) {
	s.calls++
	if len(s.queue) == 0 {
		return &types.LLMResponse{Text: "{}"}, nil
	}
	text := s.queue[0]
	s.queue = s.queue[1:]
	return &types.LLMResponse{
		Text:  text,
		Usage: types.UsageMetadata{InputTokens: 50, OutputTokens: 10, TotalTokens: 60},
	}, nil
}

func (s *scriptedLLM) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	return &types.ChatResponse{}, nil
}

func TestObservationGenerator(t *testing.T) {
	dir := t.TempDir()
	docs := store.NewDocDB(dir)
	vectors := store.NewVectorDB(dir)
	t.Cleanup(func() {
		docs.Close()
		vectors.Close()
	})

	llm := &scriptedLLM{queue: []string{
		`{"observations": ["John lives in New York City.", "John has 12 friends.", "  "]}`,
	}}
	gen := NewObservationGenerator(llm, docs, vectors, &fakeEmbedder{})

	ctx := context.Background()
	obs, tokens, err := gen.Generate(ctx, "b1", "John knew 12 new friends in New York City.", "John", "chunk-1")
	require.NoError(t, err)
	require.Len(t, obs, 2, "blank observations are dropped")
	assert.Equal(t, int64(60), tokens.GrandTotal)

	for _, o := range obs {
		assert.Equal(t, "chunk-1", o.ResourceID)
		saved, err := docs.GetObservationByID(ctx, "b1", o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.Text, saved.Text)
	}
}

func TestObservationGeneratorSkipsWithoutTarget(t *testing.T) {
	llm := &scriptedLLM{}
	gen := NewObservationGenerator(llm, nil, nil, nil)

	obs, _, err := gen.Generate(context.Background(), "b1", "some text", "", "chunk-1")
	require.NoError(t, err)
	assert.Empty(t, obs)
	assert.Zero(t, llm.calls)
}
