package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain/internal/types"
)

func TestScoutExtract(t *testing.T) {
	llm := &fakeLLM{jsonQueue: []string{
		`{"entities": [
			{"type": "PERSON", "name": "John", "polarity": "positive"},
			{"type": "EVENT", "name": "KNEW", "properties": {"happened_at": "2024-03-15"}},
			{"type": "UNIT", "name": "Friends"},
			{"type": "CITY", "name": "New York City", "polarity": "neutral"}
		]}`,
	}}
	scout := NewScout(llm, 1)

	result, err := scout.Extract(context.Background(), "John knew 12 new friends in New York City.", nil, "test-brain")
	require.NoError(t, err)
	require.Len(t, result.Entities, 4)

	for _, e := range result.Entities {
		assert.NotEmpty(t, e.Name)
		assert.NotEmpty(t, e.UUID)
		assert.True(t, e.Polarity.Valid(), "polarity must be valid for %s", e.Name)
	}

	// Dates normalize to DD/MM/YYYY on the event.
	event := result.Entities[1]
	assert.Equal(t, "EVENT", event.Type)
	assert.Equal(t, "15/03/2024", event.Properties["happened_at"])

	// Usage is surfaced.
	assert.Equal(t, int64(100), result.Usage.Input.Total)
	assert.Equal(t, int64(20), result.Usage.Output.Total)
}

func TestScoutExtractEmptyText(t *testing.T) {
	llm := &fakeLLM{}
	scout := NewScout(llm, 1)

	result, err := scout.Extract(context.Background(), "   \n\t ", nil, "test-brain")
	require.NoError(t, err)
	assert.Empty(t, result.Entities)
	assert.Zero(t, llm.jsonCalls, "empty text must not reach the model")
}

func TestScoutExtractMalformedOutputDegradesToEmpty(t *testing.T) {
	llm := &fakeLLM{jsonQueue: []string{`{"entities": "not a list"}`}}
	scout := NewScout(llm, 1)

	result, err := scout.Extract(context.Background(), "some text", nil, "test-brain")
	require.NoError(t, err)
	assert.Empty(t, result.Entities)
	// Tokens spent on the failed parse still count.
	assert.Equal(t, int64(120), result.Usage.GrandTotal)
}

func TestScoutExtractSkipsNamelessEntities(t *testing.T) {
	llm := &fakeLLM{jsonQueue: []string{
		`{"entities": [{"type": "PERSON", "name": "  "}, {"type": "person", "name": "Jane", "polarity": "bogus"}]}`,
	}}
	scout := NewScout(llm, 1)

	result, err := scout.Extract(context.Background(), "Jane", nil, "test-brain")
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Jane", result.Entities[0].Name)
	assert.Equal(t, "PERSON", result.Entities[0].Type, "type is upper-cased")
	assert.Equal(t, types.PolarityNeutral, result.Entities[0].Polarity, "invalid polarity falls back to neutral")
}

func TestScoutExtractTransportFailure(t *testing.T) {
	llm := &fakeLLM{jsonErr: context.DeadlineExceeded}
	scout := NewScout(llm, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := scout.Extract(ctx, "some text", nil, "test-brain")
	require.Error(t, err, "persistent transport failure surfaces as an ingestion error")
}
