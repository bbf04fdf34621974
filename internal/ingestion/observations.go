package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"brain/internal/agents"
	"brain/internal/logging"
	"brain/internal/retry"
	"brain/internal/types"
	"brain/internal/usage"
)

// ObservationGenerator produces per-chunk observations about a named target
// and persists them to the document store and the observations collection.
type ObservationGenerator struct {
	llm        types.LLMClient
	docs       types.DocStore
	vectors    types.VectorStore
	embedder   types.Embedder
	maxRetries int
}

// NewObservationGenerator wires the generator over its collaborators.
func NewObservationGenerator(llm types.LLMClient, docs types.DocStore, vectors types.VectorStore, embedder types.Embedder) *ObservationGenerator {
	return &ObservationGenerator{llm: llm, docs: docs, vectors: vectors, embedder: embedder, maxRetries: 3}
}

// observationWire is the model's response shape.
type observationWire struct {
	Observations []string `json:"observations"`
}

// Generate extracts atomic observations about observateFor from the chunk.
// resourceID ties each observation back to its source chunk.
func (g *ObservationGenerator) Generate(ctx context.Context, brain, text, observateFor, resourceID string) ([]*types.Observation, usage.TokenDetail, error) {
	tokens := usage.Zero()
	if strings.TrimSpace(text) == "" || strings.TrimSpace(observateFor) == "" {
		return nil, tokens, nil
	}

	prompt := agents.BuildObservationPrompt(text, observateFor)
	resp, err := retry.DoValue(ctx, retry.AgentPolicy(), "observations.generate", func(ctx context.Context) (*types.LLMResponse, error) {
		r, err := g.llm.GenerateJSON(ctx, prompt, 0, g.maxRetries)
		return r, retry.Transient(err)
	})
	if resp != nil {
		tokens = usage.FromUsage(resp.Usage)
	}
	if err != nil {
		return nil, tokens, fmt.Errorf("observation pass: %w", err)
	}

	var wire observationWire
	if err := json.Unmarshal([]byte(resp.Text), &wire); err != nil {
		logging.IngestError("Generate: unparseable observations, skipping: %v", err)
		return nil, tokens, nil
	}

	observations := make([]*types.Observation, 0, len(wire.Observations))
	for _, text := range wire.Observations {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		observations = append(observations, &types.Observation{
			ID:         uuid.NewString(),
			Text:       text,
			Metadata:   map[string]interface{}{"observate_for": observateFor},
			ResourceID: resourceID,
			InsertedAt: time.Now().UTC(),
		})
	}
	if len(observations) == 0 {
		return nil, tokens, nil
	}

	if err := g.docs.SaveObservations(ctx, brain, observations); err != nil {
		return nil, tokens, fmt.Errorf("save observations: %w", err)
	}

	texts := make([]string, len(observations))
	for i, o := range observations {
		texts[i] = o.Text
	}
	vecs, err := g.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return observations, tokens, fmt.Errorf("embed observations: %w", err)
	}
	embedded := make([]*types.Vector, 0, len(vecs))
	for i, v := range vecs {
		if !v.IsEmbedded() {
			continue
		}
		v.Metadata = map[string]interface{}{
			"observation_id": observations[i].ID,
			"resource_id":    resourceID,
		}
		embedded = append(embedded, v)
	}
	if len(embedded) > 0 {
		if _, err := g.vectors.AddVectors(ctx, embedded, types.CollectionObservations, brain); err != nil {
			return observations, tokens, fmt.Errorf("store observation vectors: %w", err)
		}
	}

	logging.Ingest("Generate: brain=%s target=%q observations=%d", brain, observateFor, len(observations))
	return observations, tokens, nil
}
