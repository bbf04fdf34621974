package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI EMBEDDING BACKEND
// =============================================================================

// GenAIBackend generates embeddings using Google's Gemini API.
type GenAIBackend struct {
	client     *genai.Client
	model      string
	taskType   string
	dimensions int
}

// NewGenAIBackend creates a new GenAI embedding backend.
func NewGenAIBackend(apiKey, model, taskType string, dimensions int) (*GenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	if model == "" {
		model = "gemini-embedding-001"
	}
	if dimensions <= 0 {
		dimensions = 3072
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	var task string
	switch taskType {
	case "SEMANTIC_SIMILARITY", "":
		task = "SEMANTIC_SIMILARITY"
	case "CLASSIFICATION":
		task = "CLASSIFICATION"
	case "CLUSTERING":
		task = "CLUSTERING"
	case "RETRIEVAL_DOCUMENT":
		task = "RETRIEVAL_DOCUMENT"
	case "RETRIEVAL_QUERY":
		task = "RETRIEVAL_QUERY"
	case "QUESTION_ANSWERING":
		task = "QUESTION_ANSWERING"
	case "FACT_VERIFICATION":
		task = "FACT_VERIFICATION"
	default:
		task = "SEMANTIC_SIMILARITY"
	}

	return &GenAIBackend{
		client:     client,
		model:      model,
		taskType:   task,
		dimensions: dimensions,
	}, nil
}

// Embed generates an embedding for a single text.
func (b *GenAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := b.client.Models.EmbedContent(ctx,
		b.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: b.taskType,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}

	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	return result.Embeddings[0].Values, nil
}

// EmbedBatch generates embeddings for multiple texts.
// GenAI has native batch support.
func (b *GenAIBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := b.client.Models.EmbedContent(ctx,
		b.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: b.taskType,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI batch embed failed: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}

	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings.
func (b *GenAIBackend) Dimensions() int {
	return b.dimensions
}

// Name returns the backend name.
func (b *GenAIBackend) Name() string {
	return fmt.Sprintf("genai:%s", b.model)
}

// Close closes the GenAI client.
// The genai.Client type has no Close method; there is nothing to release.
func (b *GenAIBackend) Close() error {
	return nil
}
