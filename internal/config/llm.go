package config

import "time"

// LLMConfig configures the language-model adapter.
type LLMConfig struct {
	Provider        string `yaml:"provider"` // gemini
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"base_url"`
	Timeout         string `yaml:"timeout"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	// MaxJSONRetries bounds the internal re-ask loop on malformed JSON.
	MaxJSONRetries int `yaml:"max_json_retries"`
}

// DefaultLLMConfig returns the default LLM adapter settings.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:        "gemini",
		Model:           "gemini-3-flash-preview",
		BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
		Timeout:         "120s",
		MaxOutputTokens: 65536,
		MaxJSONRetries:  3,
	}
}

// TimeoutDuration returns the parsed request timeout.
func (c LLMConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 120*time.Second)
}

// EmbeddingConfig configures the embedding adapter.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // genai or ollama
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	// TaskType for GenAI: SEMANTIC_SIMILARITY, RETRIEVAL_QUERY, RETRIEVAL_DOCUMENT
	TaskType string `yaml:"task_type"`
	// Dimensions is the fixed embedding dimension shared by every vector
	// collection of a brain.
	Dimensions int `yaml:"dimensions"`

	// Ollama settings (local fallback provider)
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
}

// DefaultEmbeddingConfig returns the default embedding settings.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:       "genai",
		Model:          "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
		Dimensions:     3072,
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
	}
}
