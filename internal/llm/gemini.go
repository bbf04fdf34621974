// Package llm provides the language-model adapter for the extraction
// agents. The Gemini client speaks the v1beta REST API directly: plain
// text, JSON-constrained output, and multi-turn function calling.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"brain/internal/config"
	"brain/internal/logging"
	"brain/internal/types"
)

// GeminiClient implements types.LLMClient against the Gemini REST API.
type GeminiClient struct {
	apiKey          string
	baseURL         string
	model           string
	maxOutputTokens int
	httpClient      *http.Client

	// Rate limiting: minimum spacing between requests.
	mu          sync.Mutex
	lastRequest time.Time
}

var _ types.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini client from configuration.
func NewGeminiClient(cfg config.LLMConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-3-flash-preview"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	maxOutputTokens := cfg.MaxOutputTokens
	if maxOutputTokens <= 0 {
		maxOutputTokens = 65536
	}

	return &GeminiClient{
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		model:           model,
		maxOutputTokens: maxOutputTokens,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutDuration(),
		},
	}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}

// rateLimit enforces minimum spacing between API requests.
func (c *GeminiClient) rateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
}

// doRequest sends one generateContent call with a retry loop for rate
// limits and transport failures.
func (c *GeminiClient) doRequest(ctx context.Context, reqBody *GeminiRequest) (*GeminiResponse, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	c.rateLimit()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var geminiResp GeminiResponse
		if err := json.Unmarshal(body, &geminiResp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if geminiResp.Error != nil {
			return nil, fmt.Errorf("API error: %s", geminiResp.Error.Message)
		}
		return &geminiResp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// usageOf maps the wire usage block to the internal accounting type.
func usageOf(resp *GeminiResponse) types.UsageMetadata {
	u := resp.UsageMetadata
	return types.UsageMetadata{
		InputTokens:         u.PromptTokenCount,
		OutputTokens:        u.CandidatesTokenCount,
		TotalTokens:         u.TotalTokenCount,
		ThinkingTokens:      u.ThoughtsTokenCount,
		CachedContentTokens: u.CachedContentTokenCount,
	}
}

// textOf joins all text parts of the first candidate.
func textOf(resp *GeminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
}

// GenerateText sends a prompt and returns the completion text with usage.
func (c *GeminiClient) GenerateText(ctx context.Context, prompt string, maxTokens int) (*types.LLMResponse, error) {
	startTime := time.Now()
	logging.LLMDebug("[Gemini] GenerateText: model=%s prompt_len=%d", c.model, len(prompt))

	if maxTokens <= 0 {
		maxTokens = c.maxOutputTokens
	}

	reqBody := &GeminiRequest{
		Contents: []GeminiContent{
			{Role: "user", Parts: []GeminiPart{{Text: prompt}}},
		},
		GenerationConfig: GeminiGenerationConfig{
			Temperature:     1.0,
			MaxOutputTokens: maxTokens,
		},
	}

	resp, err := c.doRequest(ctx, reqBody)
	if err != nil {
		logging.LLMError("[Gemini] GenerateText: failed after %v: %v", time.Since(startTime), err)
		return nil, err
	}

	text := textOf(resp)
	if text == "" {
		return nil, fmt.Errorf("no completion returned")
	}

	logging.LLM("[Gemini] GenerateText: completed in %v response_len=%d tokens=%d",
		time.Since(startTime), len(text), resp.UsageMetadata.TotalTokenCount)
	return &types.LLMResponse{Text: text, Usage: usageOf(resp)}, nil
}

// GenerateJSON sends a prompt expecting a JSON response. Malformed output
// is re-requested up to maxRetries times; usage accumulates across
// attempts so callers account for every token spent.
func (c *GeminiClient) GenerateJSON(ctx context.Context, prompt string, maxTokens, maxRetries int) (*types.LLMResponse, error) {
	startTime := time.Now()
	logging.LLMDebug("[Gemini] GenerateJSON: model=%s prompt_len=%d max_retries=%d", c.model, len(prompt), maxRetries)

	if maxTokens <= 0 {
		maxTokens = c.maxOutputTokens
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	reqBody := &GeminiRequest{
		Contents: []GeminiContent{
			{Role: "user", Parts: []GeminiPart{{Text: prompt}}},
		},
		GenerationConfig: GeminiGenerationConfig{
			Temperature:      1.0,
			MaxOutputTokens:  maxTokens,
			ResponseMimeType: "application/json",
		},
	}

	var total types.UsageMetadata
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := c.doRequest(ctx, reqBody)
		if err != nil {
			return nil, err
		}
		total = addUsage(total, usageOf(resp))

		text := StripCodeFences(textOf(resp))
		if text == "" {
			lastErr = fmt.Errorf("no completion returned")
			continue
		}
		if !json.Valid([]byte(text)) {
			lastErr = fmt.Errorf("model returned invalid JSON (%d bytes)", len(text))
			logging.Get(logging.CategoryLLM).Warn("[Gemini] GenerateJSON: attempt %d returned invalid JSON", attempt+1)
			continue
		}

		logging.LLM("[Gemini] GenerateJSON: completed in %v attempts=%d response_len=%d",
			time.Since(startTime), attempt+1, len(text))
		return &types.LLMResponse{Text: text, Usage: total}, nil
	}

	logging.LLMError("[Gemini] GenerateJSON: exhausted %d attempts after %v: %v", maxRetries+1, time.Since(startTime), lastErr)
	return &types.LLMResponse{Usage: total}, fmt.Errorf("invalid JSON after %d attempts: %w", maxRetries+1, lastErr)
}

// Chat runs one multi-turn model invocation with optional tools.
func (c *GeminiClient) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	startTime := time.Now()
	logging.LLMDebug("[Gemini] Chat: model=%s messages=%d tools=%d", c.model, len(req.Messages), len(req.Tools))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxOutputTokens
	}

	reqBody := &GeminiRequest{
		Contents: buildContents(req.Messages),
		GenerationConfig: GeminiGenerationConfig{
			Temperature:     1.0,
			MaxOutputTokens: maxTokens,
		},
	}
	if req.System != "" {
		reqBody.SystemInstruction = &GeminiContent{
			Parts: []GeminiPart{{Text: req.System}},
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]GeminiFunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = GeminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			}
		}
		reqBody.Tools = []GeminiTool{{FunctionDeclarations: decls}}
	}

	resp, err := c.doRequest(ctx, reqBody)
	if err != nil {
		logging.LLMError("[Gemini] Chat: failed after %v: %v", time.Since(startTime), err)
		return nil, err
	}

	result := &types.ChatResponse{Usage: usageOf(resp)}
	if len(resp.Candidates) > 0 {
		result.StopReason = resp.Candidates[0].FinishReason
		var textBuilder strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				textBuilder.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				result.ToolCalls = append(result.ToolCalls, types.ToolCall{
					ID:    fmt.Sprintf("call_%d", len(result.ToolCalls)),
					Name:  part.FunctionCall.Name,
					Input: part.FunctionCall.Args,
				})
			}
		}
		result.Text = strings.TrimSpace(textBuilder.String())
	}

	logging.LLM("[Gemini] Chat: completed in %v text_len=%d tool_calls=%d stop_reason=%s",
		time.Since(startTime), len(result.Text), len(result.ToolCalls), result.StopReason)
	return result, nil
}

// buildContents maps agent message history onto Gemini conversation
// contents. Tool results travel as functionResponse parts on a function
// role message.
func buildContents(messages []types.ChatMessage) []GeminiContent {
	contents := make([]GeminiContent, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleUser:
			contents = append(contents, GeminiContent{
				Role:  "user",
				Parts: []GeminiPart{{Text: msg.Content}},
			})
		case types.RoleModel:
			parts := make([]GeminiPart, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				parts = append(parts, GeminiPart{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, GeminiPart{
					FunctionCall: &GeminiFunctionCall{
						Name: call.Name,
						Args: call.Input,
					},
				})
			}
			if len(parts) == 0 {
				parts = append(parts, GeminiPart{Text: ""})
			}
			contents = append(contents, GeminiContent{Role: "model", Parts: parts})
		case types.RoleTool:
			parts := make([]GeminiPart, 0, len(msg.ToolResults))
			for _, tr := range msg.ToolResults {
				parts = append(parts, GeminiPart{
					FunctionResponse: &GeminiFunctionResponse{
						Name: tr.Name,
						Response: map[string]interface{}{
							"content":  tr.Content,
							"is_error": tr.IsError,
						},
					},
				})
			}
			contents = append(contents, GeminiContent{Role: "function", Parts: parts})
		}
	}
	return contents
}

// addUsage sums two usage blocks field by field.
func addUsage(a, b types.UsageMetadata) types.UsageMetadata {
	return types.UsageMetadata{
		InputTokens:         a.InputTokens + b.InputTokens,
		OutputTokens:        a.OutputTokens + b.OutputTokens,
		TotalTokens:         a.TotalTokens + b.TotalTokens,
		ThinkingTokens:      a.ThinkingTokens + b.ThinkingTokens,
		CachedContentTokens: a.CachedContentTokens + b.CachedContentTokens,
	}
}

// StripCodeFences removes a surrounding markdown code fence from model
// output, tolerating a language tag after the opening fence.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop a language tag like "json" on the fence line.
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}[]") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
