package agents

import (
	"context"
	"sync"

	"brain/internal/types"
)

// fakeLLM is a scripted model client: GenerateJSON and Chat pop queued
// responses in order. Usage is fixed so token accounting is assertable.
type fakeLLM struct {
	mu sync.Mutex

	jsonQueue []string
	jsonErr   error
	jsonCalls int

	chatQueue []*types.ChatResponse
	chatErr   error
	chatCalls int

	// lastChatReq records the most recent Chat request for assertions.
	lastChatReq *types.ChatRequest
}

var _ types.LLMClient = (*fakeLLM)(nil)

func fakeUsage() types.UsageMetadata {
	return types.UsageMetadata{InputTokens: 100, OutputTokens: 20, TotalTokens: 120, CachedContentTokens: 40}
}

func (f *fakeLLM) GenerateText(ctx context.Context, prompt string, maxTokens int) (*types.LLMResponse, error) {
	return f.GenerateJSON(ctx, prompt, maxTokens, 0)
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, prompt string, maxTokens, maxRetries int) (*types.LLMResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jsonCalls++
	if f.jsonErr != nil {
		return nil, f.jsonErr
	}
	if len(f.jsonQueue) == 0 {
		return &types.LLMResponse{Text: "{}", Usage: fakeUsage()}, nil
	}
	text := f.jsonQueue[0]
	f.jsonQueue = f.jsonQueue[1:]
	return &types.LLMResponse{Text: text, Usage: fakeUsage()}, nil
}

func (f *fakeLLM) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	f.lastChatReq = req
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	if len(f.chatQueue) == 0 {
		return &types.ChatResponse{Text: "done", Usage: fakeUsage()}, nil
	}
	resp := f.chatQueue[0]
	f.chatQueue = f.chatQueue[1:]
	if resp.Usage.TotalTokens == 0 {
		resp.Usage = fakeUsage()
	}
	return resp, nil
}

// okJanitor returns a Janitor whose model pass approves every batch.
func okJanitor() *Janitor {
	return NewJanitor(&fakeLLM{jsonQueue: []string{
		`{"status": "OK"}`, `{"status": "OK"}`, `{"status": "OK"}`,
		`{"status": "OK"}`, `{"status": "OK"}`, `{"status": "OK"}`,
	}}, 1)
}

// entity builds a ScoutEntity for tests.
func entity(id, typ, name string) *types.ScoutEntity {
	return &types.ScoutEntity{UUID: id, Type: typ, Name: name, Polarity: types.PolarityNeutral}
}

// toolCall builds a ToolCall for scripted chat responses.
func toolCall(name string, input map[string]interface{}) types.ToolCall {
	if input == nil {
		input = map[string]interface{}{}
	}
	return types.ToolCall{ID: "call_0", Name: name, Input: input}
}

// relInput renders a relationship as the map shape the model sends to
// create_relationship.
func relInput(tailUUID, tailName, tailType, name, tipUUID, tipName, tipType string, props map[string]interface{}) map[string]interface{} {
	m := map[string]interface{}{
		"tail": map[string]interface{}{"uuid": tailUUID, "name": tailName, "type": tailType},
		"tip":  map[string]interface{}{"uuid": tipUUID, "name": tipName, "type": tipType},
		"name": name,
	}
	if props != nil {
		m["properties"] = props
	}
	return m
}
