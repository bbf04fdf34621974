package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"brain/internal/chunker"
	"brain/internal/config"
	"brain/internal/consolidation"
	"brain/internal/store"
	"brain/internal/types"
	"brain/internal/usage"
)

// stubLLM returns queued responses, repeating the final one when the queue
// runs dry.
type stubLLM struct {
	jsonQueue []string
	chatQueue []*types.ChatResponse
}

var _ types.LLMClient = (*stubLLM)(nil)

func (s *stubLLM) GenerateText(ctx context.Context, prompt string, maxTokens int) (*types.LLMResponse, error) {
	return s.GenerateJSON(ctx, prompt, maxTokens, 0)
}

func (s *stubLLM) GenerateJSON(ctx context.Context, prompt string, maxTokens, maxRetries int) (*types.LLMResponse, error) {
	text := "{}"
	if len(s.jsonQueue) > 0 {
		text = s.jsonQueue[0]
		if len(s.jsonQueue) > 1 {
			s.jsonQueue = s.jsonQueue[1:]
		}
	}
	return &types.LLMResponse{
		Text:  text,
		Usage: types.UsageMetadata{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

func (s *stubLLM) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if len(s.chatQueue) == 0 {
		return &types.ChatResponse{Text: "done", StopReason: "stop"}, nil
	}
	resp := s.chatQueue[0]
	if len(s.chatQueue) > 1 {
		s.chatQueue = s.chatQueue[1:]
	}
	return resp, nil
}

// stubEmbedder yields deterministic unit vectors.
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

// faultyEmbedder fails for texts carrying a marker, so a single child batch
// can be made to fail while its siblings succeed.
type faultyEmbedder struct {
	stubEmbedder
}

func (f faultyEmbedder) EmbedText(ctx context.Context, text string) (*types.Vector, error) {
	if strings.Contains(text, "unresolvable") {
		return nil, errors.New("embedding backend unavailable")
	}
	return f.stubEmbedder.EmbedText(ctx, text)
}

func newTestEnv(t *testing.T, llm types.LLMClient) *Env {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Worker.TaskRetention = "1h"

	graph := store.NewGraphDB(dir)
	vectors := store.NewVectorDB(dir)
	docs := store.NewDocDB(dir)
	tracker, err := usage.NewTracker(dir)
	require.NoError(t, err)

	env := &Env{
		Cfg:      cfg,
		Graph:    graph,
		Vectors:  vectors,
		Docs:     docs,
		Cache:    store.NewMemoryCache(time.Hour),
		Queue:    NewMemoryQueue(),
		LLM:      llm,
		Embedder: stubEmbedder{},
		Chunker:  chunker.New(cfg.Ingestion.ChunkMaxRunes, cfg.Ingestion.ChunkOverlap),
		Usage:    tracker,
	}
	t.Cleanup(func() {
		graph.Close()
		vectors.Close()
		docs.Close()
		env.Queue.Close()
	})
	return env
}

func childTask(t *testing.T, brain, sessionID, suffix string) *Task {
	t.Helper()
	rel := &types.ArchitectRelationship{
		UUID:    "r-" + suffix,
		FlowKey: "f-" + suffix,
		Tail:    types.EntityRef{UUID: "t-" + suffix, Name: "John " + suffix, Type: "PERSON"},
		Tip:     types.EntityRef{UUID: "p-" + suffix, Name: "Acme " + suffix, Type: "COMPANY"},
		Name:    "WORKS_AT", Description: "John works at Acme " + suffix,
	}
	task, err := NewTask(TypeProcessRelationships, brain, &ProcessRelationshipsPayload{
		SessionID:     sessionID,
		Relationships: []*types.ArchitectRelationship{rel},
	})
	require.NoError(t, err)
	return task
}

func TestFanInEnqueuesConsolidationExactlyOnce(t *testing.T) {
	env := newTestEnv(t, &stubLLM{})
	runner := NewRunner(env)
	ctx := context.Background()

	counterKey := consolidation.SessionCounterKey("s1")
	require.NoError(t, env.Cache.Set(ctx, "b1", counterKey, "2", time.Hour))

	require.NoError(t, runner.Process(ctx, childTask(t, "b1", "s1", "a")))
	n, err := env.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no consolidation while children remain")

	require.NoError(t, runner.Process(ctx, childTask(t, "b1", "s1", "b")))
	n, err = env.Queue.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "the last child enqueues consolidation")

	got, err := env.Queue.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, TypeConsolidateGraphAsync, got.Type)
	var p ConsolidatePayload
	require.NoError(t, got.DecodePayload(&p))
	assert.Equal(t, "s1", p.SessionID)

	// A straggler past zero never enqueues a second consolidation.
	require.NoError(t, runner.Process(ctx, childTask(t, "b1", "s1", "c")))
	n, err = env.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFanInCountsFailedChildren(t *testing.T) {
	env := newTestEnv(t, &stubLLM{})
	env.Embedder = faultyEmbedder{}
	runner := NewRunner(env)
	ctx := context.Background()

	require.NoError(t, env.Cache.Set(ctx, "b1", consolidation.SessionCounterKey("s1"), "3", time.Hour))

	require.NoError(t, runner.Process(ctx, childTask(t, "b1", "s1", "a")))

	// One child's store writes fail; the task is failed but still counted.
	failing := childTask(t, "b1", "s1", "unresolvable")
	require.Error(t, runner.Process(ctx, failing))
	entry, err := runner.Status().Read(ctx, "b1", failing.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.NotEmpty(t, entry.Error)

	n, err := env.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no consolidation while a child remains")

	require.NoError(t, runner.Process(ctx, childTask(t, "b1", "s1", "b")))
	n, err = env.Queue.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "the failed child decremented the counter")

	got, err := env.Queue.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, TypeConsolidateGraphAsync, got.Type)
	var p ConsolidatePayload
	require.NoError(t, got.DecodePayload(&p))
	assert.Equal(t, "s1", p.SessionID)
}

func TestFanInRespectsConsolidationFlag(t *testing.T) {
	env := newTestEnv(t, &stubLLM{})
	env.Cfg.Consolidation.Enabled = false
	runner := NewRunner(env)
	ctx := context.Background()

	require.NoError(t, env.Cache.Set(ctx, "b1", consolidation.SessionCounterKey("s1"), "1", time.Hour))
	require.NoError(t, runner.Process(ctx, childTask(t, "b1", "s1", "a")))

	n, err := env.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "flag off: no consolidation task")
}

func TestProcessWritesStatus(t *testing.T) {
	env := newTestEnv(t, &stubLLM{})
	runner := NewRunner(env)
	ctx := context.Background()

	require.NoError(t, env.Cache.Set(ctx, "b1", consolidation.SessionCounterKey("s1"), "5", time.Hour))
	task := childTask(t, "b1", "s1", "a")
	require.NoError(t, runner.Process(ctx, task))

	entry, err := runner.Status().Read(ctx, "b1", task.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, StatusCompleted, entry.Status)
	assert.Empty(t, entry.Error)

	payload, ok := entry.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), payload["edges_created"])
}

func TestProcessUnknownTypeFails(t *testing.T) {
	env := newTestEnv(t, &stubLLM{})
	runner := NewRunner(env)
	ctx := context.Background()

	task := &Task{ID: "t1", Type: "bogus", Brain: "b1", Payload: []byte("{}")}
	require.Error(t, runner.Process(ctx, task))

	entry, err := runner.Status().Read(ctx, "b1", "t1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.NotEmpty(t, entry.Error)
}

func TestHandleIngestDataWithoutEntities(t *testing.T) {
	// The scout finds nothing; the pipeline completes with no children.
	env := newTestEnv(t, &stubLLM{jsonQueue: []string{`{"entities": []}`}})
	runner := NewRunner(env)
	ctx := context.Background()

	task, err := NewTask(TypeIngestData, "b1", &IngestDataPayload{
		Data: IngestInput{DataType: "text", TextData: "nothing of note here"},
	})
	require.NoError(t, err)
	require.NoError(t, runner.Process(ctx, task))

	n, err := env.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	chunks, err := env.Docs.GetTextChunkList(ctx, "b1", types.ListOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, chunks, "the raw text is persisted before extraction")
}

func TestFanOutSplitsByFlowKey(t *testing.T) {
	env := newTestEnv(t, &stubLLM{})
	env.Cfg.Ingestion.BatchSize = 3
	runner := NewRunner(env)
	ctx := context.Background()

	rels := []*types.ArchitectRelationship{
		{UUID: "r1", FlowKey: "f1", Tail: types.EntityRef{UUID: "a", Name: "A"}, Tip: types.EntityRef{UUID: "b", Name: "B"}, Name: "X"},
		{UUID: "r2", FlowKey: "f1", Tail: types.EntityRef{UUID: "b", Name: "B"}, Tip: types.EntityRef{UUID: "c", Name: "C"}, Name: "Y"},
		{UUID: "r3", FlowKey: "f1", Tail: types.EntityRef{UUID: "b", Name: "B"}, Tip: types.EntityRef{UUID: "d", Name: "D"}, Name: "Z"},
		{UUID: "r4", FlowKey: "f2", Tail: types.EntityRef{UUID: "e", Name: "E"}, Tip: types.EntityRef{UUID: "f", Name: "F"}, Name: "W"},
	}
	children, err := runner.fanOut(ctx, "b1", "s1", rels)
	require.NoError(t, err)
	assert.Len(t, children, 2)

	raw, ok, err := env.Cache.Get(ctx, "b1", consolidation.SessionRelationshipsKey("s1"))
	require.NoError(t, err)
	require.True(t, ok)
	var cached []*types.ArchitectRelationship
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Len(t, cached, 4, "the full session set is cached for consolidation")

	counter, ok, err := env.Cache.Get(ctx, "b1", consolidation.SessionCounterKey("s1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", counter)

	first, err := env.Queue.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, first)
	var p ProcessRelationshipsPayload
	require.NoError(t, first.DecodePayload(&p))
	assert.Len(t, p.Relationships, 3, "a flow-key group is never split")
	for _, rel := range p.Relationships {
		assert.Equal(t, "f1", rel.FlowKey)
	}
}

func TestSplitByFlowKeyKeepsOversizedGroupsWhole(t *testing.T) {
	var rels []*types.ArchitectRelationship
	for i := 0; i < 5; i++ {
		rels = append(rels, &types.ArchitectRelationship{UUID: string(rune('a' + i)), FlowKey: "f1"})
	}
	rels = append(rels, &types.ArchitectRelationship{UUID: "x", FlowKey: "f2"})

	batches := splitByFlowKey(rels, 3)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 5, "a group larger than the batch size stays together")
	assert.Len(t, batches[1], 1)
}

func TestWorkerPoolDrainsQueue(t *testing.T) {
	// Register before newTestEnv so the leak check runs after the env
	// cleanup has closed the stores' database handles.
	ignoreCurrent := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, ignoreCurrent) })

	env := newTestEnv(t, &stubLLM{})
	env.Cfg.Consolidation.Enabled = false
	env.Cfg.Worker.Concurrency = 2
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, env.Cache.Set(ctx, "b1", consolidation.SessionCounterKey("s1"), "1", time.Hour))
	task := childTask(t, "b1", "s1", "a")
	require.NoError(t, env.Queue.Enqueue(ctx, task))

	pool := NewPool(env)
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	status := NewStatusWriter(env.Cache, time.Hour)
	require.Eventually(t, func() bool {
		entry, err := status.Read(context.Background(), "b1", task.ID)
		return err == nil && entry != nil && entry.Status == StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop on cancel")
	}
}
