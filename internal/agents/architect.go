package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"brain/internal/config"
	"brain/internal/logging"
	"brain/internal/retry"
	"brain/internal/types"
	"brain/internal/usage"
)

// Architect connects Scout entities into validated relationships. The
// tooler mode drives a tool loop with the Atomic Janitor as in-loop
// validator; the single-shot mode iterates over structured responses.
type Architect struct {
	llm     types.LLMClient
	janitor *Janitor

	maxIterations int // single-shot loop cap
	recursionCap  int // tool-dispatch hard cap
	historyLimit  int
	historyDrop   int
	maxRetries    int
}

// NewArchitect creates an Architect with the given pipeline tuning.
func NewArchitect(llm types.LLMClient, janitor *Janitor, cfg config.IngestionConfig) *Architect {
	a := &Architect{
		llm:           llm,
		janitor:       janitor,
		maxIterations: cfg.ArchitectMaxIterations,
		recursionCap:  cfg.ToolRecursionCap,
		historyLimit:  cfg.HistoryLimit,
		historyDrop:   cfg.HistoryDrop,
		maxRetries:    3,
	}
	if a.maxIterations <= 0 {
		a.maxIterations = 3
	}
	if a.recursionCap <= 0 {
		a.recursionCap = 100
	}
	if a.historyLimit <= 0 {
		a.historyLimit = 25
	}
	if a.historyDrop <= 0 {
		a.historyDrop = 8
	}
	return a
}

// ArchitectResult is the outcome of one Architect run.
type ArchitectResult struct {
	Relationships []*types.ArchitectRelationship
	// NewNodes lists nodes the run introduced beyond the Scout entities
	// (Event hubs and implied anchors).
	NewNodes []types.EntityRef
	Usage    usage.TokenDetail
}

// architectState is the explicit tool-loop state: pending and used
// entities, the accumulated relationship set, and the message history.
type architectState struct {
	pending  map[string]*types.ScoutEntity
	order    []string // insertion order of pending uuids
	used     map[string]*types.ScoutEntity
	newNodes map[string]types.EntityRef
	byName   map[string]string // lower(name) -> uuid, for refs sent without uuids

	relationships []*types.ArchitectRelationship
	history       []types.ChatMessage
	dispatches    int
}

func newArchitectState(entities []*types.ScoutEntity) *architectState {
	st := &architectState{
		pending:  make(map[string]*types.ScoutEntity, len(entities)),
		used:     make(map[string]*types.ScoutEntity),
		newNodes: make(map[string]types.EntityRef),
		byName:   make(map[string]string, len(entities)),
	}
	for _, e := range entities {
		st.pending[e.UUID] = e
		st.order = append(st.order, e.UUID)
		st.byName[strings.ToLower(e.Name)] = e.UUID
	}
	return st
}

// remaining returns the pending entities in stable order.
func (st *architectState) remaining() []*types.ScoutEntity {
	out := make([]*types.ScoutEntity, 0, len(st.pending))
	for _, id := range st.order {
		if e, ok := st.pending[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// markUsed moves an entity from pending to used. Returns false for unknown
// uuids.
func (st *architectState) markUsed(id string) bool {
	if e, ok := st.pending[id]; ok {
		delete(st.pending, id)
		st.used[id] = e
		return true
	}
	_, already := st.used[id]
	return already
}

// entityType returns the declared type of a known entity or new node.
func (st *architectState) entityType(id string) (string, bool) {
	if e, ok := st.pending[id]; ok {
		return e.Type, true
	}
	if e, ok := st.used[id]; ok {
		return e.Type, true
	}
	if ref, ok := st.newNodes[id]; ok {
		return ref.Type, true
	}
	return "", false
}

// resolveRef binds one relationship endpoint to a known entity, or records
// it as a new node introduced by this run. Raw numbers are rejected.
func (st *architectState) resolveRef(ref *types.EntityRef) error {
	ref.Name = strings.TrimSpace(ref.Name)
	if ref.Name == "" && ref.UUID == "" {
		return fmt.Errorf("relationship endpoint has neither uuid nor name")
	}
	if _, err := strconv.ParseFloat(ref.Name, 64); err == nil && ref.Name != "" {
		return fmt.Errorf("%q is a raw number: numbers are edge amount properties, never nodes", ref.Name)
	}

	if ref.UUID != "" {
		if t, known := st.entityType(ref.UUID); known {
			if ref.Type == "" {
				ref.Type = t
			}
			return nil
		}
	}
	if id, ok := st.byName[strings.ToLower(ref.Name)]; ok {
		ref.UUID = id
		if t, known := st.entityType(id); known && ref.Type == "" {
			ref.Type = t
		}
		return nil
	}

	// A node this run introduces (typically an Event hub).
	if ref.UUID == "" {
		ref.UUID = uuid.NewString()
	}
	ref.Type = strings.ToUpper(strings.TrimSpace(ref.Type))
	st.newNodes[ref.UUID] = *ref
	st.byName[strings.ToLower(ref.Name)] = ref.UUID
	return nil
}

// pruneHistory bounds the message history: when it exceeds the limit, the
// oldest messages after the opening turn are dropped. The cut lands on a
// turn boundary, never between a model's tool calls and their results.
func (st *architectState) pruneHistory(limit, drop int) {
	if len(st.history) <= limit {
		return
	}
	cut := 1 + drop
	if cut >= len(st.history) {
		cut = len(st.history) - 1
	}
	for cut > 1 && st.history[cut].Role == types.RoleTool {
		cut--
	}
	pruned := make([]types.ChatMessage, 0, 1+len(st.history)-cut)
	pruned = append(pruned, st.history[0])
	pruned = append(pruned, st.history[cut:]...)
	st.history = pruned
}

// =============================================================================
// TOOLER MODE
// =============================================================================

// Build runs the preferred tooler mode: the model converges to zero
// remaining entities through four tools, with every create_relationship
// call validated in-process by the Atomic Janitor.
func (a *Architect) Build(ctx context.Context, text string, entities []*types.ScoutEntity, targeting *types.Node, brain, sessionID string) (*ArchitectResult, error) {
	result := &ArchitectResult{}
	if len(entities) == 0 {
		return result, nil
	}

	timer := logging.StartTimer(logging.CategoryArchitect, "build")
	defer timer.Stop()
	logging.Architect("Build: brain=%s session=%s entities=%d", brain, sessionID, len(entities))

	st := newArchitectState(entities)
	registry := a.buildRegistry(st, text, targeting, result)

	st.history = append(st.history, types.ChatMessage{
		Role:    types.RoleUser,
		Content: buildArchitectOpening(text, entities, targeting),
	})

	nudges := 0
	for len(st.pending) > 0 && st.dispatches < a.recursionCap {
		resp, err := retry.DoValue(ctx, retry.AgentPolicy(), "architect.chat", func(ctx context.Context) (*types.ChatResponse, error) {
			r, err := a.llm.Chat(ctx, &types.ChatRequest{
				System:   architectSystemPrompt,
				Messages: st.history,
				Tools:    registry.Definitions(),
			})
			return r, retry.Transient(err)
		})
		if err != nil {
			logging.ArchitectError("Build: chat failed with %d entities pending: %v", len(st.pending), err)
			result.Relationships = st.relationships
			result.NewNodes = collectNewNodes(st)
			return result, err
		}
		result.Usage = usage.Merge(result.Usage, usage.FromUsage(resp.Usage))

		st.history = append(st.history, types.ChatMessage{
			Role:      types.RoleModel,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			nudges++
			if nudges > 2 {
				logging.Architect("Build: model stopped calling tools with %d entities pending", len(st.pending))
				break
			}
			st.history = append(st.history, types.ChatMessage{
				Role: types.RoleUser,
				Content: fmt.Sprintf("%d entities are still unconnected. Continue with the tools until none remain.",
					len(st.pending)),
			})
			continue
		}
		nudges = 0

		results := make([]types.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			if st.dispatches >= a.recursionCap {
				break
			}
			st.dispatches++
			results = append(results, registry.Dispatch(ctx, call))
		}
		st.history = append(st.history, types.ChatMessage{
			Role:        types.RoleTool,
			ToolResults: results,
		})
		st.pruneHistory(a.historyLimit, a.historyDrop)
	}

	result.Relationships = st.relationships
	result.NewNodes = collectNewNodes(st)
	logging.Architect("Build: brain=%s relationships=%d new_nodes=%d dispatches=%d usage=[%s]",
		brain, len(result.Relationships), len(result.NewNodes), st.dispatches, result.Usage.String())
	return result, nil
}

// buildRegistry wires the four Architect tools over the loop state.
func (a *Architect) buildRegistry(st *architectState, text string, targeting *types.Node, result *ArchitectResult) *ToolRegistry {
	registry := NewToolRegistry()

	registry.Register(types.ToolDefinition{
		Name:        "get_remaining_entities_to_process",
		Description: "List the entities not yet marked as used, as JSON.",
		InputSchema: objectSchema(map[string]interface{}{}),
	}, nil, func(ctx context.Context, input map[string]interface{}) (string, error) {
		data, err := json.Marshal(st.remaining())
		if err != nil {
			return "", err
		}
		return string(data), nil
	})

	registry.Register(types.ToolDefinition{
		Name: "create_relationship",
		Description: "Validate and commit the relationships for one natural-language phrase. " +
			"Returns OK, or a structured error listing wrong and auto-fixed relationships.",
		InputSchema: objectSchema(map[string]interface{}{
			"relationships": map[string]interface{}{
				"type":        "array",
				"description": "Relationships sharing one phrase: {tail, tip, name, description, properties}.",
			},
		}, "relationships"),
	}, []string{"relationships"}, func(ctx context.Context, input map[string]interface{}) (string, error) {
		return a.handleCreateRelationship(ctx, st, text, targeting, result, input)
	})

	registry.Register(types.ToolDefinition{
		Name:        "mark_entities_as_used",
		Description: "Mark fully connected entities as used, by uuid.",
		InputSchema: objectSchema(map[string]interface{}{
			"entity_uuids": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		}, "entity_uuids"),
	}, []string{"entity_uuids"}, func(ctx context.Context, input map[string]interface{}) (string, error) {
		ids := types.ExtractStringSlice(input["entity_uuids"])
		if len(ids) == 0 {
			return "", fmt.Errorf("entity_uuids must be a non-empty list of strings")
		}
		var unknown []string
		moved := 0
		for _, id := range ids {
			if st.markUsed(id) {
				moved++
			} else {
				unknown = append(unknown, id)
			}
		}
		if len(unknown) > 0 {
			return fmt.Sprintf("marked %d entities; unknown uuids: %v", moved, unknown), nil
		}
		return fmt.Sprintf("marked %d entities; %d remaining", moved, len(st.pending)), nil
	})

	registry.Register(types.ToolDefinition{
		Name:        "check_used_entities",
		Description: "Return the entities already marked as used, as JSON.",
		InputSchema: objectSchema(map[string]interface{}{}),
	}, nil, func(ctx context.Context, input map[string]interface{}) (string, error) {
		used := make([]*types.ScoutEntity, 0, len(st.used))
		for _, id := range st.order {
			if e, ok := st.used[id]; ok {
				used = append(used, e)
			}
		}
		data, err := json.Marshal(used)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})

	return registry
}

// handleCreateRelationship decodes, resolves, and validates one phrase's
// relationships. Fixed and valid relationships are committed to the set;
// rejections surface as a structured tool error.
func (a *Architect) handleCreateRelationship(ctx context.Context, st *architectState, text string, targeting *types.Node, result *ArchitectResult, input map[string]interface{}) (string, error) {
	raw, err := json.Marshal(input["relationships"])
	if err != nil {
		return "", fmt.Errorf("unreadable relationships argument: %w", err)
	}
	var rels []*types.ArchitectRelationship
	if err := json.Unmarshal(raw, &rels); err != nil {
		return "", fmt.Errorf("relationships must be a list of {tail, tip, name, ...} objects: %w", err)
	}
	if len(rels) == 0 {
		return "", fmt.Errorf("relationships list is empty")
	}

	flowKey := uuid.NewString()
	for _, rel := range rels {
		if rel.UUID == "" {
			rel.UUID = uuid.NewString()
		}
		rel.FlowKey = flowKey
		rel.Name = normalizeRelName(rel.Name)
		if rel.Name == "" {
			return "", fmt.Errorf("relationship %s has no name", rel.UUID)
		}
		if err := st.resolveRef(&rel.Tail); err != nil {
			return "", fmt.Errorf("tail of %s: %w", rel.Name, err)
		}
		if err := st.resolveRef(&rel.Tip); err != nil {
			return "", fmt.Errorf("tip of %s: %w", rel.Name, err)
		}
	}

	verdict, err := a.janitor.RunAtomic(ctx, text, targeting, rels)
	if err != nil {
		return "", fmt.Errorf("validation unavailable: %w", err)
	}
	result.Usage = usage.Merge(result.Usage, verdict.Usage)

	fixedByUUID := make(map[string]*types.ArchitectRelationship, len(verdict.Fixed))
	for _, f := range verdict.Fixed {
		fixedByUUID[f.UUID] = f
	}
	wrongUUIDs := make(map[string]bool, len(verdict.Wrong))
	for _, w := range verdict.Wrong {
		wrongUUIDs[w.Relationship.UUID] = true
	}

	committed := 0
	for _, rel := range rels {
		if wrongUUIDs[rel.UUID] {
			continue
		}
		if fixed, ok := fixedByUUID[rel.UUID]; ok {
			rel = fixed
		}
		st.relationships = append(st.relationships, rel)
		committed++
	}

	if verdict.Status == JanitorNeedsRepair {
		logging.Architect("create_relationship: %d committed, %d rejected (flow=%s)", committed, len(verdict.Wrong), flowKey)
		return "", fmt.Errorf("%s", verdict.ErrorPayload())
	}
	logging.ArchitectDebug("create_relationship: committed %d relationships (flow=%s)", committed, flowKey)
	return "OK", nil
}

// collectNewNodes returns the run's introduced nodes in a stable order.
func collectNewNodes(st *architectState) []types.EntityRef {
	refs := make([]types.EntityRef, 0, len(st.newNodes))
	for _, ref := range st.newNodes {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].UUID < refs[j].UUID })
	return refs
}

// =============================================================================
// SINGLE-SHOT MODE
// =============================================================================

// singleShotWire is the model's response shape for one single-shot pass.
type singleShotWire struct {
	NewNodes      []*types.ScoutEntity           `json:"new_nodes"`
	Relationships []*types.ArchitectRelationship `json:"relationships"`
}

// BuildSingleShot runs the iterative single-shot mode: each pass feeds the
// still-unconnected entities and the relationships built so far, up to the
// iteration cap.
func (a *Architect) BuildSingleShot(ctx context.Context, text string, entities []*types.ScoutEntity, targeting *types.Node, brain, sessionID string) (*ArchitectResult, error) {
	result := &ArchitectResult{}
	if len(entities) == 0 {
		return result, nil
	}

	st := newArchitectState(entities)
	logging.Architect("BuildSingleShot: brain=%s session=%s entities=%d", brain, sessionID, len(entities))

	for iter := 0; iter < a.maxIterations && len(st.pending) > 0; iter++ {
		prompt := buildSingleShotPrompt(text, st.remaining(), st.relationships, targeting)
		resp, err := retry.DoValue(ctx, retry.AgentPolicy(), "architect.single_shot", func(ctx context.Context) (*types.LLMResponse, error) {
			r, err := a.llm.GenerateJSON(ctx, prompt, 0, a.maxRetries)
			return r, retry.Transient(err)
		})
		if resp != nil {
			result.Usage = usage.Merge(result.Usage, usage.FromUsage(resp.Usage))
		}
		if err != nil {
			result.Relationships = st.relationships
			result.NewNodes = collectNewNodes(st)
			return result, err
		}

		var wire singleShotWire
		if err := json.Unmarshal([]byte(resp.Text), &wire); err != nil {
			logging.ArchitectError("BuildSingleShot: unparseable pass %d, aborting phrase: %v", iter+1, err)
			break
		}

		for _, n := range wire.NewNodes {
			if n == nil || strings.TrimSpace(n.Name) == "" {
				continue
			}
			ref := types.EntityRef{UUID: n.UUID, Name: strings.TrimSpace(n.Name), Type: strings.ToUpper(n.Type)}
			if ref.UUID == "" {
				ref.UUID = uuid.NewString()
			}
			st.newNodes[ref.UUID] = ref
			st.byName[strings.ToLower(ref.Name)] = ref.UUID
		}

		flowKey := uuid.NewString()
		batch := make([]*types.ArchitectRelationship, 0, len(wire.Relationships))
		for _, rel := range wire.Relationships {
			if rel == nil {
				continue
			}
			if rel.UUID == "" {
				rel.UUID = uuid.NewString()
			}
			rel.FlowKey = flowKey
			rel.Name = normalizeRelName(rel.Name)
			if rel.Name == "" {
				continue
			}
			if err := st.resolveRef(&rel.Tail); err != nil {
				logging.ArchitectDebug("BuildSingleShot: dropped relationship: %v", err)
				continue
			}
			if err := st.resolveRef(&rel.Tip); err != nil {
				logging.ArchitectDebug("BuildSingleShot: dropped relationship: %v", err)
				continue
			}
			batch = append(batch, rel)
		}
		if len(batch) == 0 {
			continue
		}

		verdict, err := a.janitor.RunAtomic(ctx, text, targeting, batch)
		if err != nil {
			result.Relationships = st.relationships
			result.NewNodes = collectNewNodes(st)
			return result, err
		}
		result.Usage = usage.Merge(result.Usage, verdict.Usage)

		fixedByUUID := make(map[string]*types.ArchitectRelationship, len(verdict.Fixed))
		for _, f := range verdict.Fixed {
			fixedByUUID[f.UUID] = f
		}
		wrongUUIDs := make(map[string]bool, len(verdict.Wrong))
		for _, w := range verdict.Wrong {
			wrongUUIDs[w.Relationship.UUID] = true
		}
		for _, rel := range batch {
			if wrongUUIDs[rel.UUID] {
				continue
			}
			if fixed, ok := fixedByUUID[rel.UUID]; ok {
				rel = fixed
			}
			st.relationships = append(st.relationships, rel)
			st.markUsed(rel.Tail.UUID)
			st.markUsed(rel.Tip.UUID)
		}
	}

	result.Relationships = st.relationships
	result.NewNodes = collectNewNodes(st)
	logging.Architect("BuildSingleShot: brain=%s relationships=%d usage=[%s]", brain, len(result.Relationships), result.Usage.String())
	return result, nil
}
