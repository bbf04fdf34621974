// Package agents implements the Scout -> Architect -> Janitor extraction
// pipeline: model-driven agents that turn free text into validated atomic
// relationships for the ingestion layer.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"brain/internal/logging"
	"brain/internal/retry"
	"brain/internal/types"
	"brain/internal/usage"
)

// JanitorStatus discriminates the Janitor outcome variants.
type JanitorStatus string

const (
	// JanitorOK: the batch is valid, possibly after silent repairs.
	JanitorOK JanitorStatus = "OK"
	// JanitorNeedsRepair: some relationships must be rebuilt by the caller.
	JanitorNeedsRepair JanitorStatus = "ERROR"
	// JanitorTasks: the Consolidator produced graph-rewrite tasks.
	JanitorTasks JanitorStatus = "TASKS"
)

// WrongRelationship pairs a rejected relationship with repair instructions
// for the Architect.
type WrongRelationship struct {
	Relationship *types.ArchitectRelationship `json:"relationship"`
	Instructions string                       `json:"instructions"`
}

// ConsolidationTask is one graph-rewrite operation emitted by the
// Consolidator for the KG operator to execute.
type ConsolidationTask struct {
	Op           string                       `json:"op"` // merge_nodes, create_relationship, update_node, deprecate_relationship, query
	SurvivorUUID string                       `json:"survivor_uuid,omitempty"`
	MergeUUIDs   []string                     `json:"merge_uuids,omitempty"`
	Relationship *types.ArchitectRelationship `json:"relationship,omitempty"`
	NodeUUID     string                       `json:"node_uuid,omitempty"`
	Set          map[string]interface{}       `json:"set,omitempty"`
	Unset        []string                     `json:"unset,omitempty"`
	// Query is an opaque graph operation in the store's own dialect. The
	// core passes it through untouched.
	Query  string `json:"query,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// JanitorResult is the tagged outcome of any Janitor run.
type JanitorResult struct {
	Status JanitorStatus
	// Fixed holds relationships the Janitor repaired itself; the caller adds
	// them silently.
	Fixed []*types.ArchitectRelationship
	// Wrong holds relationships the caller must rebuild, with instructions.
	Wrong []*WrongRelationship
	// Tasks holds Consolidator output.
	Tasks []*ConsolidationTask
	Usage usage.TokenDetail
}

// Janitor validates relationship batches. One instance serves the atomic
// (in-loop), full (per unit-of-work), and consolidator (post-batch) roles.
type Janitor struct {
	llm        types.LLMClient
	maxRetries int
}

// NewJanitor creates a Janitor over the given model client.
func NewJanitor(llm types.LLMClient, maxJSONRetries int) *Janitor {
	if maxJSONRetries <= 0 {
		maxJSONRetries = 3
	}
	return &Janitor{llm: llm, maxRetries: maxJSONRetries}
}

// numericPrefixRe matches a leading integer or decimal on a node name.
var numericPrefixRe = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s+(.+)$`)

// stripNumericPrefixes moves leading numbers out of endpoint names and into
// the edge amount property. "23 Friends" becomes "Friends" with amount=23.
func stripNumericPrefixes(rel *types.ArchitectRelationship) bool {
	changed := false
	for _, ref := range []*types.EntityRef{&rel.Tail, &rel.Tip} {
		m := numericPrefixRe.FindStringSubmatch(ref.Name)
		if m == nil {
			continue
		}
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		ref.Name = m[2]
		if _, has := rel.Amount(); !has {
			rel.SetProperty("amount", amount)
		}
		changed = true
	}
	return changed
}

// janitorWire is the model's response shape for atomic validation.
type janitorWire struct {
	Status             string                         `json:"status"`
	FixedRelationships []*types.ArchitectRelationship `json:"fixed_relationships"`
	WrongRelationships []*WrongRelationship           `json:"wrong_relationships"`
}

// RunAtomic validates one phrase's relationships against the source text.
// Deterministic repairs (numeric prefixes) run first; the model pass then
// checks directional semantics. Repairs never relabel an edge.
func (j *Janitor) RunAtomic(ctx context.Context, text string, targeting *types.Node, rels []*types.ArchitectRelationship) (*JanitorResult, error) {
	result := &JanitorResult{Status: JanitorOK}
	if len(rels) == 0 {
		return result, nil
	}

	originalNames := make(map[string]string, len(rels))
	for _, rel := range rels {
		if stripNumericPrefixes(rel) {
			logging.JanitorDebug("RunAtomic: stripped numeric prefix on %s", rel.Name)
		}
		originalNames[rel.UUID] = rel.Name
	}

	prompt := buildAtomicJanitorPrompt(text, targeting, rels)
	resp, err := retry.DoValue(ctx, retry.AgentPolicy(), "janitor.atomic", func(ctx context.Context) (*types.LLMResponse, error) {
		return j.llm.GenerateJSON(ctx, prompt, 0, j.maxRetries)
	})
	if resp != nil {
		result.Usage = usage.FromUsage(resp.Usage)
	}
	if err != nil {
		// Validation is advisory in-loop: on persistent model failure the
		// batch passes through with only the deterministic repairs applied.
		logging.JanitorError("RunAtomic: model pass failed, accepting batch as-is: %v", err)
		return result, nil
	}

	var wire janitorWire
	if err := json.Unmarshal([]byte(resp.Text), &wire); err != nil {
		logging.JanitorError("RunAtomic: unparseable verdict, accepting batch as-is: %v", err)
		return result, nil
	}

	for _, fixed := range wire.FixedRelationships {
		if fixed == nil {
			continue
		}
		// The Janitor may swap endpoints but never relabel.
		if orig, ok := originalNames[fixed.UUID]; ok && orig != "" {
			fixed.Name = orig
		}
		stripNumericPrefixes(fixed)
		result.Fixed = append(result.Fixed, fixed)
	}
	for _, wrong := range wire.WrongRelationships {
		if wrong == nil || wrong.Relationship == nil {
			continue
		}
		result.Wrong = append(result.Wrong, wrong)
	}

	if len(result.Wrong) > 0 {
		result.Status = JanitorNeedsRepair
		logging.Janitor("RunAtomic: %d/%d relationships rejected", len(result.Wrong), len(rels))
	} else {
		logging.JanitorDebug("RunAtomic: batch of %d valid (%d auto-fixed)", len(rels), len(result.Fixed))
	}
	return result, nil
}

// RunUnit applies the atomic rules to a single unit-of-work. Legacy per-item
// entrypoint: it wraps the unit in a one-element batch.
func (j *Janitor) RunUnit(ctx context.Context, text string, targeting *types.Node, rel *types.ArchitectRelationship) (*JanitorResult, error) {
	if rel == nil {
		return &JanitorResult{Status: JanitorOK}, nil
	}
	return j.RunAtomic(ctx, text, targeting, []*types.ArchitectRelationship{rel})
}

// consolidatorWire is the model's response shape for the post-batch pass.
type consolidatorWire struct {
	Tasks []*ConsolidationTask `json:"tasks"`
}

// RunConsolidator reconciles a freshly ingested batch with the existing
// neighborhood snapshot and emits graph-rewrite tasks. Event nodes are
// protected from merging regardless of what the model proposes.
func (j *Janitor) RunConsolidator(ctx context.Context, rels []*types.ArchitectRelationship, snapshot []*types.Triple) (*JanitorResult, error) {
	result := &JanitorResult{Status: JanitorTasks}
	if len(rels) == 0 {
		return result, nil
	}

	prompt := buildConsolidatorPrompt(rels, snapshot)
	resp, err := retry.DoValue(ctx, retry.AgentPolicy(), "janitor.consolidator", func(ctx context.Context) (*types.LLMResponse, error) {
		return j.llm.GenerateJSON(ctx, prompt, 0, j.maxRetries)
	})
	if resp != nil {
		result.Usage = usage.FromUsage(resp.Usage)
	}
	if err != nil {
		return result, fmt.Errorf("consolidator pass: %w", err)
	}

	var wire consolidatorWire
	if err := json.Unmarshal([]byte(resp.Text), &wire); err != nil {
		return result, fmt.Errorf("consolidator returned unparseable tasks: %w", err)
	}

	events := eventUUIDs(snapshot)
	for _, task := range wire.Tasks {
		if task == nil || task.Op == "" {
			continue
		}
		if task.Op == "merge_nodes" && touchesEvent(task, events) {
			logging.Janitor("RunConsolidator: dropped merge touching an Event node (%s)", task.SurvivorUUID)
			continue
		}
		result.Tasks = append(result.Tasks, task)
	}
	logging.Janitor("RunConsolidator: %d tasks for batch of %d relationships", len(result.Tasks), len(rels))
	return result, nil
}

// eventUUIDs collects the uuids of Event nodes present in the snapshot.
func eventUUIDs(snapshot []*types.Triple) map[string]bool {
	events := make(map[string]bool)
	for _, t := range snapshot {
		if t.Tail.IsEvent() {
			events[t.Tail.UUID] = true
		}
		if t.Tip.IsEvent() {
			events[t.Tip.UUID] = true
		}
	}
	return events
}

// touchesEvent reports whether a merge task involves any known Event node.
func touchesEvent(task *ConsolidationTask, events map[string]bool) bool {
	if events[task.SurvivorUUID] {
		return true
	}
	for _, u := range task.MergeUUIDs {
		if events[u] {
			return true
		}
	}
	return false
}

// ErrorPayload renders a NeedsRepair result as the structured error string
// returned to the Architect's create_relationship tool call.
func (r *JanitorResult) ErrorPayload() string {
	payload := map[string]interface{}{
		"status":              string(r.Status),
		"wrong_relationships": r.Wrong,
	}
	if len(r.Fixed) > 0 {
		payload["fixed_relationships"] = r.Fixed
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

// normalizeRelName canonicalizes an edge label: trimmed, upper-cased, spaces
// collapsed to underscores.
func normalizeRelName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Join(strings.Fields(name), "_")
	return strings.ToUpper(name)
}
