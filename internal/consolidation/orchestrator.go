package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"brain/internal/agents"
	"brain/internal/config"
	"brain/internal/logging"
	"brain/internal/types"
	"brain/internal/usage"
)

// SessionRelationshipsKey is the cache key holding a session's aggregated
// relationship set, written once at fan-out.
func SessionRelationshipsKey(sessionID string) string {
	return "session:" + sessionID + ":relationships"
}

// SessionCounterKey is the cache key of the session's fan-in counter.
func SessionCounterKey(sessionID string) string {
	return "session:" + sessionID + ":pending_tasks"
}

// Orchestrator drives the post-session consolidation pass: Consolidator
// review in batches, operator execution, and session-state cleanup.
type Orchestrator struct {
	graph    types.GraphStore
	vectors  types.VectorStore
	cache    types.Cache
	janitor  *agents.Janitor
	operator *Operator
	cfg      config.ConsolidationConfig
}

// NewOrchestrator wires the consolidation pass.
func NewOrchestrator(graph types.GraphStore, vectors types.VectorStore, cache types.Cache, janitor *agents.Janitor, operator *Operator, cfg config.ConsolidationConfig) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.35
	}
	return &Orchestrator{
		graph:    graph,
		vectors:  vectors,
		cache:    cache,
		janitor:  janitor,
		operator: operator,
		cfg:      cfg,
	}
}

// Run consolidates one finished session. It reads the session's aggregated
// relationships from the cache, reviews them in batches against a 2-hop
// neighborhood snapshot, executes the emitted rewrites, and finally deletes
// the session's cache state. Individual batch failures are logged and
// skipped; one bad batch must not strand the rest of the session.
func (o *Orchestrator) Run(ctx context.Context, brain, sessionID string) (usage.TokenDetail, error) {
	total := usage.Zero()

	timer := logging.StartTimer(logging.CategoryConsolidate, "session "+sessionID)
	defer timer.Stop()

	raw, ok, err := o.cache.Get(ctx, brain, SessionRelationshipsKey(sessionID))
	if err != nil {
		return total, fmt.Errorf("read session %s relationships: %w", sessionID, err)
	}
	if !ok || raw == "" {
		logging.Consolidate("Run: session %s has no cached relationships, nothing to do", sessionID)
		o.cleanup(ctx, brain, sessionID)
		return total, nil
	}

	var rels []*types.ArchitectRelationship
	if err := json.Unmarshal([]byte(raw), &rels); err != nil {
		o.cleanup(ctx, brain, sessionID)
		return total, fmt.Errorf("corrupt session %s relationship set: %w", sessionID, err)
	}

	logging.Consolidate("Run: session %s, %d relationships in batches of %d", sessionID, len(rels), o.cfg.BatchSize)

	for start := 0; start < len(rels); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(rels) {
			end = len(rels)
		}
		batchUsage, err := o.runBatch(ctx, brain, rels[start:end])
		total = usage.Merge(total, batchUsage)
		if err != nil {
			logging.ConsolidateError("Run: session %s batch [%d:%d]: %v", sessionID, start, end, err)
		}
	}

	o.cleanup(ctx, brain, sessionID)
	logging.Consolidate("Run: session %s done, usage %s", sessionID, total)
	return total, nil
}

// runBatch reviews one relationship batch against the 2-hop neighborhood of
// its endpoints and executes the Consolidator's tasks.
func (o *Orchestrator) runBatch(ctx context.Context, brain string, batch []*types.ArchitectRelationship) (usage.TokenDetail, error) {
	uuids, err := o.endpointUUIDs(ctx, brain, batch)
	if err != nil {
		return usage.Zero(), err
	}

	snapshot, err := o.graph.Get2ndDegreeHops(ctx, brain, uuids, o.cfg.SimilarityThreshold, o.vectors)
	if err != nil {
		return usage.Zero(), fmt.Errorf("neighborhood snapshot: %w", err)
	}

	result, err := o.janitor.RunConsolidator(ctx, batch, snapshot)
	if err != nil {
		return usage.Zero(), err
	}
	if result.Status != agents.JanitorTasks || len(result.Tasks) == 0 {
		return result.Usage, nil
	}

	executed := 0
	for _, task := range result.Tasks {
		if err := o.operator.Execute(ctx, brain, task); err != nil {
			logging.ConsolidateError("runBatch: %s task skipped: %v", task.Op, err)
			continue
		}
		executed++
	}
	logging.Consolidate("runBatch: %d/%d tasks executed", executed, len(result.Tasks))
	return result.Usage, nil
}

// endpointUUIDs resolves the batch's endpoints to live graph uuids. The
// cached relationships carry the uuids minted during the Architect run, so
// each endpoint is re-resolved by (name, labels) identity first.
func (o *Orchestrator) endpointUUIDs(ctx context.Context, brain string, batch []*types.ArchitectRelationship) ([]string, error) {
	seen := make(map[string]bool)
	var uuids []string
	add := func(uuid string) {
		if uuid != "" && !seen[uuid] {
			seen[uuid] = true
			uuids = append(uuids, uuid)
		}
	}

	resolved := make(map[string]string) // lower(name) -> uuid
	for _, rel := range batch {
		for _, ref := range []*types.EntityRef{&rel.Tail, &rel.Tip} {
			key := strings.ToLower(ref.Name)
			if uuid, ok := resolved[key]; ok {
				add(uuid)
				continue
			}
			filters := types.EntityFilters{Names: []string{ref.Name}, Limit: 1}
			if ref.Type != "" {
				filters.Labels = []string{strings.ToUpper(ref.Type)}
			}
			nodes, err := o.graph.SearchEntities(ctx, brain, filters)
			if err != nil {
				return nil, fmt.Errorf("resolve endpoint %q: %w", ref.Name, err)
			}
			uuid := ref.UUID
			if len(nodes) > 0 {
				uuid = nodes[0].UUID
			}
			resolved[key] = uuid
			add(uuid)
		}
	}
	return uuids, nil
}

// cleanup deletes the session's cached relationship set and fan-in counter.
func (o *Orchestrator) cleanup(ctx context.Context, brain, sessionID string) {
	for _, key := range []string{SessionRelationshipsKey(sessionID), SessionCounterKey(sessionID)} {
		if err := o.cache.Delete(ctx, brain, key); err != nil {
			logging.ConsolidateError("cleanup: %s not deleted: %v", key, err)
		}
	}
}
