package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"brain/internal/agents"
	"brain/internal/consolidation"
	"brain/internal/ingestion"
	"brain/internal/logging"
	"brain/internal/types"
	"brain/internal/usage"
)

// sessionTTL bounds how long a session's cached relationship set and fan-in
// counter may live if consolidation never runs.
const sessionTTL = 24 * time.Hour

// Runner executes dequeued tasks. One Runner serves one worker goroutine;
// its ingestion manager carries the per-run resolved-name cache, so
// recycling a worker also resets that cache.
type Runner struct {
	env          *Env
	status       *StatusWriter
	scout        *agents.Scout
	architect    *agents.Architect
	janitor      *agents.Janitor
	manager      *ingestion.Manager
	observations *ingestion.ObservationGenerator
	orchestrator *consolidation.Orchestrator
}

// NewRunner builds a runner and its agent pipeline from the Env.
func NewRunner(env *Env) *Runner {
	janitor := agents.NewJanitor(env.LLM, 3)
	manager := ingestion.NewManager(env.Graph, env.Vectors, env.Embedder, env.Cfg.Ingestion.EdgeDedupeThreshold)
	operator := consolidation.NewOperator(env.Graph, env.Vectors, env.Docs, manager)
	return &Runner{
		env:          env,
		status:       NewStatusWriter(env.Cache, env.Cfg.Worker.TaskRetentionDuration()),
		scout:        agents.NewScout(env.LLM, 3),
		architect:    agents.NewArchitect(env.LLM, janitor, env.Cfg.Ingestion),
		janitor:      janitor,
		manager:      manager,
		observations: ingestion.NewObservationGenerator(env.LLM, env.Docs, env.Vectors, env.Embedder),
		orchestrator: consolidation.NewOrchestrator(env.Graph, env.Vectors, env.Cache, janitor, operator, env.Cfg.Consolidation),
	}
}

// Status exposes the runner's status writer for enqueue-time writes.
func (r *Runner) Status() *StatusWriter {
	return r.status
}

// Process runs one task end to end: started status, handler dispatch, and
// the final completed or failed status. The returned error is the handler's
// failure; the task is acked by the caller either way, since the outcome is
// already recorded on the status surface.
func (r *Runner) Process(ctx context.Context, task *Task) error {
	started := time.Now()
	logging.Tasks("Process: %s task %s brain=%s", task.Type, task.ID, task.Brain)
	r.status.Write(ctx, task.Brain, task.ID, StatusStarted, nil, nil)

	var (
		payload interface{}
		err     error
	)
	switch task.Type {
	case TypeIngestData:
		payload, err = r.handleIngestData(ctx, task)
	case TypeIngestStructuredData:
		payload, err = r.handleIngestStructured(ctx, task)
	case TypeProcessRelationships:
		payload, err = r.handleProcessRelationships(ctx, task)
	case TypeConsolidateGraphAsync:
		payload, err = r.handleConsolidate(ctx, task)
	default:
		err = fmt.Errorf("no handler for task type %q", task.Type)
	}

	elapsed := time.Since(started)
	r.env.Metrics.ObserveTask(task.Type, elapsed, err != nil)
	if err != nil {
		logging.TasksError("Process: %s task %s failed after %s: %v", task.Type, task.ID, elapsed, err)
		r.status.Write(ctx, task.Brain, task.ID, StatusFailed, err, payload)
		return err
	}
	logging.Tasks("Process: %s task %s completed in %s", task.Type, task.ID, elapsed)
	r.status.Write(ctx, task.Brain, task.ID, StatusCompleted, nil, payload)
	return nil
}

// pipelineUnit is one Scout/Architect pass: a piece of text with its
// optional targeting node and the document id observations attach to.
type pipelineUnit struct {
	text       string
	targeting  *types.Node
	resourceID string
}

// handleIngestData chunks the input, runs the agent pipeline per chunk, and
// fans the resulting relationships out into child tasks.
func (r *Runner) handleIngestData(ctx context.Context, task *Task) (interface{}, error) {
	var p IngestDataPayload
	if err := task.DecodePayload(&p); err != nil {
		return nil, err
	}
	if err := r.env.Docs.EnsureBrain(ctx, task.Brain); err != nil {
		return nil, fmt.Errorf("ensure brain %s: %w", task.Brain, err)
	}

	text := p.Data.TextData
	if p.Data.DataType == "json" {
		text = ingestion.Flatten(&types.StructuredData{JSONData: p.Data.JSONData})
	}

	var targeting *types.Node
	if len(p.IdentificationParams) > 0 {
		targeting = ingestion.TargetingNode(&types.StructuredData{
			IdentificationParams: p.IdentificationParams,
			Metadata:             p.MetaKeys,
		})
	}

	var units []pipelineUnit
	for _, chunkText := range r.env.Chunker.Chunk(text) {
		chunk := &types.TextChunk{
			ID:         uuid.NewString(),
			Text:       chunkText,
			Metadata:   p.MetaKeys,
			InsertedAt: time.Now().UTC(),
		}
		if err := r.env.Docs.SaveTextChunk(ctx, task.Brain, chunk); err != nil {
			return nil, fmt.Errorf("save chunk: %w", err)
		}
		if err := r.manager.EmbedChunk(ctx, task.Brain, chunk); err != nil {
			logging.IngestError("handleIngestData: chunk %s not embedded: %v", chunk.ID, err)
		}
		units = append(units, pipelineUnit{text: chunkText, targeting: targeting, resourceID: chunk.ID})
	}

	return r.runPipeline(ctx, task.Brain, units, p.ObservateFor)
}

// handleIngestStructured flattens each record into text and runs the same
// pipeline, with the record's identification params as the targeting node.
func (r *Runner) handleIngestStructured(ctx context.Context, task *Task) (interface{}, error) {
	var p IngestStructuredPayload
	if err := task.DecodePayload(&p); err != nil {
		return nil, err
	}
	if err := r.env.Docs.EnsureBrain(ctx, task.Brain); err != nil {
		return nil, fmt.Errorf("ensure brain %s: %w", task.Brain, err)
	}

	var units []pipelineUnit
	for _, rec := range p.Data {
		record := &types.StructuredData{
			ID:                   uuid.NewString(),
			JSONData:             rec.JSONData,
			Types:                rec.Types,
			IdentificationParams: rec.IdentificationParams,
			TextualData:          rec.TextualData,
			Metadata:             rec.Metadata,
			InsertedAt:           time.Now().UTC(),
		}
		if err := r.env.Docs.SaveStructuredData(ctx, task.Brain, []*types.StructuredData{record}); err != nil {
			return nil, fmt.Errorf("save structured record: %w", err)
		}
		units = append(units, pipelineUnit{
			text:       ingestion.Flatten(record),
			targeting:  ingestion.TargetingNode(record),
			resourceID: record.ID,
		})
	}

	return r.runPipeline(ctx, task.Brain, units, p.ObservateFor)
}

// runPipeline runs Scout and Architect over each unit and fans the combined
// relationship set out into child tasks. A unit whose model calls fail is
// logged and skipped; the pipeline only fails when every unit failed.
func (r *Runner) runPipeline(ctx context.Context, brain string, units []pipelineUnit, observateFor string) (interface{}, error) {
	sessionID := uuid.NewString()
	agentTimeout := r.env.Cfg.Worker.AgentTimeoutDuration()

	var allRels []*types.ArchitectRelationship
	failed := 0
	for _, unit := range units {
		rels, err := r.runUnit(ctx, brain, sessionID, unit, observateFor, agentTimeout)
		if err != nil {
			logging.IngestError("runPipeline: unit %s skipped: %v", unit.resourceID, err)
			failed++
			continue
		}
		allRels = append(allRels, rels...)
	}
	if len(units) > 0 && failed == len(units) {
		return map[string]interface{}{"session_id": sessionID}, fmt.Errorf("all %d units failed", failed)
	}

	childIDs, err := r.fanOut(ctx, brain, sessionID, allRels)
	if err != nil {
		return map[string]interface{}{"session_id": sessionID}, err
	}
	return map[string]interface{}{
		"session_id":    sessionID,
		"relationships": len(allRels),
		"child_tasks":   childIDs,
		"units_failed":  failed,
	}, nil
}

// runUnit is one Scout -> Architect pass over a single unit, with the
// per-agent wall-clock deadline applied to each invocation.
func (r *Runner) runUnit(ctx context.Context, brain, sessionID string, unit pipelineUnit, observateFor string, agentTimeout time.Duration) ([]*types.ArchitectRelationship, error) {
	scoutCtx, cancel := context.WithTimeout(ctx, agentTimeout)
	scouted, err := r.scout.Extract(scoutCtx, unit.text, unit.targeting, brain)
	cancel()
	if scouted != nil {
		r.env.Usage.Record(brain, usage.AgentScout, r.env.Model(), scouted.Usage)
	}
	if err != nil {
		return nil, fmt.Errorf("scout: %w", err)
	}
	if len(scouted.Entities) == 0 {
		return nil, nil
	}

	archCtx, cancel := context.WithTimeout(ctx, agentTimeout)
	built, err := r.architect.Build(archCtx, unit.text, scouted.Entities, unit.targeting, brain, sessionID)
	cancel()
	if built != nil {
		r.env.Usage.Record(brain, usage.AgentArchitect, r.env.Model(), built.Usage)
	}
	if err != nil {
		return nil, fmt.Errorf("architect: %w", err)
	}

	if observateFor != "" {
		obsCtx, cancel := context.WithTimeout(ctx, agentTimeout)
		_, obsUsage, obsErr := r.observations.Generate(obsCtx, brain, unit.text, observateFor, unit.resourceID)
		cancel()
		r.env.Usage.Record(brain, usage.AgentObserver, r.env.Model(), obsUsage)
		if obsErr != nil {
			// Observations enrich, they never gate ingestion.
			logging.IngestError("runUnit: observations for %s: %v", unit.resourceID, obsErr)
		}
	}

	return built.Relationships, nil
}

// fanOut writes the session's full relationship set to the cache, splits it
// into child batches along flow-key boundaries, initializes the fan-in
// counter, and enqueues one process_architect_relationships task per batch.
// The counter is written before any child can run.
func (r *Runner) fanOut(ctx context.Context, brain, sessionID string, rels []*types.ArchitectRelationship) ([]string, error) {
	if len(rels) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(rels)
	if err != nil {
		return nil, fmt.Errorf("marshal session relationships: %w", err)
	}
	if err := r.env.Cache.Set(ctx, brain, consolidation.SessionRelationshipsKey(sessionID), string(data), sessionTTL); err != nil {
		return nil, fmt.Errorf("cache session relationships: %w", err)
	}

	batches := splitByFlowKey(rels, r.env.Cfg.Ingestion.BatchSize)
	if err := r.env.Cache.Set(ctx, brain, consolidation.SessionCounterKey(sessionID), strconv.Itoa(len(batches)), sessionTTL); err != nil {
		return nil, fmt.Errorf("init fan-in counter: %w", err)
	}

	childIDs := make([]string, 0, len(batches))
	for _, batch := range batches {
		child, err := NewTask(TypeProcessRelationships, brain, &ProcessRelationshipsPayload{
			SessionID:     sessionID,
			Relationships: batch,
		})
		if err != nil {
			return childIDs, err
		}
		if err := r.env.Queue.Enqueue(ctx, child); err != nil {
			return childIDs, fmt.Errorf("enqueue child task: %w", err)
		}
		r.status.Write(ctx, brain, child.ID, StatusQueued, nil, nil)
		childIDs = append(childIDs, child.ID)
	}
	logging.Tasks("fanOut: session %s, %d relationships in %d child tasks", sessionID, len(rels), len(batches))
	return childIDs, nil
}

// splitByFlowKey packs relationships into batches of at most batchSize,
// never splitting a flow-key group: the three edges of one attribution
// triangle are written by the same child.
func splitByFlowKey(rels []*types.ArchitectRelationship, batchSize int) [][]*types.ArchitectRelationship {
	if batchSize <= 0 {
		batchSize = 10
	}

	var groups [][]*types.ArchitectRelationship
	index := make(map[string]int)
	for _, rel := range rels {
		if rel.FlowKey == "" {
			groups = append(groups, []*types.ArchitectRelationship{rel})
			continue
		}
		if i, ok := index[rel.FlowKey]; ok {
			groups[i] = append(groups[i], rel)
			continue
		}
		index[rel.FlowKey] = len(groups)
		groups = append(groups, []*types.ArchitectRelationship{rel})
	}

	var batches [][]*types.ArchitectRelationship
	var current []*types.ArchitectRelationship
	for _, group := range groups {
		if len(current) > 0 && len(current)+len(group) > batchSize {
			batches = append(batches, current)
			current = nil
		}
		current = append(current, group...)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// handleProcessRelationships persists one child batch. The fan-in counter is
// decremented whether the batch succeeded or not, so a failed child never
// strands the session; consolidation then covers the surviving batches.
func (r *Runner) handleProcessRelationships(ctx context.Context, task *Task) (payload interface{}, err error) {
	var p ProcessRelationshipsPayload
	if derr := task.DecodePayload(&p); derr != nil {
		return nil, derr
	}

	defer func() {
		remaining, derr := r.env.Cache.Decr(ctx, task.Brain, consolidation.SessionCounterKey(p.SessionID))
		if derr != nil {
			logging.TasksError("handleProcessRelationships: counter for session %s: %v", p.SessionID, derr)
			return
		}
		if remaining > 0 {
			logging.TasksDebug("handleProcessRelationships: session %s, %d children pending", p.SessionID, remaining)
			return
		}
		if remaining < 0 {
			// A prior pass already hit zero; never enqueue twice.
			return
		}
		if !r.env.Cfg.Consolidation.Enabled {
			logging.Tasks("handleProcessRelationships: session %s complete, consolidation disabled", p.SessionID)
			return
		}
		consolidate, cerr := NewTask(TypeConsolidateGraphAsync, task.Brain, &ConsolidatePayload{SessionID: p.SessionID})
		if cerr == nil {
			cerr = r.env.Queue.Enqueue(ctx, consolidate)
		}
		if cerr != nil {
			logging.TasksError("handleProcessRelationships: consolidation for session %s not enqueued: %v", p.SessionID, cerr)
			return
		}
		r.status.Write(ctx, task.Brain, consolidate.ID, StatusQueued, nil, nil)
		logging.Tasks("handleProcessRelationships: session %s complete, consolidation task %s enqueued", p.SessionID, consolidate.ID)
	}()

	result, err := r.manager.ProcessRelationships(ctx, task.Brain, p.Relationships)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"session_id":    p.SessionID,
		"nodes_created": result.NodesCreated,
		"edges_created": result.EdgesCreated,
		"edges_skipped": result.EdgesSkipped,
	}
	if len(result.Errors) > 0 {
		return out, fmt.Errorf("%d of %d relationships failed: %s", len(result.Errors), len(p.Relationships), result.Errors[0])
	}
	return out, nil
}

// handleConsolidate runs the post-session consolidation pass.
func (r *Runner) handleConsolidate(ctx context.Context, task *Task) (interface{}, error) {
	var p ConsolidatePayload
	if err := task.DecodePayload(&p); err != nil {
		return nil, err
	}
	total, err := r.orchestrator.Run(ctx, task.Brain, p.SessionID)
	r.env.Usage.Record(task.Brain, usage.AgentConsolidator, r.env.Model(), total)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"session_id":   p.SessionID,
		"total_tokens": total.GrandTotal,
	}, nil
}
