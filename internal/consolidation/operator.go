// Package consolidation runs the post-batch graph maintenance pass: the
// Consolidator reviews each session's relationships against a neighborhood
// snapshot, and the operator executes the rewrites it emits.
package consolidation

import (
	"context"
	"fmt"

	"brain/internal/agents"
	"brain/internal/ingestion"
	"brain/internal/logging"
	"brain/internal/types"
)

// Operator executes ConsolidationTasks against the graph. Every rewrite is
// recorded as a KGChange audit entry before the graph moves on.
type Operator struct {
	graph   types.GraphStore
	vectors types.VectorStore
	docs    types.DocStore
	manager *ingestion.Manager
}

// NewOperator wires the operator over the stores and the ingestion manager
// used for relationship inserts.
func NewOperator(graph types.GraphStore, vectors types.VectorStore, docs types.DocStore, manager *ingestion.Manager) *Operator {
	return &Operator{graph: graph, vectors: vectors, docs: docs, manager: manager}
}

// Execute applies one task. Unknown ops and guard violations are returned as
// errors; the orchestrator logs them and continues with the rest of the
// batch.
func (o *Operator) Execute(ctx context.Context, brain string, task *agents.ConsolidationTask) error {
	switch task.Op {
	case "merge_nodes":
		return o.mergeNodes(ctx, brain, task)
	case "create_relationship":
		return o.createRelationship(ctx, brain, task)
	case "update_node":
		return o.updateNode(ctx, brain, task)
	case "deprecate_relationship":
		return o.deprecateRelationship(ctx, brain, task)
	case "query":
		return o.runQuery(ctx, brain, task)
	}
	return fmt.Errorf("unknown consolidation op %q", task.Op)
}

// mergeNodes folds duplicate nodes into a survivor: every edge touching a
// merged node is remapped to the survivor, then the merged nodes and their
// vectors are removed. Event nodes are instance-unique and refuse to merge.
func (o *Operator) mergeNodes(ctx context.Context, brain string, task *agents.ConsolidationTask) error {
	if task.SurvivorUUID == "" || len(task.MergeUUIDs) == 0 {
		return fmt.Errorf("merge_nodes needs a survivor and at least one merge uuid")
	}

	survivor, err := o.graph.GetByUUID(ctx, brain, task.SurvivorUUID)
	if err != nil {
		return fmt.Errorf("merge_nodes: survivor %s: %w", task.SurvivorUUID, err)
	}
	if survivor.IsEvent() {
		return fmt.Errorf("merge_nodes: survivor %s is an Event", task.SurvivorUUID)
	}
	merged, err := o.graph.GetByUUIDs(ctx, brain, task.MergeUUIDs)
	if err != nil {
		return fmt.Errorf("merge_nodes: fetch merge set: %w", err)
	}

	var removeUUIDs, removeVectors []string
	for _, node := range merged {
		if node.UUID == survivor.UUID {
			continue
		}
		if node.IsEvent() {
			return fmt.Errorf("merge_nodes: %s is an Event", node.UUID)
		}
		if err := o.remapEdges(ctx, brain, node.UUID, survivor.UUID); err != nil {
			return err
		}
		removeUUIDs = append(removeUUIDs, node.UUID)
		if vID := node.VectorID(); vID != "" {
			removeVectors = append(removeVectors, vID)
		}
	}
	if len(removeUUIDs) == 0 {
		return nil
	}

	if err := o.graph.RemoveNodes(ctx, brain, removeUUIDs); err != nil {
		return fmt.Errorf("merge_nodes: remove merged nodes: %w", err)
	}
	if len(removeVectors) > 0 {
		if err := o.vectors.RemoveVectors(ctx, removeVectors, types.CollectionNodes, brain); err != nil {
			logging.ConsolidateError("mergeNodes: stale node vectors not removed: %v", err)
		}
	}

	change := types.NewKGChange(types.KGChangeNodesMerged, survivor.UUID)
	change.Before = map[string]interface{}{"merged_uuids": removeUUIDs}
	change.After = map[string]interface{}{"survivor": survivor.UUID, "reason": task.Reason}
	o.audit(ctx, brain, change)

	logging.Consolidate("mergeNodes: %d nodes folded into %s (%s)", len(removeUUIDs), survivor.Name, survivor.UUID)
	return nil
}

// remapEdges rewrites every edge touching `from` to touch `to` instead,
// keeping edge uuids stable.
func (o *Operator) remapEdges(ctx context.Context, brain, from, to string) error {
	for _, filters := range []types.RelationshipFilters{{TailUUID: from}, {TipUUID: from}} {
		edges, err := o.graph.SearchRelationships(ctx, brain, filters)
		if err != nil {
			return fmt.Errorf("remap edges of %s: %w", from, err)
		}
		for _, edge := range edges {
			if edge.TailUUID == from {
				edge.TailUUID = to
			}
			if edge.TipUUID == from {
				edge.TipUUID = to
			}
			// Self-loops created by the merge carry no information.
			if edge.TailUUID == edge.TipUUID {
				if err := o.graph.RemoveRelationships(ctx, brain, []string{edge.UUID}); err != nil {
					return err
				}
				continue
			}
			if err := o.graph.RemoveRelationships(ctx, brain, []string{edge.UUID}); err != nil {
				return err
			}
			if err := o.graph.AddRelationship(ctx, brain, edge); err != nil {
				return fmt.Errorf("remap edge %s: %w", edge.UUID, err)
			}
		}
	}
	return nil
}

// createRelationship inserts a Consolidator-proposed edge (typically an IS_A
// hierarchy link) through the ingestion manager so the usual endpoint
// resolution and dedupe apply.
func (o *Operator) createRelationship(ctx context.Context, brain string, task *agents.ConsolidationTask) error {
	if task.Relationship == nil {
		return fmt.Errorf("create_relationship needs a relationship")
	}
	result, err := o.manager.ProcessRelationships(ctx, brain, []*types.ArchitectRelationship{task.Relationship})
	if err != nil {
		return fmt.Errorf("create_relationship: %w", err)
	}
	if result.EdgesCreated > 0 {
		change := types.NewKGChange(types.KGChangeRelationshipCreated, task.Relationship.UUID)
		change.After = map[string]interface{}{
			"name": task.Relationship.Name,
			"tail": task.Relationship.Tail.UUID,
			"tip":  task.Relationship.Tip.UUID,
		}
		o.audit(ctx, brain, change)
	}
	return nil
}

// updateNode applies set/unset property changes and records the before
// image, so the change can be replayed in reverse.
func (o *Operator) updateNode(ctx context.Context, brain string, task *agents.ConsolidationTask) error {
	if task.NodeUUID == "" {
		return fmt.Errorf("update_node needs a node uuid")
	}
	node, err := o.graph.GetByUUID(ctx, brain, task.NodeUUID)
	if err != nil {
		return fmt.Errorf("update_node: %s: %w", task.NodeUUID, err)
	}

	before := make(map[string]interface{})
	for key := range task.Set {
		before[key] = node.Properties[key]
	}
	for _, key := range task.Unset {
		before[key] = node.Properties[key]
	}

	if err := o.graph.UpdateProperties(ctx, brain, task.NodeUUID, types.UpdateNode, task.Set, task.Unset); err != nil {
		return fmt.Errorf("update_node: %w", err)
	}

	change := types.NewKGChange(types.KGChangeNodePropertiesUpdated, task.NodeUUID)
	change.Before = before
	change.After = task.Set
	o.audit(ctx, brain, change)
	return nil
}

func (o *Operator) deprecateRelationship(ctx context.Context, brain string, task *agents.ConsolidationTask) error {
	uuid := task.NodeUUID
	if task.Relationship != nil && task.Relationship.UUID != "" {
		uuid = task.Relationship.UUID
	}
	if uuid == "" {
		return fmt.Errorf("deprecate_relationship needs a relationship uuid")
	}
	if err := o.graph.DeprecateRelationship(ctx, brain, uuid); err != nil {
		return fmt.Errorf("deprecate_relationship: %w", err)
	}
	change := types.NewKGChange(types.KGChangeRelationshipDeprecated, uuid)
	change.After = map[string]interface{}{"reason": task.Reason}
	o.audit(ctx, brain, change)
	return nil
}

// runQuery passes an opaque graph operation through to the store. Errors
// come back as strings for the Consolidator's next pass rather than failing
// the batch.
func (o *Operator) runQuery(ctx context.Context, brain string, task *agents.ConsolidationTask) error {
	if task.Query == "" {
		return fmt.Errorf("query op needs a query string")
	}
	out, err := o.graph.ExecuteOperation(ctx, brain, task.Query)
	if err != nil {
		logging.ConsolidateError("runQuery: %v", err)
		return nil
	}
	logging.ConsolidateDebug("runQuery: %s", out)
	return nil
}

// audit persists one KGChange. Audit failures are logged, never fatal: the
// rewrite already happened.
func (o *Operator) audit(ctx context.Context, brain string, change *types.KGChange) {
	if o.docs == nil {
		return
	}
	if err := o.docs.SaveKGChanges(ctx, brain, []*types.KGChange{change}); err != nil {
		logging.ConsolidateError("audit: %s change for %s not recorded: %v", change.Kind, change.EntityUUID, err)
	}
}
