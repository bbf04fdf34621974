package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"brain/internal/types"
)

// =============================================================================
// SCOUT PROMPT
// =============================================================================

const scoutSystemPrompt = `You are the Scout: you decompose text into atomic knowledge-graph building blocks.

Rules:
1. Static attributes (IDs, emails, single-owner descriptions) become node
   properties, NOT entities.
2. Shared dimensions (currencies, cities, roles, units) become standalone
   entities.
3. Quantities are NEVER entities. The numeric value will become a property of
   a later relationship; the unit itself is an entity.

Every entity carries a polarity:
- deficit verbs (lost, missed, lacks, owes)        -> "negative"
- achievement/possession verbs (won, has, earned)  -> "positive"
- pure location/movement facts                     -> "neutral"

Entities must be atomic: no composite phrases. Actions become EVENT entities
named after the verb. Dates normalize to DD/MM/YYYY and go into the
"happened_at" property of the event entity.

Respond with JSON only:
{"entities": [{"type": "PERSON", "name": "John", "description": "...",
"properties": {}, "polarity": "neutral"}]}`

// buildScoutPrompt assembles the full Scout prompt for one chunk.
func buildScoutPrompt(text string, targeting *types.Node) string {
	var b strings.Builder
	b.WriteString(scoutSystemPrompt)
	b.WriteString("\n\n")
	if targeting != nil {
		b.WriteString(fmt.Sprintf("The text is about %q (%s). Attach facts to it where relevant.\n\n",
			targeting.Name, strings.Join(targeting.Labels, ", ")))
	}
	b.WriteString("Text:\n")
	b.WriteString(text)
	return b.String()
}

// =============================================================================
// ARCHITECT PROMPTS
// =============================================================================

const architectSystemPrompt = `You are the Architect: you connect extracted entities into validated
relationships on a knowledge graph.

The Triangle of Attribution governs every accomplished action. An action is
an Event hub with three vectors:
1. Initiation: Actor --[MADE | COVERED_ROLE | EXPERIENCED | ACCOMPLISHED_ACTION]--> Event.
   Carry an "amount" property when the text mentions a quantity.
2. Target: Event --[TARGETED | RESULTED_IN]--> Object or Recipient.
   Repeat the "amount" property for cross-reference.
3. Context: Event --[OCCURRED_WITHIN | HAPPENED_WITHIN]--> BroaderAnchor.

Pure fact statements without an action produce a direct
Actor --[relation]--> Object edge with no Event hub.

Hard rules:
- tail is the origin of the action, tip the destination.
- NEVER connect Actor directly to Target for a dynamic action; route it
  through the Event hub.
- NEVER create a node for a raw number. Numbers are "amount" properties on
  edges.

Work tool by tool until no entities remain:
- get_remaining_entities_to_process: list what is still unconnected.
- create_relationship: submit the relationships for ONE natural-language
  phrase. On error, repair per the instructions and re-submit.
- mark_entities_as_used: mark entities you have fully connected.
- check_used_entities: review what is already connected when fewer than two
  entities remain.

You are done when get_remaining_entities_to_process returns an empty list.`

// buildArchitectOpening renders the first user turn of a tooler-mode run.
func buildArchitectOpening(text string, entities []*types.ScoutEntity, targeting *types.Node) string {
	var b strings.Builder
	b.WriteString("Connect the extracted entities for this text.\n\nText:\n")
	b.WriteString(text)
	if targeting != nil {
		b.WriteString(fmt.Sprintf("\n\nThe text is about %q (%s).", targeting.Name, strings.Join(targeting.Labels, ", ")))
	}
	b.WriteString(fmt.Sprintf("\n\n%d entities are pending. Call get_remaining_entities_to_process to begin.", len(entities)))
	return b.String()
}

// buildSingleShotPrompt renders one iteration of the single-shot Architect
// mode: the still-unconnected entities plus everything built so far.
func buildSingleShotPrompt(text string, pending []*types.ScoutEntity, done []*types.ArchitectRelationship, targeting *types.Node) string {
	var b strings.Builder
	b.WriteString(architectSystemPrompt)
	b.WriteString("\n\nRespond with JSON only:\n")
	b.WriteString(`{"new_nodes": [{"type": "EVENT", "name": "KNEW", "properties": {}}],` +
		` "relationships": [{"tail": {"uuid": "...", "name": "...", "type": "..."},` +
		` "tip": {"uuid": "...", "name": "...", "type": "..."}, "name": "TARGETED",` +
		` "description": "...", "properties": {"amount": 12}}]}`)
	b.WriteString("\n\nText:\n")
	b.WriteString(text)
	if targeting != nil {
		b.WriteString(fmt.Sprintf("\n\nThe text is about %q.", targeting.Name))
	}
	b.WriteString("\n\nUnconnected entities:\n")
	entJSON, _ := json.Marshal(pending)
	b.Write(entJSON)
	if len(done) > 0 {
		b.WriteString("\n\nRelationships already created (do not repeat them):\n")
		relJSON, _ := json.Marshal(done)
		b.Write(relJSON)
	}
	return b.String()
}

// =============================================================================
// JANITOR PROMPTS
// =============================================================================

const atomicJanitorPrompt = `You are the Janitor: you validate a batch of freshly built relationships
against the source text.

Directional semantics:
- ACTOR-CENTRIC labels (MADE, COVERED_ROLE, EXPERIENCED, ACCOMPLISHED_ACTION,
  and plain action verbs like INVITED, PAID, SENT): the tail must be the
  acting subject.
- IMPACT-CENTRIC labels (TARGETED, RESULTED_IN, OCCURRED_WITHIN,
  HAPPENED_WITHIN): the tail must be the Event.

Repair rules:
- Swap tail and tip ONLY when the edge direction contradicts the label's
  semantics. NEVER change the label itself.
- Strip numeric prefixes from node names ("23 Friends" -> "Friends") and push
  the number into the edge "amount" property.
- Event nodes are instance-unique: never merge or alias two Events.

For each relationship decide:
- valid as-is            -> leave it out of both lists
- repairable by you      -> put the corrected copy in "fixed_relationships"
- wrong, needs the author -> put it in "wrong_relationships" with instructions

Respond with JSON only:
{"status": "OK" | "ERROR",
 "fixed_relationships": [...],
 "wrong_relationships": [{"relationship": {...}, "instructions": "..."}]}
Use status "ERROR" iff wrong_relationships is non-empty.`

// buildAtomicJanitorPrompt renders the validation request for one phrase.
func buildAtomicJanitorPrompt(text string, targeting *types.Node, rels []*types.ArchitectRelationship) string {
	var b strings.Builder
	b.WriteString(atomicJanitorPrompt)
	b.WriteString("\n\nSource text:\n")
	b.WriteString(text)
	if targeting != nil {
		b.WriteString(fmt.Sprintf("\n\nThe text is about %q.", targeting.Name))
	}
	b.WriteString("\n\nRelationships to validate:\n")
	relJSON, _ := json.Marshal(rels)
	b.Write(relJSON)
	return b.String()
}

const consolidatorPrompt = `You are the Graph Consolidator: after a batch of relationships lands on the
graph, you reconcile it with the existing neighborhood.

Responsibilities:
- Co-reference resolution across batches: "J. Doe" and "John Doe" with
  overlapping neighborhoods are the same PERSON; two "Wedding" nodes at the
  same venue and date are the same occasion. Pick one survivor.
- Relationship consolidation: when nodes merge, their edges move to the
  survivor; avoid duplicate edges.
- Hierarchical linking: connect an instance to its concept with IS_A.
- Event nodes are instance-unique: NEVER merge two Events.

Emit a task list for the graph operator. Respond with JSON only:
{"tasks": [
  {"op": "merge_nodes", "survivor_uuid": "...", "merge_uuids": ["..."], "reason": "..."},
  {"op": "create_relationship", "relationship": {"tail": {...}, "tip": {...}, "name": "IS_A", "description": "..."}},
  {"op": "update_node", "node_uuid": "...", "set": {"k": "v"}, "unset": ["k2"], "reason": "..."}
]}
Return {"tasks": []} when nothing needs repair.`

// buildConsolidatorPrompt renders the post-batch reconciliation request.
func buildConsolidatorPrompt(rels []*types.ArchitectRelationship, snapshot []*types.Triple) string {
	var b strings.Builder
	b.WriteString(consolidatorPrompt)
	b.WriteString("\n\nNew relationships in this batch:\n")
	relJSON, _ := json.Marshal(rels)
	b.Write(relJSON)
	b.WriteString("\n\nExisting 2-hop neighborhood of their endpoints:\n")
	snapJSON, _ := json.Marshal(snapshot)
	b.Write(snapJSON)
	return b.String()
}

// =============================================================================
// OBSERVATION PROMPT
// =============================================================================

// BuildObservationPrompt renders the observation-generation request used by
// the ingestion pipeline when a target entity is named.
func BuildObservationPrompt(text, observateFor string) string {
	var b strings.Builder
	b.WriteString("Extract atomic observations about ")
	b.WriteString(observateFor)
	b.WriteString(` from the text below. Each observation is one standalone factual
statement. Skip anything not about the target.

Respond with JSON only: {"observations": ["...", "..."]}`)
	b.WriteString("\n\nText:\n")
	b.WriteString(text)
	return b.String()
}
