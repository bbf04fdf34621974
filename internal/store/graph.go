package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"brain/internal/logging"
	"brain/internal/types"
)

// =============================================================================
// GRAPH STORE (SQLite)
// =============================================================================

// GraphDB implements types.GraphStore over one SQLite file per brain.
// Brains are created lazily on first use.
type GraphDB struct {
	dataDir string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

var _ types.GraphStore = (*GraphDB)(nil)

// NewGraphDB creates a graph store rooted at dataDir.
func NewGraphDB(dataDir string) *GraphDB {
	return &GraphDB{
		dataDir: dataDir,
		dbs:     make(map[string]*sql.DB),
	}
}

const graphSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	uuid TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	labels TEXT NOT NULL,
	description TEXT,
	properties TEXT,
	polarity TEXT DEFAULT 'neutral',
	identity_key TEXT NOT NULL UNIQUE,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);
CREATE INDEX IF NOT EXISTS idx_nodes_identity ON nodes(identity_key);

CREATE TABLE IF NOT EXISTS edges (
	uuid TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	direction TEXT DEFAULT 'out',
	properties TEXT,
	flow_key TEXT,
	amount REAL,
	tail_uuid TEXT NOT NULL,
	tip_uuid TEXT NOT NULL,
	last_updated DATETIME,
	deprecated INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_edges_tail ON edges(tail_uuid);
CREATE INDEX IF NOT EXISTS idx_edges_tip ON edges(tip_uuid);
CREATE INDEX IF NOT EXISTS idx_edges_flow ON edges(flow_key);
CREATE INDEX IF NOT EXISTS idx_edges_name ON edges(name);
`

// db returns the brain's database, creating file and schema on first use.
func (g *GraphDB) db(brain string) (*sql.DB, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := sanitizeBrain(brain)
	if db, ok := g.dbs[key]; ok {
		return db, nil
	}

	path := brainPath(g.dataDir, brain, "graph.db")
	logging.Store("Opening graph database for brain %s at %s", key, path)

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(graphSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create graph schema: %w", err)
	}
	// Ensure-then-verify: the schema must be observable before first use.
	if err := verifyTable(db, "nodes"); err != nil {
		db.Close()
		return nil, err
	}
	g.dbs[key] = db
	return db, nil
}

// Close closes every open brain database.
func (g *GraphDB) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var firstErr error
	for key, db := range g.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(g.dbs, key)
	}
	return firstErr
}

// identityKey returns the upsert identity for a node. Event nodes are
// instance-unique: their uuid joins the key so two identically named
// events never collapse.
func identityKey(n *types.Node) string {
	if n.IsEvent() {
		return n.IdentityKey() + "|" + n.UUID
	}
	return n.IdentityKey()
}

// upsertNode writes one node, preserving an existing node's uuid when the
// (name, labels) identity already exists. Returns the resolved uuid.
func upsertNode(tx *sql.Tx, n *types.Node) (string, error) {
	key := identityKey(n)

	var existingUUID string
	var existingProps sql.NullString
	err := tx.QueryRow(
		"SELECT uuid, properties FROM nodes WHERE identity_key = ?", key,
	).Scan(&existingUUID, &existingProps)

	switch {
	case err == sql.ErrNoRows:
		labelsJSON, _ := json.Marshal(n.Labels)
		propsJSON, _ := json.Marshal(n.Properties)
		_, err = tx.Exec(
			`INSERT INTO nodes (uuid, name, labels, description, properties, polarity, identity_key)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			n.UUID, n.Name, string(labelsJSON), n.Description, string(propsJSON), string(n.Polarity), key,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert node %s: %w", n.Name, err)
		}
		return n.UUID, nil

	case err != nil:
		return "", fmt.Errorf("failed to resolve node identity: %w", err)

	default:
		// Overlay new properties on the stored ones; incoming values win.
		merged := make(map[string]interface{})
		if existingProps.Valid && existingProps.String != "" {
			json.Unmarshal([]byte(existingProps.String), &merged)
		}
		for k, v := range n.Properties {
			merged[k] = v
		}
		mergedJSON, _ := json.Marshal(merged)

		_, err = tx.Exec(
			`UPDATE nodes SET
				description = CASE WHEN ? != '' THEN ? ELSE description END,
				properties = ?,
				polarity = CASE WHEN ? != '' THEN ? ELSE polarity END
			 WHERE uuid = ?`,
			n.Description, n.Description, string(mergedJSON), string(n.Polarity), string(n.Polarity), existingUUID,
		)
		if err != nil {
			return "", fmt.Errorf("failed to update node %s: %w", n.Name, err)
		}
		return existingUUID, nil
	}
}

// AddNodes writes nodes with MERGE semantics on (name, labels).
func (g *GraphDB) AddNodes(ctx context.Context, brain string, nodes []*types.Node) error {
	_, err := g.MergeNodes(ctx, brain, nodes)
	return err
}

// MergeNodes upserts nodes by identity and returns the resolved nodes:
// uuids of pre-existing nodes are preserved.
func (g *GraphDB) MergeNodes(ctx context.Context, brain string, nodes []*types.Node) ([]*types.Node, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	db, err := g.db(brain)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	resolved := make([]string, len(nodes))
	for i, n := range nodes {
		uuid, err := upsertNode(tx, n)
		if err != nil {
			return nil, err
		}
		resolved[i] = uuid
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit node merge: %w", err)
	}

	logging.StoreDebug("Merged %d nodes into brain %s", len(nodes), brain)
	return g.GetByUUIDs(ctx, brain, resolved)
}

// AddRelationship writes one directed edge, replacing any edge with the
// same uuid.
func (g *GraphDB) AddRelationship(ctx context.Context, brain string, rel *types.Predicate) error {
	db, err := g.db(brain)
	if err != nil {
		return err
	}

	propsJSON, _ := json.Marshal(rel.Properties)
	var amount interface{}
	if rel.Amount != nil {
		amount = *rel.Amount
	}
	lastUpdated := rel.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}

	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO edges
			(uuid, name, description, direction, properties, flow_key, amount, tail_uuid, tip_uuid, last_updated, deprecated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rel.UUID, rel.Name, rel.Description, string(rel.Direction), string(propsJSON),
		rel.FlowKey, amount, rel.TailUUID, rel.TipUUID, lastUpdated, boolToInt(rel.Deprecated),
	)
	if err != nil {
		return fmt.Errorf("failed to add relationship %s: %w", rel.Name, err)
	}
	logging.StoreDebug("Added edge %s (%s -> %s) in brain %s", rel.Name, rel.TailUUID, rel.TipUUID, brain)
	return nil
}

const nodeColumns = "uuid, name, labels, description, properties, polarity"

// scanNode reads one node row into a types.Node.
func scanNode(row interface{ Scan(...interface{}) error }) (*types.Node, error) {
	var n types.Node
	var labelsJSON string
	var description, propsJSON, polarity sql.NullString
	if err := row.Scan(&n.UUID, &n.Name, &labelsJSON, &description, &propsJSON, &polarity); err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(labelsJSON), &n.Labels)
	n.Description = description.String
	if propsJSON.Valid && propsJSON.String != "" {
		json.Unmarshal([]byte(propsJSON.String), &n.Properties)
	}
	n.Polarity = types.Polarity(polarity.String)
	return &n, nil
}

const edgeColumns = "uuid, name, description, direction, properties, flow_key, amount, tail_uuid, tip_uuid, last_updated, deprecated"

// scanEdge reads one edge row into a types.Predicate.
func scanEdge(row interface{ Scan(...interface{}) error }) (*types.Predicate, error) {
	var p types.Predicate
	var description, propsJSON, flowKey, direction sql.NullString
	var amount sql.NullFloat64
	var lastUpdated sql.NullTime
	var deprecated int
	if err := row.Scan(&p.UUID, &p.Name, &description, &direction, &propsJSON, &flowKey,
		&amount, &p.TailUUID, &p.TipUUID, &lastUpdated, &deprecated); err != nil {
		return nil, err
	}
	p.Description = description.String
	p.Direction = types.Direction(direction.String)
	if propsJSON.Valid && propsJSON.String != "" {
		json.Unmarshal([]byte(propsJSON.String), &p.Properties)
	}
	p.FlowKey = flowKey.String
	if amount.Valid {
		v := amount.Float64
		p.Amount = &v
	}
	p.LastUpdated = lastUpdated.Time
	p.Deprecated = deprecated != 0
	return &p, nil
}

// GetByUUID fetches one node.
func (g *GraphDB) GetByUUID(ctx context.Context, brain, uuid string) (*types.Node, error) {
	db, err := g.db(brain)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE uuid = ?", uuid)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node %s not found", uuid)
	}
	return n, err
}

// GetByUUIDs fetches nodes by uuid, preserving input order where possible.
func (g *GraphDB) GetByUUIDs(ctx context.Context, brain string, uuids []string) ([]*types.Node, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	db, err := g.db(brain)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + nodeColumns + " FROM nodes WHERE uuid IN (" + placeholders(len(uuids)) + ")"
	rows, err := db.QueryContext(ctx, query, toArgs(uuids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byUUID := make(map[string]*types.Node)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			continue
		}
		byUUID[n.UUID] = n
	}

	nodes := make([]*types.Node, 0, len(byUUID))
	for _, id := range uuids {
		if n, ok := byUUID[id]; ok {
			nodes = append(nodes, n)
		}
	}
	return nodes, rows.Err()
}

// GetNodesByUUID fetches nodes with optional relationship expansion up to
// opts.Depth hops, filtered by edge type and neighbor labels.
func (g *GraphDB) GetNodesByUUID(ctx context.Context, brain string, uuids []string, opts types.NodeFetchOptions) ([]*types.Node, []*types.Triple, error) {
	nodes, err := g.GetByUUIDs(ctx, brain, uuids)
	if err != nil {
		return nil, nil, err
	}
	if !opts.WithRelationships {
		return nodes, nil, nil
	}

	depth := opts.Depth
	if depth <= 0 {
		depth = 1
	}

	seen := make(map[string]bool)
	frontier := uuids
	var triples []*types.Triple
	edgeSeen := make(map[string]bool)

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		hopTriples, err := g.GetNeighbors(ctx, brain, frontier, opts.OfTypes, 0)
		if err != nil {
			return nil, nil, err
		}
		var next []string
		for _, t := range hopTriples {
			if edgeSeen[t.Predicate.UUID] {
				continue
			}
			if len(opts.Labels) > 0 && !nodeMatchesLabels(&t.Tail, opts.Labels) && !nodeMatchesLabels(&t.Tip, opts.Labels) {
				continue
			}
			edgeSeen[t.Predicate.UUID] = true
			triples = append(triples, t)
			for _, id := range []string{t.Tail.UUID, t.Tip.UUID} {
				if !seen[id] {
					seen[id] = true
					next = append(next, id)
				}
			}
		}
		frontier = next
	}
	return nodes, triples, nil
}

func nodeMatchesLabels(n *types.Node, labels []string) bool {
	for _, l := range labels {
		if n.HasLabel(l) {
			return true
		}
	}
	return false
}

// GetNeighbors returns all edges touching the given nodes as resolved
// triples, optionally filtered by edge name.
func (g *GraphDB) GetNeighbors(ctx context.Context, brain string, uuids []string, ofTypes []string, limit int) ([]*types.Triple, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	db, err := g.db(brain)
	if err != nil {
		return nil, err
	}

	ph := placeholders(len(uuids))
	query := "SELECT " + edgeColumns + " FROM edges WHERE deprecated = 0 AND (tail_uuid IN (" + ph + ") OR tip_uuid IN (" + ph + "))"
	args := append(toArgs(uuids), toArgs(uuids)...)
	if len(ofTypes) > 0 {
		query += " AND name IN (" + placeholders(len(ofTypes)) + ")"
		args = append(args, toArgs(ofTypes)...)
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []*types.Predicate
	for rows.Next() {
		p, err := scanEdge(rows)
		if err != nil {
			continue
		}
		edges = append(edges, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return g.resolveTriples(ctx, brain, edges)
}

// resolveTriples joins edges with their endpoint nodes.
func (g *GraphDB) resolveTriples(ctx context.Context, brain string, edges []*types.Predicate) ([]*types.Triple, error) {
	if len(edges) == 0 {
		return nil, nil
	}
	idSet := make(map[string]bool)
	var ids []string
	for _, e := range edges {
		for _, id := range []string{e.TailUUID, e.TipUUID} {
			if !idSet[id] {
				idSet[id] = true
				ids = append(ids, id)
			}
		}
	}
	nodes, err := g.GetByUUIDs(ctx, brain, ids)
	if err != nil {
		return nil, err
	}
	byUUID := make(map[string]*types.Node, len(nodes))
	for _, n := range nodes {
		byUUID[n.UUID] = n
	}

	triples := make([]*types.Triple, 0, len(edges))
	for _, e := range edges {
		tail, tip := byUUID[e.TailUUID], byUUID[e.TipUUID]
		if tail == nil || tip == nil {
			// Dangling edge; skip rather than fabricate endpoints.
			continue
		}
		triples = append(triples, &types.Triple{Tail: *tail, Predicate: *e, Tip: *tip})
	}
	return triples, nil
}

// Get2ndDegreeHops snapshots the 2-hop neighborhood of the given nodes,
// widening the seed set with vector-similar nodes above the threshold.
func (g *GraphDB) Get2ndDegreeHops(ctx context.Context, brain string, uuids []string, similarityThreshold float64, vectors types.VectorStore) ([]*types.Triple, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Get2ndDegreeHops")
	defer timer.StopWithThreshold(2 * time.Second)

	seeds := append([]string{}, uuids...)
	seedSet := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		seedSet[id] = true
	}

	// Widen with vector-similar nodes when the seeds carry vector ids.
	if vectors != nil && similarityThreshold > 0 {
		nodes, err := g.GetByUUIDs(ctx, brain, uuids)
		if err != nil {
			return nil, err
		}
		var vIDs []string
		for _, n := range nodes {
			if vid := n.VectorID(); vid != "" {
				vIDs = append(vIDs, vid)
			}
		}
		if len(vIDs) > 0 {
			similar, err := vectors.SearchSimilarByIDs(ctx, vIDs, types.CollectionNodes, brain, similarityThreshold, 50)
			if err != nil {
				logging.Get(logging.CategoryStore).Warn("Similarity widening failed: %v", err)
			} else {
				for _, v := range similar {
					if uuid := types.ExtractString(v.Metadata["uuid"]); uuid != "" && !seedSet[uuid] {
						seedSet[uuid] = true
						seeds = append(seeds, uuid)
					}
				}
			}
		}
	}

	// Two hops out from the widened seed set.
	firstHop, err := g.GetNeighbors(ctx, brain, seeds, nil, 0)
	if err != nil {
		return nil, err
	}
	frontierSet := make(map[string]bool)
	var frontier []string
	for _, t := range firstHop {
		for _, id := range []string{t.Tail.UUID, t.Tip.UUID} {
			if !seedSet[id] && !frontierSet[id] {
				frontierSet[id] = true
				frontier = append(frontier, id)
			}
		}
	}

	triples := firstHop
	if len(frontier) > 0 {
		secondHop, err := g.GetNeighbors(ctx, brain, frontier, nil, 0)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(triples))
		for _, t := range triples {
			seen[t.Predicate.UUID] = true
		}
		for _, t := range secondHop {
			if !seen[t.Predicate.UUID] {
				seen[t.Predicate.UUID] = true
				triples = append(triples, t)
			}
		}
	}
	return triples, nil
}

// GetNextsByFlowKey returns the edges downstream of each predicate within
// its flow: edges sharing the flow key whose tail is the predicate's tip.
func (g *GraphDB) GetNextsByFlowKey(ctx context.Context, brain string, pairs []types.FlowKeyPair) ([]*types.Triple, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	db, err := g.db(brain)
	if err != nil {
		return nil, err
	}

	var edges []*types.Predicate
	seen := make(map[string]bool)
	for _, pair := range pairs {
		var tipUUID string
		err := db.QueryRowContext(ctx,
			"SELECT tip_uuid FROM edges WHERE uuid = ?", pair.PredicateUUID,
		).Scan(&tipUUID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}

		rows, err := db.QueryContext(ctx,
			"SELECT "+edgeColumns+" FROM edges WHERE deprecated = 0 AND flow_key = ? AND tail_uuid = ?",
			pair.FlowKey, tipUUID,
		)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			p, err := scanEdge(rows)
			if err != nil {
				continue
			}
			if !seen[p.UUID] {
				seen[p.UUID] = true
				edges = append(edges, p)
			}
		}
		rows.Close()
	}
	return g.resolveTriples(ctx, brain, edges)
}

// SearchEntities returns nodes matching the filters.
func (g *GraphDB) SearchEntities(ctx context.Context, brain string, filters types.EntityFilters) ([]*types.Node, error) {
	db, err := g.db(brain)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + nodeColumns + " FROM nodes WHERE 1=1"
	var args []interface{}
	if len(filters.UUIDs) > 0 {
		query += " AND uuid IN (" + placeholders(len(filters.UUIDs)) + ")"
		args = append(args, toArgs(filters.UUIDs)...)
	}
	if len(filters.Names) > 0 {
		query += " AND LOWER(name) IN (" + placeholders(len(filters.Names)) + ")"
		for _, name := range filters.Names {
			args = append(args, strings.ToLower(name))
		}
	}
	if filters.NameContains != "" {
		query += " AND LOWER(name) LIKE ?"
		args = append(args, "%"+strings.ToLower(filters.NameContains)+"%")
	}
	for _, label := range filters.Labels {
		// Labels are stored as a JSON array of strings.
		query += " AND labels LIKE ?"
		args = append(args, "%\""+label+"\"%")
	}
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*types.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// SearchRelationships returns edges matching the filters. Deprecated
// edges are excluded unless requested.
func (g *GraphDB) SearchRelationships(ctx context.Context, brain string, filters types.RelationshipFilters) ([]*types.Predicate, error) {
	db, err := g.db(brain)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + edgeColumns + " FROM edges WHERE 1=1"
	var args []interface{}
	if !filters.IncludeDeprecated {
		query += " AND deprecated = 0"
	}
	if len(filters.UUIDs) > 0 {
		query += " AND uuid IN (" + placeholders(len(filters.UUIDs)) + ")"
		args = append(args, toArgs(filters.UUIDs)...)
	}
	if len(filters.Names) > 0 {
		query += " AND LOWER(name) IN (" + placeholders(len(filters.Names)) + ")"
		for _, name := range filters.Names {
			args = append(args, strings.ToLower(name))
		}
	}
	if len(filters.FlowKeys) > 0 {
		query += " AND flow_key IN (" + placeholders(len(filters.FlowKeys)) + ")"
		args = append(args, toArgs(filters.FlowKeys)...)
	}
	if filters.TailUUID != "" {
		query += " AND tail_uuid = ?"
		args = append(args, filters.TailUUID)
	}
	if filters.TipUUID != "" {
		query += " AND tip_uuid = ?"
		args = append(args, filters.TipUUID)
	}
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []*types.Predicate
	for rows.Next() {
		p, err := scanEdge(rows)
		if err != nil {
			continue
		}
		edges = append(edges, p)
	}
	return edges, rows.Err()
}

// DeprecateRelationship marks an edge deprecated without deleting it.
func (g *GraphDB) DeprecateRelationship(ctx context.Context, brain, uuid string) error {
	db, err := g.db(brain)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		"UPDATE edges SET deprecated = 1, last_updated = ? WHERE uuid = ?",
		time.Now().UTC(), uuid,
	)
	if err != nil {
		return fmt.Errorf("failed to deprecate relationship: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("relationship %s not found", uuid)
	}
	return nil
}

// UpdateProperties applies set/unset to a node's or edge's property map.
func (g *GraphDB) UpdateProperties(ctx context.Context, brain, uuid string, target types.UpdateTarget, set map[string]interface{}, unset []string) error {
	db, err := g.db(brain)
	if err != nil {
		return err
	}

	table := "nodes"
	if target == types.UpdateRelationship {
		table = "edges"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var propsJSON sql.NullString
	err = tx.QueryRow("SELECT properties FROM "+table+" WHERE uuid = ?", uuid).Scan(&propsJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %s not found", target, uuid)
	}
	if err != nil {
		return err
	}

	props := make(map[string]interface{})
	if propsJSON.Valid && propsJSON.String != "" {
		json.Unmarshal([]byte(propsJSON.String), &props)
	}
	for k, v := range set {
		props[k] = v
	}
	for _, k := range unset {
		delete(props, k)
	}
	updated, _ := json.Marshal(props)

	if _, err := tx.Exec("UPDATE "+table+" SET properties = ? WHERE uuid = ?", string(updated), uuid); err != nil {
		return fmt.Errorf("failed to update properties: %w", err)
	}
	return tx.Commit()
}

// RemoveNodes deletes nodes and every edge touching them.
func (g *GraphDB) RemoveNodes(ctx context.Context, brain string, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	db, err := g.db(brain)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ph := placeholders(len(uuids))
	args := toArgs(uuids)
	if _, err := tx.Exec("DELETE FROM edges WHERE tail_uuid IN ("+ph+") OR tip_uuid IN ("+ph+")", append(args, args...)...); err != nil {
		return fmt.Errorf("failed to remove incident edges: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM nodes WHERE uuid IN ("+ph+")", args...); err != nil {
		return fmt.Errorf("failed to remove nodes: %w", err)
	}
	return tx.Commit()
}

// RemoveRelationships deletes edges by uuid.
func (g *GraphDB) RemoveRelationships(ctx context.Context, brain string, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	db, err := g.db(brain)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"DELETE FROM edges WHERE uuid IN ("+placeholders(len(uuids))+")", toArgs(uuids)...,
	)
	return err
}

// GetSchema summarizes the brain's graph vocabulary.
func (g *GraphDB) GetSchema(ctx context.Context, brain string) (*types.SchemaInfo, error) {
	db, err := g.db(brain)
	if err != nil {
		return nil, err
	}

	labelSet := make(map[string]bool)
	eventSet := make(map[string]bool)
	rows, err := db.QueryContext(ctx, "SELECT name, labels FROM nodes")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var name, labelsJSON string
		if err := rows.Scan(&name, &labelsJSON); err != nil {
			continue
		}
		var labels []string
		json.Unmarshal([]byte(labelsJSON), &labels)
		isEvent := false
		for _, l := range labels {
			labelSet[l] = true
			if strings.EqualFold(l, "EVENT") {
				isEvent = true
			}
		}
		if isEvent {
			eventSet[name] = true
		}
	}
	rows.Close()

	relSet := make(map[string]bool)
	rows, err = db.QueryContext(ctx, "SELECT DISTINCT name FROM edges WHERE deprecated = 0")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			relSet[name] = true
		}
	}
	rows.Close()

	return &types.SchemaInfo{
		Labels:        sortedKeys(labelSet),
		Relationships: sortedKeys(relSet),
		EventNames:    sortedKeys(eventSet),
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(vals []string) []interface{} {
	args := make([]interface{}, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
