package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"brain/internal/logging"
	"brain/internal/types"
)

// =============================================================================
// DOCUMENT STORE (SQLite)
// =============================================================================

// DocDB implements types.DocStore: raw documents in one SQLite file per
// brain, plus a system-level brains registry database.
type DocDB struct {
	dataDir string

	mu     sync.Mutex
	dbs    map[string]*sql.DB
	system *sql.DB
}

var _ types.DocStore = (*DocDB)(nil)

// NewDocDB creates a document store rooted at dataDir.
func NewDocDB(dataDir string) *DocDB {
	return &DocDB{
		dataDir: dataDir,
		dbs:     make(map[string]*sql.DB),
	}
}

const docSchema = `
CREATE TABLE IF NOT EXISTS text_chunks (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	metadata TEXT,
	inserted_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS observations (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	metadata TEXT,
	resource_id TEXT,
	inserted_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS structured_data (
	id TEXT PRIMARY KEY,
	json_data TEXT NOT NULL,
	types TEXT,
	identification_params TEXT,
	textual_data TEXT,
	metadata TEXT,
	inserted_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS kg_changes (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	entity_uuid TEXT NOT NULL,
	before TEXT,
	after TEXT,
	inserted_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kg_changes_entity ON kg_changes(entity_uuid);
`

const systemSchema = `
CREATE TABLE IF NOT EXISTS brains (
	name TEXT PRIMARY KEY,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

func (d *DocDB) db(brain string) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := sanitizeBrain(brain)
	if db, ok := d.dbs[key]; ok {
		return db, nil
	}

	path := brainPath(d.dataDir, brain, "docs.db")
	logging.Store("Opening document database for brain %s at %s", key, path)

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(docSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create document schema: %w", err)
	}
	if err := verifyTable(db, "text_chunks"); err != nil {
		db.Close()
		return nil, err
	}
	d.dbs[key] = db
	return db, nil
}

func (d *DocDB) systemDB() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.system != nil {
		return d.system, nil
	}
	path := brainPath(d.dataDir, "system", "brains.db")
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(systemSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create brains registry: %w", err)
	}
	d.system = db
	return db, nil
}

// Close closes every open database including the system registry.
func (d *DocDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for key, db := range d.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.dbs, key)
	}
	if d.system != nil {
		if err := d.system.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.system = nil
	}
	return firstErr
}

// EnsureBrain records the brain in the system registry. Idempotent.
func (d *DocDB) EnsureBrain(ctx context.Context, brain string) error {
	db, err := d.systemDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"INSERT OR IGNORE INTO brains (name) VALUES (?)", sanitizeBrain(brain),
	)
	return err
}

// ListBrains returns all registered brain names.
func (d *DocDB) ListBrains(ctx context.Context) ([]string, error) {
	db, err := d.systemDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT name FROM brains ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brains []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			brains = append(brains, name)
		}
	}
	return brains, rows.Err()
}

// SaveTextChunk persists one raw chunk. Missing ids and timestamps are
// filled in.
func (d *DocDB) SaveTextChunk(ctx context.Context, brain string, chunk *types.TextChunk) error {
	db, err := d.db(brain)
	if err != nil {
		return err
	}
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	if chunk.InsertedAt.IsZero() {
		chunk.InsertedAt = time.Now().UTC()
	}
	metaJSON, _ := json.Marshal(chunk.Metadata)
	_, err = db.ExecContext(ctx,
		"INSERT OR REPLACE INTO text_chunks (id, text, metadata, inserted_at) VALUES (?, ?, ?, ?)",
		chunk.ID, chunk.Text, string(metaJSON), chunk.InsertedAt,
	)
	return err
}

// SaveObservations persists observations in one transaction.
func (d *DocDB) SaveObservations(ctx context.Context, brain string, observations []*types.Observation) error {
	if len(observations) == 0 {
		return nil
	}
	db, err := d.db(brain)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, obs := range observations {
		if obs.ID == "" {
			obs.ID = uuid.NewString()
		}
		if obs.InsertedAt.IsZero() {
			obs.InsertedAt = time.Now().UTC()
		}
		metaJSON, _ := json.Marshal(obs.Metadata)
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO observations (id, text, metadata, resource_id, inserted_at) VALUES (?, ?, ?, ?, ?)",
			obs.ID, obs.Text, string(metaJSON), obs.ResourceID, obs.InsertedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save observation: %w", err)
		}
	}
	return tx.Commit()
}

// SaveStructuredData persists structured records in one transaction.
func (d *DocDB) SaveStructuredData(ctx context.Context, brain string, records []*types.StructuredData) error {
	if len(records) == 0 {
		return nil
	}
	db, err := d.db(brain)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.InsertedAt.IsZero() {
			rec.InsertedAt = time.Now().UTC()
		}
		dataJSON, _ := json.Marshal(rec.JSONData)
		typesJSON, _ := json.Marshal(rec.Types)
		idParamsJSON, _ := json.Marshal(rec.IdentificationParams)
		metaJSON, _ := json.Marshal(rec.Metadata)
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO structured_data
				(id, json_data, types, identification_params, textual_data, metadata, inserted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, string(dataJSON), string(typesJSON), string(idParamsJSON),
			rec.TextualData, string(metaJSON), rec.InsertedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save structured data: %w", err)
		}
	}
	return tx.Commit()
}

// SaveKGChanges appends audit entries in one transaction.
func (d *DocDB) SaveKGChanges(ctx context.Context, brain string, changes []*types.KGChange) error {
	if len(changes) == 0 {
		return nil
	}
	db, err := d.db(brain)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range changes {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.InsertedAt.IsZero() {
			c.InsertedAt = time.Now().UTC()
		}
		beforeJSON, _ := json.Marshal(c.Before)
		afterJSON, _ := json.Marshal(c.After)
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO kg_changes (id, kind, entity_uuid, before, after, inserted_at) VALUES (?, ?, ?, ?, ?, ?)",
			c.ID, string(c.Kind), c.EntityUUID, string(beforeJSON), string(afterJSON), c.InsertedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save audit entry: %w", err)
		}
	}
	return tx.Commit()
}

func (d *DocDB) GetTextChunkByID(ctx context.Context, brain, id string) (*types.TextChunk, error) {
	db, err := d.db(brain)
	if err != nil {
		return nil, err
	}
	var chunk types.TextChunk
	var metaJSON sql.NullString
	err = db.QueryRowContext(ctx,
		"SELECT id, text, metadata, inserted_at FROM text_chunks WHERE id = ?", id,
	).Scan(&chunk.ID, &chunk.Text, &metaJSON, &chunk.InsertedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("text chunk %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	unmarshalMeta(metaJSON, &chunk.Metadata)
	return &chunk, nil
}

func (d *DocDB) GetObservationByID(ctx context.Context, brain, id string) (*types.Observation, error) {
	db, err := d.db(brain)
	if err != nil {
		return nil, err
	}
	var obs types.Observation
	var metaJSON, resourceID sql.NullString
	err = db.QueryRowContext(ctx,
		"SELECT id, text, metadata, resource_id, inserted_at FROM observations WHERE id = ?", id,
	).Scan(&obs.ID, &obs.Text, &metaJSON, &resourceID, &obs.InsertedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("observation %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	unmarshalMeta(metaJSON, &obs.Metadata)
	obs.ResourceID = resourceID.String
	return &obs, nil
}

func (d *DocDB) GetStructuredDataByID(ctx context.Context, brain, id string) (*types.StructuredData, error) {
	db, err := d.db(brain)
	if err != nil {
		return nil, err
	}
	var rec types.StructuredData
	var dataJSON string
	var typesJSON, idParamsJSON, textual, metaJSON sql.NullString
	err = db.QueryRowContext(ctx,
		"SELECT id, json_data, types, identification_params, textual_data, metadata, inserted_at FROM structured_data WHERE id = ?", id,
	).Scan(&rec.ID, &dataJSON, &typesJSON, &idParamsJSON, &textual, &metaJSON, &rec.InsertedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("structured data %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(dataJSON), &rec.JSONData)
	if typesJSON.Valid {
		json.Unmarshal([]byte(typesJSON.String), &rec.Types)
	}
	if idParamsJSON.Valid {
		json.Unmarshal([]byte(idParamsJSON.String), &rec.IdentificationParams)
	}
	rec.TextualData = textual.String
	unmarshalMeta(metaJSON, &rec.Metadata)
	return &rec, nil
}

// listQuery builds the shared LIMIT/OFFSET tail for listings.
func listQuery(base string, opts types.ListOptions) (string, []interface{}) {
	query := base + " ORDER BY inserted_at DESC"
	var args []interface{}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if opts.Skip > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Skip)
	}
	return query, args
}

func (d *DocDB) GetTextChunkList(ctx context.Context, brain string, opts types.ListOptions) ([]*types.TextChunk, error) {
	db, err := d.db(brain)
	if err != nil {
		return nil, err
	}
	query, args := listQuery("SELECT id, text, metadata, inserted_at FROM text_chunks", opts)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*types.TextChunk
	for rows.Next() {
		var chunk types.TextChunk
		var metaJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.Text, &metaJSON, &chunk.InsertedAt); err != nil {
			continue
		}
		unmarshalMeta(metaJSON, &chunk.Metadata)
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

func (d *DocDB) GetObservationList(ctx context.Context, brain string, opts types.ListOptions) ([]*types.Observation, error) {
	db, err := d.db(brain)
	if err != nil {
		return nil, err
	}
	base := "SELECT id, text, metadata, resource_id, inserted_at FROM observations"
	var filterArgs []interface{}
	if rid, ok := opts.Filters["resource_id"].(string); ok && rid != "" {
		base += " WHERE resource_id = ?"
		filterArgs = append(filterArgs, rid)
	}
	query, args := listQuery(base, opts)
	rows, err := db.QueryContext(ctx, query, append(filterArgs, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []*types.Observation
	for rows.Next() {
		var obs types.Observation
		var metaJSON, resourceID sql.NullString
		if err := rows.Scan(&obs.ID, &obs.Text, &metaJSON, &resourceID, &obs.InsertedAt); err != nil {
			continue
		}
		unmarshalMeta(metaJSON, &obs.Metadata)
		obs.ResourceID = resourceID.String
		observations = append(observations, &obs)
	}
	return observations, rows.Err()
}

func (d *DocDB) GetKGChangeList(ctx context.Context, brain string, opts types.ListOptions) ([]*types.KGChange, error) {
	db, err := d.db(brain)
	if err != nil {
		return nil, err
	}
	base := "SELECT id, kind, entity_uuid, before, after, inserted_at FROM kg_changes"
	var filterArgs []interface{}
	if entity, ok := opts.Filters["entity_uuid"].(string); ok && entity != "" {
		base += " WHERE entity_uuid = ?"
		filterArgs = append(filterArgs, entity)
	}
	query, args := listQuery(base, opts)
	rows, err := db.QueryContext(ctx, query, append(filterArgs, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*types.KGChange
	for rows.Next() {
		var c types.KGChange
		var kind string
		var beforeJSON, afterJSON sql.NullString
		if err := rows.Scan(&c.ID, &kind, &c.EntityUUID, &beforeJSON, &afterJSON, &c.InsertedAt); err != nil {
			continue
		}
		c.Kind = types.KGChangeKind(kind)
		if beforeJSON.Valid {
			json.Unmarshal([]byte(beforeJSON.String), &c.Before)
		}
		if afterJSON.Valid {
			json.Unmarshal([]byte(afterJSON.String), &c.After)
		}
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}

// Search finds text chunks containing the given text, case-insensitive.
func (d *DocDB) Search(ctx context.Context, brain, text string) ([]*types.TextChunk, error) {
	db, err := d.db(brain)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT id, text, metadata, inserted_at FROM text_chunks WHERE text LIKE ? COLLATE NOCASE ORDER BY inserted_at DESC LIMIT 100",
		"%"+text+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*types.TextChunk
	for rows.Next() {
		var chunk types.TextChunk
		var metaJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.Text, &metaJSON, &chunk.InsertedAt); err != nil {
			continue
		}
		unmarshalMeta(metaJSON, &chunk.Metadata)
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

func unmarshalMeta(s sql.NullString, dst *map[string]interface{}) {
	if s.Valid && s.String != "" && s.String != "null" {
		json.Unmarshal([]byte(s.String), dst)
	}
}
