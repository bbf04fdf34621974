package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"brain/internal/logging"
	"brain/internal/types"
)

// =============================================================================
// VECTOR STORE (SQLite)
// =============================================================================

// VectorDB implements types.VectorStore over one SQLite file per brain.
// Embeddings are stored as little-endian float32 blobs. With the
// sqlite_vec build tag, similarity ordering happens in SQL; otherwise a
// Go-side cosine scan sorts the candidates.
type VectorDB struct {
	dataDir string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

var _ types.VectorStore = (*VectorDB)(nil)

// NewVectorDB creates a vector store rooted at dataDir.
func NewVectorDB(dataDir string) *VectorDB {
	return &VectorDB{
		dataDir: dataDir,
		dbs:     make(map[string]*sql.DB),
	}
}

const vectorSchema = `
CREATE TABLE IF NOT EXISTS vectors (
	id TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	embedding BLOB NOT NULL,
	metadata TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_vectors_collection ON vectors(collection);
`

func (v *VectorDB) db(brain string) (*sql.DB, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := sanitizeBrain(brain)
	if db, ok := v.dbs[key]; ok {
		return db, nil
	}

	path := brainPath(v.dataDir, brain, "vectors.db")
	logging.Store("Opening vector database for brain %s at %s", key, path)

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(vectorSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create vector schema: %w", err)
	}
	if err := verifyTable(db, "vectors"); err != nil {
		db.Close()
		return nil, err
	}
	v.dbs[key] = db
	return db, nil
}

// Close closes every open brain database.
func (v *VectorDB) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	var firstErr error
	for key, db := range v.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(v.dbs, key)
	}
	return firstErr
}

// encodeVector serializes embeddings as little-endian float32.
func encodeVector(embeddings []float32) []byte {
	buf := make([]byte, 4*len(embeddings))
	for i, f := range embeddings {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 blob.
func decodeVector(blob []byte) []float32 {
	embeddings := make([]float32, len(blob)/4)
	for i := range embeddings {
		embeddings[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return embeddings
}

// cosine computes cosine similarity of two equal-length vectors.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// AddVectors stores embedded vectors and returns their assigned ids.
// Non-embedded vectors are skipped; vectors without an id get a fresh one.
func (v *VectorDB) AddVectors(ctx context.Context, vectors []*types.Vector, collection types.Collection, brain string) ([]string, error) {
	db, err := v.db(brain)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var ids []string
	for _, vec := range vectors {
		if !vec.IsEmbedded() {
			continue
		}
		if vec.ID == "" {
			vec.ID = uuid.NewString()
		}
		metaJSON, _ := json.Marshal(vec.Metadata)
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO vectors (id, collection, embedding, metadata) VALUES (?, ?, ?, ?)",
			vec.ID, string(collection), encodeVector(vec.Embeddings), string(metaJSON),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to store vector: %w", err)
		}
		ids = append(ids, vec.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	logging.StoreDebug("Stored %d vectors in %s/%s", len(ids), brain, collection)
	return ids, nil
}

func scanVector(rows *sql.Rows) (*types.Vector, error) {
	var vec types.Vector
	var blob []byte
	var metaJSON sql.NullString
	if err := rows.Scan(&vec.ID, &blob, &metaJSON); err != nil {
		return nil, err
	}
	vec.Embeddings = decodeVector(blob)
	if metaJSON.Valid && metaJSON.String != "" {
		json.Unmarshal([]byte(metaJSON.String), &vec.Metadata)
	}
	return &vec, nil
}

// SearchVectors returns the k nearest stored vectors to the query by
// cosine similarity.
func (v *VectorDB) SearchVectors(ctx context.Context, query *types.Vector, collection types.Collection, brain string, k int) ([]*types.Vector, error) {
	if !query.IsEmbedded() {
		return nil, fmt.Errorf("query vector has no embeddings")
	}
	db, err := v.db(brain)
	if err != nil {
		return nil, err
	}

	if vecNative {
		return v.searchNative(ctx, db, query.Embeddings, collection, nil, k, -1)
	}
	return v.searchScan(ctx, db, query.Embeddings, collection, nil, k, -1)
}

// searchNative orders by vec_distance_cos in SQL (sqlite_vec builds).
func (v *VectorDB) searchNative(ctx context.Context, db *sql.DB, query []float32, collection types.Collection, exclude map[string]bool, k int, minSimilarity float64) ([]*types.Vector, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, embedding, metadata, vec_distance_cos(embedding, ?) AS dist
		 FROM vectors WHERE collection = ? ORDER BY dist ASC`,
		encodeVector(query), string(collection),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Vector
	for rows.Next() {
		var vec types.Vector
		var blob []byte
		var metaJSON sql.NullString
		if err := rows.Scan(&vec.ID, &blob, &metaJSON, &vec.Distance); err != nil {
			continue
		}
		if exclude[vec.ID] {
			continue
		}
		if minSimilarity >= 0 && vec.Similarity() < minSimilarity {
			break
		}
		vec.Embeddings = decodeVector(blob)
		if metaJSON.Valid && metaJSON.String != "" {
			json.Unmarshal([]byte(metaJSON.String), &vec.Metadata)
		}
		out = append(out, &vec)
		if k > 0 && len(out) >= k {
			break
		}
	}
	return out, rows.Err()
}

// searchScan loads the collection and ranks in Go (pure-Go builds).
func (v *VectorDB) searchScan(ctx context.Context, db *sql.DB, query []float32, collection types.Collection, exclude map[string]bool, k int, minSimilarity float64) ([]*types.Vector, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, embedding, metadata FROM vectors WHERE collection = ?", string(collection),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Vector
	for rows.Next() {
		vec, err := scanVector(rows)
		if err != nil {
			continue
		}
		if exclude[vec.ID] {
			continue
		}
		sim := cosine(query, vec.Embeddings)
		if minSimilarity >= 0 && sim < minSimilarity {
			continue
		}
		vec.Distance = 1.0 - sim
		out = append(out, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// GetByIDs fetches stored vectors by id.
func (v *VectorDB) GetByIDs(ctx context.Context, ids []string, collection types.Collection, brain string) ([]*types.Vector, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db, err := v.db(brain)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT id, embedding, metadata FROM vectors WHERE collection = ? AND id IN ("+placeholders(len(ids))+")",
		append([]interface{}{string(collection)}, toArgs(ids)...)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Vector
	for rows.Next() {
		vec, err := scanVector(rows)
		if err != nil {
			continue
		}
		out = append(out, vec)
	}
	return out, rows.Err()
}

// SearchSimilarByIDs finds stored vectors similar to the given ones above
// minSimilarity, excluding the input ids. Results are deduplicated by id
// and ordered by best similarity.
func (v *VectorDB) SearchSimilarByIDs(ctx context.Context, ids []string, collection types.Collection, brain string, minSimilarity float64, limit int) ([]*types.Vector, error) {
	sources, err := v.GetByIDs(ctx, ids, collection, brain)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, nil
	}
	db, err := v.db(brain)
	if err != nil {
		return nil, err
	}

	exclude := make(map[string]bool, len(ids))
	for _, id := range ids {
		exclude[id] = true
	}

	best := make(map[string]*types.Vector)
	for _, src := range sources {
		var matches []*types.Vector
		if vecNative {
			matches, err = v.searchNative(ctx, db, src.Embeddings, collection, exclude, 0, minSimilarity)
		} else {
			matches, err = v.searchScan(ctx, db, src.Embeddings, collection, exclude, 0, minSimilarity)
		}
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if prev, ok := best[m.ID]; !ok || m.Distance < prev.Distance {
				best[m.ID] = m
			}
		}
	}

	out := make([]*types.Vector, 0, len(best))
	for _, vec := range best {
		out = append(out, vec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RemoveVectors deletes vectors by id.
func (v *VectorDB) RemoveVectors(ctx context.Context, ids []string, collection types.Collection, brain string) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := v.db(brain)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"DELETE FROM vectors WHERE collection = ? AND id IN ("+placeholders(len(ids))+")",
		append([]interface{}{string(collection)}, toArgs(ids)...)...,
	)
	return err
}
