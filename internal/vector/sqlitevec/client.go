// Package sqlitevec provides a SQLite-backed persistent vector store.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/thebtf/taxon/pkg/models"
	"github.com/thebtf/taxon/pkg/similarity"
)

const schema = `
	CREATE TABLE IF NOT EXISTS vectors (
		doc_id TEXT PRIMARY KEY,
		embedding BLOB NOT NULL,
		dims INTEGER NOT NULL,
		text TEXT NOT NULL,
		metadata TEXT,
		model_version TEXT NOT NULL,
		created_at_epoch INTEGER NOT NULL
	)
`

// Record is one persisted (id, vector, text, metadata) tuple.
type Record struct {
	DocID    string
	Vector   []float32
	Text     string
	Metadata models.Metadata
}

// SearchResult is a nearest-neighbor match with its cosine similarity.
type SearchResult struct {
	Record
	Similarity float64
}

// Config holds configuration for the vector store client.
type Config struct {
	// DB is an open SQLite handle. Required for NewClient.
	DB *sql.DB

	// ModelVersion tags every written vector so a model swap is detectable.
	ModelVersion string
}

// Client is a durable, deduplicated doc_id -> vector store. The caller
// owns the lifecycle: open once per pipeline run, Close when done.
type Client struct {
	db           *sql.DB
	modelVersion string
	ownsDB       bool
}

// NewClient wraps an existing database handle.
func NewClient(cfg Config) (*Client, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection required")
	}
	if cfg.ModelVersion == "" {
		return nil, fmt.Errorf("model version required")
	}
	if _, err := cfg.DB.Exec(schema); err != nil {
		return nil, fmt.Errorf("create vectors table: %w", err)
	}
	return &Client{db: cfg.DB, modelVersion: cfg.ModelVersion}, nil
}

// Open creates a client backed by the SQLite file at path, creating the
// file and schema as needed. The returned client owns the connection.
func Open(path, modelVersion string) (*Client, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	client, err := NewClient(Config{DB: db, ModelVersion: modelVersion})
	if err != nil {
		db.Close()
		return nil, err
	}
	client.ownsDB = true
	return client, nil
}

// Add persists records in a single transaction. Existing doc_ids are
// replaced, so re-adding is idempotent. The transaction boundary is the
// durability unit: callers batching their input get batch-level resume.
func (c *Client) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO vectors
		(doc_id, embedding, dims, text, metadata, model_version, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, rec := range records {
		metaJSON, _ := json.Marshal(rec.Metadata)
		_, err := stmt.ExecContext(ctx,
			rec.DocID, serializeVector(rec.Vector), len(rec.Vector),
			rec.Text, string(metaJSON), c.modelVersion, now,
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", rec.DocID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Count returns the total number of persisted vectors.
func (c *Client) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return count, nil
}

// IDs returns the set of persisted doc_ids.
func (c *Client) IDs(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT doc_id FROM vectors")
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// All retrieves the full collection in insertion order, for clustering.
func (c *Client) All(ctx context.Context) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT doc_id, embedding, dims, text, metadata
		FROM vectors ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var blob []byte
		var dims int
		var metaJSON sql.NullString
		if err := rows.Scan(&rec.DocID, &blob, &dims, &rec.Text, &metaJSON); err != nil {
			return nil, err
		}

		rec.Vector, err = deserializeVector(blob, dims)
		if err != nil {
			return nil, fmt.Errorf("vector %s: %w", rec.DocID, err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("metadata %s: %w", rec.DocID, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteAll drops every vector in the collection (force reindex).
func (c *Client) DeleteAll(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM vectors"); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}

// Search performs a brute-force cosine nearest-neighbor query over the
// collection. Incidental capability: the pipeline itself never calls it,
// but the store doubles as a semantic search index for other tooling.
func (c *Client) Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	records, err := c.All(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(records))
	for _, rec := range records {
		results = append(results, SearchResult{
			Record:     rec,
			Similarity: similarity.Cosine(vector, rec.Vector),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ModelVersion returns the embedding model version this client writes.
func (c *Client) ModelVersion() string { return c.modelVersion }

// NeedsRebuild checks whether persisted vectors are stale. Returns
// (true, "empty") for a fresh store and (true, "model_mismatch:N") when N
// vectors were written by a different model.
func (c *Client) NeedsRebuild(ctx context.Context) (bool, string) {
	count, err := c.Count(ctx)
	if err != nil || count == 0 {
		return true, "empty"
	}

	var stale int64
	err = c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vectors WHERE model_version != ?", c.modelVersion,
	).Scan(&stale)
	if err == nil && stale > 0 {
		return true, fmt.Sprintf("model_mismatch:%d", stale)
	}
	return false, ""
}

// Close releases the underlying connection if this client owns it.
func (c *Client) Close() error {
	if c.ownsDB {
		return c.db.Close()
	}
	return nil
}

// serializeVector packs float32s as little-endian bytes.
func serializeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector unpacks a little-endian float32 blob.
func deserializeVector(blob []byte, dims int) ([]float32, error) {
	if len(blob) != 4*dims {
		return nil, fmt.Errorf("blob size %d does not match dims %d", len(blob), dims)
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
