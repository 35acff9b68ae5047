// Package catalog provides a SQLite-backed document-level view of the index:
// the document list, corpus counts, and the chunk records needed to rebuild
// the keyword index and recover the ID counter when the vector backend is
// remote.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quarrydb/quarry/internal/models"
)

// Catalog records ingested documents and their chunks in SQLite.
type Catalog struct {
	db *sql.DB
}

// DocumentInfo is one row of the document list.
type DocumentInfo struct {
	DocID      string     `json:"doc_id"`
	Source     string     `json:"source,omitempty"`
	Timestamp  *time.Time `json:"ts,omitempty"`
	ChunkCount int        `json:"chunk_count"`
	IngestedAt time.Time  `json:"ingested_at"`
}

// Open opens or creates the catalog database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func Open(dbPath string) (*Catalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		ts INTEGER,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		ingested_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY,
		doc_id TEXT NOT NULL,
		text TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		ts INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordIngest upserts the document row and inserts one row per chunk, as a
// single transaction. Re-ingesting a document ID accumulates its chunk count.
func (c *Catalog) RecordIngest(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	first := chunks[0]
	var ts *int64
	if first.Timestamp != nil {
		v := first.Timestamp.Unix()
		ts = &v
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (doc_id, source, ts, chunk_count, ingested_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			source = excluded.source,
			ts = excluded.ts,
			chunk_count = chunk_count + excluded.chunk_count,
			ingested_at = excluded.ingested_at`,
		first.DocID, first.Source, ts, len(chunks), time.Now().UTC())
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (id, doc_id, text, source, ts) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ch := range chunks {
		var cts *int64
		if ch.Timestamp != nil {
			v := ch.Timestamp.Unix()
			cts = &v
		}
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.DocID, ch.Text, ch.Source, cts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListDocuments returns documents ordered by ingest time descending.
func (c *Catalog) ListDocuments(ctx context.Context, offset, limit int) ([]DocumentInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT doc_id, source, ts, chunk_count, ingested_at
		FROM documents ORDER BY ingested_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []DocumentInfo
	for rows.Next() {
		var (
			d  DocumentInfo
			ts sql.NullInt64
		)
		if err := rows.Scan(&d.DocID, &d.Source, &ts, &d.ChunkCount, &d.IngestedAt); err != nil {
			return nil, err
		}
		if ts.Valid {
			v := time.Unix(ts.Int64, 0).UTC()
			d.Timestamp = &v
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Chunks returns all chunk records ordered by ID, for keyword-index rebuild.
func (c *Catalog) Chunks(ctx context.Context) ([]models.Chunk, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, doc_id, text, source, ts FROM chunks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chunks []models.Chunk
	for rows.Next() {
		var (
			ch models.Chunk
			ts sql.NullInt64
		)
		if err := rows.Scan(&ch.ID, &ch.DocID, &ch.Text, &ch.Source, &ts); err != nil {
			return nil, err
		}
		if ts.Valid {
			v := time.Unix(ts.Int64, 0).UTC()
			ch.Timestamp = &v
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// NextChunkID returns the smallest ID larger than any recorded chunk, or 1
// for an empty catalog. Used to reseed the allocator under the remote backend.
func (c *Catalog) NextChunkID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	if err := c.db.QueryRowContext(ctx, `SELECT MAX(id) FROM chunks`).Scan(&maxID); err != nil {
		return 0, err
	}
	if !maxID.Valid {
		return 1, nil
	}
	return maxID.Int64 + 1, nil
}

// CountDocuments returns the number of recorded documents.
func (c *Catalog) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// CountChunks returns the number of recorded chunks.
func (c *Catalog) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Reset deletes all document and chunk rows. Idempotent.
func (c *Catalog) Reset(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
