package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kaiwa/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	format      TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL,
	ingested_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS document_chunks (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	seq_index    INTEGER NOT NULL,
	content      TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id, seq_index);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	closed_at  TIMESTAMP
);
`

// SQLiteStorage implements Storage on a local SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) the database at path and
// applies the schema. WAL mode keeps readers unblocked during ingestion.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) CreateDocument(doc *models.Document) error {
	_, err := s.db.Exec(
		`INSERT INTO documents (id, filename, format, size_bytes, ingested_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, string(doc.Format), doc.SizeBytes, doc.IngestedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *SQLiteStorage) GetDocument(id string) (*models.Document, error) {
	row := s.db.QueryRow(
		`SELECT id, filename, format, size_bytes, ingested_at FROM documents WHERE id = ?`, id)
	var doc models.Document
	var format string
	err := row.Scan(&doc.ID, &doc.Filename, &format, &doc.SizeBytes, &doc.IngestedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	doc.Format = models.Format(format)
	return &doc, nil
}

func (s *SQLiteStorage) ListDocuments() ([]*models.Document, error) {
	rows, err := s.db.Query(
		`SELECT id, filename, format, size_bytes, ingested_at FROM documents ORDER BY ingested_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var format string
		if err := rows.Scan(&doc.ID, &doc.Filename, &format, &doc.SizeBytes, &doc.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Format = models.Format(format)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStorage) DeleteDocument(id string) error {
	_, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// BatchCreateChunks inserts all chunks in one transaction so a failed
// ingestion never leaves a partial set behind.
func (s *SQLiteStorage) BatchCreateChunks(chunks []*models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO document_chunks (id, document_id, seq_index, content, start_offset, end_offset) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.Exec(c.ID, c.DocumentID, c.SeqIndex, c.Content, c.StartOffset, c.EndOffset); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetChunk(id string) (*models.DocumentChunk, error) {
	row := s.db.QueryRow(
		`SELECT id, document_id, seq_index, content, start_offset, end_offset FROM document_chunks WHERE id = ?`, id)
	var c models.DocumentChunk
	err := row.Scan(&c.ID, &c.DocumentID, &c.SeqIndex, &c.Content, &c.StartOffset, &c.EndOffset)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteStorage) GetChunksByDocumentID(docID string) ([]*models.DocumentChunk, error) {
	rows, err := s.db.Query(
		`SELECT id, document_id, seq_index, content, start_offset, end_offset FROM document_chunks WHERE document_id = ? ORDER BY seq_index`, docID)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w", docID, err)
	}
	defer rows.Close()

	var chunks []*models.DocumentChunk
	for rows.Next() {
		var c models.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.SeqIndex, &c.Content, &c.StartOffset, &c.EndOffset); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStorage) DeleteChunksByDocumentID(docID string) error {
	_, err := s.db.Exec(`DELETE FROM document_chunks WHERE document_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("delete chunks for %s: %w", docID, err)
	}
	return nil
}

func (s *SQLiteStorage) CreateSession(id string, createdAt time.Time) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, created_at) VALUES (?, ?)`, id, createdAt)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStorage) CloseSession(id string, closedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE sessions SET closed_at = ? WHERE id = ?`, closedAt, id)
	if err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) CountDocuments() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (s *SQLiteStorage) CountChunks() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM document_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
