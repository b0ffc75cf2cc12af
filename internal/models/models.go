// Package models defines core data structures for documents, chunks, and chat messages.
package models

import "time"

// Format identifies a supported document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatTXT  Format = "txt"
	FormatCSV  Format = "csv"
)

// Document represents an ingested document with metadata.
type Document struct {
	ID         string    `json:"id" db:"id"`
	Filename   string    `json:"filename" db:"filename"`
	Format     Format    `json:"format" db:"format"`
	SizeBytes  int64     `json:"size_bytes" db:"size_bytes"`
	IngestedAt time.Time `json:"ingested_at" db:"ingested_at"`
}

// DocumentChunk is a bounded span of a document's extracted text, the atomic
// retrieval unit. StartOffset and EndOffset are rune offsets into the
// extracted text; adjacent chunks may overlap in offset by design.
type DocumentChunk struct {
	ID          string    `json:"id" db:"id"`
	DocumentID  string    `json:"document_id" db:"document_id"`
	SeqIndex    int       `json:"seq_index" db:"seq_index"`
	Content     string    `json:"content" db:"content"`
	StartOffset int       `json:"start_offset" db:"start_offset"`
	EndOffset   int       `json:"end_offset" db:"end_offset"`
	Embedding   []float32 `json:"-" db:"-"`
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn in a conversation. ChunkIDs lists the grounding
// chunks the assistant used; it is empty on user messages and on assistant
// messages produced without retrieval. Immutable once appended.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ChunkIDs  []string  `json:"chunk_ids,omitempty"`
}

// HistoryRecord is the persisted projection of one chat message, written
// identically to both history formats.
type HistoryRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
}
