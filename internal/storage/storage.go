package storage

import (
	"errors"
	"time"

	"github.com/hyperjump/kaiwa/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage persists documents, their chunks, and chat sessions.
type Storage interface {
	CreateDocument(doc *models.Document) error
	GetDocument(id string) (*models.Document, error)
	ListDocuments() ([]*models.Document, error)
	DeleteDocument(id string) error

	BatchCreateChunks(chunks []*models.DocumentChunk) error
	GetChunk(id string) (*models.DocumentChunk, error)
	GetChunksByDocumentID(docID string) ([]*models.DocumentChunk, error)
	DeleteChunksByDocumentID(docID string) error

	CreateSession(id string, createdAt time.Time) error
	CloseSession(id string, closedAt time.Time) error

	CountDocuments() (int, error)
	CountChunks() (int, error)

	Close() error
}
